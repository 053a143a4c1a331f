// Package services holds cross-cutting helpers shared by every pipeline
// component: the error taxonomy used for retry classification and the context
// keys that carry item, stage, task, and correlation identifiers into
// structured logs.
package services
