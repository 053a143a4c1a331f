// Package store owns the SQLite database behind the pipeline: content items,
// source accounts, daily aggregates, runtime configuration, and the task
// table. All lifecycle transitions go through conditional single-row updates
// so concurrent callers cannot move an item backwards or double-apply a
// completion report.
package store
