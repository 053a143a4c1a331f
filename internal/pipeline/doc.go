// Package pipeline coordinates the content lifecycle. The coordinator is the
// only writer of item state transitions: workers report stage outcomes and it
// applies the conditional update, records failures, and emits the follow-on
// queue task for the next stage.
package pipeline
