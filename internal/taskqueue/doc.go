// Package taskqueue implements the durable work queue that drives the
// pipeline: stage tasks with priorities, leased claims, bounded retries with
// exponential backoff, and housekeeping for terminal rows.
package taskqueue
