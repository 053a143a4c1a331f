// Package workers implements the stage collaborators: the discovery poller
// against the upstream aggregator, the download, parse, and storage handlers,
// and the pool that claims queue tasks and drives them.
package workers
