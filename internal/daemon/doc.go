// Package daemon runs the genesis background services as a single-instance
// process and exposes the operator HTTP API.
//
// The daemon owns a flock-based instance lock, seeds runtime settings into
// the store at startup, and supervises the discovery worker, the stage worker
// pool, and the stats aggregator. The API is a chi router over JSON views of
// the store, guarded by an optional bearer token.
package daemon
