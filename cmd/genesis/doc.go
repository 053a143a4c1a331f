// Package main hosts the genesis CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's operator API: pipeline inspection, retry and
// abandon actions, account management, runtime settings, and configuration
// scaffolding. It centralizes configuration resolution and endpoint discovery
// so subcommands can focus on presentation.
//
// Keep this package lean: add new functionality by extending the internal
// packages and the daemon API first, then surface it through dedicated
// commands or flags here.
package main
