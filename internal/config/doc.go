// Package config loads, validates, and normalizes Genesis configuration.
//
// Configuration is TOML with repository defaults applied first, so an empty or
// missing file yields a runnable daemon. Paths are tilde-expanded and made
// absolute during normalization. Validation errors are fatal at startup.
package config
