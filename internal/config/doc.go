// Package config loads perfagent and perfserver TOML files.
//
// Ownership boundary:
// - Only keys present in a file override the package defaults.
// - Durations are strings parsed with time.ParseDuration; "0" disables.
// - Templates written by configgen must always validate.
package config
