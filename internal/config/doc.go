// Package config loads and validates the declarative cloud configuration.
//
// The configuration is a JSON document naming the primary SQL cloud, any
// secondary SQL clouds, and the key-value clouds. Values may reference the
// environment with ${VAR} or mounted secrets with ${SECRET:name:key}; both
// forms are substituted before parsing, so credentials never live in the
// file itself.
//
// Runtime tunables (shared-store endpoint, TTLs, timeouts) come from the
// environment and are collected in Settings. Configuration problems are
// fatal at startup; at request time an unknown cloud or database surfaces as
// a client error, never a crash.
package config
