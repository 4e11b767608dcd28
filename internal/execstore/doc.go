// Package execstore persists execution records so that asynchronous
// submissions stay pollable across stateless control-plane replicas.
//
// # Tiers
//
// The primary tier is a shared Redis keyspace (execution:<id>) with a bounded
// TTL. A per-replica in-memory tier exists solely for local development,
// selected when the shared endpoint is localhost; in production a shared-tier
// failure surfaces to the caller instead of being masked by the fallback.
//
// # Status discipline
//
// Records transition running -> {completed, failed, cancelled} exactly once.
// Terminal states are sticky: a cancelled record is never overwritten by a
// late complete or fail, and writers tolerate concurrent updates with
// last-writer-wins semantics for progress fields only.
//
// # Active-client registry
//
// The package also carries the per-replica registry of live client handles.
// It is deliberately kept out of the shared store: engine-level cancellation
// can only be issued by the replica that owns the connection, so the registry
// maps execution ids to backend session ids locally and is evicted on every
// exit path.
package execstore
