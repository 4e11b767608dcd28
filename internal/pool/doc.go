// Package pool maintains the client handles the executors fan out over: one
// PostgreSQL connection pool per (cloud, database) pair and one cluster
// client per key-value cloud.
//
// Handles are created lazily on first use and cached for the life of the
// process. A handle that keeps failing is evicted through its circuit
// breaker so the next use rebuilds it cleanly; an unreachable handle never
// blocks unrelated handles, because each (cloud, database) pair owns its own
// pool and breaker.
//
// The registry also answers cluster topology questions for the scan engine
// (the live master nodes of a key-value cloud) and issues engine-level
// session cancellation on behalf of the cancel path.
package pool
