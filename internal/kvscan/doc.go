// Package kvscan walks key-value clouds with per-node SCAN and optionally
// deletes the matched keys with cluster-routed UNLINK. Runs are asynchronous
// and report per-cloud progress through the execution store; cancellation is
// observed at every iteration boundary.
package kvscan
