// Package policy implements the authorization and validation layer that gates
// every workload dbfleet accepts.
//
// The package is purely synchronous and side-effect-free: classification and
// authorization are derived from (role, statement) alone, performing no I/O.
// This keeps policy decisions deterministic and trivially testable, and lets
// the admission path short-circuit before any execution record is created.
//
// # SQL path
//
// ClassifySQL strips comments, splits a batch on top-level semicolons
// (honouring single-quoted, double-quoted and dollar-quoted regions), and
// assigns each fragment a Category by its leading verb. Authorize then applies
// the role matrix; destructive categories require password re-authentication
// even for the highest-privilege role, and system-level statements are denied
// for everyone.
//
// # Cache path
//
// ClassifyRedisCommand applies the role matrix to structured key-value
// commands and enforces the fixed blocked-command list, which no role can
// bypass — including in raw passthrough mode. Key patterns are checked for
// wildcard-only matches, NUL bytes and length overflow before any SCAN runs.
package policy
