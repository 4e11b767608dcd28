// Package sqlexec runs policy-approved SQL batches across one or more
// relational clouds. Targets execute concurrently; within a target the
// statements run strictly in order on one dedicated client so transaction
// semantics hold. Progress and results flow into the execution store, and
// live clients are tracked per replica so an operator cancel can reach the
// engine session itself.
package sqlexec
