// Package dlock provides advisory distributed locking backed by an
// atomic key-value store.
//
// A lock is a single key holding an owner token with a TTL. Acquire
// retries a set-if-absent until the context deadline; Release and
// Extend are compare-and-swap operations guarded by the owner token,
// so a lock reclaimed by another owner after TTL expiry is never
// released or extended by the previous holder.
//
// Known limitation: a single-key TTL lock cannot guarantee exclusivity
// under clock skew or store failover. That is acceptable for advisory
// use such as preventing duplicate scheduled-job runs. Callers needing
// strict mutual exclusion must use a quorum-based algorithm, which this
// package does not provide.
package dlock
