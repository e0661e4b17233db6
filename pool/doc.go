// Package pool owns the lazily created Redis connection pool used to read
// OTP values and clean up backend rate-limit keys.
//
// # Lifecycle
//
// The go-redis client is built on first use, exactly once, under a
// double-checked lock. A failed initial ping closes the half-built client and
// leaves the pool unavailable until [Pool.Reset]. A disabled pool (mock OTP
// mode) never dials at all.
//
// # What this package must NOT do
//
//   - Retry or reconnect behind the caller's back.
//   - Hand out a connection without a matching [Handle.Release].
package pool
