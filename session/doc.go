// Package session caches the credentials obtained by a successful OTP login,
// keyed by login identity.
//
// # Expiry
//
// An entry is valid while its token is non-blank, its age is within the
// cache TTL and, when the access token carried an exp claim, the claim has
// not passed. Expired entries are evicted lazily on lookup; there is no
// background sweep.
//
// # Concurrency
//
// Entries are immutable [Token] values swapped per key with compare-and-swap,
// so readers never observe a token without its issue time and different
// identities never contend on a shared lock.
package session
