// Package jwt inspects access tokens returned by the login endpoint so cached
// sessions can be expired no later than the token's own exp claim.
//
// Tokens are read without signature verification unless a verification key
// is configured; the result only ever shortens a cache entry's lifetime.
package jwt
