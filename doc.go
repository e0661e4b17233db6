// Package otpauth authenticates test identities against an OTP-protected
// backend and caches the resulting sessions for reuse by concurrent callers.
//
// An [Engine] is built once through [Builder.Build] and shared. For each
// identity (an email address or a phone number) [Engine.Authenticate]
// triggers an OTP, reads it back from the backend's Redis store, exchanges it
// for an access token and stores the token and session cookie in an
// in-memory cache with a TTL. [Engine.APIHeaders] then produces request
// headers carrying the cached token.
//
// # Architecture boundaries
//
// otpauth is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([AuthResult], [MetricsSnapshot], [PoolStats]). Flow
// orchestration, request transport, throttling and audit dispatch live under
// internal/ and are never exported.
//
// # Failure model
//
// Authentication never fails with an error for backend or store problems. An
// unreachable store or a rejected trigger degrades to the configured fallback
// OTP; a rejected login or malformed response yields an AuthResult with
// Success=false. Only [ErrEngineNotReady] and context errors are returned.
//
// # What this package must NOT do
//
//   - Log OTP values or access tokens.
//   - Expose Redis clients or HTTP clients in its public API.
//   - Perform I/O during Build; the store pool connects on first use.
package otpauth
