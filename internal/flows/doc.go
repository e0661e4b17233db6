// Package flows contains the orchestration behind each Engine operation.
//
// Each flow function (RunResolveOTP, RunAuthenticate) accepts a typed
// dependency struct and returns a result value. Network, store and cache
// access are reached only through those dependencies, which keeps the flows
// testable with plain function fakes and keeps the Engine type thin.
//
// # Architecture boundaries
//
// Flows decide ordering, degradation and the result shape. They do NOT own
// the pool, the HTTP session or the session cache; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import otpauth (to avoid import cycles).
//   - Log OTP values.
package flows
