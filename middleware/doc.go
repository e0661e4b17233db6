// Package middleware attaches otpauth sessions to outgoing HTTP requests.
//
// [Transport] wraps an http.RoundTripper and sets the headers produced by
// Engine.APIHeaders on every request, so API clients under test carry the
// cached access token without building headers by hand. The identity comes
// from the request context ([WithIdentity]) or from the transport default.
//
// # Architecture boundaries
//
// This package translates engine state into HTTP headers. Session creation,
// caching and token handling stay in the engine.
//
// # What this package must NOT do
//
//   - Read or write the OTP store.
//   - Retry requests or refresh sessions after a 401.
//   - Log header values.
package middleware
