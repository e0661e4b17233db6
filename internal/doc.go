// Package internal groups the packages private to otpauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher plus Sink implementations)
//   - flows: OTP resolution and login orchestration as pure functions
//   - identity: email/phone classification and the country prefix
//   - rate: OTP trigger throttle and rate-limit cleanup patterns
//   - transport: cookie-scoped form POST sessions
//
// # What this package must NOT do
//
//   - Export types that appear in the public otpauth API.
//   - Be imported by any package outside the otpauth module.
package internal
