// Package rate holds the client-side limits applied around OTP triggers: a
// token-bucket throttle on outgoing trigger requests and the key pattern used
// to clear the backend's own OTP rate-limit counters.
//
// # What this package must NOT do
//
//   - Talk to Redis (the pool owns store access).
//   - Be imported outside the otpauth module.
package rate
