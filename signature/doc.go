// Package signature computes the SHA-512 request signature carried in the
// "token" form field of OTP trigger requests.
//
// # Message layout
//
// Email identities sign:
//
//	<identity>~<clientId>~<deviceId>~<deviceTimeMillis>
//
// Phone identities sign:
//
//	<identity>~+91~<clientId>~<deviceId>~<deviceTimeMillis>
//
// The digest is rendered as lower-case hex, two digits per byte.
//
// # What this package must NOT do
//
//   - Read clocks or randomness; callers supply the device time.
//   - Import any other otpauth package except internal/identity.
package signature
