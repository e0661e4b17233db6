// Package headers composes the HTTP header sets sent by the authentication
// flows and by API calls made on behalf of an authenticated identity.
//
// Three entry points exist:
//
//   - [Builder.OTPHeaders] for OTP trigger requests.
//   - [Builder.LoginHeaders] for the OTP verification (login) request.
//   - [Builder.APIHeaders] for every other API call, layering configured
//     fields, the session Authorization header and caller overrides.
//
// None of the entry points fail. Missing optional configuration is omitted.
package headers
