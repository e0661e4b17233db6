// Package properties loads flat dotted-key configuration (redis.host,
// auth.otp.mock, ...) from .properties, .env, .yaml or .json files plus
// OTPAUTH_* environment variables, and exposes it through the typed [Source]
// lookups the engine configuration is mapped from.
//
// Static per-client header sets are resolved by [HeaderSet], either from
// <dir>/<clientId>_headers.properties files or from headers.<clientId>.* keys.
package properties
