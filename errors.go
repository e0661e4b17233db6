package otpauth

import "errors"

var (
	// ErrEngineNotReady is returned by calls on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrIdentityRequired is returned when an operation is called with a blank identity.
	ErrIdentityRequired = errors.New("identity required")
	// ErrClientIDRequired is returned when Authenticate has no client ID and
	// none is configured.
	ErrClientIDRequired = errors.New("client id required")
	// ErrStoreUnavailable is returned by store maintenance calls when the OTP
	// store cannot be reached or is disabled by mock mode.
	ErrStoreUnavailable = errors.New("otp store unavailable")
	// ErrOTPTrigger is the failure recorded when the backend rejects an OTP trigger.
	ErrOTPTrigger = errors.New("otp trigger failed")
	// ErrAuthenticationPanic is the failure recorded when an attempt panics.
	ErrAuthenticationPanic = errors.New("authentication panicked")
)

var errTransport = errors.New("backend request failed")
