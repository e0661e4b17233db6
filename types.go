package otpauth

import (
	"context"

	"github.com/MrEthical07/otpauth/internal/flows"
	"github.com/MrEthical07/otpauth/pool"
)

// OTPSource records where the OTP used by an attempt came from.
type OTPSource = flows.OTPSource

const (
	OTPFromStore    = flows.OTPFromStore
	OTPFromMock     = flows.OTPFromMock
	OTPFromFallback = flows.OTPFromFallback
)

// OTPResolution is the outcome of [Engine.ResolveOTP].
type OTPResolution = flows.OTPResolution

// PoolStats reports connection pool state.
type PoolStats = pool.Stats

// AuthResult is the outcome of one authentication attempt. Failures are
// reported here, not as errors: Success is false, Message is a human readable
// diagnostic and Err carries the underlying cause for errors.Is checks.
type AuthResult struct {
	Success     bool
	Message     string
	Identity    string
	AccessToken string
	Cookie      string
	OTPSource   OTPSource
	Err         error

	// Shared is true when the result came from a concurrent attempt for the
	// same identity that this call joined.
	Shared bool
	// Reused is true when EnsureSession returned a cached session without
	// contacting the backend.
	Reused bool
}

// KeyValueStore is the subset of the OTP store the engine needs. *pool.Pool
// implements it; tests may substitute fakes.
type KeyValueStore interface {
	ReadKey(ctx context.Context, db int, key string) (string, error)
	DeleteMatching(ctx context.Context, db int, pattern string) (int64, error)
	IsHealthy(ctx context.Context) bool
	Stats() pool.Stats
	Reset() error
	Close() error
}

var _ KeyValueStore = (*pool.Pool)(nil)
