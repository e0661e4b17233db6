package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OTPSource records where a resolved OTP came from.
type OTPSource string

const (
	OTPFromStore    OTPSource = "store"
	OTPFromMock     OTPSource = "mock"
	OTPFromFallback OTPSource = "fallback"
)

var (
	// ErrOTPMalformed is returned when a stored value cannot hold the
	// configured extraction window.
	ErrOTPMalformed = errors.New("otp value malformed")
	// ErrOTPNotFound is returned when the store has no value for the identity.
	ErrOTPNotFound = errors.New("otp not found")
)

// OTPResolution is the outcome of one resolve attempt. Reason explains a
// fallback and is empty otherwise.
type OTPResolution struct {
	OTP    string
	Source OTPSource
	Reason string
}

// OTPMetrics carries metric IDs used by the OTP flow.
type OTPMetrics struct {
	TriggerFailure int
	FromStore      int
	FromMock       int
	Fallback       int
}

// OTPDeps captures OTP resolution dependencies.
type OTPDeps struct {
	MockEnabled bool
	// FallbackValue is returned whenever no stored OTP can be used, and in
	// mock mode.
	FallbackValue    string
	PropagationDelay time.Duration
	KeyPrefix        string
	Database         int
	ExtractStart     int
	ExtractEnd       int

	// Trigger asks the backend to generate an OTP. A nil error means the
	// backend answered 2xx.
	Trigger func(context.Context) error
	// ReadKey reads a raw value from the OTP store.
	ReadKey func(ctx context.Context, db int, key string) (string, error)
	Sleep   func(context.Context, time.Duration) error

	Debug     func(msg string, args ...any)
	Warn      func(msg string, args ...any)
	MetricInc func(int)
	Metrics   OTPMetrics
}

// RunResolveOTP drives TRIGGER, WAIT, FETCH and degrades to the fallback
// value on any failure. The only error it returns is ctx's.
func RunResolveOTP(ctx context.Context, identity string, deps OTPDeps) (OTPResolution, error) {
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Debug == nil {
		deps.Debug = func(string, ...any) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}

	triggerErr := errors.New("otp trigger not configured")
	if deps.Trigger != nil {
		triggerErr = deps.Trigger(ctx)
	}
	if err := ctx.Err(); err != nil {
		return OTPResolution{}, err
	}

	if deps.MockEnabled {
		if triggerErr != nil {
			deps.Debug("otp trigger failed in mock mode", "identity", identity, "error", triggerErr)
		}
		deps.MetricInc(deps.Metrics.FromMock)
		return OTPResolution{OTP: deps.FallbackValue, Source: OTPFromMock}, nil
	}

	if triggerErr != nil {
		deps.MetricInc(deps.Metrics.TriggerFailure)
		deps.Warn("otp trigger failed, trying direct fetch", "identity", identity, "phase", "trigger", "error", triggerErr)
	} else if err := deps.Sleep(ctx, deps.PropagationDelay); err != nil {
		return OTPResolution{}, err
	}

	otp, err := fetchOTP(ctx, identity, deps)
	if err == nil {
		deps.MetricInc(deps.Metrics.FromStore)
		deps.Debug("otp resolved from store", "identity", identity, "phase", "fetch")
		return OTPResolution{OTP: otp, Source: OTPFromStore}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OTPResolution{}, ctxErr
	}

	reason := err.Error()
	if triggerErr != nil {
		reason = fmt.Sprintf("trigger failed (%v); fetch: %v", triggerErr, err)
	}
	deps.MetricInc(deps.Metrics.Fallback)
	deps.Warn("using fallback otp", "identity", identity, "phase", "fetch", "reason", reason)
	return OTPResolution{OTP: deps.FallbackValue, Source: OTPFromFallback, Reason: reason}, nil
}

func fetchOTP(ctx context.Context, identity string, deps OTPDeps) (string, error) {
	if deps.ReadKey == nil {
		return "", errors.New("otp store not configured")
	}
	raw, err := deps.ReadKey(ctx, deps.Database, deps.KeyPrefix+identity)
	if err != nil {
		return "", err
	}
	return ExtractOTP(raw, deps.ExtractStart, deps.ExtractEnd)
}

// ExtractOTP returns raw[start:end], validating the window against the
// value's length.
func ExtractOTP(raw string, start, end int) (string, error) {
	if raw == "" {
		return "", ErrOTPNotFound
	}
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: invalid window %d..%d", ErrOTPMalformed, start, end)
	}
	if len(raw) < end {
		return "", fmt.Errorf("%w: value length %d shorter than window end %d", ErrOTPMalformed, len(raw), end)
	}
	otp := strings.TrimSpace(raw[start:end])
	if otp == "" {
		return "", fmt.Errorf("%w: blank window", ErrOTPMalformed)
	}
	return otp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
