package internaldefs

import (
	otpauth "github.com/MrEthical07/otpauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   otpauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   otpauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: otpauth.MetricAuthSuccess, Name: "otpauth_auth_success_total", Help: "Authentication attempts that stored a session."},
	{ID: otpauth.MetricAuthFailure, Name: "otpauth_auth_failure_total", Help: "Authentication attempts that ended with a failure result."},
	{ID: otpauth.MetricOTPTriggerFailure, Name: "otpauth_otp_trigger_failure_total", Help: "OTP trigger calls that failed or returned non-2xx."},
	{ID: otpauth.MetricOTPFromStore, Name: "otpauth_otp_from_store_total", Help: "OTPs read back from the store."},
	{ID: otpauth.MetricOTPFromMock, Name: "otpauth_otp_from_mock_total", Help: "OTPs served by mock mode."},
	{ID: otpauth.MetricOTPFallback, Name: "otpauth_otp_fallback_total", Help: "Attempts that used the fallback OTP."},
	{ID: otpauth.MetricLoginRejected, Name: "otpauth_login_rejected_total", Help: "Login calls answered with non-2xx."},
	{ID: otpauth.MetricSessionStored, Name: "otpauth_session_stored_total", Help: "Session cache writes."},
	{ID: otpauth.MetricSessionReused, Name: "otpauth_session_reused_total", Help: "Calls served from a live cached session."},
	{ID: otpauth.MetricLogout, Name: "otpauth_logout_total", Help: "Cached sessions removed by logout."},
	{ID: otpauth.MetricRateLimitCleanup, Name: "otpauth_rate_limit_cleanup_total", Help: "Successful rate-limit key cleanups."},
	{ID: otpauth.MetricPoolUnavailable, Name: "otpauth_pool_unavailable_total", Help: "Store operations refused because the pool is unavailable."},
	{ID: otpauth.MetricAuthPanic, Name: "otpauth_auth_panic_total", Help: "Authentication attempts recovered from a panic."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: otpauth.MetricAuthenticateLatency, Name: "otpauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's millisecond buckets.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundLabels renders HistogramBounds plus the overflow bucket.
var HistogramBoundLabels = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is the instrument-name form of HistogramBoundLabels.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
