package otpauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/otpauth/headers"
	internalaudit "github.com/MrEthical07/otpauth/internal/audit"
	ident "github.com/MrEthical07/otpauth/internal/identity"
	"github.com/MrEthical07/otpauth/internal/rate"
	"github.com/MrEthical07/otpauth/jwt"
	"github.com/MrEthical07/otpauth/session"
	"github.com/MrEthical07/otpauth/signature"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Engine drives OTP authentication against one backend and caches the
// resulting sessions. Methods are safe for concurrent use after Build.
type Engine struct {
	config    Config
	logger    *slog.Logger
	signer    *signature.Signer
	headers   *headers.Builder
	store     KeyValueStore
	ownsStore bool
	sessions  *session.Cache
	inspector *jwt.Inspector
	throttle  *rate.Throttle
	transport http.RoundTripper
	inflight  singleflight.Group
	metrics   *Metrics
	audit     *internalaudit.Dispatcher
	now       func() time.Time
	closed    atomic.Bool
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load()
}

// Close stops the audit dispatcher and closes the Redis pool when the engine
// created it. Cached sessions are dropped. Close is idempotent.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("closing otp store", "error", err)
		}
	}
	e.sessions.Clear()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// NewDeviceID returns a random (version 4) device identifier.
func (e *Engine) NewDeviceID() string {
	return uuid.NewString()
}

// AuthToken returns the Authorization header value ("Bearer <token>") of a
// live session.
func (e *Engine) AuthToken(identity string) (string, bool) {
	if !e.ready() {
		return "", false
	}
	return e.sessions.AuthHeader(identity)
}

// AccessToken returns the raw access token of a live session.
func (e *Engine) AccessToken(identity string) (string, bool) {
	if !e.ready() {
		return "", false
	}
	return e.sessions.AccessToken(identity)
}

// Cookie returns the session cookie captured for a live session.
func (e *Engine) Cookie(identity string) (string, bool) {
	if !e.ready() {
		return "", false
	}
	return e.sessions.Cookie(identity)
}

func (e *Engine) HasValidSession(identity string) bool {
	return e.ready() && e.sessions.IsValid(identity)
}

// Logout drops the cached session for identity. It reports whether a session
// was removed. The backend is not contacted.
func (e *Engine) Logout(ctx context.Context, identity string) bool {
	if !e.ready() {
		return false
	}
	removed := e.sessions.Remove(identity)
	if removed {
		e.metricInc(MetricLogout)
		e.logger.Info("session removed", "identity", identity)
	}
	e.emitAudit(ctx, AuditEventLogout, removed, auditSubject{identity: identity}, "logout", nil, nil)
	return removed
}

// APIHeaders returns headers for an API call made on behalf of identity.
// The Authorization header carries the live session token when there is one,
// otherwise the configured fallback token. overrides are applied last.
func (e *Engine) APIHeaders(identity string, overrides map[string]string) map[string]string {
	if e == nil {
		return headers.NewBuilder(headers.DefaultConfig(), nil).APIHeaders(headers.DefaultAPIConfig(), headers.SessionState{}, overrides)
	}
	var state headers.SessionState
	if e.ready() {
		if tok, ok := e.sessions.AccessToken(identity); ok {
			state.Token = tok
		}
	}
	return e.headers.APIHeaders(e.config.API, state, overrides)
}

// CleanupRateLimit deletes the backend's rate-limit keys for identity and
// returns how many were removed. The key pattern comes from
// RateLimit.CleanupPattern.
func (e *Engine) CleanupRateLimit(ctx context.Context, identity string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if ident.Blank(identity) {
		return 0, ErrIdentityRequired
	}
	identity = strings.TrimSpace(identity)
	if e.config.OTP.MockEnabled {
		return 0, fmt.Errorf("%w: mock mode", ErrStoreUnavailable)
	}

	pattern := rate.CleanupPattern(e.config.RateLimit.CleanupPattern, identity)
	n, err := e.store.DeleteMatching(ctx, e.config.RateLimit.Database, pattern)
	subject := auditSubject{identity: identity}
	if err != nil {
		e.metricInc(MetricPoolUnavailable)
		e.logger.Warn("rate limit cleanup failed", "identity", identity, "phase", "cleanup", "error", err)
		e.emitAudit(ctx, AuditEventRateLimitCleanup, false, subject, "cleanup", err, nil)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRateLimitCleanup)
	e.logger.Debug("rate limit keys deleted", "identity", identity, "pattern", pattern, "deleted", n)
	e.emitAudit(ctx, AuditEventRateLimitCleanup, true, subject, "cleanup", nil, func() map[string]string {
		return map[string]string{"deleted": fmt.Sprint(n)}
	})
	return n, nil
}

// PoolHealthy pings the OTP store. It is always false in mock mode.
func (e *Engine) PoolHealthy(ctx context.Context) bool {
	if !e.ready() || e.config.OTP.MockEnabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.Redis.DialTimeout)
	defer cancel()
	return e.store.IsHealthy(ctx)
}

// PoolStats reports pool state without initializing the pool.
func (e *Engine) PoolStats() PoolStats {
	if e == nil || e.store == nil {
		return PoolStats{}
	}
	return e.store.Stats()
}

// ResetPool discards the current pool state so the next store operation
// reconnects. It clears a sticky unavailable state.
func (e *Engine) ResetPool() error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.store.Reset(); err != nil {
		return err
	}
	e.logger.Info("otp store pool reset")
	return nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

func (e *Engine) endpoint(path string) string {
	return strings.TrimRight(e.config.Backend.BaseURL, "/") + path
}

// attemptBudget bounds a shared attempt that outlives the caller that
// started it: trigger and login requests, one propagation wait, two store
// round trips, the optional pre-auth cleanup and a throttle wait of one full
// burst refill.
func (e *Engine) attemptBudget() time.Duration {
	budget := 2*e.config.HTTP.Timeout + e.config.OTP.PropagationDelay + 2*e.config.Redis.DialTimeout
	if e.config.RateLimit.CleanupBeforeAuth && !e.config.OTP.MockEnabled {
		budget += e.config.Redis.DialTimeout
	}
	if r := e.config.OTP.TriggerRate; r > 0 {
		burst := max(e.config.OTP.TriggerBurst, 1)
		budget += time.Duration(float64(burst) / r * float64(time.Second))
	}
	return budget
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
