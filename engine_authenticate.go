package otpauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth/internal/flows"
	"github.com/MrEthical07/otpauth/internal/identity"
	"github.com/MrEthical07/otpauth/internal/transport"
	"github.com/MrEthical07/otpauth/pool"
	"github.com/MrEthical07/otpauth/signature"
)

// Authenticate runs one OTP login for loginID and caches the session on
// success. clientID defaults to API.ClientID and deviceID to a fresh random
// ID when blank.
//
// Every expected failure (backend errors, unusable OTPs, malformed responses,
// panics) is reported through AuthResult. The returned error is
// ErrEngineNotReady or a context error only.
//
// Concurrent calls for the same loginID share one attempt; each caller still
// stops waiting when its own ctx ends.
func (e *Engine) Authenticate(ctx context.Context, loginID, clientID, deviceID string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if identity.Blank(loginID) {
		return e.rejectInput(ctx, "", "Identity is required", ErrIdentityRequired), nil
	}
	loginID = strings.TrimSpace(loginID)
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = strings.TrimSpace(e.config.API.ClientID)
	}
	if clientID == "" {
		return e.rejectInput(ctx, loginID, "Client ID is required", ErrClientIDRequired), nil
	}
	if strings.TrimSpace(deviceID) == "" {
		deviceID = e.NewDeviceID()
	}

	ch := e.inflight.DoChan(loginID, func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.attemptBudget())
		defer cancel()
		return e.authenticate(attemptCtx, loginID, clientID, deviceID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*AuthResult)
		res.Shared = r.Shared
		return &res, nil
	}
}

// EnsureSession returns the cached session for loginID when it is still
// valid and authenticates otherwise.
func (e *Engine) EnsureSession(ctx context.Context, loginID, clientID, deviceID string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tok, ok := e.sessions.Get(strings.TrimSpace(loginID)); ok && tok.AccessToken != "" {
		e.metricInc(MetricSessionReused)
		return &AuthResult{
			Success:     true,
			Message:     "Session reused",
			Identity:    strings.TrimSpace(loginID),
			AccessToken: tok.AccessToken,
			Cookie:      tok.Cookie,
			Reused:      true,
		}, nil
	}
	return e.Authenticate(ctx, loginID, clientID, deviceID)
}

// ResolveOTP triggers an OTP for loginID and returns it without logging in.
// It degrades to the configured fallback exactly like Authenticate does.
func (e *Engine) ResolveOTP(ctx context.Context, loginID, clientID, deviceID string) (OTPResolution, error) {
	if !e.ready() {
		return OTPResolution{}, ErrEngineNotReady
	}
	if identity.Blank(loginID) {
		return OTPResolution{}, ErrIdentityRequired
	}
	loginID = strings.TrimSpace(loginID)
	if strings.TrimSpace(clientID) == "" {
		clientID = e.config.API.ClientID
	}
	if strings.TrimSpace(deviceID) == "" {
		deviceID = e.NewDeviceID()
	}
	sess, err := transport.NewSession(e.transport, e.config.HTTP.Timeout)
	if err != nil {
		return OTPResolution{}, err
	}
	subject := auditSubject{identity: loginID, clientID: clientID, deviceID: deviceID}
	return e.resolveOTP(ctx, sess, subject)
}

func (e *Engine) authenticate(ctx context.Context, loginID, clientID, deviceID string) (res *AuthResult, err error) {
	start := time.Now()
	subject := auditSubject{identity: loginID, clientID: clientID, deviceID: deviceID}

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("%w: %v", ErrAuthenticationPanic, r)
			e.metricInc(MetricAuthPanic)
			e.metricInc(MetricAuthFailure)
			e.logger.Error("authentication panicked", "identity", loginID, "panic", r)
			e.emitAudit(ctx, AuditEventAuthFailure, false, subject, "panic", perr, nil)
			res = &AuthResult{
				Identity: loginID,
				Message:  "Authentication error: " + perr.Error(),
				Err:      perr,
			}
			err = nil
		}
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}()

	e.logger.Debug("authentication started", "identity", loginID, "client_id", clientID, "kind", identity.Classify(loginID).String())

	if e.config.RateLimit.CleanupBeforeAuth && !e.config.OTP.MockEnabled {
		if _, cerr := e.CleanupRateLimit(ctx, loginID); cerr != nil && isContextErr(cerr) {
			return nil, cerr
		}
	}

	sess, err := transport.NewSession(e.transport, e.config.HTTP.Timeout)
	if err != nil {
		e.metricInc(MetricAuthFailure)
		return &AuthResult{Identity: loginID, Message: "Authentication error: " + err.Error(), Err: err}, nil
	}

	out, err := flows.RunAuthenticate(ctx, loginID, flows.AuthenticateDeps{
		AccessTokenPaths: e.config.Session.AccessTokenPaths,
		ResolveOTP: func(ctx context.Context) (flows.OTPResolution, error) {
			return e.resolveOTP(ctx, sess, subject)
		},
		Login: func(ctx context.Context, form url.Values) (flows.LoginResponse, error) {
			return e.login(ctx, sess, clientID, deviceID, form)
		},
		StoreSession: func(accessToken, cookie string) {
			e.storeSession(loginID, accessToken, cookie)
		},
		Info: e.logger.Info,
		Warn: e.logger.Warn,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		Metrics: flows.AuthenticateMetrics{
			Success:       int(MetricAuthSuccess),
			Failure:       int(MetricAuthFailure),
			LoginRejected: int(MetricLoginRejected),
			SessionStored: int(MetricSessionStored),
		},
	})
	if err != nil {
		return nil, err
	}

	res = &AuthResult{
		Success:     out.Success,
		Message:     out.Message,
		Identity:    loginID,
		AccessToken: out.AccessToken,
		Cookie:      out.Cookie,
		OTPSource:   out.OTPSource,
		Err:         out.Err,
	}

	if res.Success {
		e.emitAudit(ctx, AuditEventAuthSuccess, true, subject, "login", nil, func() map[string]string {
			return map[string]string{"otp_source": string(out.OTPSource)}
		})
	} else {
		e.emitAudit(ctx, AuditEventAuthFailure, false, subject, "login", out.Err, func() map[string]string {
			return map[string]string{"otp_source": string(out.OTPSource)}
		})
	}
	return res, nil
}

func (e *Engine) resolveOTP(ctx context.Context, sess *transport.Session, subject auditSubject) (flows.OTPResolution, error) {
	res, err := flows.RunResolveOTP(ctx, subject.identity, flows.OTPDeps{
		MockEnabled:      e.config.OTP.MockEnabled,
		FallbackValue:    e.config.OTP.MockValue,
		PropagationDelay: e.config.OTP.PropagationDelay,
		KeyPrefix:        e.config.OTP.KeyPrefix,
		Database:         e.config.OTP.Database,
		ExtractStart:     e.config.OTP.ExtractStart,
		ExtractEnd:       e.config.OTP.ExtractEnd,
		Trigger: func(ctx context.Context) error {
			err := e.triggerOTP(ctx, sess, subject)
			if err != nil && !e.config.OTP.MockEnabled {
				e.emitAudit(ctx, AuditEventOTPTriggerFailure, false, subject, "trigger", err, nil)
			}
			return err
		},
		ReadKey: func(ctx context.Context, db int, key string) (string, error) {
			v, err := e.store.ReadKey(ctx, db, key)
			if errors.Is(err, pool.ErrUnavailable) {
				e.metricInc(MetricPoolUnavailable)
			}
			return v, err
		},
		Debug:     e.logger.Debug,
		Warn:      e.logger.Warn,
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Metrics: flows.OTPMetrics{
			TriggerFailure: int(MetricOTPTriggerFailure),
			FromStore:      int(MetricOTPFromStore),
			FromMock:       int(MetricOTPFromMock),
			Fallback:       int(MetricOTPFallback),
		},
	})
	if err == nil && res.Source == flows.OTPFromFallback {
		e.emitAudit(ctx, AuditEventOTPFallback, false, subject, "fetch", nil, func() map[string]string {
			return map[string]string{"reason": res.Reason}
		})
	}
	return res, err
}

func (e *Engine) triggerOTP(ctx context.Context, sess *transport.Session, subject auditSubject) error {
	if err := e.throttle.Wait(ctx); err != nil {
		return err
	}

	deviceTime := e.now().UnixMilli()
	form := url.Values{
		"token": {e.signer.Sign(signature.Input{
			Identity:         subject.identity,
			ClientID:         subject.clientID,
			DeviceID:         subject.deviceID,
			DeviceTimeMillis: deviceTime,
		})},
		"sixDigitOTP": {"true"},
	}

	path := e.config.Backend.EmailOTPPath
	if identity.IsEmail(subject.identity) {
		form.Set("email", subject.identity)
	} else {
		path = e.config.Backend.PhoneOTPPath
		form.Set("prefix", identity.CountryPrefix)
		form.Set("phone", subject.identity)
		form.Set("resendOnCall", "false")
	}

	resp, err := sess.PostForm(ctx, e.endpoint(path), e.headers.OTPHeaders(subject.clientID, subject.deviceID, deviceTime), form)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: status %d", ErrOTPTrigger, resp.StatusCode)
	}
	e.logger.Debug("otp triggered", "identity", subject.identity, "phase", "trigger", "status", resp.StatusCode)
	return nil
}

func (e *Engine) login(ctx context.Context, sess *transport.Session, clientID, deviceID string, form url.Values) (flows.LoginResponse, error) {
	loginURL := e.endpoint(e.config.Backend.LoginPath)
	resp, err := sess.PostForm(ctx, loginURL, e.headers.LoginHeaders(clientID, deviceID), form)
	if err != nil {
		return flows.LoginResponse{}, fmt.Errorf("%w: %v", errTransport, err)
	}

	out := flows.LoginResponse{StatusCode: resp.StatusCode, Body: resp.Body}
	if name := e.config.Session.CookieName; name != "" {
		if v, ok := resp.Cookie(name); ok {
			out.Cookie = v
		} else if v, ok := sess.Cookie(loginURL, name); ok {
			out.Cookie = v
		}
	}
	return out, nil
}

func (e *Engine) storeSession(loginID, accessToken, cookie string) {
	if e.inspector != nil {
		if exp, ok := e.inspector.ExpiresAt(accessToken); ok {
			e.sessions.StoreUntil(loginID, accessToken, cookie, exp)
			return
		}
	}
	e.sessions.Store(loginID, accessToken, cookie)
}

func (e *Engine) rejectInput(ctx context.Context, loginID, msg string, err error) *AuthResult {
	e.metricInc(MetricAuthFailure)
	e.emitAudit(ctx, AuditEventAuthFailure, false, auditSubject{identity: loginID}, "input", err, nil)
	return &AuthResult{Identity: loginID, Message: msg, Err: err}
}
