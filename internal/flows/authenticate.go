package flows

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrEthical07/otpauth/internal/identity"
	"github.com/buger/jsonparser"
)

const (
	GrantEmailOTP = "emotp"
	GrantPhoneOTP = "photp"
)

var (
	// ErrAccessTokenMissing is returned when no configured path yields a token.
	ErrAccessTokenMissing = errors.New("access token missing from login response")
	// ErrLoginRejected is returned for a non-2xx login response.
	ErrLoginRejected = errors.New("login rejected")
	// ErrLoginBodyInvalid is returned when the login response is not JSON.
	ErrLoginBodyInvalid = errors.New("login response is not valid json")
)

// LoginResponse is what the login call hands back to the flow. Cookie is the
// configured session cookie, already resolved from the response or the
// attempt's jar.
type LoginResponse struct {
	StatusCode int
	Body       []byte
	Cookie     string
}

// AuthenticateResult is the flow-local authenticate outcome.
type AuthenticateResult struct {
	Success     bool
	Message     string
	AccessToken string
	Cookie      string
	OTPSource   OTPSource
	Err         error
}

// AuthenticateMetrics carries metric IDs used by the authenticate flow.
type AuthenticateMetrics struct {
	Success       int
	Failure       int
	LoginRejected int
	SessionStored int
}

// AuthenticateDeps captures authenticate dependencies.
type AuthenticateDeps struct {
	AccessTokenPaths []string

	ResolveOTP   func(context.Context) (OTPResolution, error)
	Login        func(ctx context.Context, form url.Values) (LoginResponse, error)
	StoreSession func(accessToken, cookie string)

	Info      func(msg string, args ...any)
	Warn      func(msg string, args ...any)
	MetricInc func(int)
	Metrics   AuthenticateMetrics
}

// RunAuthenticate resolves an OTP, exchanges it for an access token and
// stores the session. Every expected failure becomes a result with
// Success=false; only ctx errors are returned.
func RunAuthenticate(ctx context.Context, id string, deps AuthenticateDeps) (AuthenticateResult, error) {
	if deps.Info == nil {
		deps.Info = func(string, ...any) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.StoreSession == nil {
		deps.StoreSession = func(string, string) {}
	}

	fail := func(res AuthenticateResult, phase string, err error) (AuthenticateResult, error) {
		res.Success = false
		res.Err = err
		res.Message = fmt.Sprintf("%s: %v", res.Message, err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.Warn("authentication failed", "identity", id, "phase", phase, "error", err)
		return res, nil
	}

	otp, err := deps.ResolveOTP(ctx)
	if err != nil {
		return AuthenticateResult{}, err
	}
	res := AuthenticateResult{OTPSource: otp.Source}
	if strings.TrimSpace(otp.OTP) == "" {
		res.Message = "Failed to retrieve OTP"
		reason := otp.Reason
		if reason == "" {
			reason = "no otp available"
		}
		return fail(res, "otp", errors.New(reason))
	}

	grant, token := LoginGrant(id, otp.OTP)
	form := url.Values{
		"grant_type":  {grant},
		"token":       {token},
		"sixDigitOTP": {"true"},
	}

	resp, err := deps.Login(ctx, form)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AuthenticateResult{}, ctxErr
		}
		res.Message = "Login request failed"
		return fail(res, "login", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		deps.MetricInc(deps.Metrics.LoginRejected)
		res.Message = "Login failed"
		return fail(res, "login", fmt.Errorf("%w: status %d: %s", ErrLoginRejected, resp.StatusCode, snippet(resp.Body)))
	}

	accessToken, err := ExtractAccessToken(resp.Body, deps.AccessTokenPaths)
	if err != nil {
		res.Message = "Login response incomplete"
		return fail(res, "extract", err)
	}

	deps.StoreSession(accessToken, resp.Cookie)
	deps.MetricInc(deps.Metrics.SessionStored)
	deps.MetricInc(deps.Metrics.Success)
	deps.Info("authentication successful", "identity", id, "otp_source", string(otp.Source), "status", resp.StatusCode)

	res.Success = true
	res.Message = "Authentication successful"
	res.AccessToken = accessToken
	res.Cookie = resp.Cookie
	return res, nil
}

// LoginGrant returns the grant type and base64 login token for id.
func LoginGrant(id, otp string) (grantType, token string) {
	if identity.IsEmail(id) {
		return GrantEmailOTP, base64.StdEncoding.EncodeToString([]byte(id + "~" + otp))
	}
	return GrantPhoneOTP, base64.StdEncoding.EncodeToString([]byte(id + "~" + identity.CountryPrefix + "~" + otp))
}

// ExtractAccessToken returns the first non-blank string found at one of the
// dotted paths in body.
func ExtractAccessToken(body []byte, paths []string) (string, error) {
	if !json.Valid(body) {
		return "", ErrLoginBodyInvalid
	}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		v, err := jsonparser.GetString(body, strings.Split(path, ".")...)
		if err != nil {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrAccessTokenMissing, strings.Join(paths, ", "))
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
