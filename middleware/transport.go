package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	otpauth "github.com/MrEthical07/otpauth"
)

var (
	ErrNilEngine       = errors.New("nil engine")
	ErrNoIdentity      = errors.New("no identity for request")
	ErrSessionRequired = errors.New("session could not be established")
)

type identityContextKey struct{}

// WithIdentity returns a context whose requests are sent on behalf of
// identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityContextKey{}).(string)
	return id, ok && strings.TrimSpace(id) != ""
}

type sessionSource interface {
	APIHeaders(identity string, overrides map[string]string) map[string]string
	EnsureSession(ctx context.Context, loginID, clientID, deviceID string) (*otpauth.AuthResult, error)
}

// TransportConfig controls a Transport.
type TransportConfig struct {
	// Identity is used when the request context carries none.
	Identity string
	// ClientID is passed to EnsureSession.
	ClientID string
	// EnsureSession authenticates the identity before the request when no
	// live session exists. Without it requests fall back to the configured
	// fallback token.
	EnsureSession bool
	// Base performs the request. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// Transport is an http.RoundTripper that sets engine API headers on each
// request. Headers already present on the request win.
type Transport struct {
	source sessionSource
	cfg    TransportConfig
}

var _ http.RoundTripper = (*Transport)(nil)

func NewTransport(engine *otpauth.Engine, cfg TransportConfig) (*Transport, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	return newTransport(engine, cfg), nil
}

func newTransport(source sessionSource, cfg TransportConfig) *Transport {
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	return &Transport{source: source, cfg: cfg}
}

// Client returns an http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	identity, ok := IdentityFromContext(req.Context())
	if !ok {
		identity = strings.TrimSpace(t.cfg.Identity)
	}
	if identity == "" {
		closeBody(req)
		return nil, ErrNoIdentity
	}

	if t.cfg.EnsureSession {
		res, err := t.source.EnsureSession(req.Context(), identity, t.cfg.ClientID, "")
		if err != nil {
			closeBody(req)
			return nil, err
		}
		if !res.Success {
			closeBody(req)
			return nil, errors.Join(ErrSessionRequired, res.Err)
		}
	}

	out := req.Clone(req.Context())
	for k, v := range t.source.APIHeaders(identity, nil) {
		if _, set := req.Header[http.CanonicalHeaderKey(k)]; set {
			continue
		}
		out.Header.Set(k, v)
	}
	return t.cfg.Base.RoundTrip(out)
}

// RoundTrippers must close the request body even on error.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
