//go:build integration

package test

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/alicebob/miniredis/v2"
)

// backend issues a fresh OTP into miniredis on every trigger and accepts
// only that OTP on login.
type backend struct {
	mr       *miniredis.Miniredis
	cfg      otpauth.Config
	seq      atomic.Int64
	triggers atomic.Int64
	logins   atomic.Int64

	mu     sync.Mutex
	issued map[string]string
}

func newBackend(t *testing.T, mr *miniredis.Miniredis, cfg otpauth.Config) *httptest.Server {
	t.Helper()
	b := &backend{mr: mr, cfg: cfg, issued: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch r.URL.Path {
	case b.cfg.Backend.EmailOTPPath, b.cfg.Backend.PhoneOTPPath:
		b.triggers.Add(1)
		id := r.PostForm.Get("email") + r.PostForm.Get("phone")
		otp := fmt.Sprintf("%07d", b.seq.Add(1))
		b.mr.DB(b.cfg.OTP.Database).Set(b.cfg.OTP.KeyPrefix+id, strings.Repeat("z", b.cfg.OTP.ExtractStart)+otp)
		b.mu.Lock()
		b.issued[id] = otp
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case b.cfg.Backend.LoginPath:
		b.logins.Add(1)
		raw, _ := base64.StdEncoding.DecodeString(r.PostForm.Get("token"))
		parts := strings.Split(string(raw), "~")
		id, otp := parts[0], parts[len(parts)-1]
		b.mu.Lock()
		ok := b.issued[id] == otp
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid otp"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"data":{"login":{"access_token":"tok-%s-%s"}}}`, id, otp)
	default:
		http.NotFound(w, r)
	}
}

func integrationConfig(baseURL, redisAddr string) otpauth.Config {
	cfg := otpauth.DefaultConfig()
	cfg.Backend.BaseURL = baseURL
	cfg.Redis.Addr = redisAddr
	cfg.Redis.DialTimeout = time.Second
	cfg.OTP.PropagationDelay = 0
	cfg.API.ClientID = "android"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newIntegrationEngine wires an engine to miniredis and the fake backend.
// mutate runs before Build.
func newIntegrationEngine(t *testing.T, mutate func(*otpauth.Config, *otpauth.Builder)) (*otpauth.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := integrationConfig("http://placeholder.invalid", mr.Addr())
	b := otpauth.New().WithLogger(quietLogger())
	if mutate != nil {
		mutate(&cfg, b)
	}
	srv := newBackend(t, mr, cfg)
	cfg.Backend.BaseURL = srv.URL

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}
