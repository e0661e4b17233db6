package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// simBackend imitates the OTP backend: triggers write a fresh OTP into Redis
// under the configured key layout, logins accept only the last OTP issued
// for the identity (or the mock value in mock mode).
type simBackend struct {
	cfg    otpauth.Config
	rdb    *redis.Client
	srv    *httptest.Server
	seq    atomic.Uint64
	mu     sync.Mutex
	issued map[string]string
}

func startSimBackend(cfg otpauth.Config, redisAddr string) *simBackend {
	b := &simBackend{
		cfg: cfg,
		rdb: redis.NewClient(&redis.Options{
			Addr: redisAddr,
			DB:   cfg.OTP.Database,
		}),
		issued: map[string]string{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *simBackend) URL() string { return b.srv.URL }

func (b *simBackend) Close() {
	b.srv.Close()
	_ = b.rdb.Close()
}

func (b *simBackend) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.URL.Path {
	case b.cfg.Backend.EmailOTPPath, b.cfg.Backend.PhoneOTPPath:
		b.trigger(w, r)
	case b.cfg.Backend.LoginPath:
		b.login(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *simBackend) trigger(w http.ResponseWriter, r *http.Request) {
	id := r.PostForm.Get("email")
	if id == "" {
		id = r.PostForm.Get("phone")
	}
	if id == "" || r.PostForm.Get("token") == "" {
		http.Error(w, `{"error":"identity and token required"}`, http.StatusBadRequest)
		return
	}

	width := b.cfg.OTP.ExtractEnd - b.cfg.OTP.ExtractStart
	otp := fmt.Sprintf("%0*d", width, b.seq.Add(1))
	otp = otp[len(otp)-width:]
	value := strings.Repeat("x", b.cfg.OTP.ExtractStart) + otp

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := b.rdb.Set(ctx, b.cfg.OTP.KeyPrefix+id, value, 5*time.Minute).Err(); err != nil {
		http.Error(w, `{"error":"otp store unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	b.mu.Lock()
	b.issued[id] = otp
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"sent"}`))
}

func (b *simBackend) login(w http.ResponseWriter, r *http.Request) {
	raw, err := base64.StdEncoding.DecodeString(r.PostForm.Get("token"))
	if err != nil {
		http.Error(w, `{"error":"bad token"}`, http.StatusBadRequest)
		return
	}
	parts := strings.Split(string(raw), "~")
	if len(parts) < 2 {
		http.Error(w, `{"error":"bad token"}`, http.StatusBadRequest)
		return
	}
	id, otp := parts[0], parts[len(parts)-1]

	b.mu.Lock()
	want, ok := b.issued[id]
	b.mu.Unlock()

	accepted := ok && otp == want
	if b.cfg.OTP.MockEnabled && otp == b.cfg.OTP.MockValue {
		accepted = true
	}
	if !accepted {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid otp"}`))
		return
	}

	token := uuid.NewString()
	if name := b.cfg.Session.CookieName; name != "" {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "s-" + token, Path: "/"})
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"data":{"login":{"access_token":%q}}}`, token)
}
