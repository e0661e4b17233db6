package otpauth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpauth/internal/flows"
	"github.com/MrEthical07/otpauth/signature"
	"github.com/alicebob/miniredis/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

const (
	testEmail    = "user@test.com"
	testPhone    = "9999999999"
	testClientID = "android"
	testDeviceID = "device-1"
)

type recordedRequest struct {
	Path    string
	Form    url.Values
	Header  http.Header
	Cookies map[string]string
}

// fakeBackend serves the OTP trigger and login endpoints. Triggers set a
// "trace" cookie so tests can check jar scoping.
type fakeBackend struct {
	mu       sync.Mutex
	triggers []recordedRequest
	logins   []recordedRequest

	triggerStatus int
	loginStatus   int
	loginBody     string
	loginCookie   *http.Cookie
	loginGate     chan struct{}
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{
		triggerStatus: http.StatusOK,
		loginStatus:   http.StatusOK,
		loginBody:     `{"data":{"access_token":"abc"}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := recordedRequest{
		Path:    r.URL.Path,
		Form:    r.PostForm,
		Header:  r.Header.Clone(),
		Cookies: map[string]string{},
	}
	for _, c := range r.Cookies() {
		rec.Cookies[c.Name] = c.Value
	}

	switch r.URL.Path {
	case defaultEmailOTPPath, defaultPhoneOTPPath:
		fb.mu.Lock()
		fb.triggers = append(fb.triggers, rec)
		status := fb.triggerStatus
		fb.mu.Unlock()
		subject := r.PostForm.Get("email") + r.PostForm.Get("phone")
		http.SetCookie(w, &http.Cookie{Name: "trace", Value: subject, Path: "/"})
		w.WriteHeader(status)
	case defaultLoginPath:
		fb.mu.Lock()
		fb.logins = append(fb.logins, rec)
		gate := fb.loginGate
		status, body, cookie := fb.loginStatus, fb.loginBody, fb.loginCookie
		fb.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (fb *fakeBackend) triggerRequests() []recordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recordedRequest(nil), fb.triggers...)
}

func (fb *fakeBackend) loginRequests() []recordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recordedRequest(nil), fb.logins...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(baseURL, redisAddr string) Config {
	cfg := DefaultConfig()
	cfg.Backend.BaseURL = baseURL
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.Redis.Addr = redisAddr
	cfg.Redis.DialTimeout = time.Second
	cfg.OTP.PropagationDelay = 0
	cfg.API.ClientID = testClientID
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildTestEngine(t *testing.T, cfg Config, opts ...func(*Builder)) *Engine {
	t.Helper()
	b := New().WithConfig(cfg).WithLogger(discardLogger())
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func seedOTP(mr *miniredis.Miniredis, identity, otp string) {
	mr.DB(0).Set(defaultOTPKeyPrefix+identity, "abcdef"+otp)
}

func decodeGrantToken(t *testing.T, token string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("login token is not base64: %v", err)
	}
	return string(raw)
}

func TestAuthenticateEmailStoresSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	seedOTP(mr, testEmail, "7654321")

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()), func(b *Builder) { b.withClock(clock.Now) })

	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if !res.Success || res.AccessToken != "abc" || res.OTPSource != OTPFromStore {
		t.Fatalf("unexpected result %+v", res)
	}
	if got, ok := engine.AuthToken(testEmail); !ok || got != "Bearer abc" {
		t.Fatalf("expected Bearer abc, got %q (%v)", got, ok)
	}

	triggers := fb.triggerRequests()
	if len(triggers) != 1 || triggers[0].Path != defaultEmailOTPPath {
		t.Fatalf("expected one email trigger, got %+v", triggers)
	}
	signer, _ := signature.NewSigner()
	wantSig := signer.Sign(signature.Input{
		Identity:         testEmail,
		ClientID:         testClientID,
		DeviceID:         testDeviceID,
		DeviceTimeMillis: clock.Now().UnixMilli(),
	})
	form := triggers[0].Form
	if form.Get("token") != wantSig || form.Get("email") != testEmail || form.Get("sixDigitOTP") != "true" {
		t.Fatalf("unexpected trigger form %v", form)
	}
	if triggers[0].Header.Get("deviceId") != testDeviceID {
		t.Fatalf("expected deviceId header, got %v", triggers[0].Header)
	}

	logins := fb.loginRequests()
	if len(logins) != 1 {
		t.Fatalf("expected one login, got %d", len(logins))
	}
	if logins[0].Form.Get("grant_type") != "emotp" {
		t.Fatalf("expected emotp grant, got %q", logins[0].Form.Get("grant_type"))
	}
	if got := decodeGrantToken(t, logins[0].Form.Get("token")); got != testEmail+"~7654321" {
		t.Fatalf("unexpected grant payload %q", got)
	}
}

func TestAuthenticatePhoneRouting(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	seedOTP(mr, testPhone, "1234567")

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	res, err := engine.Authenticate(context.Background(), testPhone, testClientID, testDeviceID)
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}

	triggers := fb.triggerRequests()
	if len(triggers) != 1 || triggers[0].Path != defaultPhoneOTPPath {
		t.Fatalf("expected one phone trigger, got %+v", triggers)
	}
	form := triggers[0].Form
	if form.Get("prefix") != "+91" || form.Get("phone") != testPhone || form.Get("resendOnCall") != "false" {
		t.Fatalf("unexpected phone trigger form %v", form)
	}
	if form.Has("email") {
		t.Fatal("phone trigger must not carry email")
	}

	login := fb.loginRequests()[0]
	if login.Form.Get("grant_type") != "photp" {
		t.Fatalf("expected photp grant, got %q", login.Form.Get("grant_type"))
	}
	if got := decodeGrantToken(t, login.Form.Get("token")); got != testPhone+"~+91~1234567" {
		t.Fatalf("unexpected grant payload %q", got)
	}
}

func TestAuthenticateMockModeNeverTouchesStore(t *testing.T) {
	fb, srv := newFakeBackend(t)
	cfg := testConfig(srv.URL, "127.0.0.1:1")
	cfg.OTP.MockEnabled = true
	cfg.OTP.MockValue = "123456"
	cfg.OTP.PropagationDelay = time.Minute

	engine := buildTestEngine(t, cfg)
	start := time.Now()
	res, err := engine.Authenticate(context.Background(), testEmail, "", "")
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("mock mode must skip the propagation wait")
	}
	if res.OTPSource != OTPFromMock {
		t.Fatalf("expected mock source, got %s", res.OTPSource)
	}
	if got := decodeGrantToken(t, fb.loginRequests()[0].Form.Get("token")); got != testEmail+"~123456" {
		t.Fatalf("unexpected grant payload %q", got)
	}
	if st := engine.PoolStats(); st.Available || st.Total != 0 {
		t.Fatalf("pool must never be created in mock mode, got %+v", st)
	}
	if engine.MetricsSnapshot().Counters[MetricPoolUnavailable] != 0 {
		t.Fatal("mock mode must not read the store")
	}
}

func TestAuthenticateUnreachableStoreUsesFallback(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	engine := buildTestEngine(t, testConfig(srv.URL, addr))
	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil {
		t.Fatalf("unreachable store must not surface as error: %v", err)
	}
	if !res.Success || res.OTPSource != OTPFromFallback {
		t.Fatalf("expected success via fallback, got %+v", res)
	}
	if got := decodeGrantToken(t, fb.loginRequests()[0].Form.Get("token")); got != testEmail+"~123456" {
		t.Fatalf("expected fallback OTP in grant, got %q", got)
	}
	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricOTPFallback] != 1 || snap.Counters[MetricPoolUnavailable] == 0 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
}

func TestAuthenticateTriggerFailureFetchesDirectly(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.triggerStatus = http.StatusInternalServerError
	mr := miniredis.RunT(t)
	seedOTP(mr, testEmail, "5555555")

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil || !res.Success {
		t.Fatalf("expected success after trigger failure, got %+v, %v", res, err)
	}
	if res.OTPSource != OTPFromStore {
		t.Fatalf("expected direct fetch from store, got %s", res.OTPSource)
	}
	if got := decodeGrantToken(t, fb.loginRequests()[0].Form.Get("token")); got != testEmail+"~5555555" {
		t.Fatalf("unexpected grant payload %q", got)
	}
	if engine.MetricsSnapshot().Counters[MetricOTPTriggerFailure] != 1 {
		t.Fatal("expected trigger failure to be counted")
	}
}

func TestAuthenticateLoginRejectedIsResult(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.loginStatus = http.StatusUnauthorized
	fb.loginBody = `{"errors":[{"message":"invalid otp"}]}`
	mr := miniredis.RunT(t)
	seedOTP(mr, testEmail, "7654321")

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil {
		t.Fatalf("rejected login must not be an error: %v", err)
	}
	if res.Success || !strings.Contains(res.Message, "Login failed") {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err, flows.ErrLoginRejected) {
		t.Fatalf("expected ErrLoginRejected, got %v", res.Err)
	}
	if _, ok := engine.AuthToken(testEmail); ok {
		t.Fatal("rejected login must not cache a session")
	}
}

func TestAuthenticateMissingTokenIsResult(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.loginBody = `{"data":{"user":"x"}}`
	mr := miniredis.RunT(t)

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || !errors.Is(res.Err, flows.ErrAccessTokenMissing) {
		t.Fatalf("expected missing token failure, got %+v", res)
	}
}

func TestAuthenticateNestedTokenAndCookie(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.loginBody = `{"data":{"login":{"access_token":"nested-token"}}}`
	fb.loginCookie = &http.Cookie{Name: "SESSION", Value: "cookie-1", Path: "/"}
	mr := miniredis.RunT(t)

	cfg := testConfig(srv.URL, mr.Addr())
	cfg.Session.CookieName = "SESSION"
	engine := buildTestEngine(t, cfg)

	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
	if res.AccessToken != "nested-token" || res.Cookie != "cookie-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got, ok := engine.Cookie(testEmail); !ok || got != "cookie-1" {
		t.Fatalf("expected cached cookie, got %q (%v)", got, ok)
	}
}

func TestAuthenticateCookieJarPerAttempt(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	identities := []string{"a@test.com", "b@test.com", "8888888888", "7777777777"}
	var wg sync.WaitGroup
	for _, id := range identities {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if res, err := engine.Authenticate(context.Background(), id, testClientID, ""); err != nil || !res.Success {
				t.Errorf("authenticate %s: %+v, %v", id, res, err)
			}
		}(id)
	}
	wg.Wait()

	logins := fb.loginRequests()
	if len(logins) != len(identities) {
		t.Fatalf("expected %d logins, got %d", len(identities), len(logins))
	}
	for _, l := range logins {
		payload := decodeGrantToken(t, l.Form.Get("token"))
		owner := strings.SplitN(payload, "~", 2)[0]
		if l.Cookies["trace"] != owner {
			t.Fatalf("login for %s carried cookie of %q", owner, l.Cookies["trace"])
		}
	}
	for _, id := range identities {
		if !engine.HasValidSession(id) {
			t.Fatalf("expected session for %s", id)
		}
	}
}

func TestAuthenticateSameIdentitySharesAttempt(t *testing.T) {
	fb, srv := newFakeBackend(t)
	gate := make(chan struct{})
	fb.loginGate = gate
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	const callers = 6
	results := make(chan *AuthResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- res
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	for res := range results {
		if !res.Success || res.AccessToken != "abc" {
			t.Fatalf("unexpected shared result %+v", res)
		}
	}
	if n := len(fb.triggerRequests()); n != 1 {
		t.Fatalf("expected a single trigger for concurrent callers, got %d", n)
	}
}

func TestAuthenticateCallerCancellationDoesNotWait(t *testing.T) {
	fb, srv := newFakeBackend(t)
	gate := make(chan struct{})
	fb.loginGate = gate
	defer close(gate)
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := engine.Authenticate(ctx, testEmail, testClientID, testDeviceID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("boom")
}

func TestAuthenticateRecoversPanic(t *testing.T) {
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig("http://backend.invalid", mr.Addr()), func(b *Builder) {
		b.WithTransport(panicTransport{})
	})

	res, err := engine.Authenticate(context.Background(), testEmail, testClientID, testDeviceID)
	if err != nil {
		t.Fatalf("panic must become a result, got error %v", err)
	}
	if res.Success || !errors.Is(res.Err, ErrAuthenticationPanic) {
		t.Fatalf("expected panic failure, got %+v", res)
	}
	if engine.MetricsSnapshot().Counters[MetricAuthPanic] != 1 {
		t.Fatal("expected panic metric")
	}
}

func TestAuthenticateInputFailures(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfg := testConfig(srv.URL, "127.0.0.1:1")
	cfg.API.ClientID = ""
	engine := buildTestEngine(t, cfg)

	res, err := engine.Authenticate(context.Background(), "   ", testClientID, "")
	if err != nil || res.Success || !errors.Is(res.Err, ErrIdentityRequired) {
		t.Fatalf("expected identity failure result, got %+v, %v", res, err)
	}
	res, err = engine.Authenticate(context.Background(), testEmail, "", "")
	if err != nil || res.Success || !errors.Is(res.Err, ErrClientIDRequired) {
		t.Fatalf("expected client id failure result, got %+v, %v", res, err)
	}
	if _, err := engine.ResolveOTP(context.Background(), "\t", testClientID, ""); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired from ResolveOTP, got %v", err)
	}
	if _, err := engine.CleanupRateLimit(context.Background(), "\n "); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired from CleanupRateLimit, got %v", err)
	}
}

func TestEngineNotReady(t *testing.T) {
	var nilEngine *Engine
	if _, err := nilEngine.Authenticate(context.Background(), testEmail, testClientID, ""); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}

	_, srv := newFakeBackend(t)
	engine := buildTestEngine(t, testConfig(srv.URL, "127.0.0.1:1"))
	engine.Close()
	engine.Close()
	if _, err := engine.Authenticate(context.Background(), testEmail, testClientID, ""); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady after Close, got %v", err)
	}
	if _, err := engine.CleanupRateLimit(context.Background(), testEmail); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady from cleanup, got %v", err)
	}
}

func TestEnsureSessionReusesLiveSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	first, err := engine.EnsureSession(context.Background(), testEmail, testClientID, "")
	if err != nil || !first.Success || first.Reused {
		t.Fatalf("expected fresh login, got %+v, %v", first, err)
	}
	second, err := engine.EnsureSession(context.Background(), testEmail, testClientID, "")
	if err != nil || !second.Success || !second.Reused || second.AccessToken != "abc" {
		t.Fatalf("expected reused session, got %+v, %v", second, err)
	}
	if n := len(fb.loginRequests()); n != 1 {
		t.Fatalf("expected one login, got %d", n)
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	sink := NewChannelSink(16)
	cfg := testConfig(srv.URL, mr.Addr())
	cfg.Audit.Enabled = true
	engine := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	if res, err := engine.Authenticate(context.Background(), testEmail, testClientID, ""); err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
	if !engine.Logout(context.Background(), testEmail) {
		t.Fatal("expected Logout to remove the session")
	}
	if engine.HasValidSession(testEmail) {
		t.Fatal("session must be gone after Logout")
	}
	if engine.Logout(context.Background(), testEmail) {
		t.Fatal("second Logout must report nothing removed")
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[AuditEventLogout] {
		select {
		case ev := <-sink.Events():
			seen[ev.EventType] = true
			if ev.EventType == AuditEventAuthSuccess && ev.Identity != testEmail {
				t.Fatalf("unexpected audit identity %q", ev.Identity)
			}
		case <-timeout:
			t.Fatalf("missing audit events, saw %v", seen)
		}
	}
	if !seen[AuditEventAuthSuccess] {
		t.Fatal("expected auth_success audit event before logout")
	}
}

type blockedSink struct {
	gate chan struct{}
}

func (s *blockedSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDropsAreReportedByType(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	sink := &blockedSink{gate: make(chan struct{})}
	cfg := testConfig(srv.URL, mr.Addr())
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true
	engine := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	t.Cleanup(func() { close(sink.gate) })

	for i := 0; i < 10; i++ {
		engine.Logout(context.Background(), testEmail)
	}

	dropped := engine.AuditDropped()
	if dropped < 8 {
		t.Fatalf("expected at least 8 drops with a stalled sink, got %d", dropped)
	}
	if got := engine.AuditDroppedByType()[AuditEventLogout]; got != dropped {
		t.Fatalf("expected %d logout drops, got %d", dropped, got)
	}

	var nilEngine *Engine
	if len(nilEngine.AuditDroppedByType()) != 0 {
		t.Fatal("nil engine must report no drops")
	}
}

func TestCleanupRateLimitDeletesMatchingKeys(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	mr.DB(0).Set("otp_limit:"+testEmail+":count", "3")
	mr.DB(0).Set("block:"+testEmail, "1")
	mr.DB(0).Set("otp_limit:other@test.com:count", "1")

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	n, err := engine.CleanupRateLimit(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted keys, got %d", n)
	}
	if !mr.DB(0).Exists("otp_limit:other@test.com:count") {
		t.Fatal("cleanup must not touch other identities")
	}
	if st := engine.PoolStats(); st.Borrowed != 0 {
		t.Fatalf("expected no borrowed handles after cleanup, got %d", st.Borrowed)
	}
}

func TestCleanupRateLimitTreatsIdentityLiterally(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	mr.DB(0).Set("otp_limit:qa*team@test.com:count", "2")
	mr.DB(0).Set(defaultOTPKeyPrefix+"qa-ops-team@test.com", "abcdef123456")
	mr.DB(0).Set("otp_limit:qa-ops-team@test.com:count", "1")

	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))
	n, err := engine.CleanupRateLimit(context.Background(), "qa*team@test.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the literal identity's key deleted, got %d", n)
	}
	if mr.DB(0).Exists("otp_limit:qa*team@test.com:count") {
		t.Fatal("expected own rate-limit key to be deleted")
	}
	for _, key := range []string{defaultOTPKeyPrefix + "qa-ops-team@test.com", "otp_limit:qa-ops-team@test.com:count"} {
		if !mr.DB(0).Exists(key) {
			t.Fatalf("glob characters in the identity deleted %q", key)
		}
	}
}

func TestCleanupRateLimitErrors(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfg := testConfig(srv.URL, "127.0.0.1:1")
	cfg.OTP.MockEnabled = true
	engine := buildTestEngine(t, cfg)

	if _, err := engine.CleanupRateLimit(context.Background(), testEmail); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable in mock mode, got %v", err)
	}
	if _, err := engine.CleanupRateLimit(context.Background(), " "); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestPoolDiagnostics(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	if engine.PoolStats().Available {
		t.Fatal("pool must stay lazy until first use")
	}
	if !engine.PoolHealthy(context.Background()) {
		t.Fatal("expected healthy pool")
	}
	if !engine.PoolStats().Available {
		t.Fatal("expected pool to be available after health check")
	}

	mr.Close()
	if engine.PoolHealthy(context.Background()) {
		t.Fatal("expected unhealthy pool after store shutdown")
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	if err := engine.ResetPool(); err != nil {
		t.Fatalf("ResetPool: %v", err)
	}
	if !engine.PoolHealthy(context.Background()) {
		t.Fatal("expected healthy pool after reset")
	}
}

func TestAPIHeadersCarrySessionToken(t *testing.T) {
	_, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	cfg := testConfig(srv.URL, mr.Addr())
	cfg.API.FallbackToken = "fallback"
	engine := buildTestEngine(t, cfg)

	if got := engine.APIHeaders(testEmail, nil)["Authorization"]; got != "Bearer fallback" {
		t.Fatalf("expected fallback token before login, got %q", got)
	}
	if _, err := engine.Authenticate(context.Background(), testEmail, testClientID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hs := engine.APIHeaders(testEmail, nil)
	if hs["Authorization"] != "Bearer abc" {
		t.Fatalf("expected session token, got %q", hs["Authorization"])
	}
	if _, ok := hs["Timezone"]; ok {
		t.Fatal("Timezone must be omitted when not configured")
	}
	hs = engine.APIHeaders(testEmail, map[string]string{"Authorization": "Bearer override"})
	if hs["Authorization"] != "Bearer override" {
		t.Fatalf("override must win, got %q", hs["Authorization"])
	}
}

func TestJWTExpiryCapsCachedSession(t *testing.T) {
	clock := &testClock{now: time.Now()}
	claims := gojwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: gojwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	fb, srv := newFakeBackend(t)
	fb.loginBody = `{"data":{"access_token":"` + token + `"}}`
	mr := miniredis.RunT(t)
	cfg := testConfig(srv.URL, mr.Addr())
	cfg.Session.CapWithJWTExpiry = true
	engine := buildTestEngine(t, cfg, func(b *Builder) { b.withClock(clock.Now) })

	if res, err := engine.Authenticate(context.Background(), testEmail, testClientID, ""); err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
	if !engine.HasValidSession(testEmail) {
		t.Fatal("expected live session before exp")
	}
	clock.Advance(2 * time.Hour)
	if engine.HasValidSession(testEmail) {
		t.Fatal("session must end at the token's exp, well before the TTL")
	}
}

func TestResolveOTPWithoutLogin(t *testing.T) {
	fb, srv := newFakeBackend(t)
	mr := miniredis.RunT(t)
	seedOTP(mr, testPhone, "2468024")
	engine := buildTestEngine(t, testConfig(srv.URL, mr.Addr()))

	res, err := engine.ResolveOTP(context.Background(), testPhone, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OTP != "2468024" || res.Source != OTPFromStore {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if len(fb.loginRequests()) != 0 {
		t.Fatal("ResolveOTP must not log in")
	}
}

func TestAttemptBudgetCoversThrottleAndCleanup(t *testing.T) {
	cfg := testConfig("https://auth.example.com", "127.0.0.1:1")
	cfg.HTTP.Timeout = 2 * time.Second
	cfg.OTP.PropagationDelay = time.Second
	cfg.Redis.DialTimeout = 500 * time.Millisecond
	base := buildTestEngine(t, cfg).attemptBudget()
	if base != 6*time.Second {
		t.Fatalf("expected 6s base budget, got %s", base)
	}

	cfg.RateLimit.CleanupBeforeAuth = true
	cfg.OTP.TriggerRate = 2
	cfg.OTP.TriggerBurst = 4
	got := buildTestEngine(t, cfg).attemptBudget()
	if want := base + 500*time.Millisecond + 2*time.Second; got != want {
		t.Fatalf("expected %s with cleanup and throttle, got %s", want, got)
	}

	cfg.OTP.MockEnabled = true
	cfg.OTP.TriggerRate = 0
	if got := buildTestEngine(t, cfg).attemptBudget(); got != base {
		t.Fatalf("mock mode without throttle should keep the base budget, got %s", got)
	}
}
