package otpauth

import (
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth/headers"
	"github.com/MrEthical07/otpauth/jwt"
)

// Config is the full engine configuration. Build it with [DefaultConfig] or
// [ConfigFromProperties], adjust fields, and hand it to [Builder.WithConfig].
type Config struct {
	Backend   BackendConfig
	HTTP      HTTPConfig
	Redis     RedisConfig
	OTP       OTPConfig
	Session   SessionConfig
	Headers   HeadersConfig
	API       headers.APIConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig locates the authentication backend.
type BackendConfig struct {
	BaseURL string

	EmailOTPPath string
	PhoneOTPPath string
	LoginPath    string
}

// HTTPConfig bounds every backend request.
type HTTPConfig struct {
	Timeout time.Duration
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig configures the OTP store connection pool. DialTimeout also
// bounds pool initialization and health checks.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MaxIdleConns int
	MinIdleConns int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls how one-time passcodes are triggered and read back.
//
// In mock mode MockValue is used for every attempt and the store is never
// contacted. Outside mock mode MockValue is the fallback returned when the
// store cannot produce a usable value.
type OTPConfig struct {
	MockEnabled bool
	MockValue   string

	KeyPrefix    string
	Database     int
	ExtractStart int
	ExtractEnd   int

	PropagationDelay time.Duration

	// TriggerRate limits OTP triggers per second across the engine. Zero
	// disables the throttle. An attempt waits at most one full burst refill
	// (TriggerBurst/TriggerRate) on top of its network budget; a trigger
	// still queued after that is abandoned and the attempt takes the
	// failed-trigger fallback path.
	TriggerRate  float64
	TriggerBurst int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session cache and login response parsing.
type SessionConfig struct {
	TTL time.Duration

	// AccessTokenPaths are dotted JSON paths tried in order.
	AccessTokenPaths []string
	// CookieName is the session cookie captured after login. Empty disables
	// cookie capture.
	CookieName string

	// CapWithJWTExpiry ends a cached session at the access token's exp
	// claim when that is earlier than TTL.
	CapWithJWTExpiry bool
	JWTSigningMethod string // "", "ed25519" or "hs256"; empty reads exp unverified
	JWTVerifyKey     []byte
	JWTLeeway        time.Duration
}

// HeadersConfig controls static client headers.
type HeadersConfig struct {
	// Dir holds <clientId>_headers.properties files. Empty disables file lookup.
	Dir    string
	Client headers.Config
}

// RateLimitConfig controls backend rate-limit key cleanup.
type RateLimitConfig struct {
	// CleanupPattern is a glob with an {identity} placeholder.
	CleanupPattern string
	Database       int
	// CleanupBeforeAuth clears rate-limit keys at the start of every attempt.
	CleanupBeforeAuth bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	defaultEmailOTPPath = "/api/v4/oauth/login/email/send-otp"
	defaultPhoneOTPPath = "/api/v4/oauth/dual/mobile/send-otp"
	defaultLoginPath    = "/api/v4/oauth/dual/mobile/verify-otp"

	defaultOTPKeyPrefix = "onetimepasswordsixdigit:v2:"
	defaultMockOTP      = "123456"
)

// DefaultConfig returns the production defaults. Backend.BaseURL has no
// default and must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			EmailOTPPath: defaultEmailOTPPath,
			PhoneOTPPath: defaultPhoneOTPPath,
			LoginPath:    defaultLoginPath,
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			PoolSize:     8,
			MaxIdleConns: 8,
		},
		OTP: OTPConfig{
			MockValue:        defaultMockOTP,
			KeyPrefix:        defaultOTPKeyPrefix,
			ExtractStart:     6,
			ExtractEnd:       13,
			PropagationDelay: time.Second,
		},
		Session: SessionConfig{
			TTL:              24 * time.Hour,
			AccessTokenPaths: []string{"data.login.access_token", "data.access_token"},
		},
		Headers: HeadersConfig{
			Client: headers.DefaultConfig(),
		},
		API: headers.DefaultAPIConfig(),
		RateLimit: RateLimitConfig{
			CleanupPattern: "*{identity}*",
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.AccessTokenPaths = slices.Clone(cfg.Session.AccessTokenPaths)
	out.Session.JWTVerifyKey = cloneBytes(cfg.Session.JWTVerifyKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration error. Build calls it; every
// error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Backend
	base := strings.TrimSpace(c.Backend.BaseURL)
	if base == "" {
		return errors.New("Backend BaseURL is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("Backend BaseURL must be an absolute http(s) URL")
	}
	for _, p := range []string{c.Backend.EmailOTPPath, c.Backend.PhoneOTPPath, c.Backend.LoginPath} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Backend paths must start with '/'")
		}
	}

	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP Timeout must be > 0")
	}

	// OTP
	if c.OTP.MockEnabled && strings.TrimSpace(c.OTP.MockValue) == "" {
		return errors.New("OTP MockValue is required in mock mode")
	}
	if c.OTP.ExtractStart < 0 || c.OTP.ExtractEnd <= c.OTP.ExtractStart {
		return errors.New("OTP extraction window must satisfy 0 <= start < end")
	}
	if c.OTP.PropagationDelay < 0 || c.OTP.PropagationDelay > time.Minute {
		return errors.New("OTP PropagationDelay must be within [0, 1m]")
	}
	if c.OTP.Database < 0 || c.RateLimit.Database < 0 || c.Redis.DB < 0 {
		return errors.New("Redis database indexes must be >= 0")
	}
	if c.OTP.TriggerRate < 0 || c.OTP.TriggerBurst < 0 {
		return errors.New("OTP TriggerRate and TriggerBurst must be >= 0")
	}

	// Redis
	if !c.OTP.MockEnabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("Redis Addr is required unless OTP mock mode is enabled")
		}
		if c.Redis.DialTimeout <= 0 {
			return errors.New("Redis DialTimeout must be > 0")
		}
	}
	if c.Redis.PoolSize < 0 || c.Redis.MaxIdleConns < 0 || c.Redis.MinIdleConns < 0 {
		return errors.New("Redis pool sizes must be >= 0")
	}
	if c.Redis.PoolSize > 0 && c.Redis.MinIdleConns > c.Redis.PoolSize {
		return errors.New("Redis MinIdleConns must not exceed PoolSize")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if !slices.ContainsFunc(c.Session.AccessTokenPaths, func(p string) bool { return strings.TrimSpace(p) != "" }) {
		return errors.New("Session AccessTokenPaths must contain at least one path")
	}
	switch jwt.SigningMethod(c.Session.JWTSigningMethod) {
	case "":
	case jwt.MethodEd25519, jwt.MethodHS256:
		if len(c.Session.JWTVerifyKey) == 0 {
			return errors.New("Session JWTVerifyKey is required when JWTSigningMethod is set")
		}
	default:
		return errors.New("Session JWTSigningMethod must be 'ed25519' or 'hs256'")
	}
	if c.Session.JWTLeeway < 0 || c.Session.JWTLeeway > 2*time.Minute {
		return errors.New("Session JWTLeeway must be within [0, 2m]")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
