package otpauth

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrEthical07/otpauth/properties"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend.BaseURL = "https://auth.example.com"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with base url",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name:   "missing base url",
			mutate: func(c *Config) { c.Backend.BaseURL = "" },
		},
		{
			name:   "relative base url",
			mutate: func(c *Config) { c.Backend.BaseURL = "auth.example.com" },
		},
		{
			name:   "path without slash",
			mutate: func(c *Config) { c.Backend.LoginPath = "verify" },
		},
		{
			name:   "zero http timeout",
			mutate: func(c *Config) { c.HTTP.Timeout = 0 },
		},
		{
			name:   "inverted extraction window",
			mutate: func(c *Config) { c.OTP.ExtractStart, c.OTP.ExtractEnd = 10, 4 },
		},
		{
			name:   "negative propagation delay",
			mutate: func(c *Config) { c.OTP.PropagationDelay = -time.Second },
		},
		{
			name:   "blank mock value in mock mode",
			mutate: func(c *Config) { c.OTP.MockEnabled, c.OTP.MockValue = true, " " },
		},
		{
			name: "mock mode without redis",
			mutate: func(c *Config) {
				c.OTP.MockEnabled = true
				c.Redis.Addr = ""
			},
			wantValid: true,
		},
		{
			name:   "redis addr required outside mock mode",
			mutate: func(c *Config) { c.Redis.Addr = "" },
		},
		{
			name:   "min idle above pool size",
			mutate: func(c *Config) { c.Redis.PoolSize, c.Redis.MinIdleConns = 2, 4 },
		},
		{
			name:   "zero session ttl",
			mutate: func(c *Config) { c.Session.TTL = 0 },
		},
		{
			name:   "blank token paths",
			mutate: func(c *Config) { c.Session.AccessTokenPaths = []string{" "} },
		},
		{
			name:   "unknown jwt method",
			mutate: func(c *Config) { c.Session.JWTSigningMethod = "rs256" },
		},
		{
			name:   "jwt method without key",
			mutate: func(c *Config) { c.Session.JWTSigningMethod = "hs256" },
		},
		{
			name: "jwt method with key",
			mutate: func(c *Config) {
				c.Session.JWTSigningMethod = "hs256"
				c.Session.JWTVerifyKey = []byte("secret")
			},
			wantValid: true,
		},
		{
			name:   "jwt leeway too large",
			mutate: func(c *Config) { c.Session.JWTLeeway = 3 * time.Minute },
		},
		{
			name:   "audit without buffer",
			mutate: func(c *Config) { c.Audit.Enabled, c.Audit.BufferSize = true, 0 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	_, err := New().WithConfig(DefaultConfig()).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig from Build, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithConfig(validTestConfig()).WithLogger(discardLogger())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestWithConfigClonesSlices(t *testing.T) {
	cfg := validTestConfig()
	b := New().WithConfig(cfg).WithLogger(discardLogger())
	cfg.Session.AccessTokenPaths[0] = "mutated"

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if got := engine.Config().Session.AccessTokenPaths[0]; got != "data.login.access_token" {
		t.Fatalf("caller mutation leaked into engine config: %q", got)
	}
}

func TestConfigFromPropertiesMapsKeys(t *testing.T) {
	props := properties.FromMap(map[string]any{
		"base.url":                        "https://auth.example.com/",
		"api.timeout":                     "12",
		"redis.host":                      "redis.internal",
		"redis.port":                      "6380",
		"redis.timeout":                   "2500",
		"redis.database":                  "3",
		"redis.connection.pool.max.total": "16",
		"redis.connection.pool.max.idle":  "4",
		"redis.connection.pool.min.idle":  "1",
		"redis.otp.key.prefix":            "otp:",
		"redis.otp.extract.start":         "2",
		"redis.otp.extract.end":           "8",
		"auth.otp.mock":                   "true",
		"auth.otp.mock.value":             "654321",
		"auth.token.ttl":                  "2h",
		"auth.login.token.paths":          "data.token, data.access_token",
		"auth.session.cookie":             "SESSION",
		"api.timezone":                    "Asia/Kolkata",
		"api.key":                         "key-1",
		"auth.user.clientid":              "android",
		"api.auth.token":                  "fallback",
	})

	cfg := ConfigFromProperties(props)

	if cfg.Backend.BaseURL != "https://auth.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Backend.BaseURL)
	}
	if cfg.HTTP.Timeout != 12*time.Second {
		t.Fatalf("api.timeout is seconds, got %s", cfg.HTTP.Timeout)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis target %q db %d", cfg.Redis.Addr, cfg.Redis.DB)
	}
	if cfg.Redis.DialTimeout != 2500*time.Millisecond {
		t.Fatalf("redis.timeout is milliseconds, got %s", cfg.Redis.DialTimeout)
	}
	if cfg.Redis.PoolSize != 16 || cfg.Redis.MaxIdleConns != 4 || cfg.Redis.MinIdleConns != 1 {
		t.Fatalf("unexpected pool sizes %+v", cfg.Redis)
	}
	if cfg.OTP.Database != 3 {
		t.Fatalf("otp database should follow redis.database, got %d", cfg.OTP.Database)
	}
	if cfg.OTP.KeyPrefix != "otp:" || cfg.OTP.ExtractStart != 2 || cfg.OTP.ExtractEnd != 8 {
		t.Fatalf("unexpected otp settings %+v", cfg.OTP)
	}
	if !cfg.OTP.MockEnabled || cfg.OTP.MockValue != "654321" {
		t.Fatalf("unexpected mock settings %+v", cfg.OTP)
	}
	if cfg.Session.TTL != 2*time.Hour || cfg.Session.CookieName != "SESSION" {
		t.Fatalf("unexpected session settings %+v", cfg.Session)
	}
	if !slices.Equal(cfg.Session.AccessTokenPaths, []string{"data.token", "data.access_token"}) {
		t.Fatalf("unexpected token paths %v", cfg.Session.AccessTokenPaths)
	}
	if cfg.API.Timezone != "Asia/Kolkata" || cfg.API.APIKey != "key-1" || cfg.API.ClientID != "android" || cfg.API.FallbackToken != "fallback" {
		t.Fatalf("unexpected api settings %+v", cfg.API)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("mapped config should validate: %v", err)
	}
}

func TestConfigFromPropertiesKeepsDefaults(t *testing.T) {
	cfg := ConfigFromProperties(properties.FromMap(map[string]any{}))
	def := DefaultConfig()

	if cfg.Redis.Addr != def.Redis.Addr {
		t.Fatalf("expected default redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.OTP.KeyPrefix != defaultOTPKeyPrefix || cfg.OTP.ExtractStart != 6 || cfg.OTP.ExtractEnd != 13 {
		t.Fatalf("unexpected otp defaults %+v", cfg.OTP)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %s", cfg.Session.TTL)
	}
	if cfg.RateLimit.CleanupPattern != "*{identity}*" {
		t.Fatalf("unexpected cleanup pattern %q", cfg.RateLimit.CleanupPattern)
	}

	if got := ConfigFromProperties(nil); got.Session.TTL != def.Session.TTL {
		t.Fatal("nil source must yield defaults")
	}
}

func TestConfigFromPropertiesRedisPortOnly(t *testing.T) {
	cfg := ConfigFromProperties(properties.FromMap(map[string]any{"redis.port": "6390"}))
	if cfg.Redis.Addr != "localhost:6390" {
		t.Fatalf("expected default host with overridden port, got %q", cfg.Redis.Addr)
	}
}
