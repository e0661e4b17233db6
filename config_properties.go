package otpauth

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth/properties"
)

// Property keys understood by ConfigFromProperties. Durations accept Go
// duration strings or bare integers; bare values are milliseconds except
// where noted.
const (
	PropBaseURL           = "base.url"
	PropHTTPTimeout       = "api.timeout" // bare integers are seconds
	PropRedisHost         = "redis.host"
	PropRedisPort         = "redis.port"
	PropRedisPassword     = "redis.password"
	PropRedisTimeout      = "redis.timeout"
	PropRedisDatabase     = "redis.database"
	PropRedisPoolMaxTotal = "redis.connection.pool.max.total"
	PropRedisPoolMaxIdle  = "redis.connection.pool.max.idle"
	PropRedisPoolMinIdle  = "redis.connection.pool.min.idle"
	PropOTPKeyPrefix      = "redis.otp.key.prefix"
	PropOTPDatabase       = "redis.otp.database"
	PropOTPExtractStart   = "redis.otp.extract.start"
	PropOTPExtractEnd     = "redis.otp.extract.end"
	PropOTPMock           = "auth.otp.mock"
	PropOTPMockValue      = "auth.otp.mock.value"
	PropOTPDelay          = "auth.otp.propagation.delay"
	PropOTPTriggerRate    = "auth.otp.trigger.rate"
	PropOTPTriggerBurst   = "auth.otp.trigger.burst"
	PropSessionTTL        = "auth.token.ttl"
	PropLoginTokenPaths   = "auth.login.token.paths"
	PropSessionCookie     = "auth.session.cookie"
	PropJWTCapExpiry      = "auth.token.jwt.cap"
	PropCleanupPattern    = "auth.ratelimit.cleanup.pattern"
	PropCleanupDatabase   = "auth.ratelimit.cleanup.database"
	PropCleanupBeforeAuth = "auth.ratelimit.cleanup.before"
	PropHeadersDir        = "auth.headers.dir"
	PropMobileClientID    = "auth.mobile.clientid"
	PropAPIAccept         = "api.accept"
	PropAPIAcceptLanguage = "api.accept.language"
	PropAPIUserAgent      = "api.user.agent"
	PropAPITimezone       = "api.timezone"
	PropAPIKey            = "api.key"
	PropAPIClientID       = "auth.user.clientid"
	PropAPIAppVersion     = "api.app.version"
	PropAPISDKVersion     = "api.sdk.version"
	PropAPISource         = "api.ixisrc"
	PropAPIAuthToken      = "api.auth.token"
	PropAuditEnabled      = "audit.enabled"
	PropMetricsEnabled    = "metrics.enabled"
	PropMetricsLatency    = "metrics.latency"
)

// ConfigFromProperties starts from DefaultConfig and overrides every field
// whose property is set in src. A nil src yields the defaults.
func ConfigFromProperties(src properties.Source) Config {
	cfg := defaultConfig()
	if src == nil {
		return cfg
	}

	cfg.Backend.BaseURL = strings.TrimRight(src.GetString(PropBaseURL, cfg.Backend.BaseURL), "/")
	cfg.HTTP.Timeout = secondsOrDuration(src.GetString(PropHTTPTimeout, ""), cfg.HTTP.Timeout)

	host, port := splitAddr(cfg.Redis.Addr)
	host = src.GetString(PropRedisHost, host)
	cfg.Redis.Addr = net.JoinHostPort(host, strconv.Itoa(src.GetInt(PropRedisPort, port)))
	cfg.Redis.Password = src.GetString(PropRedisPassword, cfg.Redis.Password)
	timeout := src.GetDuration(PropRedisTimeout, cfg.Redis.DialTimeout)
	cfg.Redis.DialTimeout = timeout
	cfg.Redis.ReadTimeout = timeout
	cfg.Redis.WriteTimeout = timeout
	cfg.Redis.DB = src.GetInt(PropRedisDatabase, cfg.Redis.DB)
	cfg.Redis.PoolSize = src.GetInt(PropRedisPoolMaxTotal, cfg.Redis.PoolSize)
	cfg.Redis.MaxIdleConns = src.GetInt(PropRedisPoolMaxIdle, cfg.Redis.MaxIdleConns)
	cfg.Redis.MinIdleConns = src.GetInt(PropRedisPoolMinIdle, cfg.Redis.MinIdleConns)

	cfg.OTP.KeyPrefix = src.GetString(PropOTPKeyPrefix, cfg.OTP.KeyPrefix)
	cfg.OTP.Database = src.GetInt(PropOTPDatabase, cfg.Redis.DB)
	cfg.OTP.ExtractStart = src.GetInt(PropOTPExtractStart, cfg.OTP.ExtractStart)
	cfg.OTP.ExtractEnd = src.GetInt(PropOTPExtractEnd, cfg.OTP.ExtractEnd)
	cfg.OTP.MockEnabled = src.GetBool(PropOTPMock, cfg.OTP.MockEnabled)
	cfg.OTP.MockValue = src.GetString(PropOTPMockValue, cfg.OTP.MockValue)
	cfg.OTP.PropagationDelay = src.GetDuration(PropOTPDelay, cfg.OTP.PropagationDelay)
	if rate, err := strconv.ParseFloat(src.GetString(PropOTPTriggerRate, ""), 64); err == nil {
		cfg.OTP.TriggerRate = rate
	}
	cfg.OTP.TriggerBurst = src.GetInt(PropOTPTriggerBurst, cfg.OTP.TriggerBurst)

	cfg.Session.TTL = src.GetDuration(PropSessionTTL, cfg.Session.TTL)
	cfg.Session.AccessTokenPaths = src.GetStrings(PropLoginTokenPaths, cfg.Session.AccessTokenPaths)
	cfg.Session.CookieName = src.GetString(PropSessionCookie, cfg.Session.CookieName)
	cfg.Session.CapWithJWTExpiry = src.GetBool(PropJWTCapExpiry, cfg.Session.CapWithJWTExpiry)

	cfg.RateLimit.CleanupPattern = src.GetString(PropCleanupPattern, cfg.RateLimit.CleanupPattern)
	cfg.RateLimit.Database = src.GetInt(PropCleanupDatabase, cfg.RateLimit.Database)
	cfg.RateLimit.CleanupBeforeAuth = src.GetBool(PropCleanupBeforeAuth, cfg.RateLimit.CleanupBeforeAuth)

	cfg.Headers.Dir = src.GetString(PropHeadersDir, cfg.Headers.Dir)
	cfg.Headers.Client.MobileClientID = src.GetString(PropMobileClientID, cfg.Headers.Client.MobileClientID)

	cfg.API.Accept = src.GetString(PropAPIAccept, cfg.API.Accept)
	cfg.API.AcceptLanguage = src.GetString(PropAPIAcceptLanguage, cfg.API.AcceptLanguage)
	cfg.API.UserAgent = src.GetString(PropAPIUserAgent, cfg.API.UserAgent)
	cfg.API.Timezone = src.GetString(PropAPITimezone, cfg.API.Timezone)
	cfg.API.APIKey = src.GetString(PropAPIKey, cfg.API.APIKey)
	cfg.API.ClientID = src.GetString(PropAPIClientID, cfg.API.ClientID)
	cfg.API.AppVersion = src.GetString(PropAPIAppVersion, cfg.API.AppVersion)
	cfg.API.SDKVersion = src.GetString(PropAPISDKVersion, cfg.API.SDKVersion)
	cfg.API.Source = src.GetString(PropAPISource, cfg.API.Source)
	cfg.API.FallbackToken = src.GetString(PropAPIAuthToken, cfg.API.FallbackToken)

	cfg.Audit.Enabled = src.GetBool(PropAuditEnabled, cfg.Audit.Enabled)
	cfg.Metrics.Enabled = src.GetBool(PropMetricsEnabled, cfg.Metrics.Enabled)
	cfg.Metrics.EnableLatencyHistograms = src.GetBool(PropMetricsLatency, cfg.Metrics.EnableLatencyHistograms)
	return cfg
}

func splitAddr(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 6379
	}
	return host, p
}

func secondsOrDuration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return def
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
