package otpauth

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/MrEthical07/otpauth/headers"
	internalaudit "github.com/MrEthical07/otpauth/internal/audit"
	"github.com/MrEthical07/otpauth/internal/rate"
	"github.com/MrEthical07/otpauth/internal/transport"
	"github.com/MrEthical07/otpauth/jwt"
	"github.com/MrEthical07/otpauth/pool"
	"github.com/MrEthical07/otpauth/properties"
	"github.com/MrEthical07/otpauth/session"
	"github.com/MrEthical07/otpauth/signature"
)

// Builder assembles an [Engine]. A Builder is single-use and not safe for
// concurrent use.
type Builder struct {
	config    Config
	logger    *slog.Logger
	transport http.RoundTripper
	store     KeyValueStore
	auditSink AuditSink
	props     *properties.Properties
	static    headers.StaticSource
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the engine logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTransport replaces the HTTP round tripper used for backend calls.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithStore replaces the Redis-backed OTP store. The engine does not close a
// store supplied here.
func (b *Builder) WithStore(store KeyValueStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithProperties supplies the property source used as a fallback for
// static client headers (headers.<clientId>.<name> keys).
func (b *Builder) WithProperties(props *properties.Properties) *Builder {
	b.props = props
	return b
}

// WithStaticHeaders fixes the static header set per client ID, bypassing
// header files and properties.
func (b *Builder) WithStaticHeaders(byClient map[string]map[string]string) *Builder {
	snapshot := make(map[string]map[string]string, len(byClient))
	for id, hs := range byClient {
		snapshot[id] = maps.Clone(hs)
	}
	b.static = func(clientID string) (map[string]string, bool) {
		hs, ok := snapshot[clientID]
		return hs, ok
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Engine. No network
// I/O happens here; the Redis pool connects on first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signer, err := signature.NewSigner()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "otpauth")

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- HEADERS --------
	static := b.static
	if static == nil && (cfg.Headers.Dir != "" || b.props != nil) {
		static = properties.NewHeaderSet(cfg.Headers.Dir, b.props).Lookup
	}

	// -------- OTP STORE --------
	store := b.store
	ownsStore := false
	if store == nil {
		store = pool.New(pool.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			MaxIdleConns: cfg.Redis.MaxIdleConns,
			MinIdleConns: cfg.Redis.MinIdleConns,
			Disabled:     cfg.OTP.MockEnabled,
		}, logger)
		ownsStore = true
	}

	// -------- SESSION --------
	var inspector *jwt.Inspector
	if cfg.Session.CapWithJWTExpiry {
		inspector, err = jwt.NewInspector(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.Session.JWTSigningMethod),
			VerifyKey:     cloneBytes(cfg.Session.JWTVerifyKey),
			Leeway:        cfg.Session.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	rt := b.transport
	if rt == nil {
		rt = transport.DefaultTransport()
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger,
		signer:    signer,
		headers:   headers.NewBuilder(cfg.Headers.Client, static),
		store:     store,
		ownsStore: ownsStore,
		sessions:  session.NewCache(cfg.Session.TTL, now),
		inspector: inspector,
		throttle:  rate.NewThrottle(cfg.OTP.TriggerRate, cfg.OTP.TriggerBurst),
		transport: rt,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger,
		}, b.auditSink),
		now: now,
	}

	b.built = true
	logger.Debug("engine built",
		"base_url", cfg.Backend.BaseURL,
		"mock_otp", cfg.OTP.MockEnabled,
		"session_ttl", cfg.Session.TTL,
	)
	return engine, nil
}
