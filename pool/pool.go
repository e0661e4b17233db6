package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 2 * time.Second

// Config holds connection and sizing settings for the pool.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MaxIdleConns int
	MinIdleConns int

	// Disabled keeps the pool from ever dialing. Every operation reports
	// ErrUnavailable.
	Disabled bool

	// Hooks are installed on the client when it is created.
	Hooks []redis.Hook
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Available bool
	Active    int
	Idle      int
	Total     int
	// Borrowed counts handles returned by Borrow that are not yet released.
	Borrowed int
}

type state struct {
	client *redis.Client
	err    error
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    atomic.Pointer[state]
	borrowed atomic.Int64
	connects atomic.Int64
}

// New returns an unconnected pool. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{cfg: cfg, logger: logger}
}

func (p *Pool) current() *state {
	if s := p.state.Load(); s != nil {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.state.Load(); s != nil {
		return s
	}
	s := p.connect()
	p.state.Store(s)
	return s
}

func (p *Pool) connect() *state {
	if p.cfg.Disabled {
		p.logger.Debug("pool: disabled, not connecting")
		return &state{err: fmt.Errorf("%w: disabled", ErrUnavailable)}
	}

	p.connects.Add(1)
	client := redis.NewClient(&redis.Options{
		Addr:         p.cfg.Addr,
		Password:     p.cfg.Password,
		DB:           p.cfg.DB,
		DialTimeout:  p.cfg.DialTimeout,
		ReadTimeout:  p.cfg.ReadTimeout,
		WriteTimeout: p.cfg.WriteTimeout,
		PoolSize:     p.cfg.PoolSize,
		MaxIdleConns: p.cfg.MaxIdleConns,
		MinIdleConns: p.cfg.MinIdleConns,
	})
	for _, hook := range p.cfg.Hooks {
		client.AddHook(hook)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		p.logger.Warn("pool: initial ping failed, store marked unavailable", "addr", p.cfg.Addr, "error", err)
		return &state{err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	p.logger.Info("pool: connected", "addr", p.cfg.Addr, "db", p.cfg.DB, "pool_size", p.cfg.PoolSize)
	return &state{client: client}
}

// Available reports whether the pool is connected, initializing it if needed.
func (p *Pool) Available() bool {
	return p.current().err == nil
}

// Borrow returns a handle pinned to one pooled connection. The caller must
// call Release on every path.
func (p *Pool) Borrow(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.current()
	if s.err != nil {
		return nil, s.err
	}
	p.borrowed.Add(1)
	return &Handle{
		pool:   p,
		conn:   s.client.Conn(),
		baseDB: p.cfg.DB,
		db:     p.cfg.DB,
	}, nil
}

// ReadKey reads key from database db.
func (p *Pool) ReadKey(ctx context.Context, db int, key string) (string, error) {
	h, err := p.Borrow(ctx)
	if err != nil {
		return "", err
	}
	defer h.Release()

	if err := h.Select(ctx, db); err != nil {
		return "", err
	}
	return h.Get(ctx, key)
}

// DeleteMatching deletes every key in database db matching the glob pattern
// and returns how many were removed.
func (p *Pool) DeleteMatching(ctx context.Context, db int, pattern string) (int64, error) {
	h, err := p.Borrow(ctx)
	if err != nil {
		return 0, err
	}
	defer h.Release()

	if err := h.Select(ctx, db); err != nil {
		return 0, err
	}
	return h.DeleteMatching(ctx, pattern)
}

// IsHealthy pings the store, bounded by the dial timeout.
func (p *Pool) IsHealthy(ctx context.Context) bool {
	s := p.current()
	if s.err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Stats never triggers initialization.
func (p *Pool) Stats() Stats {
	st := Stats{Borrowed: int(p.borrowed.Load())}
	s := p.state.Load()
	if s == nil || s.err != nil {
		return st
	}
	ps := s.client.PoolStats()
	st.Available = true
	st.Total = int(ps.TotalConns)
	st.Idle = int(ps.IdleConns)
	st.Active = st.Total - st.Idle
	if st.Active < 0 {
		st.Active = 0
	}
	return st
}

// Reset closes the current client, if any, so the next operation builds a
// fresh one. It also clears a sticky unavailable state.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swap(nil)
}

// Close releases the client. The pool reports ErrUnavailable afterwards
// until Reset.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swap(&state{err: fmt.Errorf("%w: closed", ErrUnavailable)})
}

func (p *Pool) swap(next *state) error {
	prev := p.state.Swap(next)
	if prev == nil || prev.client == nil {
		return nil
	}
	return prev.client.Close()
}
