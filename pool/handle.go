package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// Handle is one borrowed connection. It is not safe for concurrent use.
type Handle struct {
	pool   *Pool
	conn   *redis.Conn
	baseDB int
	db     int
	once   sync.Once
}

// Select switches the handle to database db. Release restores the pool's
// configured database.
func (h *Handle) Select(ctx context.Context, db int) error {
	if db == h.db {
		return nil
	}
	if err := h.conn.Select(ctx, db).Err(); err != nil {
		return fmt.Errorf("%w: select %d: %v", ErrUnavailable, db, err)
	}
	h.db = db
	return nil
}

func (h *Handle) Get(ctx context.Context, key string) (string, error) {
	v, err := h.conn.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (h *Handle) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := h.conn.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeleteMatching walks the keyspace with SCAN MATCH and deletes each page.
func (h *Handle) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := h.conn.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: scan %q: %v", ErrUnavailable, pattern, err)
		}
		n, err := h.Del(ctx, keys...)
		deleted += n
		if err != nil {
			return deleted, err
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Release returns the connection to the pool. Calling it more than once is a no-op.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		defer h.pool.borrowed.Add(-1)
		if h.db != h.baseDB {
			ctx, cancel := context.WithTimeout(context.Background(), h.pool.cfg.DialTimeout)
			if err := h.conn.Select(ctx, h.baseDB).Err(); err != nil {
				h.pool.logger.Warn("pool: restoring database on release failed", "db", h.baseDB, "error", err)
			}
			cancel()
		}
		_ = h.conn.Close()
	})
}
