package session

import (
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/otpauth/headers"
)

// DefaultTTL is the session lifetime applied when none is configured.
const DefaultTTL = 24 * time.Hour

// Cache maps identities to their live [Token]. The zero value is not usable;
// call NewCache.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // identity -> *Token
}

// NewCache returns a Cache. A non-positive ttl selects DefaultTTL; a nil now
// selects time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Store records credentials for identity and reports whether anything was
// written. See StoreUntil.
func (c *Cache) Store(identity, accessToken, cookie string) bool {
	return c.StoreUntil(identity, accessToken, cookie, time.Time{})
}

// StoreUntil records credentials whose validity also ends at notAfter. A blank
// identity is ignored. A blank token or cookie leaves the stored value
// untouched; storing a token restarts the entry's age. An expired entry is
// replaced, never merged into.
func (c *Cache) StoreUntil(identity, accessToken, cookie string, notAfter time.Time) bool {
	if strings.TrimSpace(identity) == "" {
		return false
	}
	accessToken = strings.TrimSpace(accessToken)
	cookie = strings.TrimSpace(cookie)
	if accessToken == "" && cookie == "" {
		return false
	}

	for {
		now := c.now()
		fresh := &Token{AccessToken: accessToken, Cookie: cookie, IssuedAt: now}
		if accessToken != "" {
			fresh.NotAfter = notAfter
		}

		v, loaded := c.entries.LoadOrStore(identity, fresh)
		if !loaded {
			return true
		}
		prev := v.(*Token)

		next := fresh
		if !prev.expired(now, c.ttl) {
			merged := *prev
			if accessToken != "" {
				merged.AccessToken = accessToken
				merged.IssuedAt = now
				merged.NotAfter = notAfter
			}
			if cookie != "" {
				merged.Cookie = cookie
			}
			next = &merged
		}
		if c.entries.CompareAndSwap(identity, prev, next) {
			return true
		}
	}
}

func (c *Cache) lookup(identity string) (*Token, bool) {
	v, ok := c.entries.Load(identity)
	if !ok {
		return nil, false
	}
	t := v.(*Token)
	if t.expired(c.now(), c.ttl) {
		c.entries.CompareAndDelete(identity, t)
		return nil, false
	}
	return t, true
}

// Get returns a copy of the live entry for identity.
func (c *Cache) Get(identity string) (Token, bool) {
	t, ok := c.lookup(identity)
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// AuthHeader returns "Bearer <token>" for a live token, evicting the entry if
// it has expired.
func (c *Cache) AuthHeader(identity string) (string, bool) {
	t, ok := c.lookup(identity)
	if !ok || t.AccessToken == "" {
		return "", false
	}
	return headers.NormalizeBearer(t.AccessToken), true
}

// AccessToken returns the raw live token.
func (c *Cache) AccessToken(identity string) (string, bool) {
	t, ok := c.lookup(identity)
	if !ok || t.AccessToken == "" {
		return "", false
	}
	return t.AccessToken, true
}

// Cookie returns the live session cookie, if one was stored.
func (c *Cache) Cookie(identity string) (string, bool) {
	t, ok := c.lookup(identity)
	if !ok || t.Cookie == "" {
		return "", false
	}
	return t.Cookie, true
}

// IsValid reports whether identity has a non-expired, non-blank token.
func (c *Cache) IsValid(identity string) bool {
	_, ok := c.AccessToken(identity)
	return ok
}

// Remove evicts identity and reports whether an entry existed.
func (c *Cache) Remove(identity string) bool {
	_, existed := c.entries.LoadAndDelete(identity)
	return existed
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Cache) Clear() {
	c.entries.Clear()
}
