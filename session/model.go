package session

import "time"

// Token is the credential set cached for one identity.
type Token struct {
	AccessToken string
	Cookie      string
	IssuedAt    time.Time
	// NotAfter caps validity independent of the TTL. Zero means no cap.
	NotAfter time.Time
}

func (t *Token) expired(now time.Time, ttl time.Duration) bool {
	if now.Sub(t.IssuedAt) > ttl {
		return true
	}
	return !t.NotAfter.IsZero() && !now.Before(t.NotAfter)
}
