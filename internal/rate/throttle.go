package rate

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// DefaultCleanupPattern matches every key containing the identity.
const DefaultCleanupPattern = "*{identity}*"

// Throttle spaces out OTP trigger requests. A nil Throttle never waits.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle admitting perSecond triggers with the given
// burst, or nil when perSecond is not positive.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a trigger may be sent.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return nil
}

// CleanupPattern expands the {identity} placeholder of a glob template. A
// template without the placeholder gets the identity appended, and a blank
// template selects DefaultCleanupPattern. The identity is escaped so it only
// ever matches itself.
func CleanupPattern(template, identity string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		template = DefaultCleanupPattern
	}
	identity = EscapeGlob(identity)
	if !strings.Contains(template, "{identity}") {
		return template + identity
	}
	return strings.ReplaceAll(template, "{identity}", identity)
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// EscapeGlob backslash-escapes the Redis glob metacharacters in s.
func EscapeGlob(s string) string {
	return globEscaper.Replace(s)
}
