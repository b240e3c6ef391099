package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/crystals/internal/store"
)

// Rate limit scopes. Each scope counts independently per IP.
const (
	ScopeGeneral     = "general"
	ScopeLogin       = "login"
	ScopeRefresh     = "refresh"
	ScopeSensitive   = "sensitive"
	ScopeAdminWrite  = "admin_write"
	ScopeDestructive = "destructive"
)

// Decision is the outcome of one Consume call.
type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the window resets, at least one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// RateLimiter is a fixed-window counter for one scope. The window index
// is part of the key so a new window always starts at zero.
type RateLimiter struct {
	scope  string
	limit  int
	window time.Duration
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewRateLimiter(st store.Store, scope string, limit int, window time.Duration, now func() time.Time, logger *slog.Logger) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{scope: scope, limit: limit, window: window, store: st, now: now, logger: logger}
}

func (l *RateLimiter) Scope() string { return l.scope }

func (l *RateLimiter) Limit() int { return l.limit }

// Consume counts one request for ip. Store failures fail open.
func (l *RateLimiter) Consume(ctx context.Context, ip string) Decision {
	now := l.now()
	index := now.UnixNano() / int64(l.window)
	resetAt := time.Unix(0, (index+1)*int64(l.window))
	key := fmt.Sprintf("security:rl:%s:%s:%d", l.scope, ip, index)

	count, _, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			slog.String("scope", l.scope),
			slog.String("ip", ip),
			slog.Any("error", err),
		)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Now is the limiter clock, for computing Retry-After against ResetAt.
func (l *RateLimiter) Now() time.Time { return l.now() }
