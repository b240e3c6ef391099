package security

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/crystals/internal/store"
)

// FailedLoginCounter tracks failed credential checks per IP.
type FailedLoginCounter struct {
	store     store.Store
	ttl       time.Duration
	threshold int
	logger    *slog.Logger
}

func NewFailedLoginCounter(st store.Store, threshold int, ttl time.Duration, logger *slog.Logger) *FailedLoginCounter {
	if threshold < 1 {
		threshold = 5
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FailedLoginCounter{store: st, ttl: ttl, threshold: threshold, logger: logger}
}

func failedLoginKey(ip string) string {
	return "security:failed_login:" + ip
}

func (c *FailedLoginCounter) Threshold() int { return c.threshold }

// Count returns the current number of failures for ip. Errors count as 0.
func (c *FailedLoginCounter) Count(ctx context.Context, ip string) int64 {
	raw, err := c.store.Get(ctx, failedLoginKey(ip))
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			c.logger.Warn("failed login counter unavailable", slog.String("ip", ip), slog.Any("error", err))
		}
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Locked reports whether ip reached the lockout threshold.
func (c *FailedLoginCounter) Locked(ctx context.Context, ip string) bool {
	return c.Count(ctx, ip) >= int64(c.threshold)
}

func (c *FailedLoginCounter) Increment(ctx context.Context, ip string) int64 {
	n, _, err := c.store.Incr(ctx, failedLoginKey(ip), c.ttl)
	if err != nil {
		c.logger.Warn("failed to increment failed login counter", slog.String("ip", ip), slog.Any("error", err))
		return 0
	}
	return n
}

func (c *FailedLoginCounter) Reset(ctx context.Context, ip string) {
	if err := c.store.Delete(ctx, failedLoginKey(ip)); err != nil {
		c.logger.Warn("failed to reset failed login counter", slog.String("ip", ip), slog.Any("error", err))
	}
}
