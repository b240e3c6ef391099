// Package store provides the shared key/value primitives used by the
// security layer: atomic fixed-window counters, flags with expiry and
// bounded lists. Redis backs multi-instance deployments; the in-memory
// implementation serves single-process runs and tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("store: key not found")

// Store is the shared state backend. All mutating operations are atomic
// per key.
type Store interface {
	// Incr increments key and returns the new count and its remaining TTL.
	// The expiry is set only when the key is created, so the counter
	// behaves as a fixed window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// Push appends value to the list at key, keeping at most maxLen of the
	// newest items. ttl applies when the list is created.
	Push(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) error
	// Range returns the whole list at key, oldest first.
	Range(ctx context.Context, key string) ([][]byte, error)
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
