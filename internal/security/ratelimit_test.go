package security

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/crystals/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_CapacityPlusOneYieldsOneRejection(t *testing.T) {
	clock := newFakeClock()
	st := store.NewMemoryWithClock(clock.Now)
	limiter := NewRateLimiter(st, ScopeGeneral, 5, time.Minute, clock.Now, discardLogger())
	ctx := context.Background()

	limited := 0
	for i := 0; i < 6; i++ {
		if !limiter.Consume(ctx, "10.0.0.1").Allowed {
			limited++
		}
	}
	assert.Equal(t, 1, limited)

	clock.Advance(time.Minute)
	d := limiter.Consume(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, 4, d.Remaining)
}

func TestRateLimiter_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	clock := newFakeClock()
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	limiter := NewRateLimiter(st, ScopeLogin, 3, time.Minute, clock.Now, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Consume(ctx, "10.0.0.1").Allowed)
	}
	d := limiter.Consume(ctx, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	clock.Advance(time.Minute)
	assert.True(t, limiter.Consume(ctx, "10.0.0.1").Allowed)
}

func TestRateLimiter_KeyedByIPAndScope(t *testing.T) {
	clock := newFakeClock()
	st := store.NewMemoryWithClock(clock.Now)
	login := NewRateLimiter(st, ScopeLogin, 1, time.Minute, clock.Now, discardLogger())
	general := NewRateLimiter(st, ScopeGeneral, 1, time.Minute, clock.Now, discardLogger())
	ctx := context.Background()

	assert.True(t, login.Consume(ctx, "10.0.0.1").Allowed)
	assert.False(t, login.Consume(ctx, "10.0.0.1").Allowed)
	assert.True(t, login.Consume(ctx, "10.0.0.2").Allowed)
	assert.True(t, general.Consume(ctx, "10.0.0.1").Allowed)
}

func TestRateLimiter_ResetAtIsWindowBoundary(t *testing.T) {
	clock := newFakeClock() // 10:15:00
	clock.Advance(20 * time.Second)
	limiter := NewRateLimiter(store.NewMemoryWithClock(clock.Now), ScopeGeneral, 1, time.Minute, clock.Now, discardLogger())

	d := limiter.Consume(context.Background(), "10.0.0.1")

	assert.Equal(t, time.Date(2026, 5, 4, 10, 16, 0, 0, time.UTC), d.ResetAt.UTC())
	assert.Equal(t, 40*time.Second, d.RetryAfter(clock.Now()))
}

func TestRateLimiter_ConcurrentConsumersDoNotUndercount(t *testing.T) {
	limiter := NewRateLimiter(store.NewMemory(), ScopeGeneral, 50, time.Hour, nil, discardLogger())
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Consume(ctx, "10.0.0.1").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestRateLimiter_StoreDownFailsOpen(t *testing.T) {
	limiter := NewRateLimiter(brokenStore{}, ScopeGeneral, 1, time.Minute, nil, discardLogger())

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Consume(context.Background(), "10.0.0.1").Allowed)
	}
}
