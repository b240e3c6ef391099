package security

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*BlockRegistry, *fakeClock, *captureRecorder, *FailedLoginCounter) {
	clock := newFakeClock()
	st := store.NewMemoryWithClock(clock.Now)
	rec := &captureRecorder{}
	failed := NewFailedLoginCounter(st, 5, time.Hour, discardLogger())
	return NewBlockRegistry(st, rec, failed, clock.Now, discardLogger()), clock, rec, failed
}

func TestBlockRegistry_BlockThenExpire(t *testing.T) {
	reg, clock, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Block(ctx, "198.51.100.7", time.Hour, "manual", "admin")
	require.NoError(t, err)
	assert.True(t, reg.IsBlocked(ctx, "198.51.100.7"))

	clock.Advance(59 * time.Minute)
	assert.True(t, reg.IsBlocked(ctx, "198.51.100.7"))

	clock.Advance(2 * time.Minute)
	assert.False(t, reg.IsBlocked(ctx, "198.51.100.7"))
}

func TestBlockRegistry_ExpiryWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	reg := NewBlockRegistry(st, nil, nil, nil, discardLogger())
	ctx := context.Background()

	_, err = reg.Block(ctx, "198.51.100.8", time.Hour, "", "admin")
	require.NoError(t, err)
	assert.True(t, reg.IsBlocked(ctx, "198.51.100.8"))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, reg.IsBlocked(ctx, "198.51.100.8"))
}

func TestBlockRegistry_UnblockEarly(t *testing.T) {
	reg, _, rec, failed := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Block(ctx, "198.51.100.7", 24*time.Hour, "manual", "admin")
	require.NoError(t, err)
	failed.Increment(ctx, "198.51.100.7")

	existed, err := reg.Unblock(ctx, "198.51.100.7", "admin")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, reg.IsBlocked(ctx, "198.51.100.7"))
	assert.Equal(t, int64(0), failed.Count(ctx, "198.51.100.7"))

	assert.Equal(t, []string{models.EventIPBlocked, models.EventIPUnblocked}, rec.Types())
}

func TestBlockRegistry_UnblockUnknownIsNotAnError(t *testing.T) {
	reg, _, _, _ := newTestRegistry()

	existed, err := reg.Unblock(context.Background(), "198.51.100.99", "admin")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestBlockRegistry_DefaultsAndNormalization(t *testing.T) {
	reg, clock, _, _ := newTestRegistry()
	ctx := context.Background()

	entry, err := reg.Block(ctx, " 2001:db8:0:0::1 ", 0, "", "admin")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", entry.IP)
	assert.Equal(t, "Manual block", entry.Reason)
	assert.Equal(t, int64(24*3600), entry.DurationSeconds)
	assert.Equal(t, clock.Now().Add(24*time.Hour), entry.ExpiresAt)
	assert.True(t, reg.IsBlocked(ctx, "2001:db8::1"))
}

func TestBlockRegistry_RejectsInvalidIP(t *testing.T) {
	reg, _, _, _ := newTestRegistry()

	_, err := reg.Block(context.Background(), "not-an-ip", time.Hour, "", "admin")
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.False(t, reg.IsBlocked(context.Background(), "not-an-ip"))
}

func TestBlockRegistry_List(t *testing.T) {
	reg, clock, _, _ := newTestRegistry()
	ctx := context.Background()

	_, _ = reg.Block(ctx, "10.0.0.1", 2*time.Hour, "a", "admin")
	_, _ = reg.Block(ctx, "10.0.0.2", time.Hour, "b", "admin")

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "10.0.0.2", entries[0].IP)

	clock.Advance(90 * time.Minute)
	entries, err = reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].IP)
}

func TestBlockRegistry_StoreDownFailsOpen(t *testing.T) {
	reg := NewBlockRegistry(brokenStore{}, nil, nil, nil, discardLogger())

	assert.False(t, reg.IsBlocked(context.Background(), "10.0.0.1"))
	_, err := reg.Block(context.Background(), "10.0.0.1", time.Hour, "", "")
	assert.Error(t, err)
}
