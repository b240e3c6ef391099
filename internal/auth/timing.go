package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	Base           time.Duration // minimum response time for a credential check
	Jitter         time.Duration // random extra delay, [0, Jitter)
	DelayOnSuccess bool
}

// TimingDelay pads credential checks so that an unknown username, a wrong
// password and a disabled account take approximately the same time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandIntn returns a secure random number in [0, max).
func cryptoRandIntn(max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(randomBytes) % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	d := td.config.Base
	if td.config.Jitter > 0 {
		if n, err := cryptoRandIntn(int64(td.config.Jitter)); err == nil {
			d += time.Duration(n)
		}
	}
	return d
}

// WaitFrom sleeps until at least the target delay has elapsed since start.
// It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}
	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
