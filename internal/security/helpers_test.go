package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureRecorder collects events in memory.
type captureRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (c *captureRecorder) Record(_ context.Context, ev models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}

type MockNotifier struct {
	mu         sync.Mutex
	NotifyFunc func(ctx context.Context, alert Alert) error
	alerts     []Alert
}

func (m *MockNotifier) Notify(ctx context.Context, alert Alert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, alert)
	}
	return nil
}

func (m *MockNotifier) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

var errStoreDown = errors.New("store down")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}
func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}
func (brokenStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (brokenStore) Delete(context.Context, ...string) error { return errStoreDown }
func (brokenStore) Push(context.Context, string, []byte, int, time.Duration) error {
	return errStoreDown
}
func (brokenStore) Range(context.Context, string) ([][]byte, error) { return nil, errStoreDown }
func (brokenStore) Keys(context.Context, string) ([]string, error)  { return nil, errStoreDown }
func (brokenStore) Ping(context.Context) error                      { return errStoreDown }
func (brokenStore) Close() error                                    { return nil }

var _ store.Store = brokenStore{}
