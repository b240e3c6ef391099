package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	list      [][]byte
	counter   int64
	isCounter bool
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store guarded by a single mutex.
// Expired keys are dropped lazily on access and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

// NewMemory returns a MemoryStore using the wall clock.
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns a MemoryStore driven by now.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     now,
	}
}

// live returns the entry for key, evicting it if expired. Caller holds mu.
func (s *MemoryStore) live(key string, now time.Time) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		e = &memEntry{isCounter: true, expiresAt: expiry(now, ttl)}
		s.entries[key] = e
	}
	if !e.isCounter {
		// Mirror Redis: a numeric string can be incremented.
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, 0, errNotInteger(key)
		}
		e.isCounter, e.counter, e.value = true, n, nil
	}
	e.counter++

	var left time.Duration
	if !e.expiresAt.IsZero() {
		left = e.expiresAt.Sub(now)
	}
	return e.counter, left, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.now())
	if e == nil || e.list != nil {
		return nil, ErrKeyNotFound
	}
	if e.isCounter {
		return []byte(strconv.FormatInt(e.counter, 10)), nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = &memEntry{value: v, expiresAt: expiry(s.now(), ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.live(key, now) != nil {
		return false, nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = &memEntry{value: v, expiresAt: expiry(now, ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) Push(_ context.Context, key string, value []byte, maxLen int, ttl time.Duration) error {
	if maxLen <= 0 {
		maxLen = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		e = &memEntry{list: make([][]byte, 0, 8), expiresAt: expiry(now, ttl)}
		s.entries[key] = e
	}
	v := make([]byte, len(value))
	copy(v, value)
	e.list = append(e.list, v)
	if over := len(e.list) - maxLen; over > 0 {
		e.list = append([][]byte(nil), e.list[over:]...)
	}
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.now())
	if e == nil {
		return nil, nil
	}
	out := make([][]byte, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for k := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if s.live(k, now) != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Sweep drops every expired key and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

type errNotInteger string

func (e errNotInteger) Error() string {
	return "store: value at " + string(e) + " is not an integer"
}
