package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/store"
)

const blockKeyPrefix = "security:blocked:"

// DefaultBlockDuration applies when a caller passes a non-positive duration.
const DefaultBlockDuration = 24 * time.Hour

// BlockRegistry is the time-boxed IP block list. Entries expire with their
// store TTL and are also checked against the registry clock.
type BlockRegistry struct {
	store    store.Store
	recorder EventRecorder
	failed   *FailedLoginCounter
	now      func() time.Time
	logger   *slog.Logger
}

func NewBlockRegistry(st store.Store, recorder EventRecorder, failed *FailedLoginCounter, now func() time.Time, logger *slog.Logger) *BlockRegistry {
	if now == nil {
		now = time.Now
	}
	return &BlockRegistry{store: st, recorder: recorder, failed: failed, now: now, logger: logger}
}

func blockKey(ip string) string {
	return blockKeyPrefix + ip
}

// normalizeIP canonicalises an address so "::0001" and "::1" share a key.
func normalizeIP(raw string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "", fmt.Errorf("%w: invalid ip address %q", models.ErrBadRequest, raw)
	}
	return ip.String(), nil
}

// Block adds or replaces a block entry for ip.
func (b *BlockRegistry) Block(ctx context.Context, ip string, duration time.Duration, reason, blockedBy string) (*models.IPBlockEntry, error) {
	addr, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	if reason == "" {
		reason = "Manual block"
	}

	now := b.now().UTC()
	entry := &models.IPBlockEntry{
		IP:              addr,
		BlockedAt:       now,
		ExpiresAt:       now.Add(duration),
		DurationSeconds: int64(duration / time.Second),
		Reason:          reason,
		BlockedBy:       blockedBy,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode block entry: %w", err)
	}
	if err := b.store.Set(ctx, blockKey(addr), payload, duration); err != nil {
		return nil, fmt.Errorf("store block entry: %w", err)
	}

	if b.recorder != nil {
		b.recorder.Record(ctx, models.SecurityEvent{
			EventType: models.EventIPBlocked,
			Severity:  models.SeverityHigh,
			Message:   fmt.Sprintf("IP %s blocked for %s: %s", addr, duration, reason),
			IP:        addr,
			User:      blockedBy,
		})
	}
	return entry, nil
}

// Unblock removes ip from the list and clears its failed-login counter.
// It reports whether an active block existed.
func (b *BlockRegistry) Unblock(ctx context.Context, ip, unblockedBy string) (bool, error) {
	addr, err := normalizeIP(ip)
	if err != nil {
		return false, err
	}
	existed := b.lookup(ctx, addr) != nil

	if err := b.store.Delete(ctx, blockKey(addr)); err != nil {
		return false, fmt.Errorf("delete block entry: %w", err)
	}
	if b.failed != nil {
		b.failed.Reset(ctx, addr)
	}

	if b.recorder != nil {
		b.recorder.Record(ctx, models.SecurityEvent{
			EventType: models.EventIPUnblocked,
			Severity:  models.SeverityInfo,
			Message:   fmt.Sprintf("IP %s unblocked", addr),
			IP:        addr,
			User:      unblockedBy,
		})
	}
	return existed, nil
}

// IsBlocked reports whether ip has an active block. A store failure is
// logged and treated as not blocked.
func (b *BlockRegistry) IsBlocked(ctx context.Context, ip string) bool {
	addr, err := normalizeIP(ip)
	if err != nil {
		return false
	}
	return b.lookup(ctx, addr) != nil
}

// Get returns the active entry for ip or models.ErrNotFound.
func (b *BlockRegistry) Get(ctx context.Context, ip string) (*models.IPBlockEntry, error) {
	addr, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}
	if e := b.lookup(ctx, addr); e != nil {
		return e, nil
	}
	return nil, models.ErrNotFound
}

func (b *BlockRegistry) lookup(ctx context.Context, addr string) *models.IPBlockEntry {
	raw, err := b.store.Get(ctx, blockKey(addr))
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			b.logger.Warn("block list unavailable", slog.String("ip", addr), slog.Any("error", err))
		}
		return nil
	}
	var entry models.IPBlockEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		b.logger.Warn("corrupt block entry", slog.String("ip", addr), slog.Any("error", err))
		return nil
	}
	if !entry.Active(b.now()) {
		return nil
	}
	return &entry
}

// List returns the active blocks, soonest expiry first.
func (b *BlockRegistry) List(ctx context.Context) ([]models.IPBlockEntry, error) {
	keys, err := b.store.Keys(ctx, blockKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list block entries: %w", err)
	}
	entries := make([]models.IPBlockEntry, 0, len(keys))
	for _, k := range keys {
		if e := b.lookup(ctx, strings.TrimPrefix(k, blockKeyPrefix)); e != nil {
			entries = append(entries, *e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
	})
	return entries, nil
}
