package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
)

const (
	dashboardHours   = 24
	topIPLimit       = 10
	recentEventLimit = 50
	maxLogLimit      = 1000
)

// IPCount is one row of the top offenders table.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Dashboard summarises the last 24 hours of security events.
type Dashboard struct {
	Summary      map[string]int         `json:"summary"`
	HourlyEvents map[string]int         `json:"hourly_events"`
	TopIPs       []IPCount              `json:"top_ips"`
	RecentEvents []models.SecurityEvent `json:"recent_events"`
	BlockedIPs   []models.IPBlockEntry  `json:"blocked_ips"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// LogQuery filters Monitor.Logs.
type LogQuery struct {
	Limit     int
	EventType string
	Hours     int
}

// Monitor is the read side over the recorder buckets and the block list.
type Monitor struct {
	recorder *Recorder
	blocks   *BlockRegistry
	logger   *slog.Logger
}

func NewMonitor(recorder *Recorder, blocks *BlockRegistry, logger *slog.Logger) *Monitor {
	return &Monitor{recorder: recorder, blocks: blocks, logger: logger}
}

func (m *Monitor) Dashboard(ctx context.Context) (*Dashboard, error) {
	events, err := m.recorder.Window(ctx, dashboardHours)
	if err != nil {
		return nil, fmt.Errorf("load security events: %w", err)
	}

	d := &Dashboard{
		Summary:      make(map[string]int),
		HourlyEvents: make(map[string]int),
		TopIPs:       []IPCount{},
		RecentEvents: []models.SecurityEvent{},
		BlockedIPs:   []models.IPBlockEntry{},
		GeneratedAt:  m.recorder.Now().UTC(),
	}

	perIP := make(map[string]int)
	for _, ev := range events {
		d.Summary[ev.EventType]++
		d.HourlyEvents[hourLabel(ev.Hour)]++
		if ev.IP != "" {
			perIP[ev.IP]++
		}
	}

	for ip, n := range perIP {
		d.TopIPs = append(d.TopIPs, IPCount{IP: ip, Count: n})
	}
	sort.Slice(d.TopIPs, func(i, j int) bool {
		if d.TopIPs[i].Count != d.TopIPs[j].Count {
			return d.TopIPs[i].Count > d.TopIPs[j].Count
		}
		return d.TopIPs[i].IP < d.TopIPs[j].IP
	})
	if len(d.TopIPs) > topIPLimit {
		d.TopIPs = d.TopIPs[:topIPLimit]
	}

	d.RecentEvents = newestFirst(events, recentEventLimit)

	if m.blocks != nil {
		blocked, err := m.blocks.List(ctx)
		if err != nil {
			m.logger.Warn("dashboard: block list unavailable", slog.Any("error", err))
		} else {
			d.BlockedIPs = blocked
		}
	}
	return d, nil
}

// Logs returns matching events newest first, with the total before limiting.
func (m *Monitor) Logs(ctx context.Context, q LogQuery) ([]models.SecurityEvent, int, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > maxLogLimit {
		q.Limit = maxLogLimit
	}
	if q.Hours <= 0 || q.Hours > dashboardHours {
		q.Hours = dashboardHours
	}

	events, err := m.recorder.Window(ctx, q.Hours)
	if err != nil {
		return nil, 0, fmt.Errorf("load security events: %w", err)
	}
	if q.EventType != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.EventType == q.EventType {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	return newestFirst(events, q.Limit), len(events), nil
}

func hourLabel(hour int64) string {
	return time.Unix(hour*3600, 0).UTC().Format(time.RFC3339)
}

// newestFirst returns up to limit events in reverse chronological order.
// events must be oldest first.
func newestFirst(events []models.SecurityEvent, limit int) []models.SecurityEvent {
	n := len(events)
	if n > limit {
		n = limit
	}
	out := make([]models.SecurityEvent, 0, n)
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, events[i])
	}
	return out
}
