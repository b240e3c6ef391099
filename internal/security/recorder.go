package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/BradenHooton/crystals/internal/metrics"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/store"
	pkglogger "github.com/BradenHooton/crystals/pkg/logger"
	"github.com/oklog/ulid/v2"
)

const eventBucketPrefix = "security:events:"

// EventRecorder is the write side used by gates and services.
type EventRecorder interface {
	Record(ctx context.Context, ev models.SecurityEvent)
}

// EventSink is notified after an event has been stored.
type EventSink interface {
	OnEvent(ctx context.Context, ev models.SecurityEvent)
}

// EventArchive persists events beyond the cache retention.
type EventArchive interface {
	Insert(ctx context.Context, ev *models.SecurityEvent) error
}

// RecorderConfig configures NewRecorder.
type RecorderConfig struct {
	Retention time.Duration // bucket lifetime, at least one hour
	BucketCap int           // max events kept per hour
	Now       func() time.Time
}

// Recorder appends security events to hourly buckets in the shared store,
// logs them and fans them out to sinks. Recording never fails the caller.
type Recorder struct {
	store     store.Store
	seclog    *pkglogger.SecurityLogger
	logger    *slog.Logger
	archive   EventArchive
	retention time.Duration
	bucketCap int
	now       func() time.Time

	mu    sync.RWMutex
	sinks []EventSink

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewRecorder(st store.Store, logger *slog.Logger, cfg RecorderConfig) *Recorder {
	if cfg.Retention < time.Hour {
		cfg.Retention = time.Hour
	}
	if cfg.BucketCap <= 0 {
		cfg.BucketCap = 5000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		store:     st,
		seclog:    pkglogger.NewSecurityLogger(logger),
		logger:    logger,
		retention: cfg.Retention,
		bucketCap: cfg.BucketCap,
		now:       cfg.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// AddSink registers a sink, typically the AlertEngine.
func (r *Recorder) AddSink(s EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// SetArchive enables durable copies of every event.
func (r *Recorder) SetArchive(a EventArchive) {
	r.archive = a
}

// EpochHour is the bucket index for t.
func EpochHour(t time.Time) int64 {
	return t.Unix() / 3600
}

func bucketKey(hour int64) string {
	return fmt.Sprintf("%s%d", eventBucketPrefix, hour)
}

func (r *Recorder) newID(t time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// Record fills in id, timestamp, hour and severity, then stores, logs and
// dispatches the event.
func (r *Recorder) Record(ctx context.Context, ev models.SecurityEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("security event recording panicked",
				slog.String("event_type", ev.EventType),
				slog.Any("panic", rec),
			)
		}
	}()

	now := r.now().UTC()
	ev.Timestamp = now
	ev.Hour = EpochHour(now)
	ev.ID = r.newID(now)
	if ev.Severity == "" {
		ev.Severity = models.ClassifySeverity(ev.EventType)
	}

	r.seclog.Log(ctx, pkglogger.SecurityEntry{
		ID:        ev.ID,
		EventType: ev.EventType,
		Severity:  string(ev.Severity),
		Message:   ev.Message,
		IP:        ev.IP,
		User:      ev.User,
		UserAgent: ev.UserAgent,
		Path:      ev.Path,
		Method:    ev.Method,
		FactoryID: ev.FactoryID,
	})
	metrics.SecurityEvents.WithLabelValues(ev.EventType, string(ev.Severity)).Inc()

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to encode security event", slog.String("event_type", ev.EventType), slog.Any("error", err))
		return
	}
	if err := r.store.Push(ctx, bucketKey(ev.Hour), payload, r.bucketCap, r.retention); err != nil {
		r.logger.Warn("failed to store security event",
			slog.String("event_type", ev.EventType),
			slog.Any("error", err),
		)
	}

	if r.archive != nil {
		if err := r.archive.Insert(ctx, &ev); err != nil {
			r.logger.Warn("failed to archive security event",
				slog.String("event_id", ev.ID),
				slog.Any("error", err),
			)
		}
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()
	for _, s := range sinks {
		s.OnEvent(ctx, ev)
	}
}

// RecordRequest records an event enriched with the request's client context.
func (r *Recorder) RecordRequest(ctx context.Context, eventType, message string) {
	ev := models.SecurityEvent{EventType: eventType, Message: message}
	FillFromClient(&ev, ClientFromContext(ctx))
	r.Record(ctx, ev)
}

// FillFromClient copies caller attributes into ev without overwriting
// fields that are already set.
func FillFromClient(ev *models.SecurityEvent, cc *ClientContext) {
	if cc == nil {
		return
	}
	if ev.IP == "" {
		ev.IP = cc.IP
	}
	if ev.User == "" {
		ev.User = cc.Username
	}
	if ev.UserAgent == "" {
		ev.UserAgent = cc.UserAgent
	}
	if ev.Path == "" {
		ev.Path = cc.Path
		ev.Method = cc.Method
	}
	if ev.FactoryID == 0 {
		ev.FactoryID = cc.FactoryID
	}
}

// Bucket returns the events stored for an epoch hour, oldest first.
func (r *Recorder) Bucket(ctx context.Context, hour int64) ([]models.SecurityEvent, error) {
	raw, err := r.store.Range(ctx, bucketKey(hour))
	if err != nil {
		return nil, fmt.Errorf("read event bucket %d: %w", hour, err)
	}
	events := make([]models.SecurityEvent, 0, len(raw))
	for _, b := range raw {
		var ev models.SecurityEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			r.logger.Warn("skipping undecodable security event", slog.Int64("hour", hour), slog.Any("error", err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Window returns the events of the last n hours including the current
// one, oldest first.
func (r *Recorder) Window(ctx context.Context, hours int) ([]models.SecurityEvent, error) {
	if hours <= 0 {
		hours = 1
	}
	current := EpochHour(r.now())
	var out []models.SecurityEvent
	for h := current - int64(hours) + 1; h <= current; h++ {
		events, err := r.Bucket(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// Now exposes the recorder clock to readers of the buckets.
func (r *Recorder) Now() time.Time {
	return r.now()
}
