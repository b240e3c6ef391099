package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/crystals/internal/metrics"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/store"
	"golang.org/x/time/rate"
)

// Alert categories with hourly thresholds.
const (
	CategoryFailedLogins       = "failed_logins"
	CategorySuspiciousRequests = "suspicious_requests"
	CategoryRateLimitHits      = "rate_limit_hits"
	CategoryServerErrors       = "server_errors"
)

var categoryByEvent = map[string]string{
	models.EventLoginFailedInvalid:        CategoryFailedLogins,
	models.EventLoginFailedInactive:       CategoryFailedLogins,
	models.EventLoginFailedMissing:        CategoryFailedLogins,
	models.EventLoginFailedJSON:           CategoryFailedLogins,
	models.EventLoginFailedMFARequired:    CategoryFailedLogins,
	models.EventMFAFailed:                 CategoryFailedLogins,
	models.EventTokenRefreshFailed:        CategoryFailedLogins,
	models.EventSuspiciousRequestBlocked:  CategorySuspiciousRequests,
	models.EventDirectoryTraversalAttempt: CategorySuspiciousRequests,
	models.EventSQLInjectionAttempt:       CategorySuspiciousRequests,
	models.EventBruteForceDetected:        CategorySuspiciousRequests,
	models.EventIPNotWhitelisted:          CategorySuspiciousRequests,
	models.EventRateLimitExceeded:         CategoryRateLimitHits,
	models.EventServerError:               CategoryServerErrors,
	models.EventUnhandledException:        CategoryServerErrors,
	models.EventAPIError:                  CategoryServerErrors,
}

// CategoryFor maps an event type to its alert category, or "".
func CategoryFor(eventType string) string {
	if c, ok := categoryByEvent[eventType]; ok {
		return c
	}
	switch eventType {
	case CategoryFailedLogins, CategorySuspiciousRequests, CategoryRateLimitHits, CategoryServerErrors:
		return eventType
	}
	return ""
}

// Alert is raised once per category per hour when the threshold is hit.
type Alert struct {
	Category    string    `json:"category"`
	EventType   string    `json:"event_type"`
	Count       int64     `json:"count"`
	Threshold   int       `json:"threshold"`
	Hour        int64     `json:"hour"`
	IP          string    `json:"ip,omitempty"`
	User        string    `json:"user,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Title renders the category for humans, e.g. "Failed Logins".
func (a Alert) Title() string {
	words := strings.Split(a.Category, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Notifier delivers alerts outside the process.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Blocker is the part of the IP registry the engine needs.
type Blocker interface {
	Block(ctx context.Context, ip string, duration time.Duration, reason, blockedBy string) (*models.IPBlockEntry, error)
}

// AlertConfig configures NewAlertEngine.
type AlertConfig struct {
	Thresholds        map[string]int
	AutoBlock         bool
	AutoBlockDuration time.Duration
	NotifyTimeout     time.Duration
	NotifyInterval    time.Duration // minimum spacing between notifications
	NotifyBurst       int
	Now               func() time.Time
}

// DefaultThresholds are the per-hour alert thresholds.
func DefaultThresholds() map[string]int {
	return map[string]int{
		CategoryFailedLogins:       10,
		CategorySuspiciousRequests: 5,
		CategoryRateLimitHits:      20,
		CategoryServerErrors:       15,
	}
}

// AlertEngine counts categorised events per hour and raises deduplicated
// alerts. Notification is best effort and runs off the request path.
type AlertEngine struct {
	store      store.Store
	notifier   Notifier
	blocker    Blocker
	limiter    *rate.Limiter
	thresholds map[string]int
	autoBlock  bool
	blockFor   time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewAlertEngine(st store.Store, notifier Notifier, blocker Blocker, logger *slog.Logger, cfg AlertConfig) *AlertEngine {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = 10 * time.Second
	}
	if cfg.NotifyBurst <= 0 {
		cfg.NotifyBurst = 5
	}
	if cfg.AutoBlockDuration <= 0 {
		cfg.AutoBlockDuration = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AlertEngine{
		store:      st,
		notifier:   notifier,
		blocker:    blocker,
		limiter:    rate.NewLimiter(rate.Every(cfg.NotifyInterval), cfg.NotifyBurst),
		thresholds: cfg.Thresholds,
		autoBlock:  cfg.AutoBlock,
		blockFor:   cfg.AutoBlockDuration,
		timeout:    cfg.NotifyTimeout,
		now:        cfg.Now,
		logger:     logger,
	}
}

func alertCountKey(category string, hour int64) string {
	return fmt.Sprintf("security:alerts:count:%s:%d", category, hour)
}

func alertSentKey(category string, hour int64) string {
	return fmt.Sprintf("security:alerts:sent:%s:%d", category, hour)
}

// OnEvent implements EventSink.
func (a *AlertEngine) OnEvent(ctx context.Context, ev models.SecurityEvent) {
	category := CategoryFor(ev.EventType)
	if category == "" {
		return
	}
	threshold, ok := a.thresholds[category]
	if !ok || threshold <= 0 {
		return
	}

	hour := ev.Hour
	if hour == 0 {
		hour = EpochHour(a.now())
	}

	count, _, err := a.store.Incr(ctx, alertCountKey(category, hour), time.Hour)
	if err != nil {
		a.logger.Warn("alert counter unavailable", slog.String("category", category), slog.Any("error", err))
		return
	}
	if count < int64(threshold) {
		return
	}

	first, err := a.store.SetNX(ctx, alertSentKey(category, hour), []byte("1"), time.Hour)
	if err != nil {
		a.logger.Warn("alert dedupe flag unavailable", slog.String("category", category), slog.Any("error", err))
		return
	}
	if !first {
		return
	}

	alert := Alert{
		Category:    category,
		EventType:   ev.EventType,
		Count:       count,
		Threshold:   threshold,
		Hour:        hour,
		IP:          ev.IP,
		User:        ev.User,
		TriggeredAt: a.now().UTC(),
	}
	metrics.Alerts.WithLabelValues(category).Inc()
	a.logger.Error("security alert triggered",
		slog.String("category", category),
		slog.Int64("count", count),
		slog.Int("threshold", threshold),
		slog.String("ip", alert.IP),
	)

	if a.autoBlock && category == CategorySuspiciousRequests && ev.IP != "" && a.blocker != nil {
		reason := fmt.Sprintf("Automatic block: %s threshold reached (%d/h)", category, threshold)
		if _, err := a.blocker.Block(ctx, ev.IP, a.blockFor, reason, "alert-engine"); err != nil {
			a.logger.Warn("automatic ip block failed", slog.String("ip", ev.IP), slog.Any("error", err))
		}
	}

	a.dispatch(ctx, alert)
}

func (a *AlertEngine) dispatch(ctx context.Context, alert Alert) {
	if a.notifier == nil {
		return
	}
	if !a.limiter.Allow() {
		metrics.AlertNotifications.WithLabelValues("throttled").Inc()
		a.logger.Warn("alert notification throttled", slog.String("category", alert.Category))
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("alert notifier panicked", slog.Any("panic", rec))
			}
		}()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.notifier.Notify(nctx, alert); err != nil {
			metrics.AlertNotifications.WithLabelValues("failed").Inc()
			a.logger.Warn("alert notification failed",
				slog.String("category", alert.Category),
				slog.Any("error", err),
			)
			return
		}
		metrics.AlertNotifications.WithLabelValues("sent").Inc()
	}()
}

// Wait blocks until in-flight notifications finish.
func (a *AlertEngine) Wait() {
	a.wg.Wait()
}
