package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic cleanup job. Run returns the number of items removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// ExpiredTokenCleaner removes blacklist rows past their token expiry.
type ExpiredTokenCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// EventArchivePruner removes archived security events older than a cutoff.
type EventArchivePruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops expired keys from an in-process store.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func BlacklistTask(repo ExpiredTokenCleaner) Task {
	return Task{Name: "revoked_tokens", Run: func(ctx context.Context) (int64, error) {
		return repo.CleanupExpired(ctx, time.Now())
	}}
}

func ArchiveRetentionTask(repo EventArchivePruner, retention time.Duration) Task {
	return Task{Name: "security_events", Run: func(ctx context.Context) (int64, error) {
		return repo.DeleteBefore(ctx, time.Now().Add(-retention))
	}}
}

func StoreSweepTask(s Sweeper) Task {
	return Task{Name: "memory_store", Run: func(ctx context.Context) (int64, error) {
		n, err := s.Sweep(ctx)
		return int64(n), err
	}}
}

// CleanupManager runs its tasks once at start and then on every tick.
type CleanupManager struct {
	tasks    []Task
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCleanupManager(logger *slog.Logger, interval time.Duration, tasks ...Task) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runAll(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runAll(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runAll(ctx context.Context) {
	for _, task := range cm.tasks {
		cm.run(ctx, task)
	}
}

func (cm *CleanupManager) run(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := task.Run(taskCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed", slog.String("task", task.Name), slog.Any("error", err))
		return
	}
	if removed > 0 {
		cm.logger.Info("cleanup task completed", slog.String("task", task.Name), slog.Int64("removed", removed))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call twice.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
