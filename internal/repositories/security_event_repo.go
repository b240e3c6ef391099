package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/crystals/internal/database"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository is the durable archive behind the hourly cache.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *SecurityEventRepository) Insert(ctx context.Context, ev *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, occurred_at, event_type, severity, message, ip, username, user_agent, path, method, factory_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, 0))
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.Timestamp, ev.EventType, string(ev.Severity), ev.Message,
		nullIfEmpty(ev.IP), nullIfEmpty(ev.User), nullIfEmpty(ev.UserAgent),
		nullIfEmpty(ev.Path), nullIfEmpty(ev.Method), ev.FactoryID,
	)
	return database.MapPostgresError(err)
}

// DeleteBefore drops archived events older than cutoff.
func (r *SecurityEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
