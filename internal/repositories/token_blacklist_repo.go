package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/crystals/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenBlacklistRepository struct {
	pool *pgxpool.Pool
}

func NewTokenBlacklistRepository(db *database.DB) *TokenBlacklistRepository {
	return &TokenBlacklistRepository{pool: db.Pool}
}

// Revoke adds a token id to the blacklist. Revoking twice is a no-op.
func (r *TokenBlacklistRepository) Revoke(ctx context.Context, jti string, userID int64, tokenType string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_tokens (jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, jti, userID, tokenType, expiresAt, reason)
	return database.MapPostgresError(err)
}

func (r *TokenBlacklistRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// CleanupExpired removes rows whose token would have expired anyway.
func (r *TokenBlacklistRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
