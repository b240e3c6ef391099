package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/crystals/internal/database"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PrincipalRepository struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{pool: db.Pool}
}

const principalColumns = `id, username, email, password_hash, is_staff, is_superuser, is_active,
	factory_id, mfa_enabled, mfa_secret, last_login, date_joined`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	var p models.Principal
	var mfaSecret *string

	err := row.Scan(
		&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.IsStaff, &p.IsSuperuser, &p.IsActive,
		&p.FactoryID, &p.MFAEnabled, &mfaSecret, &p.LastLogin, &p.DateJoined,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if mfaSecret != nil {
		p.MFASecret = *mfaSecret
	}
	return &p, nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id int64) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return scanPrincipal(r.pool.QueryRow(ctx, query, id))
}

func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE username = $1`
	return scanPrincipal(r.pool.QueryRow(ctx, query, username))
}

// Create inserts p and fills in its id and date_joined.
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	query := `
		INSERT INTO principals (username, email, password_hash, is_staff, is_superuser, is_active, factory_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, date_joined
	`
	err := r.pool.QueryRow(ctx, query,
		p.Username, p.Email, p.PasswordHash, p.IsStaff, p.IsSuperuser, p.IsActive, p.FactoryID,
	).Scan(&p.ID, &p.DateJoined)
	return database.MapPostgresError(err)
}

func (r *PrincipalRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE principals SET last_login = $2 WHERE id = $1`, id, at)
	return database.MapPostgresError(err)
}

// SetMFA stores the encrypted secret and whether it is enforced at login.
func (r *PrincipalRepository) SetMFA(ctx context.Context, id int64, encryptedSecret string, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE principals SET mfa_secret = NULLIF($2, ''), mfa_enabled = $3 WHERE id = $1`,
		id, encryptedSecret, enabled)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
