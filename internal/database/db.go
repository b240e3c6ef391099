package database

import (
	"errors"
	"fmt"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model sentinels. Errors
// without a mapping are returned unchanged.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: column %s is required", models.ErrBadRequest, pgErr.ColumnName)
		case "22P02", "22007", "22008": // invalid text representation, datetime
			return fmt.Errorf("%w: invalid value", models.ErrBadRequest)
		}
	}

	return err
}
