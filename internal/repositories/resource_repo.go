package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/BradenHooton/crystals/internal/database"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResourceRepository runs tenant-scoped CRUD over the tables registered in
// models.Resources. Callers validate column names against the definition;
// identifiers are still quoted here.
type ResourceRepository struct {
	pool *pgxpool.Pool
}

func NewResourceRepository(db *database.DB) *ResourceRepository {
	return &ResourceRepository{pool: db.Pool}
}

func table(def models.ResourceDefinition) string {
	return pgx.Identifier{def.Table}.Sanitize()
}

func selectList(def models.ResourceDefinition) string {
	cols := make([]string, 0, len(def.Columns)+2)
	cols = append(cols, "id", "factory_id")
	for _, c := range def.Columns {
		cols = append(cols, pgx.Identifier{c}.Sanitize())
	}
	return strings.Join(cols, ", ")
}

func collect(rows pgx.Rows) ([]map[string]any, error) {
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return out, nil
}

func (r *ResourceRepository) List(ctx context.Context, def models.ResourceDefinition, factoryID int64, limit, offset int) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE factory_id = $1 ORDER BY %s LIMIT $2 OFFSET $3`,
		selectList(def), table(def), def.OrderBy)

	rows, err := r.pool.Query(ctx, query, factoryID, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows)
}

func (r *ResourceRepository) Get(ctx context.Context, def models.ResourceDefinition, factoryID, id int64) (map[string]any, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE factory_id = $1 AND id = $2`, selectList(def), table(def))

	rows, err := r.pool.Query(ctx, query, factoryID, id)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return row, nil
}

func (r *ResourceRepository) Create(ctx context.Context, def models.ResourceDefinition, factoryID int64, fields map[string]any) (map[string]any, error) {
	cols := []string{"factory_id"}
	placeholders := []string{"$1"}
	args := []any{factoryID}
	for _, c := range sortedKeys(fields) {
		args = append(args, fields[c])
		cols = append(cols, pgx.Identifier{c}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		table(def), strings.Join(cols, ", "), strings.Join(placeholders, ", "), selectList(def))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return row, nil
}

func (r *ResourceRepository) Update(ctx context.Context, def models.ResourceDefinition, factoryID, id int64, fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return r.Get(ctx, def, factoryID, id)
	}

	args := []any{factoryID, id}
	sets := make([]string, 0, len(fields))
	for _, c := range sortedKeys(fields) {
		args = append(args, fields[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE factory_id = $1 AND id = $2 RETURNING %s`,
		table(def), strings.Join(sets, ", "), selectList(def))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return row, nil
}

func (r *ResourceRepository) Delete(ctx context.Context, def models.ResourceDefinition, factoryID, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE factory_id = $1 AND id = $2`, table(def))

	tag, err := r.pool.Exec(ctx, query, factoryID, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
