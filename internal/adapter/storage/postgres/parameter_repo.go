package postgres

import (
	"context"
	"errors"
	"fmt"

	"refunds-service/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ParameterRepo implements ports.ParameterRepository.
type ParameterRepo struct {
	pool Pool
}

// NewParameterRepo creates a new ParameterRepo.
func NewParameterRepo(pool Pool) *ParameterRepo {
	return &ParameterRepo{pool: pool}
}

// Upsert inserts or replaces a parameter value.
func (r *ParameterRepo) Upsert(ctx context.Context, p *domain.Parameter) error {
	query := `INSERT INTO parameters (scope, key, value, description, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, key) DO UPDATE SET value = $3, description = $4, updated_at = $5`

	_, err := r.pool.Exec(ctx, query, p.Scope, p.Key, p.Value, p.Description, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert parameter: %w", err)
	}
	return nil
}

// Get fetches a parameter by scope and key.
func (r *ParameterRepo) Get(ctx context.Context, scope, key string) (*domain.Parameter, error) {
	query := `SELECT scope, key, value, description, updated_at FROM parameters WHERE scope = $1 AND key = $2`

	p := &domain.Parameter{}
	err := r.pool.QueryRow(ctx, query, scope, key).Scan(&p.Scope, &p.Key, &p.Value, &p.Description, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get parameter: %w", err)
	}
	return p, nil
}

// ListByScope fetches all parameters in a scope.
func (r *ParameterRepo) ListByScope(ctx context.Context, scope string) ([]domain.Parameter, error) {
	query := `SELECT scope, key, value, description, updated_at FROM parameters WHERE scope = $1 ORDER BY key`

	rows, err := r.pool.Query(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	defer rows.Close()

	var params []domain.Parameter
	for rows.Next() {
		var p domain.Parameter
		if err := rows.Scan(&p.Scope, &p.Key, &p.Value, &p.Description, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan parameter row: %w", err)
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parameter rows: %w", err)
	}
	return params, nil
}

// Delete removes a parameter. Deleting an absent key is a no-op.
func (r *ParameterRepo) Delete(ctx context.Context, scope, key string) error {
	query := `DELETE FROM parameters WHERE scope = $1 AND key = $2`

	_, err := r.pool.Exec(ctx, query, scope, key)
	if err != nil {
		return fmt.Errorf("delete parameter: %w", err)
	}
	return nil
}
