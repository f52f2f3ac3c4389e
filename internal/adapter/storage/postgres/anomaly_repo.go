package postgres

import (
	"context"
	"fmt"
	"strings"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
)

// AnomalyRepo implements ports.AnomalyRepository.
type AnomalyRepo struct {
	pool Pool
}

// NewAnomalyRepo creates a new AnomalyRepo.
func NewAnomalyRepo(pool Pool) *AnomalyRepo {
	return &AnomalyRepo{pool: pool}
}

// Insert records an anomaly.
func (r *AnomalyRepo) Insert(ctx context.Context, anomaly *domain.Anomaly) error {
	query := `INSERT INTO anomalies (id, kind, gateway_id, event_id, refund_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		anomaly.ID, anomaly.Kind, anomaly.GatewayID, anomaly.EventID,
		anomaly.RefundID, anomaly.Detail, anomaly.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// List fetches anomalies with filtering and pagination.
func (r *AnomalyRepo) List(ctx context.Context, params ports.AnomalyListParams) ([]domain.Anomaly, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.GatewayID != nil {
		conditions = append(conditions, fmt.Sprintf("gateway_id = $%d", argIdx))
		args = append(args, *params.GatewayID)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	var where string
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM anomalies %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count anomalies: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, kind, gateway_id, event_id, refund_id, detail, created_at
		FROM anomalies %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		err := rows.Scan(&a.ID, &a.Kind, &a.GatewayID, &a.EventID, &a.RefundID, &a.Detail, &a.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan anomaly row: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate anomaly rows: %w", err)
	}
	return anomalies, total, nil
}
