package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefundRepo implements ports.RefundRepository. The status history is stored
// as a JSONB column on the refund row so the version-conditioned save covers
// the aggregate in a single UPDATE.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

// Create inserts a new refund.
func (r *RefundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	history, err := json.Marshal(refund.History)
	if err != nil {
		return fmt.Errorf("marshal refund history: %w", err)
	}

	query := `INSERT INTO refunds (id, transaction_ref, amount, currency, method, bank_account_id, reason,
		gateway_id, gateway_reference, status, history, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		refund.ID, refund.TransactionRef, refund.Amount, refund.Currency,
		refund.Method, refund.BankAccountID, refund.Reason,
		refund.GatewayID, refund.GatewayReference, refund.Status,
		history, refund.Version, refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID fetches a refund by UUID.
func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	query := `SELECT id, transaction_ref, amount, currency, method, bank_account_id, reason,
		gateway_id, gateway_reference, status, history, version, created_at, updated_at
		FROM refunds WHERE id = $1`

	return r.scanRefund(r.pool.QueryRow(ctx, query, id))
}

// GetByGatewayReference fetches the refund a gateway event belongs to.
func (r *RefundRepo) GetByGatewayReference(ctx context.Context, gatewayID, gatewayReference string) (*domain.Refund, error) {
	query := `SELECT id, transaction_ref, amount, currency, method, bank_account_id, reason,
		gateway_id, gateway_reference, status, history, version, created_at, updated_at
		FROM refunds WHERE gateway_id = $1 AND gateway_reference = $2`

	return r.scanRefund(r.pool.QueryRow(ctx, query, gatewayID, gatewayReference))
}

// Save persists the mutable fields and the full history, conditioned on
// expectedVersion. Zero rows affected means the row moved underneath us.
func (r *RefundRepo) Save(ctx context.Context, tx pgx.Tx, refund *domain.Refund, expectedVersion int64) error {
	history, err := json.Marshal(refund.History)
	if err != nil {
		return fmt.Errorf("marshal refund history: %w", err)
	}

	query := `UPDATE refunds SET amount = $1, currency = $2, method = $3, bank_account_id = $4, reason = $5,
		gateway_id = $6, gateway_reference = $7, status = $8, history = $9, version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12`

	tag, err := tx.Exec(ctx, query,
		refund.Amount, refund.Currency, refund.Method, refund.BankAccountID, refund.Reason,
		refund.GatewayID, refund.GatewayReference, refund.Status, history, refund.UpdatedAt,
		refund.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("save refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrVersionConflict
	}
	refund.Version = expectedVersion + 1
	return nil
}

// List fetches refunds with filtering and pagination.
func (r *RefundRepo) List(ctx context.Context, params ports.RefundListParams) ([]domain.Refund, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.GatewayID != nil {
		conditions = append(conditions, fmt.Sprintf("gateway_id = $%d", argIdx))
		args = append(args, *params.GatewayID)
		argIdx++
	}
	if params.TransactionRef != nil {
		conditions = append(conditions, fmt.Sprintf("transaction_ref = $%d", argIdx))
		args = append(args, *params.TransactionRef)
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

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM refunds %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count refunds: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, transaction_ref, amount, currency, method, bank_account_id, reason,
		gateway_id, gateway_reference, status, history, version, created_at, updated_at
		FROM refunds %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var refund domain.Refund
		var history []byte
		err := rows.Scan(
			&refund.ID, &refund.TransactionRef, &refund.Amount, &refund.Currency,
			&refund.Method, &refund.BankAccountID, &refund.Reason,
			&refund.GatewayID, &refund.GatewayReference, &refund.Status,
			&history, &refund.Version, &refund.CreatedAt, &refund.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan refund row: %w", err)
		}
		if err := json.Unmarshal(history, &refund.History); err != nil {
			return nil, 0, fmt.Errorf("unmarshal refund history: %w", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate refund rows: %w", err)
	}
	return refunds, total, nil
}

// GetStats retrieves aggregated refund counts, optionally bounded in time.
func (r *RefundRepo) GetStats(ctx context.Context, from, to *int64) (*ports.RefundStats, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if from != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *to)
	}

	var where string
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected,
		COUNT(*) FILTER (WHERE status = 'CANCELED') AS canceled,
		COUNT(*) FILTER (WHERE status IN ('DRAFT','SUBMITTED','VALIDATION_FAILED','PENDING_APPROVAL','PROCESSING')) AS awaiting_action,
		COUNT(*) FILTER (WHERE status IN ('GATEWAY_PENDING','GATEWAY_ERROR')) AS in_flight
		FROM refunds %s`, where)

	stats := &ports.RefundStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.Rejected,
		&stats.Canceled, &stats.AwaitingAction, &stats.InFlight,
	)
	if err != nil {
		return nil, fmt.Errorf("get refund stats: %w", err)
	}
	return stats, nil
}

// CompletedTotals sums completed refund amounts per currency.
func (r *RefundRepo) CompletedTotals(ctx context.Context, from, to *int64) ([]ports.CurrencyTotal, error) {
	conditions := []string{"status = 'COMPLETED'"}
	var args []any
	argIdx := 1

	if from != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *to)
	}

	query := fmt.Sprintf(`SELECT currency, COALESCE(SUM(amount), 0) AS total
		FROM refunds WHERE %s GROUP BY currency ORDER BY currency`, strings.Join(conditions, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("completed totals: %w", err)
	}
	defer rows.Close()

	var totals []ports.CurrencyTotal
	for rows.Next() {
		var ct ports.CurrencyTotal
		if err := rows.Scan(&ct.Currency, &ct.Total); err != nil {
			return nil, fmt.Errorf("scan currency total: %w", err)
		}
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate currency totals: %w", err)
	}
	return totals, nil
}

// scanRefund is a helper to scan a single row into a Refund.
func (r *RefundRepo) scanRefund(row pgx.Row) (*domain.Refund, error) {
	refund := &domain.Refund{}
	var history []byte
	err := row.Scan(
		&refund.ID, &refund.TransactionRef, &refund.Amount, &refund.Currency,
		&refund.Method, &refund.BankAccountID, &refund.Reason,
		&refund.GatewayID, &refund.GatewayReference, &refund.Status,
		&history, &refund.Version, &refund.CreatedAt, &refund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	if err := json.Unmarshal(history, &refund.History); err != nil {
		return nil, fmt.Errorf("unmarshal refund history: %w", err)
	}
	return refund, nil
}
