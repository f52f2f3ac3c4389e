package postgres

import (
	"context"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type refundEventRepo struct {
	pool Pool
}

// NewRefundEventRepository creates a PostgreSQL-backed RefundEventRepository
// (the transactional outbox).
func NewRefundEventRepository(pool Pool) ports.RefundEventRepository {
	return &refundEventRepo{pool: pool}
}

func (r *refundEventRepo) Insert(ctx context.Context, tx pgx.Tx, event *domain.RefundEvent) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO refund_events
		(id, refund_id, event_type, payload, status, attempt, last_error, created_at, delivered_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.ID, event.RefundID, string(event.EventType), event.Payload,
		string(event.Status), event.Attempt, event.LastError,
		event.CreatedAt, event.DeliveredAt,
	)
	return err
}

func (r *refundEventRepo) ListPending(ctx context.Context, limit int) ([]domain.RefundEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, refund_id, event_type, payload, status, attempt, last_error, created_at, delivered_at
		 FROM refund_events
		 WHERE status='PENDING'
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RefundEvent
	for rows.Next() {
		var e domain.RefundEvent
		var eventType, status string
		if err := rows.Scan(
			&e.ID, &e.RefundID, &eventType, &e.Payload,
			&status, &e.Attempt, &e.LastError, &e.CreatedAt, &e.DeliveredAt,
		); err != nil {
			return nil, err
		}
		e.EventType = domain.RefundEventType(eventType)
		e.Status = domain.NotificationStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *refundEventRepo) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE refund_events SET status=$1, delivered_at=$2 WHERE id=$3`,
		string(domain.NotificationStatusDelivered), deliveredAt, id,
	)
	return err
}

func (r *refundEventRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string, final bool) error {
	status := domain.NotificationStatusPending
	if final {
		status = domain.NotificationStatusFailed
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE refund_events SET status=$1, attempt=$2, last_error=$3 WHERE id=$4`,
		string(status), attempt, lastError, id,
	)
	return err
}
