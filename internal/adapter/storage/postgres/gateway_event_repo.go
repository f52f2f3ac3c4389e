package postgres

import (
	"context"
	"fmt"

	"refunds-service/internal/core/domain"
)

// GatewayEventRepo implements ports.GatewayEventRepository.
type GatewayEventRepo struct {
	pool Pool
}

// NewGatewayEventRepo creates a new GatewayEventRepo.
func NewGatewayEventRepo(pool Pool) *GatewayEventRepo {
	return &GatewayEventRepo{pool: pool}
}

// Insert records a claimed gateway event. A re-claimed event keeps its
// original row.
func (r *GatewayEventRepo) Insert(ctx context.Context, event *domain.GatewayEvent) error {
	query := `INSERT INTO gateway_events (gateway_id, event_id, outcome, gateway_reference, correlation_id, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gateway_id, event_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		event.GatewayID, event.EventID, event.Outcome,
		event.GatewayReference, event.CorrelationID,
		[]byte(event.RawPayload), event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gateway event: %w", err)
	}
	return nil
}
