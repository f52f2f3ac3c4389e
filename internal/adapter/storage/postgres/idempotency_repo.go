package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyLedger on a single
// (gateway_id, event_id)-keyed table. Claiming is one conditional INSERT and
// takeover of stale or abandoned claims is one conditional UPDATE; no row is
// ever locked across a delivery.
type IdempotencyRepo struct {
	pool         Pool
	claimTimeout time.Duration
}

// NewIdempotencyRepo creates a new IdempotencyRepo. claimTimeout bounds how
// long a CLAIMED record may sit unfinalized before a redelivery may take over.
func NewIdempotencyRepo(pool Pool, claimTimeout time.Duration) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool, claimTimeout: claimTimeout}
}

// Claim atomically reserves (gatewayID, eventID). Concurrent deliveries of
// the same event see exactly one ClaimAcquired.
func (r *IdempotencyRepo) Claim(ctx context.Context, gatewayID, eventID string) (*ports.ClaimResult, error) {
	now := time.Now()

	insert := `INSERT INTO idempotency_records (gateway_id, event_id, state, attempts, claimed_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (gateway_id, event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, insert, gatewayID, eventID, domain.IdempotencyStateClaimed, now)
	if err != nil {
		return nil, fmt.Errorf("claim insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return &ports.ClaimResult{Outcome: ports.ClaimAcquired}, nil
	}

	// The key exists. Try to take over a stale or abandoned claim; the
	// attempts cap keeps takeover to a single re-claim.
	cutoff := now.Add(-r.claimTimeout)
	takeover := `UPDATE idempotency_records
		SET state = $3, attempts = attempts + 1, claimed_at = $4, ack_json = NULL, refund_version = NULL, finalized_at = NULL
		WHERE gateway_id = $1 AND event_id = $2 AND attempts < $5
		AND (state = 'ABANDONED' OR (state = 'CLAIMED' AND claimed_at < $6))`

	tag, err = r.pool.Exec(ctx, takeover, gatewayID, eventID, domain.IdempotencyStateClaimed, now, domain.MaxClaimAttempts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("claim takeover: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return &ports.ClaimResult{Outcome: ports.ClaimAcquired}, nil
	}

	record, err := r.Get(ctx, gatewayID, eventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Row vanished between statements; let the gateway redeliver.
		return &ports.ClaimResult{Outcome: ports.ClaimInFlight}, nil
	}
	if !record.IsFinal() {
		return &ports.ClaimResult{Outcome: ports.ClaimInFlight, Record: record}, nil
	}
	return &ports.ClaimResult{Outcome: ports.ClaimDuplicate, Record: record}, nil
}

// Finalize moves a CLAIMED record to a final state, recording the
// acknowledgment to replay and the refund version it applied against. A
// record that lost its claim to a takeover is left alone.
func (r *IdempotencyRepo) Finalize(ctx context.Context, gatewayID, eventID string, state domain.IdempotencyState, ackJSON []byte, refundVersion *int64) error {
	query := `UPDATE idempotency_records
		SET state = $3, ack_json = $4, refund_version = $5, finalized_at = $6
		WHERE gateway_id = $1 AND event_id = $2 AND state = 'CLAIMED'`

	tag, err := r.pool.Exec(ctx, query, gatewayID, eventID, state, ackJSON, refundVersion, time.Now())
	if err != nil {
		return fmt.Errorf("finalize idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency record not claimed: %s", domain.BuildEventKey(gatewayID, eventID))
	}
	return nil
}

// Get fetches a record by key.
func (r *IdempotencyRepo) Get(ctx context.Context, gatewayID, eventID string) (*domain.IdempotencyRecord, error) {
	query := `SELECT gateway_id, event_id, state, attempts, ack_json, refund_version, claimed_at, finalized_at
		FROM idempotency_records WHERE gateway_id = $1 AND event_id = $2`

	record := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, gatewayID, eventID).Scan(
		&record.GatewayID, &record.EventID, &record.State, &record.Attempts,
		&record.AckJSON, &record.RefundVersion, &record.ClaimedAt, &record.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return record, nil
}
