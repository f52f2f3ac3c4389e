package domain

import (
	"time"
)

// IdempotencyState is the lifecycle of a ledger record. CLAIMED is the only
// non-final state.
type IdempotencyState string

const (
	IdempotencyStateClaimed   IdempotencyState = "CLAIMED"
	IdempotencyStateApplied   IdempotencyState = "APPLIED"
	IdempotencyStateRejected  IdempotencyState = "REJECTED"
	IdempotencyStateAbandoned IdempotencyState = "ABANDONED"
)

// MaxClaimAttempts caps how often a single event id may be claimed: the
// original claim plus exactly one takeover of a stale or abandoned claim.
const MaxClaimAttempts = 2

// IdempotencyRecord reserves a (gateway id, event id) pair so that any single
// gateway event is applied at most once, no matter how often it is delivered.
type IdempotencyRecord struct {
	GatewayID     string           `json:"gateway_id"`
	EventID       string           `json:"event_id"`
	State         IdempotencyState `json:"state"`
	Attempts      int              `json:"attempts"`
	AckJSON       []byte           `json:"ack_json,omitempty"`       // recorded acknowledgment, replayed to duplicates
	RefundVersion *int64           `json:"refund_version,omitempty"` // version the event was applied against
	ClaimedAt     time.Time        `json:"claimed_at"`
	FinalizedAt   *time.Time       `json:"finalized_at,omitempty"`
}

// BuildEventKey constructs the cache key for a gateway event.
func BuildEventKey(gatewayID, eventID string) string {
	return gatewayID + ":" + eventID
}

// IsFinal returns true once the record left the CLAIMED state.
func (r *IdempotencyRecord) IsFinal() bool {
	return r.State != IdempotencyStateClaimed
}

// StaleClaim reports whether a CLAIMED record has outlived the processing
// timeout, meaning its claimant crashed and a later delivery may take over.
func (r *IdempotencyRecord) StaleClaim(now time.Time, timeout time.Duration) bool {
	return r.State == IdempotencyStateClaimed && now.Sub(r.ClaimedAt) > timeout
}

// Reclaimable reports whether a later delivery may take over this record.
func (r *IdempotencyRecord) Reclaimable(now time.Time, timeout time.Duration) bool {
	if r.Attempts >= MaxClaimAttempts {
		return false
	}
	return r.State == IdempotencyStateAbandoned || r.StaleClaim(now, timeout)
}
