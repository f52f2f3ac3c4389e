package domain

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyKind classifies reconciliation irregularities kept for operator review.
type AnomalyKind string

const (
	AnomalyOutOfSequence        AnomalyKind = "OUT_OF_SEQUENCE"
	AnomalyNormalizationFailure AnomalyKind = "NORMALIZATION_FAILURE"
	AnomalyOrphanEvent          AnomalyKind = "ORPHAN_EVENT"
	AnomalyAbandonedClaim       AnomalyKind = "ABANDONED_CLAIM"
)

// Anomaly records a webhook delivery the engine could not (or must not)
// apply. Anomalies are written synchronously: they are the only trace of an
// absorbed event.
type Anomaly struct {
	ID        uuid.UUID   `json:"id"`
	Kind      AnomalyKind `json:"kind"`
	GatewayID string      `json:"gateway_id"`
	EventID   string      `json:"event_id,omitempty"`
	RefundID  *uuid.UUID  `json:"refund_id,omitempty"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"created_at"`
}
