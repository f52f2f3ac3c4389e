package domain

import (
	"encoding/json"
	"time"
)

// EventOutcome is the canonical refund outcome reported by a gateway,
// normalized from each provider's own status vocabulary.
type EventOutcome string

const (
	EventOutcomeSucceeded EventOutcome = "SUCCEEDED"
	EventOutcomeFailed    EventOutcome = "FAILED"
	EventOutcomePending   EventOutcome = "PENDING"
	EventOutcomeUnknown   EventOutcome = "UNKNOWN"
)

// GatewayEvent is a normalized webhook notification. Immutable once built:
// the normalizer is the only producer and nothing downstream rewrites it.
type GatewayEvent struct {
	GatewayID        string          `json:"gateway_id"`
	EventID          string          `json:"event_id"` // unique per gateway
	Outcome          EventOutcome    `json:"outcome"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"` // our refund id when the provider echoes it
	RawPayload       json.RawMessage `json:"raw_payload"`
	ReceivedAt       time.Time       `json:"received_at"`
}
