package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundEventType names the domain events published on terminal transitions
// so the portal UI and reporting can update without polling.
type RefundEventType string

const (
	RefundEventCompleted RefundEventType = "refund.completed"
	RefundEventFailed    RefundEventType = "refund.failed"
	RefundEventRejected  RefundEventType = "refund.rejected"
)

// RefundEventTypeFor maps a terminal status to its event type. CANCELED is
// operator-driven, the portal already knows about it, so no event is emitted.
func RefundEventTypeFor(status RefundStatus) (RefundEventType, bool) {
	switch status {
	case RefundStatusCompleted:
		return RefundEventCompleted, true
	case RefundStatusFailed:
		return RefundEventFailed, true
	case RefundStatusRejected:
		return RefundEventRejected, true
	}
	return "", false
}

// NotificationStatus represents the delivery state of a refund event.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	NotificationStatusFailed    NotificationStatus = "FAILED"
)

// RefundEvent is an outbox row: inserted when a terminal transition is
// persisted, delivered asynchronously by the relay.
type RefundEvent struct {
	ID          uuid.UUID          `json:"id"`
	RefundID    uuid.UUID          `json:"refund_id"`
	EventType   RefundEventType    `json:"event_type"`
	Payload     []byte             `json:"payload"` // JSON snapshot of the refund
	Status      NotificationStatus `json:"status"`
	Attempt     int                `json:"attempt"`
	LastError   *string            `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
}
