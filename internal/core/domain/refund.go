package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundMethod represents how the money travels back to the customer.
type RefundMethod string

const (
	RefundMethodBankTransfer RefundMethod = "BANK_TRANSFER"
	RefundMethodCard         RefundMethod = "CARD"
)

// RefundStatus represents the lifecycle state of a refund.
type RefundStatus string

const (
	RefundStatusDraft            RefundStatus = "DRAFT"
	RefundStatusSubmitted        RefundStatus = "SUBMITTED"
	RefundStatusValidationFailed RefundStatus = "VALIDATION_FAILED"
	RefundStatusPendingApproval  RefundStatus = "PENDING_APPROVAL"
	RefundStatusProcessing       RefundStatus = "PROCESSING"
	RefundStatusGatewayPending   RefundStatus = "GATEWAY_PENDING"
	RefundStatusGatewayError     RefundStatus = "GATEWAY_ERROR"
	RefundStatusCompleted        RefundStatus = "COMPLETED"
	RefundStatusFailed           RefundStatus = "FAILED"
	RefundStatusRejected         RefundStatus = "REJECTED"
	RefundStatusCanceled         RefundStatus = "CANCELED"
)

// IsTerminal returns true if no further transition is permitted out of s.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case RefundStatusCompleted, RefundStatusFailed, RefundStatusRejected, RefundStatusCanceled:
		return true
	}
	return false
}

// AwaitsGateway returns true for the only states a gateway event may move
// a refund out of.
func (s RefundStatus) AwaitsGateway() bool {
	return s == RefundStatusGatewayPending || s == RefundStatusGatewayError
}

// StatusChange is a single append-only entry in a refund's status history.
type StatusChange struct {
	Status        RefundStatus `json:"status"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Actor         string       `json:"actor"`
	SourceEventID string       `json:"source_event_id,omitempty"`
}

// Refund is the aggregate root. Status is only ever mutated through Apply,
// which keeps it equal to the last history entry.
type Refund struct {
	ID               uuid.UUID       `json:"id"`
	TransactionRef   string          `json:"transaction_ref"` // originating payment reference
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           RefundMethod    `json:"method"`
	BankAccountID    *uuid.UUID      `json:"bank_account_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	GatewayID        string          `json:"gateway_id,omitempty"`        // set at dispatch
	GatewayReference *string         `json:"gateway_reference,omitempty"` // set once the gateway accepts
	Status           RefundStatus    `json:"status"`
	History          []StatusChange  `json:"history"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewRefund creates a DRAFT refund with its initial history entry, so the
// history is never empty.
func NewRefund(transactionRef string, amount decimal.Decimal, currency string, method RefundMethod, actor string, now time.Time) *Refund {
	r := &Refund{
		ID:             uuid.New(),
		TransactionRef: transactionRef,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         RefundStatusDraft,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.History = append(r.History, StatusChange{
		Status:     RefundStatusDraft,
		OccurredAt: now,
		Actor:      actor,
	})
	return r
}

// LastChange returns the most recent history entry, or nil for a zero refund.
func (r *Refund) LastChange() *StatusChange {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// Apply appends a status change and moves the refund to next. History
// timestamps never go backward; an earlier clock reading is clamped to the
// previous entry's time.
func (r *Refund) Apply(next RefundStatus, actor, sourceEventID string, at time.Time) {
	if last := r.LastChange(); last != nil && at.Before(last.OccurredAt) {
		at = last.OccurredAt
	}
	r.History = append(r.History, StatusChange{
		Status:        next,
		OccurredAt:    at,
		Actor:         actor,
		SourceEventID: sourceEventID,
	})
	r.Status = next
	r.UpdatedAt = at
}

// SetGatewayReference records the gateway's reference the first time one is
// provided. Later values never overwrite it.
func (r *Refund) SetGatewayReference(ref string) {
	if ref == "" {
		return
	}
	if r.GatewayReference == nil || *r.GatewayReference == "" {
		r.GatewayReference = &ref
	}
}

// HistoryConsistent reports whether the status mirrors the last history entry
// and entry timestamps are monotonic.
func (r *Refund) HistoryConsistent() bool {
	if len(r.History) == 0 {
		return false
	}
	if r.History[len(r.History)-1].Status != r.Status {
		return false
	}
	for i := 1; i < len(r.History); i++ {
		if r.History[i].OccurredAt.Before(r.History[i-1].OccurredAt) {
			return false
		}
	}
	return true
}
