package dto

import (
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
)

// RegisterRequest is the request body for operator registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// OperatorResponse is the public view of a portal operator.
type OperatorResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateRefundRequest is the request body for creating a draft refund.
// Amount travels as a decimal string; floats would corrupt money.
type CreateRefundRequest struct {
	TransactionRef string  `json:"transaction_ref" binding:"required,max=100,safe_id"`
	Amount         string  `json:"amount" binding:"required,max=32,decimal_amount"`
	Currency       string  `json:"currency" binding:"required,currency_code"`
	Method         string  `json:"method" binding:"required,oneof=CARD BANK_TRANSFER"`
	BankAccountID  *string `json:"bank_account_id,omitempty" binding:"omitempty,uuid"`
	Reason         string  `json:"reason" binding:"max=500"`
}

// UpdateRefundRequest carries editable draft fields; omitted fields are left
// unchanged.
type UpdateRefundRequest struct {
	Amount        *string `json:"amount,omitempty" binding:"omitempty,max=32,decimal_amount"`
	Currency      *string `json:"currency,omitempty" binding:"omitempty,currency_code"`
	Method        *string `json:"method,omitempty" binding:"omitempty,oneof=CARD BANK_TRANSFER"`
	BankAccountID *string `json:"bank_account_id,omitempty" binding:"omitempty,uuid"`
	Reason        *string `json:"reason,omitempty" binding:"omitempty,max=500"`
}

// DispatchRefundRequest names the gateway that should execute the refund.
type DispatchRefundRequest struct {
	GatewayID string `json:"gateway_id" binding:"required,safe_id"`
}

// StatusChangeResponse is one refund history entry.
type StatusChangeResponse struct {
	Status        string `json:"status"`
	OccurredAt    string `json:"occurred_at"`
	Actor         string `json:"actor"`
	SourceEventID string `json:"source_event_id,omitempty"`
}

// RefundResponse is the API view of a refund.
type RefundResponse struct {
	ID               string                 `json:"id"`
	TransactionRef   string                 `json:"transaction_ref"`
	Amount           string                 `json:"amount"`
	Currency         string                 `json:"currency"`
	Method           string                 `json:"method"`
	BankAccountID    *string                `json:"bank_account_id,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	GatewayID        string                 `json:"gateway_id,omitempty"`
	GatewayReference *string                `json:"gateway_reference,omitempty"`
	Status           string                 `json:"status"`
	Version          int64                  `json:"version"`
	History          []StatusChangeResponse `json:"history"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

// RefundListResponse wraps a paginated refund list.
type RefundListResponse struct {
	Items      []RefundResponse `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// CreateBankAccountRequest is the request body for a new payout account.
type CreateBankAccountRequest struct {
	HolderName    string `json:"holder_name" binding:"required,min=1,max=100"`
	BankCode      string `json:"bank_code" binding:"required,min=1,max=20,safe_id"`
	AccountNumber string `json:"account_number" binding:"required,min=4,max=64"`
	Currency      string `json:"currency" binding:"required,currency_code"`
}

// UpdateBankAccountRequest carries the mutable account fields.
type UpdateBankAccountRequest struct {
	HolderName *string `json:"holder_name,omitempty" binding:"omitempty,min=1,max=100"`
	Status     *string `json:"status,omitempty" binding:"omitempty,oneof=ACTIVE DISABLED"`
}

// BankAccountResponse never carries the account number, only the last four
// digits.
type BankAccountResponse struct {
	ID          string `json:"id"`
	HolderName  string `json:"holder_name"`
	BankCode    string `json:"bank_code"`
	NumberLast4 string `json:"number_last4"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// SetParameterRequest is the request body for writing a parameter.
type SetParameterRequest struct {
	Value       string `json:"value" binding:"required,max=500"`
	Description string `json:"description" binding:"max=200"`
}

// ParameterResponse is the API view of a parameter.
type ParameterResponse struct {
	Scope       string `json:"scope"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// RefundSummaryResponse aggregates refund counts with per-currency completed
// totals.
type RefundSummaryResponse struct {
	Total           int64                   `json:"total"`
	Completed       int64                   `json:"completed"`
	Failed          int64                   `json:"failed"`
	Rejected        int64                   `json:"rejected"`
	Canceled        int64                   `json:"canceled"`
	AwaitingAction  int64                   `json:"awaiting_action"`
	InFlight        int64                   `json:"in_flight"`
	CompletedTotals []CurrencyTotalResponse `json:"completed_totals"`
}

// CurrencyTotalResponse is one per-currency sum of completed refunds.
type CurrencyTotalResponse struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
}

// AnomalyResponse is the API view of a reconciliation anomaly.
type AnomalyResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	GatewayID string  `json:"gateway_id"`
	EventID   string  `json:"event_id,omitempty"`
	RefundID  *string `json:"refund_id,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// AnomalyListResponse wraps a paginated anomaly list.
type AnomalyListResponse struct {
	Items      []AnomalyResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// FromRefund maps a domain refund onto its API view.
func FromRefund(r *domain.Refund) RefundResponse {
	resp := RefundResponse{
		ID:               r.ID.String(),
		TransactionRef:   r.TransactionRef,
		Amount:           r.Amount.String(),
		Currency:         r.Currency,
		Method:           string(r.Method),
		Reason:           r.Reason,
		GatewayID:        r.GatewayID,
		GatewayReference: r.GatewayReference,
		Status:           string(r.Status),
		Version:          r.Version,
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.BankAccountID != nil {
		id := r.BankAccountID.String()
		resp.BankAccountID = &id
	}
	resp.History = make([]StatusChangeResponse, 0, len(r.History))
	for _, change := range r.History {
		resp.History = append(resp.History, StatusChangeResponse{
			Status:        string(change.Status),
			OccurredAt:    change.OccurredAt.UTC().Format(time.RFC3339),
			Actor:         change.Actor,
			SourceEventID: change.SourceEventID,
		})
	}
	return resp
}

// FromBankAccount maps a domain account onto its masked API view.
func FromBankAccount(a *domain.BankAccount) BankAccountResponse {
	return BankAccountResponse{
		ID:          a.ID.String(),
		HolderName:  a.HolderName,
		BankCode:    a.BankCode,
		NumberLast4: a.NumberLast4,
		Currency:    a.Currency,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// FromParameter maps a domain parameter onto its API view.
func FromParameter(p *domain.Parameter) ParameterResponse {
	return ParameterResponse{
		Scope:       p.Scope,
		Key:         p.Key,
		Value:       p.Value,
		Description: p.Description,
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// FromAnomaly maps a domain anomaly onto its API view.
func FromAnomaly(a *domain.Anomaly) AnomalyResponse {
	resp := AnomalyResponse{
		ID:        a.ID.String(),
		Kind:      string(a.Kind),
		GatewayID: a.GatewayID,
		EventID:   a.EventID,
		Detail:    a.Detail,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.RefundID != nil {
		id := a.RefundID.String()
		resp.RefundID = &id
	}
	return resp
}

// FromRefundSummary maps the read-side summary onto its API view.
func FromRefundSummary(s *ports.RefundSummary) RefundSummaryResponse {
	resp := RefundSummaryResponse{
		Total:           s.Stats.Total,
		Completed:       s.Stats.Completed,
		Failed:          s.Stats.Failed,
		Rejected:        s.Stats.Rejected,
		Canceled:        s.Stats.Canceled,
		AwaitingAction:  s.Stats.AwaitingAction,
		InFlight:        s.Stats.InFlight,
		CompletedTotals: make([]CurrencyTotalResponse, 0, len(s.CompletedTotals)),
	}
	for _, total := range s.CompletedTotals {
		resp.CompletedTotals = append(resp.CompletedTotals, CurrencyTotalResponse{
			Currency: total.Currency,
			Total:    total.Total.String(),
		})
	}
	return resp
}

// TotalPages computes the page count for a paginated response.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		pages++
	}
	return pages
}
