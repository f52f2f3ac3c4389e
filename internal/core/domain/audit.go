package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited portal action.
type AuditAction string

const (
	AuditActionRefundCreate      AuditAction = "REFUND_CREATE"
	AuditActionRefundUpdate      AuditAction = "REFUND_UPDATE"
	AuditActionRefundSubmit      AuditAction = "REFUND_SUBMIT"
	AuditActionRefundApprove     AuditAction = "REFUND_APPROVE"
	AuditActionRefundReject      AuditAction = "REFUND_REJECT"
	AuditActionRefundCancel      AuditAction = "REFUND_CANCEL"
	AuditActionRefundDispatch    AuditAction = "REFUND_DISPATCH"
	AuditActionBankAccountCreate AuditAction = "BANK_ACCOUNT_CREATE"
	AuditActionBankAccountUpdate AuditAction = "BANK_ACCOUNT_UPDATE"
	AuditActionParameterWrite    AuditAction = "PARAMETER_WRITE"
	AuditActionRegister          AuditAction = "REGISTER"
	AuditActionLogin             AuditAction = "LOGIN"
)

// AuditLog records a single audited portal action.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	OperatorID   *uuid.UUID  `json:"operator_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
