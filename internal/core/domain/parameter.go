package domain

import "time"

// Parameter scopes and keys consumed by refund validation.
const (
	ParamScopeRefunds = "refunds"

	ParamKeyMaxAmount         = "max_amount"
	ParamKeyApprovalThreshold = "approval_threshold"
	ParamKeyAllowedCurrencies = "allowed_currencies" // comma-separated ISO codes
)

// Parameter is a scoped configuration value tunable from the portal.
type Parameter struct {
	Scope       string    `json:"scope"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
