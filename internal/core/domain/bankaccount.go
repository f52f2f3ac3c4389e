package domain

import (
	"time"

	"github.com/google/uuid"
)

// BankAccountStatus represents the state of a payout destination.
type BankAccountStatus string

const (
	BankAccountStatusActive   BankAccountStatus = "ACTIVE"
	BankAccountStatusDisabled BankAccountStatus = "DISABLED"
)

// BankAccount is a payout destination for bank-transfer refunds. The account
// number is stored AES-256 encrypted; responses only ever carry the last four
// digits.
type BankAccount struct {
	ID               uuid.UUID         `json:"id"`
	HolderName       string            `json:"holder_name"`
	BankCode         string            `json:"bank_code"`
	AccountNumberEnc string            `json:"-"` // Encrypted, never expose
	NumberLast4      string            `json:"number_last4"`
	Currency         string            `json:"currency"`
	Status           BankAccountStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsActive returns true if the account may receive refunds.
func (a *BankAccount) IsActive() bool {
	return a.Status == BankAccountStatusActive
}

// MaskAccountNumber keeps only the last four digits for display.
func MaskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}
