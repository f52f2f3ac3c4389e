package ports

import (
	"context"
	"net/http"
	"time"

	"refunds-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations for portal operators.
type TokenService interface {
	Generate(operatorID uuid.UUID, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OperatorID uuid.UUID
	Username   string
}

// AckCache is the Redis fast path for replaying recorded acknowledgments to
// redelivered events without touching the ledger.
type AckCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached ack JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// ReconciliationService applies gateway webhook deliveries to refunds.
// Failures are folded into the acknowledgment; the error channel stays quiet
// so the boundary can always answer the gateway.
type ReconciliationService interface {
	Reconcile(ctx context.Context, gatewayID string, body []byte, header http.Header) domain.Ack
}

// RefundService defines the operator-driven refund lifecycle.
type RefundService interface {
	Create(ctx context.Context, req CreateRefundRequest) (*domain.Refund, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, req UpdateRefundRequest) (*domain.Refund, error)
	Submit(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error)
	Approve(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error)
	Reject(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error)
	Cancel(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error)
	// Dispatch hands the refund to a gateway: PROCESSING -> GATEWAY_PENDING.
	// From there only gateway events move it.
	Dispatch(ctx context.Context, id uuid.UUID, gatewayID, actor string) (*domain.Refund, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
	List(ctx context.Context, params RefundListParams) ([]domain.Refund, int64, error)
}

// CreateRefundRequest holds validated input for creating a draft refund.
type CreateRefundRequest struct {
	TransactionRef string
	Amount         decimal.Decimal
	Currency       string
	Method         domain.RefundMethod
	BankAccountID  *uuid.UUID
	Reason         string
	Actor          string
}

// UpdateRefundRequest holds editable draft fields. Nil pointers leave the
// field unchanged.
type UpdateRefundRequest struct {
	Amount        *decimal.Decimal
	Currency      *string
	Method        *domain.RefundMethod
	BankAccountID *uuid.UUID
	Reason        *string
	Actor         string
}

// NotificationService emits domain events on terminal transitions through the
// transactional outbox.
type NotificationService interface {
	Emit(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error
}

// BankAccountService manages payout destinations.
type BankAccountService interface {
	Create(ctx context.Context, req CreateBankAccountRequest) (*domain.BankAccount, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	List(ctx context.Context) ([]domain.BankAccount, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateBankAccountRequest) (*domain.BankAccount, error)
}

// CreateBankAccountRequest holds validated input for a new payout account.
type CreateBankAccountRequest struct {
	HolderName    string
	BankCode      string
	AccountNumber string // plaintext, encrypted before storage
	Currency      string
}

// UpdateBankAccountRequest holds the mutable account fields.
type UpdateBankAccountRequest struct {
	HolderName *string
	Status     *domain.BankAccountStatus
}

// ParameterService manages scoped configuration parameters.
type ParameterService interface {
	Set(ctx context.Context, scope, key, value, description string) (*domain.Parameter, error)
	Get(ctx context.Context, scope, key string) (*domain.Parameter, error)
	ListByScope(ctx context.Context, scope string) ([]domain.Parameter, error)
	Delete(ctx context.Context, scope, key string) error
}

// ReportService produces the portal's read-side summaries.
type ReportService interface {
	RefundSummary(ctx context.Context, from, to *int64) (*RefundSummary, error)
	ListAnomalies(ctx context.Context, params AnomalyListParams) ([]domain.Anomaly, int64, error)
}

// RefundSummary aggregates refund stats with per-currency completed totals.
type RefundSummary struct {
	Stats           RefundStats
	CompletedTotals []CurrencyTotal
}

// AuthService defines portal authentication.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.Operator, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// AuditService records portal actions for the audit trail. Log must never
// block the request path.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
