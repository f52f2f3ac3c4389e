package ports

import (
	"context"
	"errors"
	"time"

	"refunds-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

// ErrVersionConflict is returned by RefundRepository.Save when the row's
// version no longer matches the one the refund was loaded with.
var ErrVersionConflict = errors.New("refund version conflict")

// RefundRepository defines persistence operations for refunds. Lookups return
// (nil, nil) when nothing matches.
type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
	// GetByGatewayReference finds the refund a gateway event belongs to.
	GetByGatewayReference(ctx context.Context, gatewayID, gatewayReference string) (*domain.Refund, error)
	// Save persists all mutable fields and the full history, conditioned on
	// expectedVersion. On success the in-memory version is bumped; on a lost
	// race it returns ErrVersionConflict.
	Save(ctx context.Context, tx pgx.Tx, refund *domain.Refund, expectedVersion int64) error
	List(ctx context.Context, params RefundListParams) ([]domain.Refund, int64, error)
	GetStats(ctx context.Context, from, to *int64) (*RefundStats, error)
	CompletedTotals(ctx context.Context, from, to *int64) ([]CurrencyTotal, error)
}

// RefundListParams holds filter + pagination for listing refunds.
type RefundListParams struct {
	Status         *domain.RefundStatus
	GatewayID      *string
	TransactionRef *string
	From           *int64 // Unix timestamp
	To             *int64 // Unix timestamp
	Page           int
	PageSize       int
}

// RefundStats holds aggregated refund counts for reporting.
type RefundStats struct {
	Total          int64
	Completed      int64
	Failed         int64
	Rejected       int64
	Canceled       int64
	AwaitingAction int64 // DRAFT through PROCESSING
	InFlight       int64 // GATEWAY_PENDING / GATEWAY_ERROR
}

// CurrencyTotal is a per-currency sum of completed refund amounts.
type CurrencyTotal struct {
	Currency string
	Total    decimal.Decimal
}

// ClaimOutcome classifies the result of an idempotency claim.
type ClaimOutcome int

const (
	// ClaimAcquired means this delivery owns processing of the event.
	ClaimAcquired ClaimOutcome = iota
	// ClaimDuplicate means a finalized record exists; replay its acknowledgment.
	ClaimDuplicate
	// ClaimInFlight means another delivery holds a fresh claim.
	ClaimInFlight
)

// ClaimResult carries the outcome of a claim attempt. Record is populated for
// ClaimDuplicate and ClaimInFlight so the caller can inspect the prior state.
type ClaimResult struct {
	Outcome ClaimOutcome
	Record  *domain.IdempotencyRecord
}

// IdempotencyLedger is the durable at-most-once guard for gateway events.
type IdempotencyLedger interface {
	// Claim atomically reserves (gatewayID, eventID). Concurrent deliveries of
	// the same event see exactly one ClaimAcquired; stale or abandoned claims
	// may be taken over once.
	Claim(ctx context.Context, gatewayID, eventID string) (*ClaimResult, error)
	// Finalize moves a claimed record to a final state, recording the
	// acknowledgment to replay and the refund version it applied against.
	Finalize(ctx context.Context, gatewayID, eventID string, state domain.IdempotencyState, ackJSON []byte, refundVersion *int64) error
	// Get returns the record or (nil, nil).
	Get(ctx context.Context, gatewayID, eventID string) (*domain.IdempotencyRecord, error)
}

// GatewayEventRepository stores every claimed gateway event, including the
// ones that produce no transition.
type GatewayEventRepository interface {
	Insert(ctx context.Context, event *domain.GatewayEvent) error
}

// AnomalyRepository stores reconciliation anomalies for operator review.
type AnomalyRepository interface {
	Insert(ctx context.Context, anomaly *domain.Anomaly) error
	List(ctx context.Context, params AnomalyListParams) ([]domain.Anomaly, int64, error)
}

// AnomalyListParams holds filter + pagination for listing anomalies.
type AnomalyListParams struct {
	Kind      *domain.AnomalyKind
	GatewayID *string
	From      *int64 // Unix timestamp
	To        *int64 // Unix timestamp
	Page      int
	PageSize  int
}

// RefundEventRepository is the transactional outbox for domain events.
type RefundEventRepository interface {
	// Insert writes the event in the same transaction as the refund save.
	Insert(ctx context.Context, tx pgx.Tx, event *domain.RefundEvent) error
	ListPending(ctx context.Context, limit int) ([]domain.RefundEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error
	// MarkFailed records a failed delivery attempt. final moves the event to
	// FAILED so the sweep stops retrying it; otherwise it stays PENDING.
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string, final bool) error
}

// BankAccountRepository defines persistence operations for payout accounts.
type BankAccountRepository interface {
	Create(ctx context.Context, account *domain.BankAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	List(ctx context.Context) ([]domain.BankAccount, error)
	Update(ctx context.Context, account *domain.BankAccount) error
}

// ParameterRepository defines persistence operations for scoped parameters.
type ParameterRepository interface {
	Upsert(ctx context.Context, p *domain.Parameter) error
	Get(ctx context.Context, scope, key string) (*domain.Parameter, error)
	ListByScope(ctx context.Context, scope string) ([]domain.Parameter, error)
	Delete(ctx context.Context, scope, key string) error
}

// OperatorRepository defines persistence operations for portal users.
type OperatorRepository interface {
	Create(ctx context.Context, operator *domain.Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error)
	GetByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Insert(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
