package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"
	"refunds-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultPageSize = 20

// RefundServiceImpl implements ports.RefundService: the operator-driven side
// of the refund lifecycle. Once Dispatch hands a refund to a gateway, only
// the reconciliation engine moves it.
type RefundServiceImpl struct {
	refundRepo  ports.RefundRepository
	accountRepo ports.BankAccountRepository
	paramRepo   ports.ParameterRepository
	notifier    ports.NotificationService
	transactor  ports.DBTransactor
	gateways    *gateway.Registry
	log         zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	refundRepo ports.RefundRepository,
	accountRepo ports.BankAccountRepository,
	paramRepo ports.ParameterRepository,
	notifier ports.NotificationService,
	transactor ports.DBTransactor,
	gateways *gateway.Registry,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		refundRepo:  refundRepo,
		accountRepo: accountRepo,
		paramRepo:   paramRepo,
		notifier:    notifier,
		transactor:  transactor,
		gateways:    gateways,
		log:         log,
	}
}

// Create opens a DRAFT refund. Parameter validation runs at Submit; creation
// only enforces structural rules.
func (s *RefundServiceImpl) Create(ctx context.Context, req ports.CreateRefundRequest) (*domain.Refund, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Method == domain.RefundMethodBankTransfer && req.BankAccountID == nil {
		return nil, apperror.ErrBankAccountRequired()
	}
	if req.BankAccountID != nil {
		if err := s.checkBankAccount(ctx, *req.BankAccountID); err != nil {
			return nil, err
		}
	}

	refund := domain.NewRefund(req.TransactionRef, req.Amount, strings.ToUpper(req.Currency), req.Method, req.Actor, time.Now().UTC())
	refund.BankAccountID = req.BankAccountID
	refund.Reason = req.Reason

	if err := s.refundRepo.Create(ctx, refund); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create refund: %w", err))
	}

	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("transaction_ref", refund.TransactionRef).
		Str("amount", refund.Amount.String()).
		Msg("refund draft created")
	return refund, nil
}

// UpdateDraft edits a DRAFT refund in place. No history entry is written;
// only submitted data has a lifecycle.
func (s *RefundServiceImpl) UpdateDraft(ctx context.Context, id uuid.UUID, req ports.UpdateRefundRequest) (*domain.Refund, error) {
	refund, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund.Status != domain.RefundStatusDraft {
		return nil, apperror.ErrNotEditable(string(refund.Status))
	}

	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, apperror.ErrInvalidAmount()
		}
		refund.Amount = *req.Amount
	}
	if req.Currency != nil {
		refund.Currency = strings.ToUpper(*req.Currency)
	}
	if req.Method != nil {
		refund.Method = *req.Method
	}
	if req.BankAccountID != nil {
		if err := s.checkBankAccount(ctx, *req.BankAccountID); err != nil {
			return nil, err
		}
		refund.BankAccountID = req.BankAccountID
	}
	if req.Reason != nil {
		refund.Reason = *req.Reason
	}
	if refund.Method == domain.RefundMethodBankTransfer && refund.BankAccountID == nil {
		return nil, apperror.ErrBankAccountRequired()
	}

	expected := refund.Version
	refund.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, refund, expected); err != nil {
		return nil, err
	}
	return refund, nil
}

// Submit moves a refund through SUBMITTED and routes it by parameter
// validation: VALIDATION_FAILED, PENDING_APPROVAL above the approval
// threshold, PROCESSING otherwise. The routed status is what gets persisted;
// SUBMITTED survives as a history entry.
func (s *RefundServiceImpl) Submit(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error) {
	refund, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(refund.Status, domain.RefundStatusSubmitted) {
		return nil, apperror.ErrIllegalTransition(string(refund.Status), string(domain.RefundStatusSubmitted))
	}

	expected := refund.Version
	now := time.Now().UTC()
	refund.Apply(domain.RefundStatusSubmitted, actor, "", now)

	next, err := s.routeSubmission(ctx, refund)
	if err != nil {
		return nil, err
	}
	refund.Apply(next, actor, "", now)

	if err := s.save(ctx, refund, expected); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("status", string(refund.Status)).
		Msg("refund submitted")
	return refund, nil
}

// Approve releases a PENDING_APPROVAL refund into PROCESSING.
func (s *RefundServiceImpl) Approve(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error) {
	return s.transition(ctx, id, domain.RefundStatusProcessing, actor)
}

// Reject turns down a PENDING_APPROVAL refund. REJECTED is terminal and
// emits a domain event.
func (s *RefundServiceImpl) Reject(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error) {
	return s.transition(ctx, id, domain.RefundStatusRejected, actor)
}

// Cancel withdraws a refund that has not reached a gateway.
func (s *RefundServiceImpl) Cancel(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error) {
	return s.transition(ctx, id, domain.RefundStatusCanceled, actor)
}

// Dispatch hands a PROCESSING refund to the chosen gateway. From
// GATEWAY_PENDING on, only gateway events move the refund.
func (s *RefundServiceImpl) Dispatch(ctx context.Context, id uuid.UUID, gatewayID, actor string) (*domain.Refund, error) {
	if _, ok := s.gateways.Get(gatewayID); !ok {
		return nil, apperror.ErrUnknownGateway(gatewayID)
	}
	refund, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(refund.Status, domain.RefundStatusGatewayPending) {
		return nil, apperror.ErrIllegalTransition(string(refund.Status), string(domain.RefundStatusGatewayPending))
	}

	expected := refund.Version
	refund.GatewayID = gatewayID
	refund.Apply(domain.RefundStatusGatewayPending, actor, "", time.Now().UTC())

	if err := s.save(ctx, refund, expected); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("gateway_id", gatewayID).
		Msg("refund dispatched to gateway")
	return refund, nil
}

// Get returns a refund by id.
func (s *RefundServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	return s.load(ctx, id)
}

// List returns refunds matching the filters plus the unpaged total.
func (s *RefundServiceImpl) List(ctx context.Context, params ports.RefundListParams) ([]domain.Refund, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = defaultPageSize
	}
	refunds, total, err := s.refundRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list refunds: %w", err))
	}
	return refunds, total, nil
}

// transition performs a single operator-driven status move.
func (s *RefundServiceImpl) transition(ctx context.Context, id uuid.UUID, next domain.RefundStatus, actor string) (*domain.Refund, error) {
	refund, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund.Status.IsTerminal() {
		return nil, apperror.ErrRefundTerminal(string(refund.Status))
	}
	if !domain.CanTransition(refund.Status, next) {
		return nil, apperror.ErrIllegalTransition(string(refund.Status), string(next))
	}

	expected := refund.Version
	from := refund.Status
	refund.Apply(next, actor, "", time.Now().UTC())

	if err := s.save(ctx, refund, expected); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("from", string(from)).
		Str("to", string(next)).
		Str("actor", actor).
		Msg("refund transitioned")
	return refund, nil
}

// routeSubmission validates a just-submitted refund against the configured
// parameters and decides its next status.
func (s *RefundServiceImpl) routeSubmission(ctx context.Context, refund *domain.Refund) (domain.RefundStatus, error) {
	logger := s.log.With().Str("refund_id", refund.ID.String()).Logger()

	allowed, err := s.paramRepo.Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("get %s: %w", domain.ParamKeyAllowedCurrencies, err))
	}
	if allowed != nil && !currencyAllowed(refund.Currency, allowed.Value) {
		logger.Info().Str("currency", refund.Currency).Msg("refund validation failed: currency not allowed")
		return domain.RefundStatusValidationFailed, nil
	}

	maxAmount, err := s.decimalParam(ctx, domain.ParamKeyMaxAmount)
	if err != nil {
		return "", err
	}
	if maxAmount != nil && refund.Amount.GreaterThan(*maxAmount) {
		logger.Info().Str("amount", refund.Amount.String()).Str("max", maxAmount.String()).Msg("refund validation failed: amount above maximum")
		return domain.RefundStatusValidationFailed, nil
	}

	if refund.Method == domain.RefundMethodBankTransfer {
		if refund.BankAccountID == nil {
			logger.Info().Msg("refund validation failed: bank account missing")
			return domain.RefundStatusValidationFailed, nil
		}
		account, err := s.accountRepo.GetByID(ctx, *refund.BankAccountID)
		if err != nil {
			return "", apperror.ErrDatabaseError(fmt.Errorf("get bank account: %w", err))
		}
		if account == nil || !account.IsActive() {
			logger.Info().Str("bank_account_id", refund.BankAccountID.String()).Msg("refund validation failed: bank account unavailable")
			return domain.RefundStatusValidationFailed, nil
		}
	}

	threshold, err := s.decimalParam(ctx, domain.ParamKeyApprovalThreshold)
	if err != nil {
		return "", err
	}
	if threshold != nil && refund.Amount.GreaterThanOrEqual(*threshold) {
		return domain.RefundStatusPendingApproval, nil
	}
	return domain.RefundStatusProcessing, nil
}

// decimalParam reads a refunds-scope parameter as a decimal, nil when unset.
func (s *RefundServiceImpl) decimalParam(ctx context.Context, key string) (*decimal.Decimal, error) {
	p, err := s.paramRepo.Get(ctx, domain.ParamScopeRefunds, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get %s: %w", key, err))
	}
	if p == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(p.Value))
	if err != nil {
		return nil, apperror.ErrParameterMalformed(key)
	}
	return &value, nil
}

// checkBankAccount requires the account to exist and be ACTIVE.
func (s *RefundServiceImpl) checkBankAccount(ctx context.Context, id uuid.UUID) error {
	account, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("get bank account: %w", err))
	}
	if account == nil {
		return apperror.ErrNotFound("bank account")
	}
	if !account.IsActive() {
		return apperror.ErrBankAccountInactive()
	}
	return nil
}

// save persists the refund conditioned on expected and, for terminal
// statuses, emits the domain event in the same transaction.
func (s *RefundServiceImpl) save(ctx context.Context, refund *domain.Refund, expected int64) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.refundRepo.Save(ctx, dbTx, refund, expected); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return apperror.ErrVersionConflict()
		}
		return apperror.ErrDatabaseError(fmt.Errorf("save refund: %w", err))
	}

	if refund.Status.IsTerminal() {
		if err := s.notifier.Emit(ctx, dbTx, refund); err != nil {
			return apperror.InternalError(fmt.Errorf("emit refund event: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// load fetches a refund or returns RFD_001.
func (s *RefundServiceImpl) load(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	refund, err := s.refundRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get refund: %w", err))
	}
	if refund == nil {
		return nil, apperror.ErrNotFound("refund")
	}
	return refund, nil
}

// currencyAllowed checks a currency against a comma-separated allow list.
func currencyAllowed(currency, list string) bool {
	for _, c := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(c), currency) {
			return true
		}
	}
	return false
}
