package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BankAccountServiceImpl implements ports.BankAccountService.
type BankAccountServiceImpl struct {
	accountRepo ports.BankAccountRepository
	encSvc      ports.EncryptionService
	log         zerolog.Logger
}

// NewBankAccountService creates a new BankAccountServiceImpl.
func NewBankAccountService(
	accountRepo ports.BankAccountRepository,
	encSvc ports.EncryptionService,
	log zerolog.Logger,
) *BankAccountServiceImpl {
	return &BankAccountServiceImpl{
		accountRepo: accountRepo,
		encSvc:      encSvc,
		log:         log,
	}
}

// Create encrypts the account number and stores the payout destination.
// The plaintext number never reaches the repository or the logs.
func (s *BankAccountServiceImpl) Create(ctx context.Context, req ports.CreateBankAccountRequest) (*domain.BankAccount, error) {
	number := strings.TrimSpace(req.AccountNumber)
	if number == "" {
		return nil, apperror.Validation("account_number is required")
	}

	enc, err := s.encSvc.Encrypt(number)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt account number: %w", err))
	}

	now := time.Now().UTC()
	account := &domain.BankAccount{
		ID:               uuid.New(),
		HolderName:       req.HolderName,
		BankCode:         req.BankCode,
		AccountNumberEnc: enc,
		NumberLast4:      domain.MaskAccountNumber(number),
		Currency:         strings.ToUpper(req.Currency),
		Status:           domain.BankAccountStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create bank account: %w", err))
	}

	s.log.Info().
		Str("account_id", account.ID.String()).
		Str("bank_code", account.BankCode).
		Msg("bank account created")
	return account, nil
}

// Get loads a single payout account.
func (s *BankAccountServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	account, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get bank account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("bank account")
	}
	return account, nil
}

// List returns every payout account, active or not.
func (s *BankAccountServiceImpl) List(ctx context.Context) ([]domain.BankAccount, error) {
	accounts, err := s.accountRepo.List(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list bank accounts: %w", err))
	}
	return accounts, nil
}

// Update changes the holder name or status. Nil pointers leave the field
// unchanged; the account number is immutable, a new number means a new
// account.
func (s *BankAccountServiceImpl) Update(ctx context.Context, id uuid.UUID, req ports.UpdateBankAccountRequest) (*domain.BankAccount, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.HolderName != nil {
		account.HolderName = *req.HolderName
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.BankAccountStatusActive, domain.BankAccountStatusDisabled:
			account.Status = *req.Status
		default:
			return nil, apperror.Validation(fmt.Sprintf("unknown bank account status %s", *req.Status))
		}
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.accountRepo.Update(ctx, account); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update bank account: %w", err))
	}

	s.log.Info().
		Str("account_id", account.ID.String()).
		Str("status", string(account.Status)).
		Msg("bank account updated")
	return account, nil
}
