package postgres

import (
	"context"
	"errors"
	"fmt"

	"refunds-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BankAccountRepo implements ports.BankAccountRepository.
type BankAccountRepo struct {
	pool Pool
}

// NewBankAccountRepo creates a new BankAccountRepo.
func NewBankAccountRepo(pool Pool) *BankAccountRepo {
	return &BankAccountRepo{pool: pool}
}

// Create inserts a new bank account.
func (r *BankAccountRepo) Create(ctx context.Context, a *domain.BankAccount) error {
	query := `INSERT INTO bank_accounts (id, holder_name, bank_code, account_number_enc, number_last4, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.HolderName, a.BankCode, a.AccountNumberEnc,
		a.NumberLast4, a.Currency, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bank account: %w", err)
	}
	return nil
}

// GetByID fetches a bank account by UUID.
func (r *BankAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	query := `SELECT id, holder_name, bank_code, account_number_enc, number_last4, currency, status, created_at, updated_at
		FROM bank_accounts WHERE id = $1`

	a := &domain.BankAccount{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.HolderName, &a.BankCode, &a.AccountNumberEnc,
		&a.NumberLast4, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bank account by id: %w", err)
	}
	return a, nil
}

// List fetches all bank accounts, newest first.
func (r *BankAccountRepo) List(ctx context.Context) ([]domain.BankAccount, error) {
	query := `SELECT id, holder_name, bank_code, account_number_enc, number_last4, currency, status, created_at, updated_at
		FROM bank_accounts ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var a domain.BankAccount
		err := rows.Scan(
			&a.ID, &a.HolderName, &a.BankCode, &a.AccountNumberEnc,
			&a.NumberLast4, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bank account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank account rows: %w", err)
	}
	return accounts, nil
}

// Update persists the mutable bank account fields.
func (r *BankAccountRepo) Update(ctx context.Context, a *domain.BankAccount) error {
	query := `UPDATE bank_accounts SET holder_name = $1, status = $2, updated_at = $3 WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, a.HolderName, a.Status, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update bank account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bank account not found: %s", a.ID)
	}
	return nil
}
