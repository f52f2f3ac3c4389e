package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupBankAccountService(t *testing.T) (
	*BankAccountServiceImpl,
	*mocks.MockBankAccountRepository,
	*mocks.MockEncryptionService,
) {
	ctrl := gomock.NewController(t)
	accountRepo := mocks.NewMockBankAccountRepository(ctrl)
	encSvc := mocks.NewMockEncryptionService(ctrl)

	svc := NewBankAccountService(accountRepo, encSvc, zerolog.Nop())
	return svc, accountRepo, encSvc
}

func TestBankAccountService_Create_EncryptsNumber(t *testing.T) {
	svc, accountRepo, encSvc := setupBankAccountService(t)
	ctx := context.Background()

	encSvc.EXPECT().Encrypt("DE89370400440532013000").Return("enc:opaque", nil)

	var created *domain.BankAccount
	accountRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, account *domain.BankAccount) error {
			created = account
			return nil
		})

	account, err := svc.Create(ctx, ports.CreateBankAccountRequest{
		HolderName:    "ACME GmbH",
		BankCode:      "COBADEFF",
		AccountNumber: "DE89370400440532013000",
		Currency:      "eur",
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "enc:opaque", account.AccountNumberEnc)
	assert.Equal(t, "3000", account.NumberLast4)
	assert.Equal(t, "EUR", account.Currency)
	assert.Equal(t, domain.BankAccountStatusActive, account.Status)
}

func TestBankAccountService_Create_EmptyNumberRejected(t *testing.T) {
	svc, _, _ := setupBankAccountService(t)

	_, err := svc.Create(context.Background(), ports.CreateBankAccountRequest{
		HolderName:    "ACME GmbH",
		BankCode:      "COBADEFF",
		AccountNumber: "   ",
		Currency:      "EUR",
	})

	assertAppError(t, err, "RFD_002")
}

func TestBankAccountService_Create_EncryptionFailure(t *testing.T) {
	svc, _, encSvc := setupBankAccountService(t)

	encSvc.EXPECT().Encrypt(gomock.Any()).Return("", errors.New("bad key"))

	_, err := svc.Create(context.Background(), ports.CreateBankAccountRequest{
		HolderName:    "ACME GmbH",
		BankCode:      "COBADEFF",
		AccountNumber: "DE89370400440532013000",
		Currency:      "EUR",
	})

	assertAppError(t, err, "SYS_002")
}

func TestBankAccountService_Get_NotFound(t *testing.T) {
	svc, accountRepo, _ := setupBankAccountService(t)
	id := uuid.New()

	accountRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	_, err := svc.Get(context.Background(), id)

	assertAppError(t, err, "RFD_001")
}

func TestBankAccountService_Update_DisablesAccount(t *testing.T) {
	svc, accountRepo, _ := setupBankAccountService(t)
	ctx := context.Background()

	existing := &domain.BankAccount{
		ID:          uuid.New(),
		HolderName:  "ACME GmbH",
		BankCode:    "COBADEFF",
		NumberLast4: "3000",
		Currency:    "EUR",
		Status:      domain.BankAccountStatusActive,
		CreatedAt:   time.Now().Add(-time.Hour),
		UpdatedAt:   time.Now().Add(-time.Hour),
	}

	accountRepo.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil)
	accountRepo.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	disabled := domain.BankAccountStatusDisabled
	account, err := svc.Update(ctx, existing.ID, ports.UpdateBankAccountRequest{Status: &disabled})

	require.NoError(t, err)
	assert.Equal(t, domain.BankAccountStatusDisabled, account.Status)
	assert.True(t, account.UpdatedAt.After(account.CreatedAt))
}

func TestBankAccountService_Update_RejectsUnknownStatus(t *testing.T) {
	svc, accountRepo, _ := setupBankAccountService(t)
	ctx := context.Background()

	existing := &domain.BankAccount{ID: uuid.New(), Status: domain.BankAccountStatusActive}
	accountRepo.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil)

	bogus := domain.BankAccountStatus("FROZEN")
	_, err := svc.Update(ctx, existing.ID, ports.UpdateBankAccountRequest{Status: &bogus})

	assertAppError(t, err, "RFD_002")
}

func TestBankAccountService_Update_RenamesHolder(t *testing.T) {
	svc, accountRepo, _ := setupBankAccountService(t)
	ctx := context.Background()

	existing := &domain.BankAccount{
		ID:         uuid.New(),
		HolderName: "ACME GmbH",
		Status:     domain.BankAccountStatusActive,
	}
	accountRepo.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil)
	accountRepo.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	name := "ACME Holdings GmbH"
	account, err := svc.Update(ctx, existing.ID, ports.UpdateBankAccountRequest{HolderName: &name})

	require.NoError(t, err)
	assert.Equal(t, "ACME Holdings GmbH", account.HolderName)
	assert.Equal(t, domain.BankAccountStatusActive, account.Status)
}
