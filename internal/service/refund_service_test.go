package service

import (
	"context"
	"testing"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/core/ports/mocks"
	"refunds-service/internal/gateway"
	"refunds-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type refundTestDeps struct {
	svc         *RefundServiceImpl
	refundRepo  *mocks.MockRefundRepository
	accountRepo *mocks.MockBankAccountRepository
	paramRepo   *mocks.MockParameterRepository
	notifier    *mocks.MockNotificationService
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupRefundService(t *testing.T) *refundTestDeps {
	ctrl := gomock.NewController(t)
	d := &refundTestDeps{
		refundRepo:  mocks.NewMockRefundRepository(ctrl),
		accountRepo: mocks.NewMockBankAccountRepository(ctrl),
		paramRepo:   mocks.NewMockParameterRepository(ctrl),
		notifier:    mocks.NewMockNotificationService(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	registry := gateway.NewRegistry(
		gateway.NewCardlink(reconcileSecret, 5*time.Minute),
		gateway.NewSwiftpay(reconcileSecret, 5*time.Minute),
	)
	d.svc = NewRefundService(
		d.refundRepo, d.accountRepo, d.paramRepo, d.notifier,
		d.transactor, registry, zerolog.Nop(),
	)
	return d
}

// expectSave wires Begin + Save with the version bump a real save performs.
func (d *refundTestDeps) expectSave(ctx context.Context, tx pgx.Tx, expected int64) {
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.refundRepo.EXPECT().Save(ctx, tx, gomock.Any(), expected).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, r *domain.Refund, ev int64) error {
			r.Version = ev + 1
			return nil
		})
}

func activeAccount(id uuid.UUID) *domain.BankAccount {
	return &domain.BankAccount{
		ID:          id,
		HolderName:  "ACME GmbH",
		BankCode:    "DEUTDEFF",
		NumberLast4: "6789",
		Currency:    "EUR",
		Status:      domain.BankAccountStatusActive,
	}
}

func refundsParam(key, value string) *domain.Parameter {
	return &domain.Parameter{Scope: domain.ParamScopeRefunds, Key: key, Value: value}
}

// ==================== Create Tests ====================

func TestRefundService_Create_Success(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := ports.CreateRefundRequest{
		TransactionRef: "ORDER-001",
		Amount:         decimal.NewFromFloat(25.50),
		Currency:       "eur",
		Method:         domain.RefundMethodCard,
		Reason:         "customer complaint",
		Actor:          "ops@merchant",
	}

	d.refundRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)

	refund, err := d.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusDraft, refund.Status)
	assert.Equal(t, "EUR", refund.Currency)
	assert.Equal(t, int64(1), refund.Version)
	require.Len(t, refund.History, 1)
	assert.Equal(t, "ops@merchant", refund.History[0].Actor)
	assert.True(t, refund.HistoryConsistent())
}

func TestRefundService_Create_InvalidAmount(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Create(context.Background(), ports.CreateRefundRequest{
		TransactionRef: "ORDER-001",
		Amount:         decimal.Zero,
		Currency:       "EUR",
		Method:         domain.RefundMethodCard,
		Actor:          "ops@merchant",
	})
	assertAppError(t, err, "RFD_002")
}

func TestRefundService_Create_BankTransferRequiresAccount(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Create(context.Background(), ports.CreateRefundRequest{
		TransactionRef: "ORDER-001",
		Amount:         decimal.NewFromInt(10),
		Currency:       "EUR",
		Method:         domain.RefundMethodBankTransfer,
		Actor:          "ops@merchant",
	})
	assertAppError(t, err, "ACC_002")
}

func TestRefundService_Create_InactiveAccountRejected(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	account := activeAccount(accountID)
	account.Status = domain.BankAccountStatusDisabled

	d.accountRepo.EXPECT().GetByID(ctx, accountID).Return(account, nil)

	_, err := d.svc.Create(ctx, ports.CreateRefundRequest{
		TransactionRef: "ORDER-001",
		Amount:         decimal.NewFromInt(10),
		Currency:       "EUR",
		Method:         domain.RefundMethodBankTransfer,
		BankAccountID:  &accountID,
		Actor:          "ops@merchant",
	})
	assertAppError(t, err, "ACC_001")
}

// ==================== UpdateDraft Tests ====================

func TestRefundService_UpdateDraft_Success(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1)
	tx := &mockTx{}
	newAmount := decimal.NewFromFloat(99.95)
	newReason := "duplicate charge"

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.expectSave(ctx, tx, int64(1))

	updated, err := d.svc.UpdateDraft(ctx, refund.ID, ports.UpdateRefundRequest{
		Amount: &newAmount,
		Reason: &newReason,
		Actor:  "ops@merchant",
	})
	require.NoError(t, err)
	assert.True(t, newAmount.Equal(updated.Amount))
	assert.Equal(t, "duplicate charge", updated.Reason)
	assert.Equal(t, int64(2), updated.Version)
	// Draft edits do not append history.
	assert.Len(t, updated.History, 1)
}

func TestRefundService_UpdateDraft_NotDraft(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusProcessing, 2)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	_, err := d.svc.UpdateDraft(ctx, refund.ID, ports.UpdateRefundRequest{Actor: "ops@merchant"})
	assertAppError(t, err, "RFD_003")
}

// ==================== Submit Tests ====================

func TestRefundService_Submit_RoutesToProcessing(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyMaxAmount).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyApprovalThreshold).Return(nil, nil)
	d.expectSave(ctx, tx, int64(1))

	submitted, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusProcessing, submitted.Status)
	// DRAFT -> SUBMITTED -> PROCESSING, both recorded.
	require.Len(t, submitted.History, 3)
	assert.Equal(t, domain.RefundStatusSubmitted, submitted.History[1].Status)
	assert.Equal(t, int64(2), submitted.Version)
	assert.True(t, submitted.HistoryConsistent())
}

func TestRefundService_Submit_RoutesToPendingApproval(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1) // amount 25.50
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyMaxAmount).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyApprovalThreshold).
		Return(refundsParam(domain.ParamKeyApprovalThreshold, "20"), nil)
	d.expectSave(ctx, tx, int64(1))

	submitted, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusPendingApproval, submitted.Status)
}

func TestRefundService_Submit_CurrencyNotAllowed(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1) // EUR
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).
		Return(refundsParam(domain.ParamKeyAllowedCurrencies, "USD, GBP"), nil)
	d.expectSave(ctx, tx, int64(1))

	submitted, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusValidationFailed, submitted.Status)
}

func TestRefundService_Submit_AmountAboveMaximum(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1) // amount 25.50
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyMaxAmount).
		Return(refundsParam(domain.ParamKeyMaxAmount, "10.00"), nil)
	d.expectSave(ctx, tx, int64(1))

	submitted, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusValidationFailed, submitted.Status)
}

func TestRefundService_Submit_MalformedParameter(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyMaxAmount).
		Return(refundsParam(domain.ParamKeyMaxAmount, "lots"), nil)

	_, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	assertAppError(t, err, "PRM_002")
}

func TestRefundService_Submit_InactiveBankAccountFailsValidation(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	refund := refundInStatus(domain.RefundStatusDraft, 1)
	refund.Method = domain.RefundMethodBankTransfer
	refund.BankAccountID = &accountID
	account := activeAccount(accountID)
	account.Status = domain.BankAccountStatusDisabled
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyAllowedCurrencies).Return(nil, nil)
	d.paramRepo.EXPECT().Get(ctx, domain.ParamScopeRefunds, domain.ParamKeyMaxAmount).Return(nil, nil)
	d.accountRepo.EXPECT().GetByID(ctx, accountID).Return(account, nil)
	d.expectSave(ctx, tx, int64(1))

	submitted, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusValidationFailed, submitted.Status)
}

func TestRefundService_Submit_IllegalFromProcessing(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusProcessing, 2)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	_, err := d.svc.Submit(ctx, refund.ID, "ops@merchant")
	assertAppError(t, err, "RFD_003")
}

// ==================== Approve / Reject / Cancel Tests ====================

func TestRefundService_Approve_Success(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusPendingApproval, 2)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.expectSave(ctx, tx, int64(2))

	approved, err := d.svc.Approve(ctx, refund.ID, "admin@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusProcessing, approved.Status)
	assert.Equal(t, "admin@merchant", approved.LastChange().Actor)
	assert.Equal(t, int64(3), approved.Version)
}

func TestRefundService_Approve_IllegalFromDraft(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	_, err := d.svc.Approve(ctx, refund.ID, "admin@merchant")
	assertAppError(t, err, "RFD_003")
}

func TestRefundService_Reject_EmitsDomainEvent(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusPendingApproval, 2)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.expectSave(ctx, tx, int64(2))
	d.notifier.EXPECT().Emit(ctx, tx, refund).Return(nil)

	rejected, err := d.svc.Reject(ctx, refund.ID, "admin@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusRejected, rejected.Status)
	assert.True(t, rejected.Status.IsTerminal())
}

func TestRefundService_Cancel_FromPendingApproval(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusPendingApproval, 2)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.expectSave(ctx, tx, int64(2))
	// CANCELED is terminal; the notifier decides that no event type exists.
	d.notifier.EXPECT().Emit(ctx, tx, refund).Return(nil)

	canceled, err := d.svc.Cancel(ctx, refund.ID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCanceled, canceled.Status)
}

func TestRefundService_Cancel_TerminalRefund(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusCompleted, 4)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	_, err := d.svc.Cancel(ctx, refund.ID, "ops@merchant")
	assertAppError(t, err, "RFD_004")
}

func TestRefundService_Cancel_GatewayPendingLocked(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusGatewayPending, 3)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	// Once a gateway owns the refund, operators cannot pull it back.
	_, err := d.svc.Cancel(ctx, refund.ID, "ops@merchant")
	assertAppError(t, err, "RFD_003")
}

// ==================== Dispatch Tests ====================

func TestRefundService_Dispatch_Success(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusProcessing, 2)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.expectSave(ctx, tx, int64(2))

	dispatched, err := d.svc.Dispatch(ctx, refund.ID, gateway.SwiftpayID, "ops@merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusGatewayPending, dispatched.Status)
	assert.Equal(t, gateway.SwiftpayID, dispatched.GatewayID)
}

func TestRefundService_Dispatch_UnknownGateway(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Dispatch(context.Background(), uuid.New(), "acmepay", "ops@merchant")
	assertAppError(t, err, "WBK_001")
}

func TestRefundService_Dispatch_IllegalFromDraft(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusDraft, 1)

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)

	_, err := d.svc.Dispatch(ctx, refund.ID, gateway.CardlinkID, "ops@merchant")
	assertAppError(t, err, "RFD_003")
}

// ==================== Concurrency / Lookup Tests ====================

func TestRefundService_Approve_VersionConflict(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	refund := refundInStatus(domain.RefundStatusPendingApproval, 2)
	tx := &mockTx{}

	d.refundRepo.EXPECT().GetByID(ctx, refund.ID).Return(refund, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.refundRepo.EXPECT().Save(ctx, tx, gomock.Any(), int64(2)).Return(ports.ErrVersionConflict)

	_, err := d.svc.Approve(ctx, refund.ID, "admin@merchant")
	assertAppError(t, err, "RFD_005")
}

func TestRefundService_Get_NotFound(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()

	d.refundRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := d.svc.Get(ctx, id)
	assertAppError(t, err, "RFD_001")
}

func TestRefundService_List_DefaultsPagination(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()

	d.refundRepo.EXPECT().List(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.RefundListParams) ([]domain.Refund, int64, error) {
			assert.Equal(t, 1, params.Page)
			assert.Equal(t, defaultPageSize, params.PageSize)
			return []domain.Refund{}, 0, nil
		})

	_, total, err := d.svc.List(ctx, ports.RefundListParams{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

// ==================== Helper ====================

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
