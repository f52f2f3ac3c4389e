package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"refunds-service/config"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// stubHTTPClient lets tests script the callback endpoint.
type stubHTTPClient func(req *http.Request) (*http.Response, error)

func (f stubHTTPClient) Do(req *http.Request) (*http.Response, error) { return f(req) }

func httpResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

type notificationTestDeps struct {
	eventRepo *mocks.MockRefundEventRepository
	svc       *NotificationServiceImpl
}

func setupNotification(t *testing.T, client HTTPClient) *notificationTestDeps {
	t.Helper()
	ctrl := gomock.NewController(t)
	eventRepo := mocks.NewMockRefundEventRepository(ctrl)
	cfg := config.NotifierConfig{
		Enabled:      true,
		CallbackURL:  "https://portal.example.com/hooks/refunds",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		MaxAttempts:  5,
		BatchSize:    50,
	}
	return &notificationTestDeps{
		eventRepo: eventRepo,
		svc:       NewNotificationService(eventRepo, client, cfg, zerolog.Nop()),
	}
}

func refundInTerminalStatus(status domain.RefundStatus) *domain.Refund {
	now := time.Now().UTC()
	refund := domain.NewRefund("ORDER-001", decimal.NewFromFloat(25.50), "EUR", domain.RefundMethodCard, "ops@merchant.example", now)
	refund.Apply(status, "test", "", now)
	return refund
}

func pendingEvent(attempt int) domain.RefundEvent {
	return domain.RefundEvent{
		ID:        uuid.New(),
		RefundID:  uuid.New(),
		EventType: domain.RefundEventCompleted,
		Payload:   []byte(`{"transaction_ref":"ORDER-001","status":"COMPLETED"}`),
		Status:    domain.NotificationStatusPending,
		Attempt:   attempt,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
}

// ==================== Emit Tests ====================

func TestNotificationService_Emit_RecordsTerminalEvent(t *testing.T) {
	deps := setupNotification(t, nil)
	refund := refundInTerminalStatus(domain.RefundStatusCompleted)

	var inserted *domain.RefundEvent
	deps.eventRepo.EXPECT().
		Insert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, event *domain.RefundEvent) error {
			inserted = event
			return nil
		})

	err := deps.svc.Emit(context.Background(), &mockTx{}, refund)

	require.NoError(t, err)
	require.NotNil(t, inserted)
	assert.Equal(t, refund.ID, inserted.RefundID)
	assert.Equal(t, domain.RefundEventCompleted, inserted.EventType)
	assert.Equal(t, domain.NotificationStatusPending, inserted.Status)

	var snapshot struct {
		TransactionRef string `json:"transaction_ref"`
		Status         string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(inserted.Payload, &snapshot))
	assert.Equal(t, "ORDER-001", snapshot.TransactionRef)
	assert.Equal(t, "COMPLETED", snapshot.Status)
}

func TestNotificationService_Emit_CanceledEmitsNothing(t *testing.T) {
	deps := setupNotification(t, nil)
	refund := refundInTerminalStatus(domain.RefundStatusCanceled)

	err := deps.svc.Emit(context.Background(), &mockTx{}, refund)

	require.NoError(t, err)
}

func TestNotificationService_Emit_PropagatesInsertFailure(t *testing.T) {
	deps := setupNotification(t, nil)
	refund := refundInTerminalStatus(domain.RefundStatusFailed)

	deps.eventRepo.EXPECT().
		Insert(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset"))

	err := deps.svc.Emit(context.Background(), &mockTx{}, refund)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert refund event")
}

// ==================== Relay Tests ====================

func TestNotificationService_Sweep_DeliversPendingEvent(t *testing.T) {
	event := pendingEvent(0)

	var captured *http.Request
	var body []byte
	client := stubHTTPClient(func(req *http.Request) (*http.Response, error) {
		captured = req
		var err error
		body, err = io.ReadAll(req.Body)
		require.NoError(t, err)
		return httpResponse(http.StatusOK), nil
	})
	deps := setupNotification(t, client)

	deps.eventRepo.EXPECT().ListPending(gomock.Any(), 50).Return([]domain.RefundEvent{event}, nil)
	deps.eventRepo.EXPECT().MarkDelivered(gomock.Any(), event.ID, gomock.Any()).Return(nil)

	deps.svc.sweep(context.Background())

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "https://portal.example.com/hooks/refunds", captured.URL.String())
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "refund.completed", captured.Header.Get("X-Refund-Event"))

	var envelope struct {
		ID        uuid.UUID `json:"id"`
		EventType string    `json:"event_type"`
		Refund    struct {
			TransactionRef string `json:"transaction_ref"`
		} `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, event.ID, envelope.ID)
	assert.Equal(t, "refund.completed", envelope.EventType)
	assert.Equal(t, "ORDER-001", envelope.Refund.TransactionRef)
}

func TestNotificationService_Sweep_CallbackErrorKeepsEventPending(t *testing.T) {
	event := pendingEvent(0)
	client := stubHTTPClient(func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusInternalServerError), nil
	})
	deps := setupNotification(t, client)

	deps.eventRepo.EXPECT().ListPending(gomock.Any(), 50).Return([]domain.RefundEvent{event}, nil)
	deps.eventRepo.EXPECT().
		MarkFailed(gomock.Any(), event.ID, 1, "callback answered 500", false).
		Return(nil)

	deps.svc.sweep(context.Background())
}

func TestNotificationService_Sweep_NetworkErrorCountsAttempt(t *testing.T) {
	event := pendingEvent(2)
	client := stubHTTPClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	deps := setupNotification(t, client)

	deps.eventRepo.EXPECT().ListPending(gomock.Any(), 50).Return([]domain.RefundEvent{event}, nil)
	deps.eventRepo.EXPECT().
		MarkFailed(gomock.Any(), event.ID, 3, gomock.Any(), false).
		Return(nil)

	deps.svc.sweep(context.Background())
}

func TestNotificationService_Sweep_ExhaustedAttemptsParkEvent(t *testing.T) {
	event := pendingEvent(4) // next failure is attempt 5 of 5
	client := stubHTTPClient(func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusBadGateway), nil
	})
	deps := setupNotification(t, client)

	deps.eventRepo.EXPECT().ListPending(gomock.Any(), 50).Return([]domain.RefundEvent{event}, nil)
	deps.eventRepo.EXPECT().
		MarkFailed(gomock.Any(), event.ID, 5, "callback answered 502", true).
		Return(nil)

	deps.svc.sweep(context.Background())
}

func TestNotificationService_Sweep_DeliversBatchInOrder(t *testing.T) {
	first := pendingEvent(0)
	second := pendingEvent(0)

	var urls []uuid.UUID
	client := stubHTTPClient(func(req *http.Request) (*http.Response, error) {
		var envelope struct {
			ID uuid.UUID `json:"id"`
		}
		body, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(body, &envelope))
		urls = append(urls, envelope.ID)
		return httpResponse(http.StatusNoContent), nil
	})
	deps := setupNotification(t, client)

	deps.eventRepo.EXPECT().ListPending(gomock.Any(), 50).Return([]domain.RefundEvent{first, second}, nil)
	deps.eventRepo.EXPECT().MarkDelivered(gomock.Any(), first.ID, gomock.Any()).Return(nil)
	deps.eventRepo.EXPECT().MarkDelivered(gomock.Any(), second.ID, gomock.Any()).Return(nil)

	deps.svc.sweep(context.Background())

	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, urls)
}

func TestNotificationService_Run_DisabledReturnsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventRepo := mocks.NewMockRefundEventRepository(ctrl)
	svc := NewNotificationService(eventRepo, nil, config.NotifierConfig{Enabled: false}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not exit when disabled")
	}
}
