package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"refunds-service/config"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// notificationEnvelope is the JSON body POSTed to the configured callback.
type notificationEnvelope struct {
	ID         uuid.UUID              `json:"id"`
	EventType  domain.RefundEventType `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Refund     json.RawMessage        `json:"refund"`
}

// NotificationServiceImpl implements ports.NotificationService as a
// transactional outbox: Emit writes the event inside the caller's
// transaction, Run delivers pending rows asynchronously. A relay failure
// leaves the row PENDING for the next sweep.
type NotificationServiceImpl struct {
	eventRepo  ports.RefundEventRepository
	httpClient HTTPClient
	cfg        config.NotifierConfig
	log        zerolog.Logger
}

// NewNotificationService creates a new NotificationServiceImpl.
func NewNotificationService(
	eventRepo ports.RefundEventRepository,
	httpClient HTTPClient,
	cfg config.NotifierConfig,
	log zerolog.Logger,
) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		eventRepo:  eventRepo,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
	}
}

// Emit records the refund's terminal event in the caller's transaction.
// Statuses without an event type (CANCELED) emit nothing.
func (s *NotificationServiceImpl) Emit(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	eventType, ok := domain.RefundEventTypeFor(refund.Status)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(refund)
	if err != nil {
		return fmt.Errorf("marshal refund snapshot: %w", err)
	}
	event := &domain.RefundEvent{
		ID:        uuid.New(),
		RefundID:  refund.ID,
		EventType: eventType,
		Payload:   payload,
		Status:    domain.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.eventRepo.Insert(ctx, tx, event); err != nil {
		return fmt.Errorf("insert refund event: %w", err)
	}

	s.log.Debug().
		Str("refund_id", refund.ID.String()).
		Str("event_type", string(eventType)).
		Msg("outbox: refund event recorded")
	return nil
}

// Run sweeps the outbox until ctx is canceled. Meant to run as a single
// background goroutine; concurrent relays would race on the same rows.
func (s *NotificationServiceImpl) Run(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.CallbackURL == "" {
		s.log.Info().Msg("outbox: relay disabled, events stay pending")
		return
	}

	s.log.Info().
		Str("callback_url", s.cfg.CallbackURL).
		Dur("poll_interval", s.cfg.PollInterval).
		Msg("outbox: relay started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("outbox: relay stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep delivers one batch of pending events in creation order.
func (s *NotificationServiceImpl) sweep(ctx context.Context) {
	events, err := s.eventRepo.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("outbox: listing pending events failed")
		return
	}
	for i := range events {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &events[i])
	}
}

// deliver POSTs a single event to the callback.
func (s *NotificationServiceImpl) deliver(ctx context.Context, event *domain.RefundEvent) {
	logger := s.log.With().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.EventType)).
		Logger()

	body, err := json.Marshal(notificationEnvelope{
		ID:         event.ID,
		EventType:  event.EventType,
		OccurredAt: event.CreatedAt,
		Refund:     json.RawMessage(event.Payload),
	})
	if err != nil {
		logger.Error().Err(err).Msg("outbox: marshaling envelope failed")
		return
	}

	attempt := event.Attempt + 1
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		s.recordFailure(ctx, event, attempt, err, logger)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Refund-Event", string(event.EventType))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordFailure(ctx, event, attempt, err, logger)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.recordFailure(ctx, event, attempt, fmt.Errorf("callback answered %d", resp.StatusCode), logger)
		return
	}

	if err := s.eventRepo.MarkDelivered(ctx, event.ID, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("outbox: marking event delivered failed")
		return
	}
	logger.Info().Int("attempt", attempt).Msg("outbox: event delivered")
}

// recordFailure leaves the event PENDING until the attempt budget is spent,
// then parks it as FAILED.
func (s *NotificationServiceImpl) recordFailure(ctx context.Context, event *domain.RefundEvent, attempt int, cause error, logger zerolog.Logger) {
	final := attempt >= s.cfg.MaxAttempts
	if err := s.eventRepo.MarkFailed(ctx, event.ID, attempt, cause.Error(), final); err != nil {
		logger.Error().Err(err).Msg("outbox: recording failed attempt failed")
		return
	}
	if final {
		logger.Error().Err(cause).Int("attempt", attempt).Msg("outbox: delivery attempts exhausted, event parked")
		return
	}
	logger.Warn().Err(cause).Int("attempt", attempt).Msg("outbox: delivery failed, will retry")
}
