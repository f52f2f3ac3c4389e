package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"refunds-service/config"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"
	"refunds-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconciliationServiceImpl implements ports.ReconciliationService. It owns
// the full webhook pipeline: verify, normalize, claim, record, transition,
// persist, finalize. Every exit path produces an Ack; errors never escape to
// the dispatcher.
type ReconciliationServiceImpl struct {
	gateways    *gateway.Registry
	refundRepo  ports.RefundRepository
	ledger      ports.IdempotencyLedger
	eventRepo   ports.GatewayEventRepository
	anomalyRepo ports.AnomalyRepository
	notifier    ports.NotificationService
	ackCache    ports.AckCache
	transactor  ports.DBTransactor
	cfg         config.ReconcileConfig
	log         zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	gateways *gateway.Registry,
	refundRepo ports.RefundRepository,
	ledger ports.IdempotencyLedger,
	eventRepo ports.GatewayEventRepository,
	anomalyRepo ports.AnomalyRepository,
	notifier ports.NotificationService,
	ackCache ports.AckCache,
	transactor ports.DBTransactor,
	cfg config.ReconcileConfig,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		gateways:    gateways,
		refundRepo:  refundRepo,
		ledger:      ledger,
		eventRepo:   eventRepo,
		anomalyRepo: anomalyRepo,
		notifier:    notifier,
		ackCache:    ackCache,
		transactor:  transactor,
		cfg:         cfg,
		log:         log,
	}
}

// Reconcile applies one webhook delivery to the refund it belongs to.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, gatewayID string, body []byte, header http.Header) domain.Ack {
	adapter, ok := s.gateways.Get(gatewayID)
	if !ok {
		return ackFromError(apperror.ErrUnknownGateway(gatewayID), domain.AckRejected)
	}

	// Step 1: verify the signature over the raw body. A forged or expired
	// delivery is rejected before anything touches storage.
	if err := adapter.Verify(body, header); err != nil {
		s.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("webhook signature rejected")
		return ackFromError(err, domain.AckRejected)
	}

	// Step 2: normalize the provider payload into a canonical event. A payload
	// we cannot parse is absorbed, not retried: redelivering it would fail the
	// same way forever, so it becomes an anomaly for manual review instead.
	event, err := adapter.Normalize(body)
	if err != nil {
		s.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("webhook payload unparsable")
		anomaly := newAnomaly(domain.AnomalyNormalizationFailure, gatewayID, "", nil, err.Error())
		if insErr := s.anomalyRepo.Insert(ctx, anomaly); insErr != nil {
			s.log.Error().Err(insErr).Str("gateway_id", gatewayID).Msg("recording normalization anomaly failed")
			return domain.AckOf(domain.AckRetry, "SYS_001", "anomaly store unavailable")
		}
		return ackFromError(err, domain.AckAccepted)
	}

	key := domain.BuildEventKey(gatewayID, event.EventID)
	logger := s.log.With().Str("gateway_id", gatewayID).Str("event_id", event.EventID).Logger()

	// Step 3: Redis fast path. Known duplicates are answered without a ledger
	// round trip. A cache failure falls through to the ledger.
	if cached, cacheErr := s.ackCache.Get(ctx, key); cacheErr != nil {
		logger.Warn().Err(cacheErr).Msg("ack cache lookup failed, falling through to ledger")
	} else if cached != nil {
		if ack, valid := unmarshalAck(cached); valid {
			logger.Debug().Msg("duplicate delivery answered from ack cache")
			return ack
		}
	}

	// Step 4: claim the event. Exactly one concurrent delivery acquires it.
	claim, err := s.ledger.Claim(ctx, gatewayID, event.EventID)
	if err != nil {
		logger.Error().Err(err).Msg("ledger claim failed")
		return domain.AckOf(domain.AckRetry, "SYS_001", "ledger unavailable")
	}
	switch claim.Outcome {
	case ports.ClaimDuplicate:
		return s.replayRecordedAck(ctx, key, claim.Record, logger)
	case ports.ClaimInFlight:
		return s.answerInFlight(ctx, event, claim.Record, logger)
	}

	// This delivery owns the event.
	return s.process(ctx, key, event, logger)
}

// process runs the transition pipeline for a freshly claimed event.
func (s *ReconciliationServiceImpl) process(ctx context.Context, key string, event *domain.GatewayEvent, logger zerolog.Logger) domain.Ack {
	// Every claimed event is recorded, whether or not it moves anything.
	if err := s.eventRepo.Insert(ctx, event); err != nil {
		logger.Error().Err(err).Msg("recording gateway event failed")
		return s.abandon(ctx, event, "SYS_001", "event store unavailable", logger)
	}

	for attempt := 1; attempt <= s.cfg.MaxSaveAttempts; attempt++ {
		refund, err := s.loadRefund(ctx, event)
		if err != nil {
			logger.Error().Err(err).Msg("loading refund failed")
			return s.abandon(ctx, event, "SYS_001", "refund store unavailable", logger)
		}
		if refund == nil {
			return s.absorbOrphan(ctx, key, event, logger)
		}

		transition := domain.DecideTransition(refund.Status, event.Outcome)
		switch transition.Decision {
		case domain.DecisionOutOfSequence:
			return s.absorbOutOfSequence(ctx, key, event, refund, logger)

		case domain.DecisionNoOp:
			// Terminal refund or a progress report: the event is recorded and
			// acknowledged, nothing moves.
			logger.Debug().
				Str("refund_id", refund.ID.String()).
				Str("status", string(refund.Status)).
				Str("outcome", string(event.Outcome)).
				Msg("gateway event recorded without transition")
			return s.finalizeProcessed(ctx, key, event, refund.Version, logger)

		case domain.DecisionApply:
			err := s.persistTransition(ctx, event, refund, transition.Next, logger)
			if errors.Is(err, ports.ErrVersionConflict) {
				logger.Debug().Int("attempt", attempt).Msg("refund version conflict, reloading")
				continue
			}
			if err != nil {
				logger.Error().Err(err).Msg("persisting transition failed")
				return s.abandon(ctx, event, "SYS_001", "persistence unavailable", logger)
			}
			return s.finalizeProcessed(ctx, key, event, refund.Version, logger)
		}
	}

	// The conflict budget is spent. Give the claim back so a later delivery
	// picks the event up against a settled refund.
	logger.Warn().Int("attempts", s.cfg.MaxSaveAttempts).Msg("optimistic save attempts exhausted")
	return s.abandon(ctx, event, "RFD_005", "refund busy, retry delivery", logger)
}

// loadRefund resolves the refund a gateway event addresses: by the gateway's
// own reference first, then by the echoed correlation id.
func (s *ReconciliationServiceImpl) loadRefund(ctx context.Context, event *domain.GatewayEvent) (*domain.Refund, error) {
	if event.GatewayReference != "" {
		refund, err := s.refundRepo.GetByGatewayReference(ctx, event.GatewayID, event.GatewayReference)
		if err != nil || refund != nil {
			return refund, err
		}
	}
	if event.CorrelationID != "" {
		id, err := uuid.Parse(event.CorrelationID)
		if err != nil {
			return nil, nil // not one of our ids
		}
		refund, err := s.refundRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// A correlation id echoed by the wrong gateway does not match.
		if refund != nil && refund.GatewayID != "" && refund.GatewayID != event.GatewayID {
			return nil, nil
		}
		return refund, nil
	}
	return nil, nil
}

// persistTransition applies next to the refund and saves it together with the
// outbox event in one transaction, conditioned on the loaded version.
func (s *ReconciliationServiceImpl) persistTransition(ctx context.Context, event *domain.GatewayEvent, refund *domain.Refund, next domain.RefundStatus, logger zerolog.Logger) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	expected := refund.Version
	from := refund.Status
	refund.Apply(next, "gateway:"+event.GatewayID, event.EventID, time.Now().UTC())
	refund.SetGatewayReference(event.GatewayReference)

	if err := s.refundRepo.Save(ctx, dbTx, refund, expected); err != nil {
		return err
	}

	if next.IsTerminal() {
		if err := s.notifier.Emit(ctx, dbTx, refund); err != nil {
			return fmt.Errorf("emit refund event: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	logger.Info().
		Str("refund_id", refund.ID.String()).
		Str("from", string(from)).
		Str("to", string(next)).
		Int64("version", refund.Version).
		Msg("gateway event applied")
	return nil
}

// finalizeProcessed records the success ack against the version the event was
// applied to (or observed, for no-ops) and primes the cache.
func (s *ReconciliationServiceImpl) finalizeProcessed(ctx context.Context, key string, event *domain.GatewayEvent, version int64, logger zerolog.Logger) domain.Ack {
	ack := domain.AckOf(domain.AckAccepted, "", "")
	if err := s.ledger.Finalize(ctx, event.GatewayID, event.EventID, domain.IdempotencyStateApplied, marshalAck(ack), &version); err != nil {
		// The transition is committed; the claim will be resolved by the next
		// duplicate via stale takeover, which lands on a no-op.
		logger.Error().Err(err).Msg("finalizing ledger failed after apply")
		return ack
	}
	s.cacheAck(ctx, key, ack, logger)
	return ack
}

// absorbOrphan handles an event no refund matches: recorded as an anomaly,
// acknowledged so the gateway stops redelivering what can never apply.
func (s *ReconciliationServiceImpl) absorbOrphan(ctx context.Context, key string, event *domain.GatewayEvent, logger zerolog.Logger) domain.Ack {
	detail := fmt.Sprintf("no refund matches gateway reference %q or correlation id %q", event.GatewayReference, event.CorrelationID)
	anomaly := newAnomaly(domain.AnomalyOrphanEvent, event.GatewayID, event.EventID, nil, detail)
	if err := s.anomalyRepo.Insert(ctx, anomaly); err != nil {
		logger.Error().Err(err).Msg("recording orphan anomaly failed")
		return s.abandon(ctx, event, "SYS_001", "anomaly store unavailable", logger)
	}
	logger.Warn().Str("gateway_reference", event.GatewayReference).Msg("orphan gateway event absorbed")

	ack := domain.AckOf(domain.AckAccepted, "RFD_001", "no matching refund")
	s.finalizeAbsorbed(ctx, key, event, ack, logger)
	return ack
}

// absorbOutOfSequence handles an event against a refund that never reached a
// gateway-owned state.
func (s *ReconciliationServiceImpl) absorbOutOfSequence(ctx context.Context, key string, event *domain.GatewayEvent, refund *domain.Refund, logger zerolog.Logger) domain.Ack {
	detail := fmt.Sprintf("refund in status %s cannot accept outcome %s", refund.Status, event.Outcome)
	anomaly := newAnomaly(domain.AnomalyOutOfSequence, event.GatewayID, event.EventID, &refund.ID, detail)
	if err := s.anomalyRepo.Insert(ctx, anomaly); err != nil {
		logger.Error().Err(err).Msg("recording out-of-sequence anomaly failed")
		return s.abandon(ctx, event, "SYS_001", "anomaly store unavailable", logger)
	}
	logger.Warn().
		Str("refund_id", refund.ID.String()).
		Str("status", string(refund.Status)).
		Str("outcome", string(event.Outcome)).
		Msg("out-of-sequence gateway event absorbed")

	ack := domain.AckOf(domain.AckAccepted, "RFD_003", "event out of sequence")
	s.finalizeAbsorbed(ctx, key, event, ack, logger)
	return ack
}

// finalizeAbsorbed marks an absorbed event REJECTED in the ledger: it was
// never applied and never will be, but its ack is final.
func (s *ReconciliationServiceImpl) finalizeAbsorbed(ctx context.Context, key string, event *domain.GatewayEvent, ack domain.Ack, logger zerolog.Logger) {
	if err := s.ledger.Finalize(ctx, event.GatewayID, event.EventID, domain.IdempotencyStateRejected, marshalAck(ack), nil); err != nil {
		logger.Error().Err(err).Msg("finalizing absorbed event failed")
		return
	}
	s.cacheAck(ctx, key, ack, logger)
}

// abandon finalizes this delivery's claim as ABANDONED with a retryable ack,
// so a later delivery may take the event over.
func (s *ReconciliationServiceImpl) abandon(ctx context.Context, event *domain.GatewayEvent, code, message string, logger zerolog.Logger) domain.Ack {
	ack := domain.AckOf(domain.AckRetry, code, message)
	if err := s.ledger.Finalize(ctx, event.GatewayID, event.EventID, domain.IdempotencyStateAbandoned, marshalAck(ack), nil); err != nil {
		logger.Error().Err(err).Msg("abandoning claim failed, leaving it to expire")
	}
	return ack
}

// replayRecordedAck answers a duplicate of a finalized event with the exact
// ack recorded the first time.
func (s *ReconciliationServiceImpl) replayRecordedAck(ctx context.Context, key string, record *domain.IdempotencyRecord, logger zerolog.Logger) domain.Ack {
	if record == nil || len(record.AckJSON) == 0 {
		return ackFromError(apperror.ErrEventInFlight(), domain.AckRetry)
	}
	ack, valid := unmarshalAck(record.AckJSON)
	if !valid {
		logger.Error().Str("event_key", key).Msg("recorded ack unreadable")
		return domain.AckOf(domain.AckRetry, "SYS_001", "recorded acknowledgment unreadable")
	}
	logger.Debug().Str("state", string(record.State)).Msg("duplicate delivery answered from ledger")
	s.cacheAck(ctx, key, ack, logger)
	return ack
}

// answerInFlight handles observing someone else's live claim. A claim past
// its timeout with the takeover budget spent is parked as ABANDONED and
// surfaced to operators; it will never apply.
func (s *ReconciliationServiceImpl) answerInFlight(ctx context.Context, event *domain.GatewayEvent, record *domain.IdempotencyRecord, logger zerolog.Logger) domain.Ack {
	ack := ackFromError(apperror.ErrEventInFlight(), domain.AckRetry)
	if record == nil || record.Attempts < domain.MaxClaimAttempts || !record.StaleClaim(time.Now().UTC(), s.cfg.ClaimTimeout) {
		logger.Debug().Msg("event claim held elsewhere")
		return ack
	}

	if err := s.ledger.Finalize(ctx, event.GatewayID, event.EventID, domain.IdempotencyStateAbandoned, marshalAck(ack), nil); err != nil {
		// Lost a race with the claim owner finishing up; the next delivery
		// replays whatever it recorded.
		logger.Warn().Err(err).Msg("parking exhausted claim failed")
		return ack
	}
	anomaly := newAnomaly(domain.AnomalyAbandonedClaim, event.GatewayID, event.EventID, nil,
		fmt.Sprintf("claim expired with %d attempts spent; event will not be applied", record.Attempts))
	if err := s.anomalyRepo.Insert(ctx, anomaly); err != nil {
		logger.Error().Err(err).Msg("recording abandoned-claim anomaly failed")
	}
	logger.Warn().Int("attempts", record.Attempts).Msg("exhausted claim abandoned")
	return ack
}

// cacheAck stores a final ack for the Redis fast path. Retryable acks are
// never cached: duplicates must keep reaching the ledger so takeover can
// happen.
func (s *ReconciliationServiceImpl) cacheAck(ctx context.Context, key string, ack domain.Ack, logger zerolog.Logger) {
	if ack.Status == domain.AckRetry {
		return
	}
	if err := s.ackCache.Set(ctx, key, marshalAck(ack), s.cfg.AckCacheTTL); err != nil {
		logger.Warn().Err(err).Msg("caching ack failed")
	}
}

func newAnomaly(kind domain.AnomalyKind, gatewayID, eventID string, refundID *uuid.UUID, detail string) *domain.Anomaly {
	return &domain.Anomaly{
		ID:        uuid.New(),
		Kind:      kind,
		GatewayID: gatewayID,
		EventID:   eventID,
		RefundID:  refundID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}

// ackFromError lifts an AppError's code and message into an ack of the given
// status.
func ackFromError(err error, status domain.AckStatus) domain.Ack {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return domain.AckOf(status, appErr.Code, appErr.Message)
	}
	return domain.AckOf(status, "SYS_001", "internal error")
}

func marshalAck(ack domain.Ack) []byte {
	b, _ := json.Marshal(ack) // fixed shape, cannot fail
	return b
}

func unmarshalAck(raw []byte) (domain.Ack, bool) {
	var ack domain.Ack
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Status == "" {
		return domain.Ack{}, false
	}
	return ack, true
}
