package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/pkg/apperror"
)

// CardlinkID is the path segment Cardlink posts webhooks to.
const CardlinkID = "cardlink"

// Cardlink webhook headers.
const (
	HeaderCardlinkSignature = "X-Cardlink-Signature"
	HeaderCardlinkTimestamp = "X-Cardlink-Timestamp"
)

// cardlinkPayload is the wire shape of a Cardlink refund notification.
type cardlinkPayload struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		RefundReference  string `json:"refund_reference"`
		MerchantRefundID string `json:"merchant_refund_id"`
		Status           string `json:"status"`
	} `json:"data"`
}

// cardlinkOutcomes maps Cardlink's status vocabulary onto ours. Anything
// absent normalizes to UNKNOWN.
var cardlinkOutcomes = map[string]domain.EventOutcome{
	"succeeded":  domain.EventOutcomeSucceeded,
	"failed":     domain.EventOutcomeFailed,
	"declined":   domain.EventOutcomeFailed,
	"processing": domain.EventOutcomePending,
	"pending":    domain.EventOutcomePending,
}

// cardlinkAck is the acknowledgment body Cardlink expects.
type cardlinkAck struct {
	Status string `json:"status"`
}

// Cardlink signs the raw body with hex HMAC-SHA256 and carries a separate
// unix-seconds timestamp header for replay protection.
type Cardlink struct {
	secret        string
	skewTolerance time.Duration
}

// NewCardlink creates the Cardlink webhook adapter.
func NewCardlink(secret string, skewTolerance time.Duration) *Cardlink {
	return &Cardlink{secret: secret, skewTolerance: skewTolerance}
}

// ID returns "cardlink".
func (g *Cardlink) ID() string { return CardlinkID }

// Verify checks the timestamp skew and the raw-body signature.
func (g *Cardlink) Verify(body []byte, header http.Header) error {
	tsHeader := header.Get(HeaderCardlinkTimestamp)
	sig := header.Get(HeaderCardlinkSignature)
	if tsHeader == "" || sig == "" {
		return apperror.ErrInvalidSignature()
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > g.skewTolerance || skew < -g.skewTolerance {
		return apperror.ErrSignatureExpired()
	}

	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

// Normalize maps a Cardlink notification onto a GatewayEvent.
func (g *Cardlink) Normalize(body []byte) (*domain.GatewayEvent, error) {
	var p cardlinkPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperror.ErrUnparsablePayload(err)
	}
	if p.EventID == "" {
		return nil, apperror.ErrUnparsablePayload(errors.New("missing event_id"))
	}

	outcome, ok := cardlinkOutcomes[p.Data.Status]
	if !ok {
		outcome = domain.EventOutcomeUnknown
	}

	return &domain.GatewayEvent{
		GatewayID:        CardlinkID,
		EventID:          p.EventID,
		Outcome:          outcome,
		GatewayReference: p.Data.RefundReference,
		CorrelationID:    p.Data.MerchantRefundID,
		RawPayload:       json.RawMessage(body),
		ReceivedAt:       time.Now().UTC(),
	}, nil
}

// RenderAck answers in Cardlink's dialect: {"status": ...} with 200/503/401.
func (g *Cardlink) RenderAck(ack domain.Ack) (int, any) {
	switch ack.Status {
	case domain.AckRejected:
		return http.StatusUnauthorized, cardlinkAck{Status: "rejected"}
	case domain.AckRetry:
		return http.StatusServiceUnavailable, cardlinkAck{Status: "retry"}
	default:
		return http.StatusOK, cardlinkAck{Status: "ok"}
	}
}
