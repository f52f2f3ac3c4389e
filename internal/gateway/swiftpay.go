package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/pkg/apperror"
)

// SwiftpayID is the path segment Swiftpay posts webhooks to.
const SwiftpayID = "swiftpay"

// HeaderSwiftpaySignature carries "t=<unix>,v1=<hex HMAC-SHA256 of t.body>".
const HeaderSwiftpaySignature = "Swiftpay-Signature"

// swiftpayPayload is the wire shape of a Swiftpay refund notification.
type swiftpayPayload struct {
	NotificationID string `json:"notification_id"`
	EventType      string `json:"event_type"`
	Refund         struct {
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
		State      string `json:"state"`
	} `json:"refund"`
}

// swiftpayOutcomes maps Swiftpay's state vocabulary onto ours. Anything
// absent normalizes to UNKNOWN.
var swiftpayOutcomes = map[string]domain.EventOutcome{
	"SETTLED":     domain.EventOutcomeSucceeded,
	"REJECTED":    domain.EventOutcomeFailed,
	"REVERSED":    domain.EventOutcomeFailed,
	"IN_PROGRESS": domain.EventOutcomePending,
	"QUEUED":      domain.EventOutcomePending,
}

// swiftpayAck is the acknowledgment body Swiftpay expects.
type swiftpayAck struct {
	Received bool `json:"received"`
}

// Swiftpay signs "<t>.<body>" with hex HMAC-SHA256, both parts carried in a
// single structured signature header.
type Swiftpay struct {
	secret        string
	skewTolerance time.Duration
}

// NewSwiftpay creates the Swiftpay webhook adapter.
func NewSwiftpay(secret string, skewTolerance time.Duration) *Swiftpay {
	return &Swiftpay{secret: secret, skewTolerance: skewTolerance}
}

// ID returns "swiftpay".
func (g *Swiftpay) ID() string { return SwiftpayID }

// Verify parses the signature header, checks the timestamp skew, and verifies
// the HMAC over "<t>.<body>".
func (g *Swiftpay) Verify(body []byte, header http.Header) error {
	ts, sig, err := parseSwiftpaySignature(header.Get(HeaderSwiftpaySignature))
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > g.skewTolerance || skew < -g.skewTolerance {
		return apperror.ErrSignatureExpired()
	}

	mac := hmac.New(sha256.New, []byte(g.secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

// parseSwiftpaySignature splits "t=<unix>,v1=<hex>" into its parts.
func parseSwiftpaySignature(value string) (int64, string, error) {
	var (
		ts  int64
		sig string
	)
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("malformed timestamp %q", v)
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", errors.New("signature header missing t or v1")
	}
	return ts, sig, nil
}

// Normalize maps a Swiftpay notification onto a GatewayEvent.
func (g *Swiftpay) Normalize(body []byte) (*domain.GatewayEvent, error) {
	var p swiftpayPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperror.ErrUnparsablePayload(err)
	}
	if p.NotificationID == "" {
		return nil, apperror.ErrUnparsablePayload(errors.New("missing notification_id"))
	}

	outcome, ok := swiftpayOutcomes[p.Refund.State]
	if !ok {
		outcome = domain.EventOutcomeUnknown
	}

	return &domain.GatewayEvent{
		GatewayID:        SwiftpayID,
		EventID:          p.NotificationID,
		Outcome:          outcome,
		GatewayReference: p.Refund.ID,
		CorrelationID:    p.Refund.ExternalID,
		RawPayload:       json.RawMessage(body),
		ReceivedAt:       time.Now().UTC(),
	}, nil
}

// RenderAck answers in Swiftpay's dialect: {"received": ...} with 200/400/503.
func (g *Swiftpay) RenderAck(ack domain.Ack) (int, any) {
	switch ack.Status {
	case domain.AckRejected:
		return http.StatusBadRequest, swiftpayAck{Received: false}
	case domain.AckRetry:
		return http.StatusServiceUnavailable, swiftpayAck{Received: false}
	default:
		return http.StatusOK, swiftpayAck{Received: true}
	}
}
