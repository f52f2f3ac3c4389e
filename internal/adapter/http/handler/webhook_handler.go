package handler

import (
	"errors"
	"io"
	"net/http"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"
	"refunds-service/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler is the dispatcher for gateway webhook deliveries. Every
// answer, including transport-level rejections, is rendered in the posting
// gateway's own dialect rather than the portal's JSON envelope.
type WebhookHandler struct {
	gateways     *gateway.Registry
	reconcileSvc ports.ReconciliationService
	maxBodyBytes int64
	log          zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(gateways *gateway.Registry, reconcileSvc ports.ReconciliationService, maxBodyBytes int64, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateways:     gateways,
		reconcileSvc: reconcileSvc,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// Handle handles POST /webhooks/:gateway.
func (h *WebhookHandler) Handle(c *gin.Context) {
	gatewayID := c.Param("gateway")
	adapter, ok := h.gateways.Get(gatewayID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	// The exact raw bytes must survive to signature verification, so the
	// size limit is enforced on the reader, not on a decoded copy.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.log.Warn().Str("gateway_id", gatewayID).Int64("limit", h.maxBodyBytes).Msg("webhook payload over size limit")
			tooLarge := apperror.ErrPayloadTooLarge()
			status, payload := adapter.RenderAck(domain.AckOf(domain.AckRejected, tooLarge.Code, tooLarge.Message))
			c.JSON(status, payload)
			return
		}
		h.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("webhook body read failed")
		status, payload := adapter.RenderAck(domain.AckOf(domain.AckRetry, "SYS_001", "body read failed"))
		c.JSON(status, payload)
		return
	}

	ack := h.reconcileSvc.Reconcile(c.Request.Context(), gatewayID, body, c.Request.Header)

	status, payload := adapter.RenderAck(ack)
	c.JSON(status, payload)
}
