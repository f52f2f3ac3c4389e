package handler

import (
	"context"
	"strconv"

	"refunds-service/internal/adapter/http/dto"
	"refunds-service/internal/adapter/http/middleware"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"
	"refunds-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundHandler handles the operator-driven refund lifecycle endpoints.
type RefundHandler struct {
	refundSvc ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refundSvc ports.RefundService) *RefundHandler {
	return &RefundHandler{refundSvc: refundSvc}
}

// actorFrom extracts the authenticated operator's username for history
// attribution.
func actorFrom(c *gin.Context) (string, bool) {
	username, ok := c.Get(middleware.CtxUsername)
	if !ok {
		return "", false
	}
	s, ok := username.(string)
	return s, ok
}

// refundIDParam parses the :id path parameter.
func refundIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("id must be a valid UUID")
	}
	return id, nil
}

// Create handles POST /api/v1/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation("amount must be a decimal number"))
		return
	}

	svcReq := ports.CreateRefundRequest{
		TransactionRef: req.TransactionRef,
		Amount:         amount,
		Currency:       req.Currency,
		Method:         domain.RefundMethod(req.Method),
		Reason:         req.Reason,
		Actor:          actor,
	}
	if req.BankAccountID != nil {
		accountID, err := uuid.Parse(*req.BankAccountID)
		if err != nil {
			response.Error(c, apperror.Validation("bank_account_id must be a valid UUID"))
			return
		}
		svcReq.BankAccountID = &accountID
	}

	refund, err := h.refundSvc.Create(c.Request.Context(), svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromRefund(refund))
}

// Update handles PATCH /api/v1/refunds/:id. Only drafts are editable.
func (h *RefundHandler) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := refundIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.UpdateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	svcReq := ports.UpdateRefundRequest{Actor: actor}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			response.Error(c, apperror.Validation("amount must be a decimal number"))
			return
		}
		svcReq.Amount = &amount
	}
	if req.Currency != nil {
		svcReq.Currency = req.Currency
	}
	if req.Method != nil {
		method := domain.RefundMethod(*req.Method)
		svcReq.Method = &method
	}
	if req.BankAccountID != nil {
		accountID, err := uuid.Parse(*req.BankAccountID)
		if err != nil {
			response.Error(c, apperror.Validation("bank_account_id must be a valid UUID"))
			return
		}
		svcReq.BankAccountID = &accountID
	}
	if req.Reason != nil {
		svcReq.Reason = req.Reason
	}

	refund, err := h.refundSvc.UpdateDraft(c.Request.Context(), id, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromRefund(refund))
}

// Get handles GET /api/v1/refunds/:id.
func (h *RefundHandler) Get(c *gin.Context) {
	id, err := refundIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	refund, err := h.refundSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromRefund(refund))
}

// List handles GET /api/v1/refunds.
func (h *RefundHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.RefundListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if s := c.Query("status"); s != "" {
		status := domain.RefundStatus(s)
		params.Status = &status
	}
	if g := c.Query("gateway_id"); g != "" {
		params.GatewayID = &g
	}
	if ref := c.Query("transaction_ref"); ref != "" {
		params.TransactionRef = &ref
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	refunds, total, err := h.refundSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RefundResponse, 0, len(refunds))
	for i := range refunds {
		items = append(items, dto.FromRefund(&refunds[i]))
	}

	response.OK(c, dto.RefundListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: dto.TotalPages(total, pageSize),
	})
}

// Submit handles POST /api/v1/refunds/:id/submit.
func (h *RefundHandler) Submit(c *gin.Context) {
	h.transition(c, h.refundSvc.Submit)
}

// Approve handles POST /api/v1/refunds/:id/approve.
func (h *RefundHandler) Approve(c *gin.Context) {
	h.transition(c, h.refundSvc.Approve)
}

// Reject handles POST /api/v1/refunds/:id/reject.
func (h *RefundHandler) Reject(c *gin.Context) {
	h.transition(c, h.refundSvc.Reject)
}

// Cancel handles POST /api/v1/refunds/:id/cancel.
func (h *RefundHandler) Cancel(c *gin.Context) {
	h.transition(c, h.refundSvc.Cancel)
}

// Dispatch handles POST /api/v1/refunds/:id/dispatch.
func (h *RefundHandler) Dispatch(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := refundIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.DispatchRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	refund, err := h.refundSvc.Dispatch(c.Request.Context(), id, req.GatewayID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromRefund(refund))
}

// transition runs one of the operator lifecycle actions that share the
// (id, actor) shape.
func (h *RefundHandler) transition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID, actor string) (*domain.Refund, error)) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := refundIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	refund, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromRefund(refund))
}
