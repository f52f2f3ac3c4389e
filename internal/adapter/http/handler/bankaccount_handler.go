package handler

import (
	"refunds-service/internal/adapter/http/dto"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"
	"refunds-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BankAccountHandler handles payout account endpoints.
type BankAccountHandler struct {
	accountSvc ports.BankAccountService
}

// NewBankAccountHandler creates a new BankAccountHandler.
func NewBankAccountHandler(accountSvc ports.BankAccountService) *BankAccountHandler {
	return &BankAccountHandler{accountSvc: accountSvc}
}

// Create handles POST /api/v1/bank-accounts.
func (h *BankAccountHandler) Create(c *gin.Context) {
	var req dto.CreateBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	account, err := h.accountSvc.Create(c.Request.Context(), ports.CreateBankAccountRequest{
		HolderName:    req.HolderName,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Currency:      req.Currency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromBankAccount(account))
}

// Get handles GET /api/v1/bank-accounts/:id.
func (h *BankAccountHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid UUID"))
		return
	}

	account, err := h.accountSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromBankAccount(account))
}

// List handles GET /api/v1/bank-accounts.
func (h *BankAccountHandler) List(c *gin.Context) {
	accounts, err := h.accountSvc.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.BankAccountResponse, 0, len(accounts))
	for i := range accounts {
		items = append(items, dto.FromBankAccount(&accounts[i]))
	}

	response.OK(c, items)
}

// Update handles PATCH /api/v1/bank-accounts/:id.
func (h *BankAccountHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid UUID"))
		return
	}

	var req dto.UpdateBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	svcReq := ports.UpdateBankAccountRequest{
		HolderName: req.HolderName,
	}
	if req.Status != nil {
		status := domain.BankAccountStatus(*req.Status)
		svcReq.Status = &status
	}

	account, err := h.accountSvc.Update(c.Request.Context(), id, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromBankAccount(account))
}
