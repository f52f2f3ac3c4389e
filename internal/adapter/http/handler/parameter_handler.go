package handler

import (
	"refunds-service/internal/adapter/http/dto"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"
	"refunds-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// ParameterHandler handles scoped configuration parameter endpoints.
type ParameterHandler struct {
	paramSvc ports.ParameterService
}

// NewParameterHandler creates a new ParameterHandler.
func NewParameterHandler(paramSvc ports.ParameterService) *ParameterHandler {
	return &ParameterHandler{paramSvc: paramSvc}
}

// Set handles PUT /api/v1/parameters/:scope/:key.
func (h *ParameterHandler) Set(c *gin.Context) {
	var req dto.SetParameterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	param, err := h.paramSvc.Set(c.Request.Context(), c.Param("scope"), c.Param("key"), req.Value, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromParameter(param))
}

// Get handles GET /api/v1/parameters/:scope/:key.
func (h *ParameterHandler) Get(c *gin.Context) {
	param, err := h.paramSvc.Get(c.Request.Context(), c.Param("scope"), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromParameter(param))
}

// ListByScope handles GET /api/v1/parameters/:scope.
func (h *ParameterHandler) ListByScope(c *gin.Context) {
	params, err := h.paramSvc.ListByScope(c.Request.Context(), c.Param("scope"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.ParameterResponse, 0, len(params))
	for i := range params {
		items = append(items, dto.FromParameter(&params[i]))
	}

	response.OK(c, items)
}

// Delete handles DELETE /api/v1/parameters/:scope/:key.
func (h *ParameterHandler) Delete(c *gin.Context) {
	if err := h.paramSvc.Delete(c.Request.Context(), c.Param("scope"), c.Param("key")); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"deleted": true})
}
