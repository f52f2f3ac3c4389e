package handler

import (
	"strconv"

	"refunds-service/internal/adapter/http/dto"
	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReportHandler handles the portal's read-side reporting endpoints.
type ReportHandler struct {
	reportSvc ports.ReportService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportSvc ports.ReportService) *ReportHandler {
	return &ReportHandler{reportSvc: reportSvc}
}

// RefundSummary handles GET /api/v1/reports/refunds.
func (h *ReportHandler) RefundSummary(c *gin.Context) {
	var from, to *int64
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			from = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			to = &v
		}
	}

	summary, err := h.reportSvc.RefundSummary(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromRefundSummary(summary))
}

// ListAnomalies handles GET /api/v1/reports/anomalies.
func (h *ReportHandler) ListAnomalies(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.AnomalyListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if k := c.Query("kind"); k != "" {
		kind := domain.AnomalyKind(k)
		params.Kind = &kind
	}
	if g := c.Query("gateway_id"); g != "" {
		params.GatewayID = &g
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

	anomalies, total, err := h.reportSvc.ListAnomalies(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.AnomalyResponse, 0, len(anomalies))
	for i := range anomalies {
		items = append(items, dto.FromAnomaly(&anomalies[i]))
	}

	response.OK(c, dto.AnomalyListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: dto.TotalPages(total, pageSize),
	})
}
