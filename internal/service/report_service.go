package service

import (
	"context"
	"fmt"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"
)

// reportService implements ports.ReportService.
type reportService struct {
	refundRepo  ports.RefundRepository
	anomalyRepo ports.AnomalyRepository
}

// NewReportService creates a new report service.
func NewReportService(refundRepo ports.RefundRepository, anomalyRepo ports.AnomalyRepository) ports.ReportService {
	return &reportService{
		refundRepo:  refundRepo,
		anomalyRepo: anomalyRepo,
	}
}

// RefundSummary aggregates refund counts and per-currency completed totals
// for the given window. Nil bounds leave that side open.
func (s *reportService) RefundSummary(ctx context.Context, from, to *int64) (*ports.RefundSummary, error) {
	if from != nil && to != nil && *from > *to {
		return nil, apperror.Validation("from must not be after to")
	}

	stats, err := s.refundRepo.GetStats(ctx, from, to)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("refund stats: %w", err))
	}
	totals, err := s.refundRepo.CompletedTotals(ctx, from, to)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("completed totals: %w", err))
	}

	return &ports.RefundSummary{Stats: *stats, CompletedTotals: totals}, nil
}

// ListAnomalies returns reconciliation anomalies, newest first.
func (s *reportService) ListAnomalies(ctx context.Context, params ports.AnomalyListParams) ([]domain.Anomaly, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = defaultPageSize
	}

	anomalies, total, err := s.anomalyRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list anomalies: %w", err))
	}
	return anomalies, total, nil
}
