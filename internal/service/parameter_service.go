package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"
	"refunds-service/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ParameterServiceImpl implements ports.ParameterService.
type ParameterServiceImpl struct {
	paramRepo ports.ParameterRepository
	log       zerolog.Logger
}

// NewParameterService creates a new ParameterServiceImpl.
func NewParameterService(paramRepo ports.ParameterRepository, log zerolog.Logger) *ParameterServiceImpl {
	return &ParameterServiceImpl{paramRepo: paramRepo, log: log}
}

// Set validates and upserts a parameter. Known refund keys are shape-checked
// on write so readers never see a malformed value.
func (s *ParameterServiceImpl) Set(ctx context.Context, scope, key, value, description string) (*domain.Parameter, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	if scope == "" || key == "" {
		return nil, apperror.Validation("scope and key are required")
	}
	if value == "" {
		return nil, apperror.Validation("value is required")
	}
	if err := validateParameterValue(scope, key, value); err != nil {
		return nil, err
	}

	param := &domain.Parameter{
		Scope:       scope,
		Key:         key,
		Value:       value,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.paramRepo.Upsert(ctx, param); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("upsert parameter: %w", err))
	}

	s.log.Info().Str("scope", scope).Str("key", key).Msg("parameter written")
	return param, nil
}

// Get loads one parameter.
func (s *ParameterServiceImpl) Get(ctx context.Context, scope, key string) (*domain.Parameter, error) {
	param, err := s.paramRepo.Get(ctx, scope, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get parameter: %w", err))
	}
	if param == nil {
		return nil, apperror.ErrNotFound("parameter")
	}
	return param, nil
}

// ListByScope returns all parameters within one scope.
func (s *ParameterServiceImpl) ListByScope(ctx context.Context, scope string) ([]domain.Parameter, error) {
	params, err := s.paramRepo.ListByScope(ctx, strings.ToLower(strings.TrimSpace(scope)))
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list parameters: %w", err))
	}
	return params, nil
}

// Delete removes a parameter. Refund validation treats a missing parameter
// as "no limit", so deleting loosens checks rather than breaking them.
// Deleting an absent parameter is a no-op.
func (s *ParameterServiceImpl) Delete(ctx context.Context, scope, key string) error {
	scope = strings.ToLower(strings.TrimSpace(scope))
	key = strings.ToLower(strings.TrimSpace(key))
	if err := s.paramRepo.Delete(ctx, scope, key); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("delete parameter: %w", err))
	}
	s.log.Info().Str("scope", scope).Str("key", key).Msg("parameter deleted")
	return nil
}

// validateParameterValue rejects values the refund router could not consume.
// Unknown keys are stored as-is.
func validateParameterValue(scope, key, value string) error {
	if scope != domain.ParamScopeRefunds {
		return nil
	}
	switch key {
	case domain.ParamKeyMaxAmount, domain.ParamKeyApprovalThreshold:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return apperror.ErrParameterMalformed(key)
		}
	case domain.ParamKeyAllowedCurrencies:
		for _, code := range strings.Split(value, ",") {
			if len(strings.TrimSpace(code)) != 3 {
				return apperror.ErrParameterMalformed(key)
			}
		}
	}
	return nil
}
