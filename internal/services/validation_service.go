package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/identity"
	"smrapi/internal/infrastructure"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

// StatusNotFound is reported for principals without a purchase record.
// Absence is a normal outcome, not an error.
const StatusNotFound = "NOT_FOUND"

// validationCacheSize bounds the in-process validation cache
const validationCacheSize = 4096

// ValidationResult answers "is this principal's license active"
type ValidationResult struct {
	Active      bool       `json:"active"`
	Status      string     `json:"status"`
	Email       string     `json:"email,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	Message     string     `json:"message"`
}

// ValidationService is the read-only projection gating downstream feature use
type ValidationService interface {
	// ValidateEmail reports the license state for a principal email
	ValidateEmail(ctx context.Context, email string) (*ValidationResult, error)
	// ValidateToken resolves a bearer credential to an email first
	ValidateToken(ctx context.Context, bearerToken string) (*ValidationResult, error)
	// CheckActivationCode reports whether the license behind a code is active
	CheckActivationCode(ctx context.Context, code string) (*ValidationResult, error)
	// InvalidateCache drops cached validation results
	InvalidateCache()
}

type validationService struct {
	store    store.LicenseStore
	resolver identity.Resolver
	cache    *validationCache
	logger   *slog.Logger
	metrics  *infrastructure.LicensingMetrics
}

// NewValidationService creates the validation query service. resolver may be
// nil when the deployment has no identity provider configured; the bearer
// variant then reports Unauthorized.
func NewValidationService(st store.LicenseStore, resolver identity.Resolver, cacheTTL time.Duration, logger *slog.Logger, metrics *infrastructure.LicensingMetrics) ValidationService {
	return &validationService{
		store:    st,
		resolver: resolver,
		cache:    newValidationCache(cacheTTL, validationCacheSize),
		logger:   logger.With(slog.String("service", "validation")),
		metrics:  metrics,
	}
}

// ValidateEmail implements ValidationService
func (s *validationService) ValidateEmail(ctx context.Context, email string) (*ValidationResult, error) {
	email = license.NormalizeEmail(email)
	if email == "" {
		return nil, licenseErrors.ErrMissingParameter
	}

	if cached, ok := s.cache.get(email); ok {
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.Validations.Add(ctx, 1)
	}

	lic, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result := &ValidationResult{
				Active:  false,
				Status:  StatusNotFound,
				Email:   email,
				Message: inactiveMessage,
			}
			s.cache.set(email, *result)
			return result, nil
		}
		return nil, fmt.Errorf("failed to read license: %w", err)
	}

	result := resultFromLicense(lic)
	s.cache.set(email, *result)
	return result, nil
}

// ValidateToken implements ValidationService
func (s *validationService) ValidateToken(ctx context.Context, bearerToken string) (*ValidationResult, error) {
	if s.resolver == nil {
		return nil, identity.ErrUnauthorized
	}
	email, err := s.resolver.ResolveEmail(ctx, bearerToken)
	if err != nil {
		return nil, err
	}
	return s.ValidateEmail(ctx, email)
}

// CheckActivationCode implements ValidationService
func (s *validationService) CheckActivationCode(ctx context.Context, code string) (*ValidationResult, error) {
	code = license.NormalizeCode(code)
	if code == "" {
		return nil, licenseErrors.ErrMissingParameter
	}
	if s.metrics != nil {
		s.metrics.Validations.Add(ctx, 1)
	}

	lic, err := s.store.GetByActivationCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, licenseErrors.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to read license: %w", err)
	}
	if !lic.IsActive() {
		return nil, &licenseErrors.LicenseInactiveError{Status: string(lic.Status)}
	}
	return resultFromLicense(lic), nil
}

// InvalidateCache implements ValidationService
func (s *validationService) InvalidateCache() {
	s.cache.purge()
}

const (
	activeMessage   = "Access granted."
	inactiveMessage = "License not found or inactive. Check the purchase email or contact support."
)

// resultFromLicense projects a license row onto a validation result
func resultFromLicense(lic *license.License) *ValidationResult {
	result := &ValidationResult{
		Active:      lic.IsActive(),
		Status:      string(lic.Status),
		Email:       lic.Email,
		LastEventAt: lic.LastEventAt,
	}
	if result.Active {
		result.Message = activeMessage
	} else {
		result.Message = inactiveMessage
	}
	return result
}
