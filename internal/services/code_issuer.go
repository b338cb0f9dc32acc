package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

// CodeIssuer issues activation codes. It is the only component allowed to
// set activation_code on a license.
type CodeIssuer struct {
	store       store.LicenseStore
	logger      *slog.Logger
	maxAttempts int
}

// NewCodeIssuer creates a code issuer with the given retry budget
func NewCodeIssuer(st store.LicenseStore, maxAttempts int, logger *slog.Logger) *CodeIssuer {
	return &CodeIssuer{
		store:       st,
		logger:      logger.With(slog.String("service", "code_issuer")),
		maxAttempts: maxAttempts,
	}
}

// Issue draws a fresh code, writes it onto the license row and persists the
// row. A uniqueness conflict on the code triggers a redraw, up to the
// attempt budget; any other store error aborts immediately.
func (i *CodeIssuer) Issue(ctx context.Context, lic *license.License) (string, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		code, err := license.GenerateCode()
		if err != nil {
			return "", fmt.Errorf("code generation failed: %w", err)
		}

		lic.ActivationCode = code
		err = i.store.UpsertByEmail(ctx, lic)
		if err == nil {
			i.logger.InfoContext(ctx, "activation code issued",
				slog.String("email", lic.Email),
				slog.Int("attempt", attempt))
			return code, nil
		}
		if !errors.Is(err, store.ErrDuplicateCode) {
			return "", fmt.Errorf("failed to persist activation code: %w", err)
		}

		i.logger.WarnContext(ctx, "activation code collision, redrawing",
			slog.String("email", lic.Email),
			slog.Int("attempt", attempt))
	}

	return "", fmt.Errorf("%w after %d attempts", licenseErrors.ErrCodeIssuanceExhausted, i.maxAttempts)
}
