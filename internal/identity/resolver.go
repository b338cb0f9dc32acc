// Package identity resolves bearer credentials to principal emails through
// the external identity provider. Only the single /userinfo lookup the
// validation path needs is covered.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"smrapi/internal/config"
	"smrapi/internal/license"
)

// Resolver errors
var (
	// ErrUnauthorized indicates the bearer token was rejected by the provider
	ErrUnauthorized = errors.New("bearer token rejected by identity provider")
	// ErrNoEmail indicates the provider returned a profile without an email
	ErrNoEmail = errors.New("identity provider returned no email")
)

// Resolver resolves a bearer credential to a principal email
type Resolver interface {
	ResolveEmail(ctx context.Context, bearerToken string) (string, error)
}

// Auth0Resolver resolves emails through the Auth0 /userinfo endpoint
type Auth0Resolver struct {
	domain string
	client *http.Client
	logger *slog.Logger
}

// NewAuth0Resolver creates a resolver for the configured Auth0 tenant
func NewAuth0Resolver(cfg config.IdentityConfig, logger *slog.Logger) *Auth0Resolver {
	return &Auth0Resolver{
		domain: cfg.Auth0Domain,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "identity")),
	}
}

// ResolveEmail implements Resolver
func (r *Auth0Resolver) ResolveEmail(ctx context.Context, bearerToken string) (string, error) {
	url := fmt.Sprintf("https://%s/userinfo", r.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.WarnContext(ctx, "userinfo rejected token",
			slog.Int("status", resp.StatusCode))
		return "", ErrUnauthorized
	}

	var userinfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userinfo); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	email := license.NormalizeEmail(userinfo.Email)
	if email == "" {
		return "", ErrNoEmail
	}
	return email, nil
}
