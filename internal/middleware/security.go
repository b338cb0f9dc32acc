package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"smrapi/internal/errors"
)

// APIKey guards a route group with the X-API-Key header. Comparison is
// constant-time. An empty configured key disables the route group instead
// of leaving it open.
func APIKey(expected string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				logger.ErrorContext(r.Context(), "api key not configured, rejecting request",
					slog.String("path", r.URL.Path))
				renderError(w, r, errors.ErrServiceUnavailable)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				logger.WarnContext(r.Context(), "invalid api key",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				renderError(w, r, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookSecret guards the purchase webhook with a shared secret passed as
// a query parameter, matching what the billing platform can be configured
// to send.
func WebhookSecret(expected string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				logger.ErrorContext(r.Context(), "webhook secret not configured, rejecting request")
				renderError(w, r, errors.ErrServiceUnavailable)
				return
			}

			provided := r.URL.Query().Get("secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				logger.WarnContext(r.Context(), "invalid webhook secret",
					slog.String("remote_addr", r.RemoteAddr))
				renderError(w, r, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// renderError writes a structured error response
func renderError(w http.ResponseWriter, r *http.Request, apiErr *errors.APIError) {
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, errors.NewErrorResponse(apiErr))
}
