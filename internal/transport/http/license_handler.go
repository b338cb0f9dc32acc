package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/identity"
	"smrapi/internal/services"
)

// LicenseHandler handles device admission, activation checks and
// validation queries
type LicenseHandler struct {
	allocator  services.AllocatorService
	validation services.ValidationService
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(allocator services.AllocatorService, validation services.ValidationService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		allocator:  allocator,
		validation: validation,
		validate:   validator.New(),
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/admit", h.Admit)
	r.Get("/validate", h.Validate)
	return r
}

// AdmitRequest is the device admission payload
type AdmitRequest struct {
	ActivationCode string `json:"activation_code" validate:"required"`
	DeviceID       string `json:"device_id" validate:"required,uuid"`
}

// AdmitResponse wraps the admission result
type AdmitResponse struct {
	Success bool `json:"success"`
	*services.AdmissionResult
}

// Admit handles POST /api/license/admit. Repeating the call for an
// already-bound device is safe; it refreshes liveness without consuming
// a slot.
func (h *LicenseHandler) Admit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdmitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderAPIError(w, r, licenseErrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		renderAPIError(w, r, licenseErrors.ErrValidation("request", err.Error()))
		return
	}

	result, err := h.allocator.Admit(ctx, req.ActivationCode, req.DeviceID)
	if err != nil {
		h.logger.WarnContext(ctx, "device admission denied",
			slog.String("device_id", req.DeviceID),
			slog.String("error", err.Error()))
		renderAPIError(w, r, licenseErrors.FromLicensingError(err))
		return
	}

	render.JSON(w, r, &AdmitResponse{Success: true, AdmissionResult: result})
}

// ActivateRequest is the legacy purchase-code activation check payload
type ActivateRequest struct {
	PurchaseCode string `json:"purchase_code" validate:"required"`
}

// Activate handles POST /api/activate: a read-only check that the license
// behind an activation code is active.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ActivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderAPIError(w, r, licenseErrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		renderAPIError(w, r, licenseErrors.ErrValidation("purchase_code", "purchase_code is required"))
		return
	}

	result, err := h.validation.CheckActivationCode(ctx, req.PurchaseCode)
	if err != nil {
		renderAPIError(w, r, licenseErrors.FromLicensingError(err))
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"ok":      true,
		"active":  result.Active,
		"message": result.Message,
	})
}

// Validate handles GET /api/license/validate. With a bearer credential the
// email is resolved through the identity provider; otherwise the email
// query parameter is used. An unknown principal is a normal soft outcome.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		result *services.ValidationResult
		err    error
	)
	if token, ok := bearerToken(r); ok {
		result, err = h.validation.ValidateToken(ctx, token)
	} else if email := r.URL.Query().Get("email"); email != "" {
		result, err = h.validation.ValidateEmail(ctx, email)
	} else {
		renderAPIError(w, r, licenseErrors.ErrValidation("email",
			"provide an email query parameter or a bearer credential"))
		return
	}

	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) || errors.Is(err, identity.ErrNoEmail) {
			renderAPIError(w, r, licenseErrors.ErrUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "validation query failed",
			slog.String("error", err.Error()))
		renderAPIError(w, r, licenseErrors.FromLicensingError(err))
		return
	}

	render.JSON(w, r, result)
}

// bearerToken extracts a bearer credential from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// renderAPIError writes a structured error response
func renderAPIError(w http.ResponseWriter, r *http.Request, apiErr *licenseErrors.APIError) {
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, licenseErrors.NewErrorResponse(apiErr))
}
