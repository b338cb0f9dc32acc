package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/services"
)

// WebhookHandler receives purchase-status events from the billing platform
type WebhookHandler struct {
	ingest     services.IngestService
	validation services.ValidationService
	logger     *slog.Logger
}

// NewWebhookHandler creates the purchase webhook handler
func NewWebhookHandler(ingest services.IngestService, validation services.ValidationService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingest:     ingest,
		validation: validation,
		logger:     logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the webhook router
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Receive)
	return r
}

// Receive handles POST /api/hotmart. The payload shape varies between
// event versions, so it is decoded as a raw object and run through the
// ingestor's extraction rules. Incomplete payloads are acknowledged as
// ignored so the sender does not mark the endpoint as failing.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.WarnContext(ctx, "webhook payload is not a JSON object",
			slog.String("error", err.Error()))
		renderAPIError(w, r, licenseErrors.InvalidRequestWithError(err))
		return
	}

	result, err := h.ingest.Ingest(ctx, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to ingest purchase event",
			slog.String("error", err.Error()))
		renderAPIError(w, r, licenseErrors.FromLicensingError(err))
		return
	}

	if !result.Ignored {
		// A state change may have flipped a license; cached validation
		// results for all principals are dropped.
		h.validation.InvalidateCache()
	}

	render.JSON(w, r, result)
}
