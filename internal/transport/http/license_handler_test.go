package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smrapi/internal/config"
	"smrapi/internal/identity"
	"smrapi/internal/license"
	"smrapi/internal/services"
	"smrapi/internal/store"
)

const (
	testDeviceA = "11111111-1111-4111-8111-111111111111"
	testDeviceB = "22222222-2222-4222-8222-222222222222"
	testDeviceC = "33333333-3333-4333-8333-333333333333"
)

type testAPI struct {
	router chi.Router
	store  *store.MemoryStore
}

func newTestAPI(t *testing.T, resolver identity.Resolver) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	cfg := config.LicenseConfig{
		MaxDevices:       2,
		CodeAttempts:     5,
		ApprovedStatuses: []string{"APPROVED", "COMPLETE"},
	}

	issuer := services.NewCodeIssuer(st, cfg.CodeAttempts, logger)
	ingest := services.NewIngestService(st, issuer, cfg, logger, nil)
	allocator := services.NewAllocatorService(st, logger, nil)
	validation := services.NewValidationService(st, resolver, 0, logger, nil)

	licenseHandler := NewLicenseHandler(allocator, validation, logger)
	webhookHandler := NewWebhookHandler(ingest, validation, logger)
	healthHandler := NewHealthHandler(services.NewHealthService(st, logger), logger)

	r := chi.NewRouter()
	r.Mount("/api/hotmart", webhookHandler.Routes())
	r.Mount("/api/license", licenseHandler.Routes())
	r.Mount("/api/health", healthHandler.Routes())
	r.Post("/api/activate", licenseHandler.Activate)

	return &testAPI{router: r, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (a *testAPI) seedActive(t *testing.T, email, code string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, a.store.UpsertByEmail(context.Background(), &license.License{
		Email:          email,
		ActivationCode: code,
		Status:         license.StatusActive,
		MaxDevices:     2,
		PurchaseStatus: "APPROVED",
		LastEventAt:    &now,
		UpdatedAt:      now,
	}))
}

func admitBody(code, deviceID string) map[string]string {
	return map[string]string{"activation_code": code, "device_id": deviceID}
}

func TestActivationFlowEndToEnd(t *testing.T) {
	api := newTestAPI(t, nil)

	// Purchase approval creates the license and issues a code
	rec, body := api.do(t, http.MethodPost, "/api/hotmart",
		map[string]interface{}{"status": "approved", "buyer": map[string]string{"email": "a@x.com"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code, _ := body["activation_code"].(string)
	require.NotEmpty(t, code)
	assert.Equal(t, "ACTIVE", body["status"])

	// First device registers
	rec, body = api.do(t, http.MethodPost, "/api/license/admit", admitBody(code, testDeviceA), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["admitted"])
	assert.Equal(t, true, body["newly_registered"])
	assert.Equal(t, float64(1), body["slots_used"])
	assert.Equal(t, float64(2), body["max_devices"])

	// Same device repeats without consuming a slot
	rec, body = api.do(t, http.MethodPost, "/api/license/admit", admitBody(code, testDeviceA), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["newly_registered"])
	assert.Equal(t, float64(1), body["slots_used"])

	// Second device fills the license
	rec, body = api.do(t, http.MethodPost, "/api/license/admit", admitBody(code, testDeviceB), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["slots_used"])

	// Third device is rejected with the slot diagnostics
	rec, body = api.do(t, http.MethodPost, "/api/license/admit", admitBody(code, testDeviceC), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "SLOT_LIMIT_REACHED", errObj["error_code"])
	details := errObj["details"].(map[string]interface{})
	assert.Equal(t, float64(2), details["slots_used"])
	assert.Equal(t, float64(2), details["max_devices"])
}

func TestAdmitUnknownCode(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, body := api.do(t, http.MethodPost, "/api/license/admit",
		admitBody("SMR-9999-9999-9999", testDeviceA), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "CODE_NOT_FOUND", errObj["error_code"])
}

func TestAdmitInactiveLicense(t *testing.T) {
	api := newTestAPI(t, nil)
	now := time.Now()
	require.NoError(t, api.store.UpsertByEmail(context.Background(), &license.License{
		Email:          "a@x.com",
		ActivationCode: "SMR-0000-0000-0001",
		Status:         license.StatusInactive,
		MaxDevices:     2,
		UpdatedAt:      now,
	}))

	rec, body := api.do(t, http.MethodPost, "/api/license/admit",
		admitBody("SMR-0000-0000-0001", testDeviceA), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "LICENSE_INACTIVE", errObj["error_code"])
	details := errObj["details"].(map[string]interface{})
	assert.Equal(t, "INACTIVE", details["current_status"])
}

func TestAdmitValidationErrors(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedActive(t, "a@x.com", "SMR-0000-0000-0001")

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing activation code", map[string]string{"device_id": testDeviceA}},
		{"missing device id", map[string]string{"activation_code": "SMR-0000-0000-0001"}},
		{"malformed device id", admitBody("SMR-0000-0000-0001", "my-laptop")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := api.do(t, http.MethodPost, "/api/license/admit", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestValidateByEmail(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedActive(t, "a@x.com", "SMR-0000-0000-0001")

	rec, body := api.do(t, http.MethodGet, "/api/license/validate?email=A@X.com", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "ACTIVE", body["status"])
}

func TestValidateUnknownEmailIsSoft(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, body := api.do(t, http.MethodGet, "/api/license/validate?email=unknown@x.com", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "NOT_FOUND", body["status"])
}

func TestValidateMissingPrincipal(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodGet, "/api/license/validate", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type tokenResolver struct {
	email string
	err   error
}

func (r *tokenResolver) ResolveEmail(ctx context.Context, bearerToken string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.email, nil
}

func TestValidateWithBearerToken(t *testing.T) {
	api := newTestAPI(t, &tokenResolver{email: "a@x.com"})
	api.seedActive(t, "a@x.com", "SMR-0000-0000-0001")

	rec, body := api.do(t, http.MethodGet, "/api/license/validate", nil,
		map[string]string{"Authorization": "Bearer good-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "a@x.com", body["email"])
}

func TestValidateWithRejectedToken(t *testing.T) {
	api := newTestAPI(t, &tokenResolver{err: identity.ErrUnauthorized})

	rec, _ := api.do(t, http.MethodGet, "/api/license/validate", nil,
		map[string]string{"Authorization": "Bearer bad-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActivateEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedActive(t, "a@x.com", "SMR-0000-0000-0001")

	rec, body := api.do(t, http.MethodPost, "/api/activate",
		map[string]string{"purchase_code": "SMR-0000-0000-0001"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["active"])

	rec, _ = api.do(t, http.MethodPost, "/api/activate",
		map[string]string{"purchase_code": "SMR-9999-9999-9999"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/activate", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, body := api.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "up", checks["store"])
}

func TestSlotBoundHoldsOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedActive(t, "a@x.com", "SMR-0000-0000-0001")

	admitted := 0
	for i := 0; i < 8; i++ {
		deviceID := fmt.Sprintf("%08d-1111-4111-8111-111111111111", i)
		rec, _ := api.do(t, http.MethodPost, "/api/license/admit",
			admitBody("SMR-0000-0000-0001", deviceID), nil)
		if rec.Code == http.StatusOK {
			admitted++
		} else {
			assert.Equal(t, http.StatusConflict, rec.Code)
		}
	}
	assert.Equal(t, 2, admitted)

	lic, err := api.store.GetByActivationCode(context.Background(), "SMR-0000-0000-0001")
	require.NoError(t, err)
	assert.Equal(t, 2, lic.SlotsUsed())
}
