package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smrapi/internal/config"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLicenseConfig() config.LicenseConfig {
	return config.LicenseConfig{
		MaxDevices:       2,
		CodeAttempts:     5,
		ValidationTTL:    time.Minute,
		ApprovedStatuses: []string{"APPROVED", "COMPLETE"},
	}
}

// seedActiveLicense writes an ACTIVE license with a code straight to the store
func seedActiveLicense(t *testing.T, st store.LicenseStore, email, code string, maxDevices int) {
	t.Helper()
	now := time.Now()
	require.NoError(t, st.UpsertByEmail(context.Background(), &license.License{
		Email:          email,
		ActivationCode: code,
		Status:         license.StatusActive,
		MaxDevices:     maxDevices,
		PurchaseStatus: "APPROVED",
		LastEventAt:    &now,
		UpdatedAt:      now,
	}))
}

// countingStore counts writes passing through to the wrapped store
type countingStore struct {
	store.LicenseStore
	upserts int
}

func (c *countingStore) UpsertByEmail(ctx context.Context, lic *license.License) error {
	c.upserts++
	return c.LicenseStore.UpsertByEmail(ctx, lic)
}

// collidingStore reports duplicate-code conflicts for the first n upserts
type collidingStore struct {
	store.LicenseStore
	collisions int
	attempts   int
}

func (c *collidingStore) UpsertByEmail(ctx context.Context, lic *license.License) error {
	c.attempts++
	if c.attempts <= c.collisions {
		return store.ErrDuplicateCode
	}
	return c.LicenseStore.UpsertByEmail(ctx, lic)
}

// fakeResolver resolves any token to a fixed email, or fails
type fakeResolver struct {
	email string
	err   error
}

func (f *fakeResolver) ResolveEmail(ctx context.Context, bearerToken string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.email, nil
}

// approvedEvent builds a flat webhook payload
func approvedEvent(email, status string) map[string]interface{} {
	return map[string]interface{}{
		"status": status,
		"buyer":  map[string]interface{}{"email": email},
	}
}
