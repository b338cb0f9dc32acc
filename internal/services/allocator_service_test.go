package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

const (
	testCode = "SMR-0000-0000-0001"
	deviceA  = "11111111-1111-4111-8111-111111111111"
	deviceB  = "22222222-2222-4222-8222-222222222222"
	deviceC  = "33333333-3333-4333-8333-333333333333"
)

func newAllocator(st store.LicenseStore) AllocatorService {
	return NewAllocatorService(st, testLogger(), nil)
}

func TestAdmitScenario(t *testing.T) {
	// The full walk from the activation flow: first admission registers,
	// repeat is idempotent, capacity is enforced at two devices.
	st := store.NewMemoryStore()
	seedActiveLicense(t, st, "a@x.com", testCode, 2)
	allocator := newAllocator(st)
	ctx := context.Background()

	result, err := allocator.Admit(ctx, testCode, deviceA)
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.True(t, result.NewlyRegistered)
	assert.Equal(t, 1, result.SlotsUsed)
	assert.Equal(t, 2, result.MaxDevices)

	// Same device again: no extra slot, no error
	result, err = allocator.Admit(ctx, testCode, deviceA)
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.False(t, result.NewlyRegistered)
	assert.Equal(t, 1, result.SlotsUsed)

	// Second distinct device fills the license
	result, err = allocator.Admit(ctx, testCode, deviceB)
	require.NoError(t, err)
	assert.True(t, result.NewlyRegistered)
	assert.Equal(t, 2, result.SlotsUsed)

	// Third distinct device is rejected with precise diagnostics
	_, err = allocator.Admit(ctx, testCode, deviceC)
	var slotErr *licenseErrors.SlotLimitError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, 2, slotErr.SlotsUsed)
	assert.Equal(t, 2, slotErr.MaxDevices)
}

func TestAdmitUnknownCode(t *testing.T) {
	allocator := newAllocator(store.NewMemoryStore())

	_, err := allocator.Admit(context.Background(), "SMR-9999-9999-9999", deviceA)
	assert.ErrorIs(t, err, licenseErrors.ErrCodeNotFound)
}

func TestAdmitEmptyCode(t *testing.T) {
	allocator := newAllocator(store.NewMemoryStore())

	_, err := allocator.Admit(context.Background(), "", deviceA)
	assert.ErrorIs(t, err, licenseErrors.ErrCodeNotFound)
}

func TestAdmitInvalidDeviceID(t *testing.T) {
	st := store.NewMemoryStore()
	seedActiveLicense(t, st, "a@x.com", testCode, 2)
	allocator := newAllocator(st)

	_, err := allocator.Admit(context.Background(), testCode, "not-a-uuid")
	assert.ErrorIs(t, err, licenseErrors.ErrInvalidDeviceID)
}

func TestAdmitInactiveLicense(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.UpsertByEmail(ctx, &license.License{
		Email:          "a@x.com",
		ActivationCode: testCode,
		Status:         license.StatusInactive,
		MaxDevices:     2,
	}))
	allocator := newAllocator(st)

	_, err := allocator.Admit(ctx, testCode, deviceA)
	var inactiveErr *licenseErrors.LicenseInactiveError
	require.ErrorAs(t, err, &inactiveErr)
	assert.Equal(t, string(license.StatusInactive), inactiveErr.Status)
}

func TestAdmitRefreshesLastSeen(t *testing.T) {
	st := store.NewMemoryStore()
	seedActiveLicense(t, st, "a@x.com", testCode, 2)
	allocator := newAllocator(st)
	ctx := context.Background()

	_, err := allocator.Admit(ctx, testCode, deviceA)
	require.NoError(t, err)

	before, err := st.GetByActivationCode(ctx, testCode)
	require.NoError(t, err)
	firstSeen := before.FindDevice(deviceA).FirstSeenAt

	_, err = allocator.Admit(ctx, testCode, deviceA)
	require.NoError(t, err)

	after, err := st.GetByActivationCode(ctx, testCode)
	require.NoError(t, err)
	device := after.FindDevice(deviceA)
	assert.Equal(t, firstSeen, device.FirstSeenAt)
	assert.False(t, device.LastSeenAt.Before(firstSeen))
}

func TestAdmitSetsActivatedAt(t *testing.T) {
	st := store.NewMemoryStore()
	seedActiveLicense(t, st, "a@x.com", testCode, 2)
	allocator := newAllocator(st)
	ctx := context.Background()

	before, err := st.GetByActivationCode(ctx, testCode)
	require.NoError(t, err)
	require.Nil(t, before.ActivatedAt)

	_, err = allocator.Admit(ctx, testCode, deviceA)
	require.NoError(t, err)

	after, err := st.GetByActivationCode(ctx, testCode)
	require.NoError(t, err)
	assert.NotNil(t, after.ActivatedAt)
}

func TestAdmitRecoversFromLostRace(t *testing.T) {
	// A store whose first conditional append fails, as if a concurrent
	// admission changed the row after our read. The allocator must re-read
	// and settle instead of erroring.
	st := store.NewMemoryStore()
	seedActiveLicense(t, st, "a@x.com", testCode, 2)
	racing := &racingStore{LicenseStore: st, failures: 1}
	allocator := newAllocator(racing)

	result, err := allocator.Admit(context.Background(), testCode, deviceA)
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.True(t, result.NewlyRegistered)
}

type racingStore struct {
	store.LicenseStore
	failures int
}

func (r *racingStore) AdmitDevice(ctx context.Context, code string, binding license.DeviceBinding) (*license.License, error) {
	if r.failures > 0 {
		r.failures--
		return nil, store.ErrConditionFailed
	}
	return r.LicenseStore.AdmitDevice(ctx, code, binding)
}
