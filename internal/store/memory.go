package store

import (
	"context"
	"sync"
	"time"

	"smrapi/internal/license"
)

// MemoryStore is an in-memory LicenseStore keyed by email with a secondary
// index on activation code. All conditional semantics match the Postgres
// implementation; mutations happen under one mutex, so the slot bound holds
// under concurrent admissions.
type MemoryStore struct {
	mu      sync.Mutex
	byEmail map[string]*license.License
	codeIdx map[string]string // activation code -> email
}

// NewMemoryStore creates an empty in-memory license store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*license.License),
		codeIdx: make(map[string]string),
	}
}

// GetByEmail implements LicenseStore
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLicense(lic), nil
}

// GetByActivationCode implements LicenseStore
func (s *MemoryStore) GetByActivationCode(ctx context.Context, code string) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic := s.lookupByCode(code)
	if lic == nil {
		return nil, ErrNotFound
	}
	return copyLicense(lic), nil
}

// UpsertByEmail implements LicenseStore
func (s *MemoryStore) UpsertByEmail(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Unique constraint on activation_code across other rows
	if lic.ActivationCode != "" {
		if owner, ok := s.codeIdx[lic.ActivationCode]; ok && owner != lic.Email {
			return ErrDuplicateCode
		}
	}

	existing, ok := s.byEmail[lic.Email]
	if !ok {
		created := copyLicense(lic)
		if created.Devices == nil {
			created.Devices = license.DeviceSet{}
		}
		s.byEmail[lic.Email] = created
		if created.ActivationCode != "" {
			s.codeIdx[created.ActivationCode] = created.Email
		}
		return nil
	}

	// Update identity, status and code fields only; the device set and
	// activation timestamp of an existing row are never touched here.
	if existing.ActivationCode != "" && existing.ActivationCode != lic.ActivationCode {
		delete(s.codeIdx, existing.ActivationCode)
	}
	existing.ActivationCode = lic.ActivationCode
	existing.Status = lic.Status
	existing.MaxDevices = lic.MaxDevices
	existing.PurchaseStatus = lic.PurchaseStatus
	existing.LastEventAt = copyTime(lic.LastEventAt)
	existing.UpdatedAt = lic.UpdatedAt
	if existing.ActivationCode != "" {
		s.codeIdx[existing.ActivationCode] = existing.Email
	}
	return nil
}

// AdmitDevice implements LicenseStore
func (s *MemoryStore) AdmitDevice(ctx context.Context, code string, binding license.DeviceBinding) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic := s.lookupByCode(code)
	if lic == nil || !lic.IsActive() ||
		lic.SlotsUsed() >= lic.MaxDevices || lic.FindDevice(binding.DeviceID) != nil {
		return nil, ErrConditionFailed
	}

	lic.Devices = append(lic.Devices, binding)
	if lic.ActivatedAt == nil {
		activatedAt := binding.FirstSeenAt
		lic.ActivatedAt = &activatedAt
	}
	lic.UpdatedAt = binding.FirstSeenAt
	return copyLicense(lic), nil
}

// TouchDevice implements LicenseStore
func (s *MemoryStore) TouchDevice(ctx context.Context, code, deviceID string, seenAt time.Time) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic := s.lookupByCode(code)
	if lic == nil || !lic.IsActive() {
		return nil, ErrConditionFailed
	}
	device := lic.FindDevice(deviceID)
	if device == nil {
		return nil, ErrConditionFailed
	}

	device.LastSeenAt = seenAt
	lic.UpdatedAt = seenAt
	return copyLicense(lic), nil
}

// Ping implements LicenseStore
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// lookupByCode must be called with the mutex held
func (s *MemoryStore) lookupByCode(code string) *license.License {
	if code == "" {
		return nil
	}
	email, ok := s.codeIdx[code]
	if !ok {
		return nil
	}
	return s.byEmail[email]
}

// copyLicense deep-copies a license so callers never share internal state
func copyLicense(lic *license.License) *license.License {
	clone := *lic
	clone.Devices = make(license.DeviceSet, len(lic.Devices))
	copy(clone.Devices, lic.Devices)
	clone.ActivatedAt = copyTime(lic.ActivatedAt)
	clone.LastEventAt = copyTime(lic.LastEventAt)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
