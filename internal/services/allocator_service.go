package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "smrapi/internal/errors"
	"smrapi/internal/infrastructure"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

// admitAttempts bounds the classify-and-retry loop around the store's
// conditional mutations. A condition failure means a concurrent admission
// changed the row between our read and our write; one re-read settles it.
const admitAttempts = 3

// AdmissionResult reports the outcome of a device admission
type AdmissionResult struct {
	Admitted        bool `json:"admitted"`
	NewlyRegistered bool `json:"newly_registered"`
	SlotsUsed       int  `json:"slots_used"`
	MaxDevices      int  `json:"max_devices"`
}

// AllocatorService admits devices into a license's bounded device set
type AllocatorService interface {
	Admit(ctx context.Context, activationCode, deviceID string) (*AdmissionResult, error)
}

type allocatorService struct {
	store   store.LicenseStore
	logger  *slog.Logger
	metrics *infrastructure.LicensingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewAllocatorService creates the device slot allocator
func NewAllocatorService(st store.LicenseStore, logger *slog.Logger, metrics *infrastructure.LicensingMetrics) AllocatorService {
	return &allocatorService{
		store:   st,
		logger:  logger.With(slog.String("service", "allocator")),
		metrics: metrics,
		tracer:  otel.Tracer(infrastructure.MeterName),
		now:     time.Now,
	}
}

// Admit idempotently admits a device into the license's device set.
// A device already bound only has its last_seen_at refreshed; a new device
// occupies a slot through the store's atomic conditional append, so two
// admissions racing for the last slot cannot both succeed.
func (s *allocatorService) Admit(ctx context.Context, activationCode, deviceID string) (*AdmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "allocator.admit",
		trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	if activationCode == "" {
		return nil, s.denied(ctx, licenseErrors.ErrCodeNotFound)
	}
	if err := license.ValidateDeviceID(deviceID); err != nil {
		return nil, s.denied(ctx, fmt.Errorf("%w: %s", licenseErrors.ErrInvalidDeviceID, deviceID))
	}

	for attempt := 0; attempt < admitAttempts; attempt++ {
		lic, err := s.store.GetByActivationCode(ctx, activationCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, s.denied(ctx, licenseErrors.ErrCodeNotFound)
			}
			return nil, fmt.Errorf("failed to look up license: %w", err)
		}
		if !lic.IsActive() {
			return nil, s.denied(ctx, &licenseErrors.LicenseInactiveError{Status: string(lic.Status)})
		}

		now := s.now()

		// Repeat contact from a bound device refreshes liveness only.
		// This path never consumes a slot and never errors.
		if lic.FindDevice(deviceID) != nil {
			updated, err := s.store.TouchDevice(ctx, activationCode, deviceID, now)
			if errors.Is(err, store.ErrConditionFailed) {
				continue // license changed underneath us, re-read
			}
			if err != nil {
				return nil, fmt.Errorf("failed to refresh device: %w", err)
			}
			s.logger.InfoContext(ctx, "device revalidated",
				slog.String("email", updated.Email),
				slog.String("device_id", deviceID),
				slog.Int("slots_used", updated.SlotsUsed()))
			return s.admitted(ctx, updated, false), nil
		}

		if lic.SlotsUsed() >= lic.MaxDevices {
			return nil, s.denied(ctx, &licenseErrors.SlotLimitError{
				SlotsUsed:  lic.SlotsUsed(),
				MaxDevices: lic.MaxDevices,
			})
		}

		updated, err := s.store.AdmitDevice(ctx, activationCode, license.DeviceBinding{
			DeviceID:    deviceID,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
		if errors.Is(err, store.ErrConditionFailed) {
			continue // lost a race for the slot, re-read and re-classify
		}
		if err != nil {
			return nil, fmt.Errorf("failed to admit device: %w", err)
		}
		s.logger.InfoContext(ctx, "device admitted",
			slog.String("email", updated.Email),
			slog.String("device_id", deviceID),
			slog.Int("slots_used", updated.SlotsUsed()),
			slog.Int("max_devices", updated.MaxDevices))
		return s.admitted(ctx, updated, true), nil
	}

	return nil, s.denied(ctx, fmt.Errorf("admission retries exhausted for device %s", deviceID))
}

// admitted builds a successful admission result and counts it
func (s *allocatorService) admitted(ctx context.Context, lic *license.License, newlyRegistered bool) *AdmissionResult {
	if s.metrics != nil {
		s.metrics.DeviceAdmissions.Add(ctx, 1,
			metricAttr("newly_registered", newlyRegistered))
	}
	return &AdmissionResult{
		Admitted:        true,
		NewlyRegistered: newlyRegistered,
		SlotsUsed:       lic.SlotsUsed(),
		MaxDevices:      lic.MaxDevices,
	}
}

// denied counts a denied admission and passes the error through
func (s *allocatorService) denied(ctx context.Context, err error) error {
	if s.metrics != nil {
		s.metrics.AdmissionsDenied.Add(ctx, 1)
	}
	return err
}

// metricAttr builds a single boolean attribute option for counters
func metricAttr(key string, value bool) metric.AddOption {
	return metric.WithAttributes(attribute.Bool(key, value))
}
