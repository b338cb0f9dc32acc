package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smrapi/internal/config"
	"smrapi/internal/infrastructure"
	"smrapi/internal/license"
	"smrapi/internal/store"
)

// IngestResult reports how a purchase event was handled
type IngestResult struct {
	Applied        bool           `json:"ok"`
	Ignored        bool           `json:"ignored,omitempty"`
	Email          string         `json:"email,omitempty"`
	Status         license.Status `json:"status,omitempty"`
	ActivationCode string         `json:"activation_code,omitempty"`
}

// IngestService consumes normalized purchase events and drives the license
// lifecycle state
type IngestService interface {
	Ingest(ctx context.Context, payload map[string]interface{}) (*IngestResult, error)
}

type ingestService struct {
	store      store.LicenseStore
	issuer     *CodeIssuer
	mapping    license.StatusMapping
	maxDevices int
	logger     *slog.Logger
	metrics    *infrastructure.LicensingMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewIngestService creates the purchase event ingestor
func NewIngestService(st store.LicenseStore, issuer *CodeIssuer, cfg config.LicenseConfig, logger *slog.Logger, metrics *infrastructure.LicensingMetrics) IngestService {
	return &ingestService{
		store:      st,
		issuer:     issuer,
		mapping:    license.NewStatusMapping(cfg.ApprovedStatuses),
		maxDevices: cfg.MaxDevices,
		logger:     logger.With(slog.String("service", "ingest")),
		metrics:    metrics,
		tracer:     otel.Tracer(infrastructure.MeterName),
		now:        time.Now,
	}
}

// Ingest applies one purchase event. Events missing either field are
// accepted and ignored so the upstream webhook sender never sees a failure
// for a payload shape it is allowed to send. Applied events produce exactly
// one store write and are idempotent under re-delivery. The webhook carries
// no sequence information, so events apply in arrival order; purchase_status
// and last_event_at are persisted for auditing out-of-order deliveries.
func (s *ingestService) Ingest(ctx context.Context, payload map[string]interface{}) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.purchase_event")
	defer span.End()

	event, ok := license.ExtractEvent(payload)
	if !ok {
		s.logger.InfoContext(ctx, "purchase event ignored, missing email or status")
		if s.metrics != nil {
			s.metrics.EventsIgnored.Add(ctx, 1)
		}
		return &IngestResult{Applied: true, Ignored: true}, nil
	}

	status := s.mapping.Map(event.PurchaseStatus)
	span.SetAttributes(
		attribute.String("license.email", event.Email),
		attribute.String("license.status", string(status)),
	)

	existing, err := s.store.GetByEmail(ctx, event.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to read license for event: %w", err)
	}

	now := s.now()
	lic := &license.License{
		Email:          event.Email,
		Status:         status,
		MaxDevices:     s.maxDevices,
		PurchaseStatus: event.PurchaseStatus,
		LastEventAt:    &now,
		UpdatedAt:      now,
	}
	if existing != nil {
		// Preserve an already-issued code and the configured capacity
		lic.ActivationCode = existing.ActivationCode
		lic.MaxDevices = existing.MaxDevices
	}

	if status == license.StatusActive && lic.ActivationCode == "" {
		code, err := s.issuer.Issue(ctx, lic)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.CodesIssued.Add(ctx, 1)
			s.metrics.EventsIngested.Add(ctx, 1)
		}
		s.logger.InfoContext(ctx, "license activated with new code",
			slog.String("email", event.Email))
		return &IngestResult{
			Applied:        true,
			Email:          event.Email,
			Status:         status,
			ActivationCode: code,
		}, nil
	}

	if err := s.store.UpsertByEmail(ctx, lic); err != nil {
		return nil, fmt.Errorf("failed to persist purchase event: %w", err)
	}
	if s.metrics != nil {
		s.metrics.EventsIngested.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "purchase event applied",
		slog.String("email", event.Email),
		slog.String("status", string(status)),
		slog.String("purchase_status", event.PurchaseStatus))

	return &IngestResult{
		Applied:        true,
		Email:          event.Email,
		Status:         status,
		ActivationCode: lic.ActivationCode,
	}, nil
}
