package services

import (
	"context"
	"log/slog"
	"time"

	"smrapi/internal/infrastructure"
	"smrapi/internal/store"
)

// HealthStatus is the health check response
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthService reports service and store health
type HealthService struct {
	store  store.LicenseStore
	logger *slog.Logger
}

// NewHealthService creates a health service
func NewHealthService(st store.LicenseStore, logger *slog.Logger) *HealthService {
	return &HealthService{
		store:  st,
		logger: logger.With(slog.String("service", "health")),
	}
}

// HealthCheck pings the license store and reports overall health
func (s *HealthService) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Version:   infrastructure.ServiceVersion,
		Checks:    map[string]string{"store": "up"},
		Timestamp: time.Now().UTC(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.store.Ping(pingCtx); err != nil {
		s.logger.WarnContext(ctx, "store health check failed",
			slog.String("error", err.Error()))
		status.Status = "degraded"
		status.Checks["store"] = "down"
	}
	return status
}

// LivenessCheck reports process liveness without touching collaborators
func (s *HealthService) LivenessCheck() *HealthStatus {
	return &HealthStatus{
		Status:    "alive",
		Version:   infrastructure.ServiceVersion,
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC(),
	}
}
