package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ServiceName    = "smr-licensing-api"
	ServiceVersion = "1.0.0"
	MeterName      = "smrapi"
)

// OTelProviders holds the OpenTelemetry providers and instruments
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Metrics        *LicensingMetrics
}

// LicensingMetrics holds the counters for license operations
type LicensingMetrics struct {
	EventsIngested   metric.Int64Counter
	EventsIgnored    metric.Int64Counter
	CodesIssued      metric.Int64Counter
	DeviceAdmissions metric.Int64Counter
	AdmissionsDenied metric.Int64Counter
	Validations      metric.Int64Counter
}

// InitializeOTel sets up the OpenTelemetry meter provider with a Prometheus
// exporter and registers the licensing instruments.
func InitializeOTel(logger *slog.Logger) (*OTelProviders, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(MeterName)
	metrics, err := newLicensingMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create licensing metrics: %w", err)
	}

	logger.Info("OpenTelemetry initialized",
		slog.String("service", ServiceName),
		slog.String("exporter", "prometheus"))

	return &OTelProviders{
		MeterProvider:  meterProvider,
		Meter:          meter,
		PrometheusHTTP: promhttp.Handler(),
		Metrics:        metrics,
	}, nil
}

// newLicensingMetrics registers the license operation counters
func newLicensingMetrics(meter metric.Meter) (*LicensingMetrics, error) {
	m := &LicensingMetrics{}
	var err error

	if m.EventsIngested, err = meter.Int64Counter("licensing_purchase_events_total",
		metric.WithDescription("Purchase events applied to the license store")); err != nil {
		return nil, err
	}
	if m.EventsIgnored, err = meter.Int64Counter("licensing_purchase_events_ignored_total",
		metric.WithDescription("Purchase events ignored for missing email or status")); err != nil {
		return nil, err
	}
	if m.CodesIssued, err = meter.Int64Counter("licensing_activation_codes_issued_total",
		metric.WithDescription("Activation codes issued")); err != nil {
		return nil, err
	}
	if m.DeviceAdmissions, err = meter.Int64Counter("licensing_device_admissions_total",
		metric.WithDescription("Successful device admissions, new and repeat")); err != nil {
		return nil, err
	}
	if m.AdmissionsDenied, err = meter.Int64Counter("licensing_device_admissions_denied_total",
		metric.WithDescription("Device admissions denied")); err != nil {
		return nil, err
	}
	if m.Validations, err = meter.Int64Counter("licensing_validations_total",
		metric.WithDescription("License validation queries")); err != nil {
		return nil, err
	}
	return m, nil
}

// Shutdown flushes and stops the meter provider
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}
