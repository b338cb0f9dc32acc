package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"smrapi/internal/config"
	"smrapi/internal/identity"
	"smrapi/internal/infrastructure"
	customMiddleware "smrapi/internal/middleware"
	"smrapi/internal/services"
	"smrapi/internal/store"
	handlers "smrapi/internal/transport/http"
)

const AppName = "SMR Licensing API"

// Application is the main application container wiring configuration,
// the license store, the services and the HTTP server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         store.LicenseStore
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Services      *ServiceContainer
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Issuer     *services.CodeIssuer
	Ingest     services.IngestService
	Allocator  services.AllocatorService
	Validation services.ValidationService
	Health     *services.HealthService
}

// NewApplication creates a new application instance from the environment
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newApplication(cfg)
}

// newApplication builds the application from an already-loaded configuration
func newApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", infrastructure.ServiceVersion))

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices selects the license store and wires the service layer
func (a *Application) initializeServices() error {
	if a.Config.Database.DSN != "" {
		st, err := store.NewPostgresStore(a.Config.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		a.Store = st
		a.Logger.Info("License store initialized", slog.String("backend", "postgres"))
	} else {
		a.Store = store.NewMemoryStore()
		a.Logger.Warn("No database DSN configured, licenses are held in memory only")
	}

	var resolver identity.Resolver
	if a.Config.Identity.Auth0Domain != "" {
		resolver = identity.NewAuth0Resolver(a.Config.Identity, a.Logger)
		a.Logger.Info("Identity resolver initialized",
			slog.String("domain", a.Config.Identity.Auth0Domain))
	}

	metrics := a.OTelProviders.Metrics
	issuer := services.NewCodeIssuer(a.Store, a.Config.License.CodeAttempts, a.Logger)

	a.Services = &ServiceContainer{
		Issuer:     issuer,
		Ingest:     services.NewIngestService(a.Store, issuer, a.Config.License, a.Logger, metrics),
		Allocator:  services.NewAllocatorService(a.Store, a.Logger, metrics),
		Validation: services.NewValidationService(a.Store, resolver, a.Config.License.ValidationTTL, a.Logger, metrics),
		Health:     services.NewHealthService(a.Store, a.Logger),
	}
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(customMiddleware.StructuredLogger(a.Logger))

	webhookHandler := handlers.NewWebhookHandler(a.Services.Ingest, a.Services.Validation, a.Logger)
	licenseHandler := handlers.NewLicenseHandler(a.Services.Allocator, a.Services.Validation, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.RateLimit(a.Config.Security.RateLimit))

		// The billing platform authenticates with a shared secret in the
		// query string; that is the only mechanism it supports.
		r.With(customMiddleware.WebhookSecret(a.Config.Security.WebhookSecret, a.Logger)).
			Mount("/hotmart", webhookHandler.Routes())

		r.Route("/license", func(r chi.Router) {
			r.With(customMiddleware.APIKey(a.Config.Security.APIKey, a.Logger)).
				Post("/admit", licenseHandler.Admit)
			r.Get("/validate", licenseHandler.Validate)
		})

		r.Post("/activate", licenseHandler.Activate)

		r.Mount("/health", healthHandler.Routes())
	})

	// Prometheus endpoint stays outside the rate-limited group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.ListenAddr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts the HTTP server. Server failures cancel the passed context so
// the caller can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("addr", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost%s", a.Server.Addr)))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if closer, ok := a.Store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing license store",
				slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
