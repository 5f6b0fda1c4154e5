package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/dejobratic/checkout/internal/auth"
	"github.com/dejobratic/checkout/internal/config"
	"github.com/dejobratic/checkout/internal/database"
	"github.com/dejobratic/checkout/internal/kafka"
	httpadapter "github.com/dejobratic/checkout/internal/orders/adapters/http"
	"github.com/dejobratic/checkout/internal/orders/app"
	"github.com/dejobratic/checkout/internal/orders/app/commands"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/telemetry"
)

const meterName = "github.com/dejobratic/checkout"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		bootLogger.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(level).With("service", cfg.Service.Name, "environment", cfg.Service.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("checkout api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *slog.Logger) error {
	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:      cfg.Service.Name,
		ServiceVersion:   cfg.Service.Version,
		Environment:      cfg.Service.Environment,
		OTLPEndpoint:     cfg.Telemetry.OTelEndpoint,
		EnableTracing:    cfg.Telemetry.EnableTracing,
		EnableMetrics:    cfg.Telemetry.EnableMetrics,
		EnablePrometheus: cfg.Telemetry.EnablePrometheus,
		SampleRate:       cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	meter := otel.GetMeterProvider().Meter(meterName)
	ordersMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create orders metrics: %w", err)
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create kafka metrics: %w", err)
	}
	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create database metrics: %w", err)
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	backends, err := newBackends(ctx, cfg, dbMetrics, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	if err := seedCatalog(ctx, cfg.Database.SeedPath, backends.catalogWriter, logger); err != nil {
		return err
	}

	events, closeEvents := newEventBus(cfg.Kafka, kafkaMetrics, logger)
	defer closeEvents()

	gateway, webhooks, err := newPayments(cfg.Payments, ordersMetrics)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}

	service := app.NewService(app.Dependencies{
		Store:         backends.store,
		Catalog:       backends.catalog,
		ShippingRates: backends.shippingRates,
		Gateway:       gateway,
		Webhooks:      webhooks,
		Events:        events,
		Idempotency:   backends.idempotency,
		Logger:        logger,
		Metrics:       ordersMetrics,
		Checkout: commands.CheckoutConfig{
			Currency:       cfg.Payments.Currency,
			TaxRateBPS:     cfg.Checkout.TaxRateBPS,
			ReservationTTL: cfg.Checkout.ReservationTTL,
		},
		PaymentTimeout: cfg.Payments.Timeout,
		SweepBatch:     cfg.Checkout.SweepBatch,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		httpadapter.WithTracing,
		httpadapter.WithLogging(logger),
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithRecovery(logger),
	)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := backends.Ready(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	router.Method(http.MethodGet, cfg.HTTP.MetricsPath, tel.MetricsHandler())

	httpadapter.NewHandler(service, verifier, logger).Register(router)

	go service.Sweeper().Run(ctx, cfg.Checkout.SweepInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
