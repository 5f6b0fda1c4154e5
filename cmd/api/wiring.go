package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dejobratic/checkout/internal/config"
	"github.com/dejobratic/checkout/internal/database"
	idemmemory "github.com/dejobratic/checkout/internal/idempotency/memory"
	idempostgres "github.com/dejobratic/checkout/internal/idempotency/postgres"
	idemredis "github.com/dejobratic/checkout/internal/idempotency/redis"
	"github.com/dejobratic/checkout/internal/kafka"
	"github.com/dejobratic/checkout/internal/orders/adapters"
	"github.com/dejobratic/checkout/internal/orders/adapters/memory"
	orderspostgres "github.com/dejobratic/checkout/internal/orders/adapters/postgres"
	ordersredis "github.com/dejobratic/checkout/internal/orders/adapters/redis"
	"github.com/dejobratic/checkout/internal/orders/adapters/stripe"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/dejobratic/checkout/internal/seed"
)

// backends holds the storage side of the service. Postgres is used when configured, otherwise
// everything lives in process memory.
type backends struct {
	pool  *pgxpool.Pool
	redis *goredis.Client

	store         ports.Store
	catalog       ports.Catalog
	catalogWriter ports.CatalogWriter
	shippingRates ports.ShippingRates
	idempotency   ports.IdempotencyStore
}

func newBackends(ctx context.Context, cfg *config.Config, dbMetrics *database.Metrics, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Database.URL != "" {
		pool, err := database.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("create database pool: %w", err)
		}
		b.pool = pool

		if cfg.Database.AutoMigrate {
			logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
			version, err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath)
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations completed", "version", version)
		}

		store := orderspostgres.NewStore(pool, dbMetrics)
		b.store, b.catalog, b.catalogWriter, b.shippingRates = store, store, store, store
		b.idempotency = idempostgres.NewStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := memory.NewStore()
		b.store, b.catalog, b.catalogWriter, b.shippingRates = store, store, store, store
		b.idempotency = idemmemory.NewStore()
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.redis = client
		b.shippingRates = ordersredis.NewShippingRates(b.shippingRates, client, cfg.Redis.RateCacheTTL, logger)
		b.idempotency = idemredis.NewStore(client, cfg.Redis.IdempotencyTTL)
	}

	return b, nil
}

// Ready checks every external dependency the service was started with.
func (b *backends) Ready(ctx context.Context) error {
	var errs []error
	if b.pool != nil {
		if err := database.CheckHealth(ctx, b.pool); err != nil {
			errs = append(errs, err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis ping: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func seedCatalog(ctx context.Context, path string, writer ports.CatalogWriter, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	file, err := seed.Load(path)
	if err != nil {
		return err
	}
	if err := file.Apply(ctx, writer); err != nil {
		return fmt.Errorf("apply catalog seed: %w", err)
	}
	logger.Info("catalog seeded", "path", path, "variants", len(file.Variants), "shipping_rates", len(file.ShippingRates))
	return nil
}

func newEventBus(cfg config.KafkaConfig, kafkaMetrics *kafka.Metrics, logger *slog.Logger) (ports.EventBus, func()) {
	if len(cfg.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, domain events are discarded")
		return adapters.NewObservableEventBus(kafka.NewNoopEventBus(), kafkaMetrics), func() {}
	}

	bus := kafka.NewEventBus(cfg.Brokers, cfg.TopicPrefix)
	return adapters.NewObservableEventBus(bus, kafkaMetrics), func() {
		if err := bus.Close(); err != nil {
			logger.Error("kafka writer close failed", "error", err)
		}
	}
}

func newPayments(cfg config.PaymentsConfig, ordersMetrics *metrics.Metrics) (ports.PaymentGateway, ports.WebhookParser, error) {
	gateway, err := stripe.NewGateway(stripe.Config{
		SecretKey:  cfg.StripeSecretKey,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		SessionTTL: cfg.SessionTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create stripe gateway: %w", err)
	}
	return adapters.NewObservableGateway(gateway, ordersMetrics), stripe.NewWebhookParser(cfg.StripeWebhookSecret, cfg.WebhookTolerance), nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
