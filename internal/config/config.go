package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the checkout API.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
	Payments  PaymentsConfig
	Checkout  CheckoutConfig
	Auth      AuthConfig
}

type HTTPConfig struct {
	Port          int
	MetricsPath   string
	ShutdownGrace int
}

type DatabaseConfig struct {
	// URL is empty when neither DATABASE_URL nor DB_HOST is set; the API then runs on the in-memory store.
	URL            string
	AutoMigrate    bool
	MigrationsPath string
	SeedPath       string
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	RateCacheTTL   time.Duration
	IdempotencyTTL time.Duration
}

type TelemetryConfig struct {
	LogLevel         string
	OTelEndpoint     string
	EnableTracing    bool
	EnableMetrics    bool
	EnablePrometheus bool
	SampleRate       float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type PaymentsConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string
	Currency            string
	Timeout             time.Duration
	SessionTTL          time.Duration
	WebhookTolerance    time.Duration
}

type CheckoutConfig struct {
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	TaxRateBPS     int64
}

type AuthConfig struct {
	JWTSecret string
}

const (
	defaultHTTPPort         = 8080
	defaultMetricsPath      = "/metrics"
	defaultShutdownGrace    = 15
	defaultMigrationsPath   = "migrations"
	defaultAutoMigrate      = true
	defaultServiceName      = "checkout-api"
	defaultServiceVersion   = "0.1.0"
	defaultEnvironment      = "development"
	defaultLogLevel         = "info"
	defaultOTelSampleRate   = 1.0
	defaultTopicPrefix      = "checkout"
	defaultRateCacheTTL     = 10 * time.Minute
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultCurrency         = "KES"
	defaultPaymentTimeout   = 10 * time.Second
	defaultSessionTTL       = 31 * time.Minute
	defaultWebhookTolerance = 5 * time.Minute
	defaultReservationTTL   = 45 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultSweepBatch       = 100

	// Stripe accepts checkout session lifetimes between 30 minutes and 24 hours.
	minSessionTTL = 31 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

// Load reads configuration from environment variables, applying defaults when needed.
func Load() (*Config, error) {
	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	dbCfg, err := loadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("loading database config: %w", err)
	}

	kafkaCfg := loadKafkaConfig()

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("loading redis config: %w", err)
	}

	telCfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	paymentsCfg, err := loadPaymentsConfig()
	if err != nil {
		return nil, fmt.Errorf("loading payments config: %w", err)
	}

	checkoutCfg, err := loadCheckoutConfig()
	if err != nil {
		return nil, fmt.Errorf("loading checkout config: %w", err)
	}

	authCfg, err := loadAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	cfg := &Config{
		HTTP:      httpCfg,
		Database:  dbCfg,
		Kafka:     kafkaCfg,
		Redis:     redisCfg,
		Telemetry: telCfg,
		Service:   loadServiceConfig(),
		Payments:  paymentsCfg,
		Checkout:  checkoutCfg,
		Auth:      authCfg,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("API_HTTP_PORT out of range: %d", c.HTTP.Port))
	}
	if c.Payments.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Payments.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.Payments.SuccessURL == "" || c.Payments.CancelURL == "" {
		errs = append(errs, errors.New("PAYMENT_SUCCESS_URL and PAYMENT_CANCEL_URL are required"))
	}
	if len(c.Payments.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CHECKOUT_CURRENCY must be an ISO 4217 code, got %q", c.Payments.Currency))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Checkout.TaxRateBPS < 0 || c.Checkout.TaxRateBPS > 10000 {
		errs = append(errs, fmt.Errorf("TAX_RATE_BPS must be between 0 and 10000, got %d", c.Checkout.TaxRateBPS))
	}
	if c.Checkout.ReservationTTL <= 0 || c.Checkout.SweepInterval <= 0 || c.Checkout.SweepBatch <= 0 {
		errs = append(errs, errors.New("reservation TTL, sweep interval and sweep batch must be positive"))
	}
	if c.Payments.SessionTTL < minSessionTTL || c.Payments.SessionTTL > maxSessionTTL {
		errs = append(errs, fmt.Errorf("PAYMENT_SESSION_TTL must be between %s and %s, got %s", minSessionTTL, maxSessionTTL, c.Payments.SessionTTL))
	} else if c.Payments.SessionTTL >= c.Checkout.ReservationTTL {
		// A session outliving its reservation could be paid after the sweeper released the stock.
		errs = append(errs, fmt.Errorf("PAYMENT_SESSION_TTL (%s) must be shorter than CHECKOUT_RESERVATION_TTL (%s)", c.Payments.SessionTTL, c.Checkout.ReservationTTL))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.Telemetry.SampleRate))
	}
	return errors.Join(errs...)
}

func loadHTTPConfig() (HTTPConfig, error) {
	port := defaultHTTPPort
	if value, ok := os.LookupEnv("API_HTTP_PORT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_HTTP_PORT: %w", err)
		}
		port = parsed
	}

	shutdownGrace := defaultShutdownGrace
	if value, ok := os.LookupEnv("API_SHUTDOWN_GRACE_SECONDS"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_SHUTDOWN_GRACE_SECONDS: %w", err)
		}
		shutdownGrace = parsed
	}

	metricsPath := getEnvOrDefault("API_METRICS_PATH", defaultMetricsPath)

	return HTTPConfig{
		Port:          port,
		MetricsPath:   metricsPath,
		ShutdownGrace: shutdownGrace,
	}, nil
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	databaseURL, err := getSecret("DATABASE_URL")
	if err != nil {
		return DatabaseConfig{}, err
	}
	if databaseURL == "" && os.Getenv("DB_HOST") != "" {
		databaseURL = buildDatabaseURL()
	}

	autoMigrate := getBoolEnv("AUTO_MIGRATE", defaultAutoMigrate)
	migrationsPath := getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath)

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    autoMigrate,
		MigrationsPath: migrationsPath,
		SeedPath:       os.Getenv("CATALOG_SEED_PATH"),
	}, nil
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return KafkaConfig{
		Brokers:     brokers,
		TopicPrefix: getEnvOrDefault("KAFKA_TOPIC_PREFIX", defaultTopicPrefix),
	}
}

func loadRedisConfig() (RedisConfig, error) {
	db := 0
	if value, ok := os.LookupEnv("REDIS_DB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		db = parsed
	}

	rateTTL, err := getDurationEnv("REDIS_RATE_CACHE_TTL", defaultRateCacheTTL)
	if err != nil {
		return RedisConfig{}, err
	}
	idemTTL, err := getDurationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	if err != nil {
		return RedisConfig{}, err
	}

	password, err := getSecret("REDIS_PASSWORD")
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Addr:           os.Getenv("REDIS_ADDR"),
		Password:       password,
		DB:             db,
		RateCacheTTL:   rateTTL,
		IdempotencyTTL: idemTTL,
	}, nil
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	logLevel := getEnvOrDefault("LOG_LEVEL", defaultLogLevel)
	otelEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	enableTracing := getBoolEnv("OTEL_ENABLE_TRACING", true)
	enableMetrics := getBoolEnv("OTEL_ENABLE_METRICS", true)
	enablePrometheus := getBoolEnv("PROMETHEUS_ENABLED", true)

	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	return TelemetryConfig{
		LogLevel:         logLevel,
		OTelEndpoint:     otelEndpoint,
		EnableTracing:    enableTracing,
		EnableMetrics:    enableMetrics,
		EnablePrometheus: enablePrometheus,
		SampleRate:       sampleRate,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func loadPaymentsConfig() (PaymentsConfig, error) {
	timeout, err := getDurationEnv("PAYMENT_TIMEOUT", defaultPaymentTimeout)
	if err != nil {
		return PaymentsConfig{}, err
	}
	sessionTTL, err := getDurationEnv("PAYMENT_SESSION_TTL", defaultSessionTTL)
	if err != nil {
		return PaymentsConfig{}, err
	}
	tolerance, err := getDurationEnv("STRIPE_WEBHOOK_TOLERANCE", defaultWebhookTolerance)
	if err != nil {
		return PaymentsConfig{}, err
	}

	secretKey, err := getSecret("STRIPE_SECRET_KEY")
	if err != nil {
		return PaymentsConfig{}, err
	}
	webhookSecret, err := getSecret("STRIPE_WEBHOOK_SECRET")
	if err != nil {
		return PaymentsConfig{}, err
	}

	return PaymentsConfig{
		StripeSecretKey:     secretKey,
		StripeWebhookSecret: webhookSecret,
		SuccessURL:          os.Getenv("PAYMENT_SUCCESS_URL"),
		CancelURL:           os.Getenv("PAYMENT_CANCEL_URL"),
		Currency:            strings.ToUpper(getEnvOrDefault("CHECKOUT_CURRENCY", defaultCurrency)),
		Timeout:             timeout,
		SessionTTL:          sessionTTL,
		WebhookTolerance:    tolerance,
	}, nil
}

func loadCheckoutConfig() (CheckoutConfig, error) {
	reservationTTL, err := getDurationEnv("CHECKOUT_RESERVATION_TTL", defaultReservationTTL)
	if err != nil {
		return CheckoutConfig{}, err
	}
	sweepInterval, err := getDurationEnv("CHECKOUT_SWEEP_INTERVAL", defaultSweepInterval)
	if err != nil {
		return CheckoutConfig{}, err
	}

	batch := defaultSweepBatch
	if value, ok := os.LookupEnv("CHECKOUT_SWEEP_BATCH"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return CheckoutConfig{}, fmt.Errorf("invalid CHECKOUT_SWEEP_BATCH: %w", err)
		}
		batch = parsed
	}

	var taxBPS int64
	if value, ok := os.LookupEnv("TAX_RATE_BPS"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return CheckoutConfig{}, fmt.Errorf("invalid TAX_RATE_BPS: %w", err)
		}
		taxBPS = parsed
	}

	return CheckoutConfig{
		ReservationTTL: reservationTTL,
		SweepInterval:  sweepInterval,
		SweepBatch:     batch,
		TaxRateBPS:     taxBPS,
	}, nil
}

func loadAuthConfig() (AuthConfig, error) {
	secret, err := getSecret("JWT_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}
	return AuthConfig{JWTSecret: secret}, nil
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "checkout")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "5")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

// getSecret reads KEY, falling back to the file named by KEY_FILE.
func getSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s_FILE: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
