package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`

	// StorageDriver selects postgres+redis or the in-process memory store.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB   string `env:"STOREFRONT_DB_NAME" envDefault:"storefront"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"storefront"`

	// Payment provider. Empty uses the built-in simulator.
	PaymentServiceURL         string `env:"PAYMENT_SERVICE_URL" envDefault:""`
	PaymentSimulatorDeclineAt string `env:"PAYMENT_SIMULATOR_DECLINE_ABOVE" envDefault:"0"`

	// Circuit breaker settings for the payment provider
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Per-step checkout timeouts (seconds).
	CommitTimeout  int `env:"CHECKOUT_COMMIT_TIMEOUT" envDefault:"5"`
	CaptureTimeout int `env:"CHECKOUT_CAPTURE_TIMEOUT" envDefault:"10"`

	// Cart limits
	CartTTLHours          int    `env:"CART_TTL_HOURS" envDefault:"168"`
	MaxQuantityPerItem    int    `env:"CART_MAX_QUANTITY_PER_ITEM" envDefault:"10"`
	MaxLinesPerCart       int    `env:"CART_MAX_LINES" envDefault:"50"`
	ReconcileConcurrency  int    `env:"RECONCILE_CONCURRENCY" envDefault:"8"`
	DefaultCountry        string `env:"DEFAULT_COUNTRY" envDefault:"TR"`
	Currency              string `env:"CURRENCY" envDefault:"TRY"`
	CatalogCacheTTLSecs   int    `env:"CATALOG_CACHE_TTL_SECONDS" envDefault:"60"`
	IdempotencyKeyTTLMins int    `env:"IDEMPOTENCY_KEY_TTL_MINUTES" envDefault:"1440"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	cfg.DefaultCountry = strings.ToUpper(cfg.DefaultCountry)
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageDriverPostgres, StorageDriverMemory, c.StorageDriver)
	}
	if c.PaymentServiceURL != "" {
		if _, err := url.ParseRequestURI(c.PaymentServiceURL); err != nil {
			return fmt.Errorf("invalid PAYMENT_SERVICE_URL %q: %w", c.PaymentServiceURL, err)
		}
	}
	if _, err := decimal.NewFromString(c.PaymentSimulatorDeclineAt); err != nil {
		return fmt.Errorf("invalid PAYMENT_SIMULATOR_DECLINE_ABOVE %q: %w", c.PaymentSimulatorDeclineAt, err)
	}
	if c.MaxQuantityPerItem < 1 {
		return fmt.Errorf("CART_MAX_QUANTITY_PER_ITEM must be positive, got %d", c.MaxQuantityPerItem)
	}
	if c.MaxLinesPerCart < 1 {
		return fmt.Errorf("CART_MAX_LINES must be positive, got %d", c.MaxLinesPerCart)
	}
	if c.ReconcileConcurrency < 1 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.ReconcileConcurrency)
	}
	if len(c.DefaultCountry) != 2 {
		return fmt.Errorf("DEFAULT_COUNTRY must be a two-letter country code, got %q", c.DefaultCountry)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three-letter code, got %q", c.Currency)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis client settings.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Addr = c.RedisAddr
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// CartTTL is how long an untouched cart is kept.
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

// SimulatorDeclineAbove is the amount above which the payment simulator
// declines. Zero never declines.
func (c *Config) SimulatorDeclineAbove() decimal.Decimal {
	d, err := decimal.NewFromString(c.PaymentSimulatorDeclineAt)
	if err != nil {
		return decimal.Zero
	}
	return d
}
