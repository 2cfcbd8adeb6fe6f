package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pkgconfig "github.com/utafrali/pricing-engine/pkg/config"
	"github.com/utafrali/pricing-engine/pkg/database"
)

// Product sources.
const (
	ProductSourcePostgres = "postgres"
	ProductSourceHTTP     = "http"
)

// Config holds all configuration for the pricing engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"8012"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	// Per-client limit on the pricing API. Zero RPS disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"pricing"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"pricing_secret"`
	PostgresDB   string `env:"PRICING_DB_NAME" envDefault:"pricing_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka. Empty disables event publishing and drift detection.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"pricing-engine"`

	// Redis. An empty host falls back to in-process leases and dedupe.
	RedisHost string `env:"REDIS_HOST"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Campaign engine
	BatchSize          int             `env:"PRICING_BATCH_SIZE" envDefault:"500"`
	WriteMaxAttempts   int             `env:"PRICING_WRITE_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialMs     int             `env:"PRICING_RETRY_INITIAL_MS" envDefault:"100"`
	RetryMaxMs         int             `env:"PRICING_RETRY_MAX_MS" envDefault:"2000"`
	MaxDiscountPercent decimal.Decimal `env:"PRICING_MAX_DISCOUNT_PERCENT" envDefault:"100"`
	LockTTLSeconds     int             `env:"CAMPAIGN_LOCK_TTL_SECONDS" envDefault:"30"`
	LockWaitSeconds    int             `env:"CAMPAIGN_LOCK_WAIT_SECONDS" envDefault:"5"`
	RecoveryIntervalS  int             `env:"RECOVERY_INTERVAL_SECONDS" envDefault:"60"`

	// Product repository
	ProductSource     string `env:"PRODUCT_SOURCE" envDefault:"postgres"`
	ProductServiceURL string `env:"PRODUCT_SERVICE_URL"`

	// Admin guard for apply/revert. Empty leaves the endpoints open.
	JWTSecret string `env:"JWT_SECRET"`

	// Reverted campaign archive. Empty bucket disables the export.
	ArchiveBucket    string `env:"ARCHIVE_S3_BUCKET"`
	ArchiveRegion    string `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	ArchiveEndpoint  string `env:"ARCHIVE_S3_ENDPOINT"`
	ArchivePathStyle bool   `env:"ARCHIVE_S3_PATH_STYLE" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load pricing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0 and RATE_LIMIT_BURST >= 1 when enabled")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("PRICING_BATCH_SIZE must be > 0, got %d", c.BatchSize)
	}
	if c.WriteMaxAttempts < 1 {
		return fmt.Errorf("PRICING_WRITE_MAX_ATTEMPTS must be >= 1, got %d", c.WriteMaxAttempts)
	}
	if c.RetryInitialMs <= 0 || c.RetryMaxMs < c.RetryInitialMs {
		return fmt.Errorf("PRICING_RETRY_INITIAL_MS must be > 0 and <= PRICING_RETRY_MAX_MS")
	}
	if c.MaxDiscountPercent.IsNegative() || c.MaxDiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("PRICING_MAX_DISCOUNT_PERCENT must be within [0,100], got %s", c.MaxDiscountPercent)
	}
	if c.LockTTLSeconds <= 0 {
		return fmt.Errorf("CAMPAIGN_LOCK_TTL_SECONDS must be > 0, got %d", c.LockTTLSeconds)
	}
	if c.LockWaitSeconds < 0 {
		return fmt.Errorf("CAMPAIGN_LOCK_WAIT_SECONDS must be >= 0, got %d", c.LockWaitSeconds)
	}
	if c.RecoveryIntervalS < 0 {
		return fmt.Errorf("RECOVERY_INTERVAL_SECONDS must be >= 0, got %d", c.RecoveryIntervalS)
	}
	switch c.ProductSource {
	case ProductSourcePostgres:
	case ProductSourceHTTP:
		if c.ProductServiceURL == "" {
			return fmt.Errorf("PRODUCT_SERVICE_URL is required when PRODUCT_SOURCE=%s", ProductSourceHTTP)
		}
	default:
		return fmt.Errorf("PRODUCT_SOURCE must be %q or %q, got %q", ProductSourcePostgres, ProductSourceHTTP, c.ProductSource)
	}
	if c.JWTSecret != "" && c.Environment != "development" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
	}
	return nil
}

// Postgres returns the pool configuration derived from the environment.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
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

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPass,
		DB:       c.RedisDB,
	}
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// KafkaEnabled reports whether brokers were configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// AuthEnabled reports whether apply/revert require an admin token.
func (c *Config) AuthEnabled() bool { return c.JWTSecret != "" }

// ArchiveEnabled reports whether reverted campaigns are exported to S3.
func (c *Config) ArchiveEnabled() bool { return c.ArchiveBucket != "" }

// LockTTL is the lease duration of the campaign lock.
func (c *Config) LockTTL() time.Duration { return time.Duration(c.LockTTLSeconds) * time.Second }

// LockWait bounds how long an operation waits for the campaign lock.
func (c *Config) LockWait() time.Duration { return time.Duration(c.LockWaitSeconds) * time.Second }

// RecoveryInterval is the period of the background recovery pass. Zero
// disables the periodic pass; startup recovery still runs.
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalS) * time.Second
}

// RetryInitial is the first batch-write retry delay.
func (c *Config) RetryInitial() time.Duration { return time.Duration(c.RetryInitialMs) * time.Millisecond }

// RetryMax caps the batch-write retry delay.
func (c *Config) RetryMax() time.Duration { return time.Duration(c.RetryMaxMs) * time.Millisecond }
