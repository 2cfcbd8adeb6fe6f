package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/pricing-engine/internal/archive"
	"github.com/utafrali/pricing-engine/internal/auth"
	"github.com/utafrali/pricing-engine/internal/config"
	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/event"
	handler "github.com/utafrali/pricing-engine/internal/handler/http"
	"github.com/utafrali/pricing-engine/internal/lock"
	"github.com/utafrali/pricing-engine/internal/repository"
	"github.com/utafrali/pricing-engine/internal/repository/catalog"
	"github.com/utafrali/pricing-engine/internal/repository/postgres"
	"github.com/utafrali/pricing-engine/internal/service"
	"github.com/utafrali/pricing-engine/migrations"
	"github.com/utafrali/pricing-engine/pkg/database"
	"github.com/utafrali/pricing-engine/pkg/health"
	"github.com/utafrali/pricing-engine/pkg/httpclient"
	pkgkafka "github.com/utafrali/pricing-engine/pkg/kafka"
	"github.com/utafrali/pricing-engine/pkg/tracing"
)

const (
	serviceName    = "pricing-engine"
	serviceVersion = "0.1.0"
)

// App wires together all dependencies and runs the pricing engine.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	priceChanged   *pkgkafka.Consumer
	service        *service.CampaignService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}

	// PostgreSQL holds the campaign record, its snapshot and the history.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	var locker lock.Locker = lock.NewLocal()
	var dedupe pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	if cfg.RedisEnabled() {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		locker = lock.NewRedis(client, lock.DefaultKey, cfg.LockTTL())
		dedupe = pkgkafka.NewRedisIdempotencyStore(client, "pricing:events", 24*time.Hour)
		logger.Info("connected to Redis, using distributed campaign lease", slog.String("addr", cfg.Redis().Addr()))
	} else {
		logger.Warn("REDIS_HOST not set, campaign lease is process-local")
	}

	products := a.productRepository()
	campaigns := postgres.NewCampaignRepository(pool)

	var opts []service.Option
	if cfg.ArchiveEnabled() {
		exporter, err := archive.NewS3Exporter(ctx, archive.Config{
			Bucket:    cfg.ArchiveBucket,
			Region:    cfg.ArchiveRegion,
			Endpoint:  cfg.ArchiveEndpoint,
			PathStyle: cfg.ArchivePathStyle,
		})
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("init campaign archive: %w", err)
		}
		opts = append(opts, service.WithArchiver(exporter))
		logger.Info("campaign archive enabled", slog.String("bucket", cfg.ArchiveBucket))
	}

	if cfg.KafkaEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		opts = append(opts, service.WithEvents(event.NewProducer(a.producer, logger)))

		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		drift := event.NewDriftDetector(campaigns, logger)
		a.priceChanged = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID + "-price-changed",
			Topic:    event.TopicProductPriceChanged,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(dedupe, drift.HandlePriceChanged, logger), logger,
			pkgkafka.WithDeadLetter(a.dlq))
	} else {
		logger.Warn("KAFKA_BROKERS not set, campaign events and drift detection disabled")
	}

	a.service = service.NewCampaignService(products, campaigns, locker, service.Config{
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.WriteMaxAttempts,
		RetryInitial: cfg.RetryInitial(),
		RetryMax:     cfg.RetryMax(),
		MaxDiscount:  cfg.MaxDiscountPercent,
		LockWait:     cfg.LockWait(),
	}, logger, opts...)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if a.redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}

	routerCfg := handler.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		PprofAllowedCIDRs:  cfg.PprofAllowedCIDRs,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	}
	if cfg.AuthEnabled() {
		routerCfg.TokenValidator = auth.NewVerifier(cfg.JWTSecret).Validate
	} else {
		logger.Warn("JWT_SECRET not set, apply and revert are unauthenticated")
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewRouter(a.service, healthHandler, routerCfg, logger),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// productRepository picks where the catalog lives.
func (a *App) productRepository() repository.ProductRepository {
	if a.cfg.ProductSource != config.ProductSourceHTTP {
		return postgres.NewProductRepository(a.pool)
	}

	base := httpclient.New(httpclient.Config{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})
	cbCfg := httpclient.DefaultCircuitBreakerConfig("product-service")
	client := httpclient.NewCircuitBreakerClient(base, cbCfg, a.logger)
	a.logger.Info("using product service catalog",
		slog.String("url", a.cfg.ProductServiceURL),
		slog.String("circuit_breaker", cbCfg.Name),
	)
	return catalog.NewProductRepository(client, a.cfg.ProductServiceURL)
}

// Run finishes any interrupted campaign, then serves HTTP and consumes price
// change events until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.recoverOnStartup(ctx)

	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.priceChanged != nil {
		go func() {
			if err := a.priceChanged.Start(ctx); err != nil {
				errCh <- fmt.Errorf("price changed consumer: %w", err)
			}
		}()
	}

	if interval := a.cfg.RecoveryInterval(); interval > 0 {
		go a.service.RunRecovery(ctx, interval)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// recoverOnStartup resumes a campaign left mid-apply or mid-revert. Failures
// are left to the background recovery loop.
func (a *App) recoverOnStartup(ctx context.Context) {
	result, err := a.service.Recover(ctx)
	switch {
	case errors.Is(err, domain.ErrOperationInProgress):
		a.logger.Info("startup recovery skipped, another instance holds the campaign lease")
	case err != nil:
		a.logger.Error("startup recovery failed", slog.String("error", err.Error()))
	case result != nil:
		a.logger.Info("startup recovery finished interrupted campaign",
			slog.String("campaign_id", result.CampaignID),
			slog.String("resumed_phase", result.ResumedPhase),
			slog.String("phase", result.Phase),
		)
	}
}

// Shutdown stops components in order: HTTP server, tracer, Kafka consumer,
// Kafka producers, then the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.priceChanged != nil {
		if err := a.priceChanged.Close(); err != nil {
			a.logger.Error("price changed consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.closeStores()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	a.pool.Close()
}

// pingKafkaWithRetry pings the brokers up to 3 times with jittered
// exponential backoff starting at 1s.
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0.25

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := producer.Ping(ctx)
		if err != nil {
			logger.Warn("kafka producer ping failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", 3),
				slog.String("error", err.Error()),
			)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
	if err != nil {
		return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempt, err)
	}
	return nil
}
