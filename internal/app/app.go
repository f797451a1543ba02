package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/coupon"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/order"
	"github.com/utafrali/storefront/internal/payment"
	"github.com/utafrali/storefront/internal/repository/memory"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/migrations"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

const serviceName = "storefront"

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// Memory is the backing store when running on the memory driver.
	Memory *memory.Store

	stopConsumer context.CancelFunc
	consumerDone chan struct{}
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	healthHandler := health.NewHandler()

	var (
		store     storage
		publisher event.Publisher
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		a.Memory = memory.NewStore()
		store = memoryStorage(a.Memory)
		publisher = logPublisher{logger: logger}
		logger.Warn("running on the in-memory store, state is lost on restart")
	default:
		if err := a.connect(ctx); err != nil {
			a.closeInfra()
			return nil, err
		}
		store = persistentStorage(cfg, a.pool, a.redis, logger)
		publisher = a.producer
		a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaConsumerGroup,
			Topic:    event.TopicCatalogChanged,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(
			redisrepo.NewEventStore(a.redis, 24*time.Hour),
			event.CatalogChangedHandler(store.cache, logger),
			logger,
		), logger).WithDLQ(a.dlq)

		pool, rdb, producer := a.pool, a.redis, a.producer
		healthHandler.Register("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		healthHandler.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	eventProducer := event.NewProducer(publisher, logger)
	reconciler := cart.NewReconciler(store.catalog, cfg.ReconcileConcurrency)

	cartService := cart.NewService(
		store.carts,
		store.catalog,
		reconciler,
		coupon.NewEvaluator(store.coupons, nil),
		eventProducer,
		logger,
		cart.Limits{
			TTL:                cfg.CartTTL(),
			MaxQuantityPerItem: cfg.MaxQuantityPerItem,
			MaxLinesPerCart:    cfg.MaxLinesPerCart,
			DefaultCountry:     cfg.DefaultCountry,
		},
	)
	orderService := order.NewService(store.orders, eventProducer, logger)
	checkoutService := checkout.NewService(checkout.Deps{
		Carts:          store.carts,
		Reconciler:     reconciler,
		Clearer:        cartService,
		Builder:        order.NewBuilder(cfg.Currency),
		Orders:         store.orders,
		Capturer:       a.capturer(),
		Guard:          store.guard,
		Producer:       eventProducer,
		Logger:         logger,
		DefaultCountry: cfg.DefaultCountry,
		Timeouts: checkout.Timeouts{
			Commit:  time.Duration(cfg.CommitTimeout) * time.Second,
			Capture: time.Duration(cfg.CaptureTimeout) * time.Second,
		},
	})

	router := handler.NewRouter(handler.Services{
		Cart:     cartService,
		Checkout: checkoutService,
		Orders:   orderService,
	}, healthHandler, logger, cfg.PprofAllowedCIDRs)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// connect opens PostgreSQL, Redis and Kafka and migrates the schema.
func (a *App) connect(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	rdb, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rdb
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	return nil
}

// capturer returns the payment provider client, or the simulator when no
// provider URL is configured.
func (a *App) capturer() payment.Capturer {
	cfg := a.cfg
	if cfg.PaymentServiceURL == "" {
		a.logger.Info("using payment simulator",
			slog.String("decline_above", cfg.SimulatorDeclineAbove().String()),
		)
		return payment.NewSimulator(cfg.SimulatorDeclineAbove())
	}

	baseClient := httpclient.New(httpclient.Config{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})
	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "payment",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, a.logger).
		WithFallback(payment.CircuitOpenFallback)
	a.logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	return payment.NewHTTPCapturer(cbClient, cfg.PaymentServiceURL,
		time.Duration(cfg.CaptureTimeout)*time.Second, a.logger)
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the catalog consumer and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.consumer != nil {
		consumerCtx, stop := context.WithCancel(context.Background())
		a.stopConsumer = stop
		a.consumerDone = make(chan struct{})
		go func() {
			defer close(a.consumerDone)
			a.logger.Info("starting catalog consumer", slog.String("topic", event.TopicCatalogChanged))
			if err := a.consumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("catalog consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Catalog consumer
// 3. Tracer (flush pending spans)
// 4. Kafka, Redis and PostgreSQL clients
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.stopConsumer != nil {
		a.stopConsumer()
		<-a.consumerDone
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeInfra())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeInfra releases whatever connect managed to open.
func (a *App) closeInfra() error {
	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dlq producer: %w", err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	for _, err := range errs {
		a.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	return errors.Join(errs...)
}
