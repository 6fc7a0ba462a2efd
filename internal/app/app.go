package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/cart"
	"github.com/aurelia-commerce/fulfillment/internal/config"
	"github.com/aurelia-commerce/fulfillment/internal/event"
	handler "github.com/aurelia-commerce/fulfillment/internal/handler/http"
	"github.com/aurelia-commerce/fulfillment/internal/payment"
	"github.com/aurelia-commerce/fulfillment/internal/repository/postgres"
	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/internal/shipping"
	"github.com/aurelia-commerce/fulfillment/migrations"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	"github.com/aurelia-commerce/fulfillment/pkg/health"
	"github.com/aurelia-commerce/fulfillment/pkg/httpclient"
	pkgkafka "github.com/aurelia-commerce/fulfillment/pkg/kafka"
	"github.com/aurelia-commerce/fulfillment/pkg/tracing"
)

// App wires together all dependencies and runs the fulfillment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	orderCompleted *pkgkafka.Consumer
	refundDone     *pkgkafka.Consumer
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "fulfillment",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "fulfillment")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Initialize Kafka producer with connection validation and retry.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	orderRepo := postgres.NewOrderRepository(pool)
	inventoryRepo := postgres.NewInventoryRepository(pool)
	refundRepo := postgres.NewRefundRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	eventProducer := event.NewProducer(producer, logger)

	httpTimeout := time.Duration(cfg.HTTPTimeoutSecs) * time.Second
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = httpTimeout
	baseClient := httpclient.New(clientCfg)

	flatRate, err := flatRateFromConfig(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	var shippingCalc shipping.Calculator = flatRate
	if cfg.ShippingServiceURL != "" {
		shippingCalc = shipping.NewHTTPCalculator(baseClient, cfg.ShippingServiceURL, httpTimeout, flatRate, logger)
	}

	var gateway payment.Gateway = payment.NewMockGateway()
	if cfg.PaymentServiceURL != "" {
		// The payment gateway gets a circuit breaker since refund completion
		// holds a database transaction open across the call.
		cbClient := httpclient.NewCircuitBreakerClient(baseClient, httpclient.DefaultCircuitBreakerConfig("payment"), logger)
		gateway = payment.NewHTTPGateway(cbClient, cfg.PaymentServiceURL, httpTimeout, logger)
	}

	cartProvider := cart.NewHTTPProvider(baseClient, cfg.CartServiceURL, httpTimeout)

	orderService := service.NewOrderService(orderRepo, refundRepo, couponRepo, cartProvider, shippingCalc, eventProducer, logger)
	inventoryService := service.NewInventoryService(inventoryRepo, orderRepo, refundRepo, eventProducer, logger, cfg.DefaultWarehouseID)
	refundService := service.NewRefundService(refundRepo, orderRepo, gateway, pool, eventProducer, logger)
	couponService := service.NewCouponService(couponRepo, logger)

	// Set up Kafka consumers that turn lifecycle events into ledger movements.
	eventConsumer := event.NewConsumer(inventoryService, logger)
	idempotencyStore := newIdempotencyStore(cfg, logger)

	orderCompletedConsumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:   cfg.KafkaBrokers,
		GroupID:   "fulfillment-service-order-status",
		Topic:     event.TopicOrderStatusChanged,
		MinBytes:  1,
		MaxBytes:  10e6,
		EnableDLQ: true,
	}, pkgkafka.IdempotentHandler(idempotencyStore, eventConsumer.HandleOrderStatusChanged, logger), logger)

	refundDoneConsumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:   cfg.KafkaBrokers,
		GroupID:   "fulfillment-service-refund-completed",
		Topic:     event.TopicRefundCompleted,
		MinBytes:  1,
		MaxBytes:  10e6,
		EnableDLQ: true,
	}, pkgkafka.IdempotentHandler(idempotencyStore, eventConsumer.HandleRefundCompleted, logger), logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(orderService, inventoryService, refundService, couponService, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		producer:       producer,
		httpServer:     httpServer,
		orderCompleted: orderCompletedConsumer,
		refundDone:     refundDoneConsumer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and Kafka consumers, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start Kafka consumers.
	go func() {
		if err := a.orderCompleted.Start(ctx); err != nil {
			errCh <- fmt.Errorf("order status consumer: %w", err)
		}
	}()

	go func() {
		if err := a.refundDone.Start(ctx); err != nil {
			errCh <- fmt.Errorf("refund completed consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers
// 4. Kafka producer
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka consumers.
	if err := a.orderCompleted.Close(); err != nil {
		a.logger.Error("order status consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.refundDone.Close(); err != nil {
		a.logger.Error("refund completed consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// newIdempotencyStore picks Redis when an address is configured so consumer
// dedup survives restarts, falling back to the in-memory store otherwise.
func newIdempotencyStore(cfg *config.Config, logger *slog.Logger) pkgkafka.IdempotencyStore {
	if cfg.RedisAddr == "" {
		return pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("using redis idempotency store", slog.String("addr", cfg.RedisAddr))
	return pkgkafka.NewRedisIdempotencyStore(client, "fulfillment", 24*time.Hour)
}

// flatRateFromConfig parses the flat-rate shipping amounts from configuration.
func flatRateFromConfig(cfg *config.Config) (*shipping.FlatRateCalculator, error) {
	baseRate, err := decimal.NewFromString(cfg.ShippingBaseRate)
	if err != nil {
		return nil, fmt.Errorf("parse SHIPPING_BASE_RATE %q: %w", cfg.ShippingBaseRate, err)
	}
	perKg, err := decimal.NewFromString(cfg.ShippingPerKg)
	if err != nil {
		return nil, fmt.Errorf("parse SHIPPING_PER_KG %q: %w", cfg.ShippingPerKg, err)
	}
	freeOver, err := decimal.NewFromString(cfg.ShippingFreeOverAmt)
	if err != nil {
		return nil, fmt.Errorf("parse SHIPPING_FREE_THRESHOLD %q: %w", cfg.ShippingFreeOverAmt, err)
	}
	return &shipping.FlatRateCalculator{
		BaseRate:      baseRate,
		PerKg:         perKg,
		FreeThreshold: freeOver,
	}, nil
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
