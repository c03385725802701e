package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/config"
	"github.com/notifyhub/delivery-engine/internal/handler"
	"github.com/notifyhub/delivery-engine/internal/infra/postgresql"
	"github.com/notifyhub/delivery-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/notifyhub/delivery-engine/internal/infra/redis"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/provider"
	"github.com/notifyhub/delivery-engine/internal/queue"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"github.com/notifyhub/delivery-engine/internal/service"
	"github.com/notifyhub/delivery-engine/internal/transport"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)

	deliveryClient, err := provider.NewHTTPDeliveryClient(cfg.ProviderURL, cfg.ProviderAPIKey)
	if err != nil {
		logger.Fatal("delivery provider initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	dlqRepo := repository.NewGormDLQRepo(db)
	tokenRepo := repository.NewGormDeviceTokenRepo(db)

	circuits := breaker.NewRegistry(logger)
	metrics := observability.NewMetrics()

	cleaner, err := service.NewTokenCleaner(tokenRepo, deliveryClient, logger)
	if err != nil {
		logger.Fatal("token cleaner initialization failed", zap.Error(err))
	}
	cleaner.SetMetrics(metrics)

	dlqService, err := service.NewDLQService(dlqRepo, logger)
	if err != nil {
		logger.Fatal("dlq service initialization failed", zap.Error(err))
	}
	dlqService.SetMetrics(metrics)

	retryCfg := service.RetryConfig{
		Interval:   time.Duration(cfg.RetryIntervalMinutes) * time.Minute,
		MaxRetries: cfg.RetryMaxAttempts,
		BatchSize:  cfg.RetryBatchSize,
	}
	orchestrator, err := service.NewRetryOrchestrator(
		notificationRepo, dlqService, cleaner, circuits, deliveryClient, rateLimiter, retryCfg, logger,
	)
	if err != nil {
		logger.Fatal("retry orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	dispatchService, err := service.NewDispatchService(notificationRepo, publisher, logger)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}

	alertChecker, err := service.NewAlertChecker(notificationRepo, dlqService, circuits, service.AlertThresholds{}, logger)
	if err != nil {
		logger.Fatal("alert checker initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())(c.Context())
		return nil
	})

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	if err := handler.RegisterNotificationRoutes(app, dispatchService, orchestrator, alertChecker, circuits); err != nil {
		logger.Fatal("failed to register notification routes", zap.Error(err))
	}
	if err := handler.RegisterDLQRoutes(app, dlqService); err != nil {
		logger.Fatal("failed to register dlq routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("delivery-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gCtx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("delivery-engine api stopped with error", zap.Error(err))
	}

	logger.Info("delivery-engine api stopped")
}
