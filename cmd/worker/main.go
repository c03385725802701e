package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/config"
	"github.com/notifyhub/delivery-engine/internal/infra/postgresql"
	infraredis "github.com/notifyhub/delivery-engine/internal/infra/redis"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/provider"
	"github.com/notifyhub/delivery-engine/internal/queue"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"github.com/notifyhub/delivery-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
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

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerPrefetch, logger)

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

	worker, err := service.NewSendWorker(consumer, notificationRepo, orchestrator, logger)
	if err != nil {
		logger.Fatal("send worker initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("delivery-engine worker started", zap.Strings("queues", queue.WorkQueueNames()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Start(gCtx)
	})

	g.Go(func() error {
		return orchestrator.Start(gCtx)
	})

	// Daily DLQ retention sweep. Failures are logged and the next sweep retries.
	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
				removed, err := dlqService.Cleanup(gCtx, cfg.DLQRetentionDays)
				if err != nil {
					logger.Error("dlq retention sweep failed", zap.Error(err))
					continue
				}
				logger.Info("dlq retention sweep finished", zap.Int64("removed", removed))
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("delivery-engine worker stopped with error", zap.Error(err))
	}

	logger.Info("delivery-engine worker stopped")
}
