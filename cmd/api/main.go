package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/batch-engine/internal/callback"
	"github.com/kursadbilgin/batch-engine/internal/config"
	"github.com/kursadbilgin/batch-engine/internal/handler"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/batch-engine/internal/infra/redis"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/provider"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"github.com/kursadbilgin/batch-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("batch-engine api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	statusCache, err := infraredis.NewStatusCache(rdb, cfg.StatusCacheTTL())
	if err != nil {
		return err
	}

	analyzer, err := provider.NewHTTPAnalyzer(cfg.AnalyzerURL, cfg.AnalyzerTimeout())
	if err != nil {
		return fmt.Errorf("analyzer client initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	opts := service.Options{
		Callback:         callback.NewWebhookTransport(cfg.CallbackTimeout()),
		CallbackTimeout:  cfg.CallbackTimeout(),
		ExternalPolicy:   cfg.ExternalRetryPolicy(),
		ProcessingPolicy: cfg.ProcessingRetryPolicy(),
		Metrics:          metrics,
	}

	if cfg.RateLimitPerSec > 0 {
		limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimits())
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}

	var sqlDB *sql.DB
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		defer postgresql.Close(db) //nolint:errcheck

		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		if sqlDB, err = db.DB(); err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}

		opts.Attempts = repository.NewGormAttemptRepo(db)
		opts.Archive = repository.NewGormBatchArchive(db)
		logger.Info("audit database enabled")
	}

	var mq *queue.RabbitMQ
	if cfg.RabbitMQURL != "" {
		mq, err = queue.NewRabbitMQ(cfg.RabbitMQURL, queue.Topology{
			SubmissionQueue: cfg.SubmissionQueue,
			EventsQueue:     cfg.EventsQueue,
			EventsExchange:  cfg.EventsExchange,
		})
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()

		publisher := queue.NewRabbitMQPublisher(mq)
		defer publisher.Close()
		opts.Events = publisher
		logger.Info("rabbitmq enabled",
			zap.String("submissionQueue", cfg.SubmissionQueue),
			zap.String("eventsExchange", cfg.EventsExchange),
		)
	}

	batches, err := service.NewBatchService(
		repository.NewMemoryBatchStore(),
		provider.NewHTTPDispatcher(analyzer),
		statusCache,
		opts,
		logger,
	)
	if err != nil {
		return err
	}

	janitor, err := service.NewJanitor(batches, cfg.CleanupInterval(), cfg.JobRetention(), logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "batch-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterBatchRoutes(app, batches); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("batch-engine api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Start(gctx)
	})

	if mq != nil {
		consumer := queue.NewRabbitMQConsumer(mq, cfg.SubmissionPrefetch, logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Consume(gctx, batches.HandleSubmission)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := batches.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
