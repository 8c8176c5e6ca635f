/**
 * @description
 * Entry point for the commission service.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/affiliatehub/commission-service/internal/api"
	"github.com/affiliatehub/commission-service/internal/app"
	"github.com/affiliatehub/commission-service/internal/config"
	"github.com/affiliatehub/commission-service/internal/store"
	"github.com/affiliatehub/commission-service/pkg/rabbitmq"
)

const consumerReconnectDelay = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	pgConfig.MaxConns = 100
	pgConfig.MinConns = 20
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	repository := store.NewPostgresRepository(dbpool)
	if err := repository.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	var limiter app.PayoutLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, payout rate limiting disabled", "error", err)
		} else {
			redisClient := redis.NewClient(opts)
			defer redisClient.Close()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Warn("redis unreachable at startup, limiter will fail open until it recovers", "error", err)
			}
			limiter = app.NewRedisPayoutLimiter(redisClient, cfg.RedisRateLimitPrefix)
		}
	}

	service := app.NewService(repository, nil, limiter, logger, app.Options{
		EventExchange:         cfg.EventExchange,
		PayoutRequestsPerHour: cfg.PayoutRequestsPerHour,
		SweepBatchSize:        cfg.SweepBatchSize,
		BackfillBatchSize:     cfg.BackfillBatchSize,
		InviteBaseURL:         cfg.InviteBaseURL,
	})

	connect := func() (app.EventPublisher, error) {
		if cfg.RabbitMQURL == "" {
			return &rabbitmq.EventProducerFallback{Logger: logger}, nil
		}
		return rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	}
	dispatcher := app.NewOutboxDispatcher(repository, connect, logger, time.Duration(cfg.OutboxPollIntervalMs)*time.Millisecond)
	go dispatcher.Run(ctx)

	if cfg.RabbitMQURL != "" {
		eventConsumer := app.NewEventConsumer(service, logger)
		go runConsumer(ctx, cfg, eventConsumer, logger)
	} else {
		logger.Warn("RABBITMQ_URL not set, event consumer disabled")
	}

	scheduler := app.NewScheduler(app.NewJobs(service, logger), logger, cfg)
	scheduler.Start()

	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY not set, internal event and job routes will reject all requests")
	}
	verifier := api.NewJWKSVerifier(cfg.JWKSURL, cfg.JWTAudience, cfg.JWTIssuer)
	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, verifier, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs still running at shutdown")
	}

	logger.Info("server stopped")
}

// runConsumer keeps a consumer attached to the event queue, reconnecting
// after the broker connection drops.
func runConsumer(ctx context.Context, cfg config.Config, eventConsumer *app.EventConsumer, logger *slog.Logger) {
	for {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err == nil {
			err = consumer.ConsumeWithBindings(cfg.EventExchange, cfg.EventQueue, eventConsumer.Bindings())
		}
		if err != nil {
			logger.Error("failed to start event consumer", "error", err)
			if consumer != nil {
				consumer.Close()
			}
		} else {
			logger.Info("event consumer started", "exchange", cfg.EventExchange, "queue", cfg.EventQueue)
			select {
			case <-ctx.Done():
				consumer.Close()
				return
			case amqpErr := <-consumer.NotifyClose():
				logger.Warn("event consumer connection closed", "error", amqpErr)
				consumer.Close()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerReconnectDelay):
		}
	}
}
