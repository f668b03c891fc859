package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyaltyhub-backend/internal/bootstrap"
	paymentsconsumer "github.com/angelmondragon/loyaltyhub-backend/internal/consumers/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/pubsub"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/redis"
)

const serviceName = "worker"

type pinger func(context.Context) error

func main() {
	if err := godotenv.Load(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"service_kind": serviceName,
		"subscription": cfg.PubSub.PaymentsSubscription,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, cfg.Observability, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer pubsubClient.Close()

	if err := ensureReady(ctx, logg, map[string]pinger{
		"database": dbClient.Ping,
		"redis":    redisClient.Ping,
		"pubsub":   pubsubClient.Ping,
	}); err != nil {
		return err
	}

	engines, err := bootstrap.NewEngines(ctx, bootstrap.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("build engines: %w", err)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	consumer, err := paymentsconsumer.NewConsumer(engines.Orders, engines.Settlement, pubsubClient.PaymentsSubscription(), manager, logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting payments worker")
	return consumer.Run(ctx)
}

func ensureReady(ctx context.Context, logg *logger.Logger, deps map[string]pinger) error {
	for name, ping := range deps {
		if err := ping(ctx); err != nil {
			logg.Error(logg.WithField(ctx, "dependency", name), "worker.dependency_unavailable", err)
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}
	return nil
}
