package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/registry"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service_kind": serviceName})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, cfg.Observability, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer pubsubClient.Close()
	if err := pubsubClient.Ping(ctx); err != nil {
		return err
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}

	publishers := newTopicPublishers(pubsubClient)
	defer publishers.Stop()

	d := &dispatcher{
		tx:             dbClient,
		rows:           outbox.NewRepository(dbClient.DB()),
		dlq:            outbox.NewDLQRepository(dbClient.DB()),
		resolver:       eventRegistry,
		publisher:      publishers,
		metrics:        metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		logg:           logg,
		batchSize:      cfg.Outbox.BatchSize,
		maxAttempts:    cfg.Outbox.MaxAttempts,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
	loop := &pollLoop{
		dispatch: d.dispatchBatch,
		idle:     time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
		logg:     logg,
		jitter:   withJitter,
	}

	logg.Info(ctx, "starting outbox publisher")
	return loop.Run(ctx)
}
