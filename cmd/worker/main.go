package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/config"
	"github.com/georgemunganga/medassist-backend/internal/modules/notification"
	"github.com/georgemunganga/medassist-backend/internal/platform/cache"
	"github.com/georgemunganga/medassist-backend/internal/platform/database"
	"github.com/georgemunganga/medassist-backend/internal/platform/kafka"
	"github.com/georgemunganga/medassist-backend/internal/platform/logger"
	"github.com/georgemunganga/medassist-backend/internal/platform/observability"
	"go.uber.org/zap"
)

// The worker consumes the notifications topic, stores each notification and
// publishes it on Redis for the API instances holding websocket connections.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.NotifyTransport != config.TransportKafka {
		return errors.New("notification worker requires NOTIFY_TRANSPORT=kafka")
	}
	if cfg.Storage != config.StoragePostgres {
		return errors.New("notification worker requires STORAGE=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, otelShutdown, err := observability.Setup(ctx, cfg)
	log := logger.New("worker", observability.Enabled(cfg))
	defer log.Sync()
	if err != nil {
		log.Warn("telemetry setup incomplete", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	reader, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, cfg.ConsumerGroup, tp)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	defer reader.Close()

	deliverer := notification.NewDeliverer(
		notification.NewPostgresStore(db),
		notification.NewRedisBroadcaster(rdb),
		log.Named("deliverer"),
	)
	consumer := notification.NewConsumer(reader, deliverer, log.Named("consumer"))

	log.Info("notification worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.NotificationTopic),
		zap.String("group", cfg.ConsumerGroup))
	if err := consumer.Run(ctx); err != nil {
		return err
	}
	log.Info("notification worker stopped")
	return nil
}
