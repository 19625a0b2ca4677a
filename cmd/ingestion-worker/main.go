package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/config"
	"github.com/deadmade/isopruefi-ingest/internal/influx"
	"github.com/deadmade/isopruefi-ingest/internal/logging"
	"github.com/deadmade/isopruefi-ingest/internal/mqttclient"
	"github.com/deadmade/isopruefi-ingest/internal/postgres"
	"github.com/deadmade/isopruefi-ingest/internal/subscriber"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "ingestion-worker")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	db, err := postgres.Open(cfg)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	writer := influx.NewWriter(cfg, logger)
	defer writer.Close()

	sub := subscriber.New(postgres.NewSettingsRepo(db, logger), writer, cfg, logger)
	if err := sub.LoadSettings(ctx); err != nil {
		logger.Fatal("topic settings unavailable", zap.Error(err))
	}

	conn := mqttclient.New(cfg, logger, sub.Subscribe)
	if err := conn.Connect(ctx, 2*time.Second, 30*time.Second); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Fatal("mqtt connection failed", zap.Error(err))
	}
	defer conn.Disconnect()

	drainer := influx.NewDrainer(writer, cfg.RetryInterval, logger)
	go drainer.Run(ctx)

	<-ctx.Done()
	logger.Info("ingestion worker stopped")
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", s.String()))
		cancel()
	}()
}
