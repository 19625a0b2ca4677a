package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/config"
	"github.com/deadmade/isopruefi-ingest/internal/geocode"
	"github.com/deadmade/isopruefi-ingest/internal/influx"
	"github.com/deadmade/isopruefi-ingest/internal/logging"
	"github.com/deadmade/isopruefi-ingest/internal/postgres"
	"github.com/deadmade/isopruefi-ingest/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "weather-worker")
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

	coordinates := postgres.NewCoordinateRepo(db, logger)
	geocoder := geocode.NewService(cfg.GeocodingAPIURL, coordinates, logger)
	client := weather.NewClient(cfg.OpenMeteoAPIURL, cfg.BrightSkyAPIURL, logger)

	worker := weather.NewWorker(coordinates, geocoder, client, writer,
		cfg.PostalCodes, cfg.WeatherInterval, logger)
	go worker.Run(ctx)

	drainer := influx.NewDrainer(writer, cfg.RetryInterval, logger)
	go drainer.Run(ctx)

	<-ctx.Done()
	logger.Info("weather worker stopped")
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
