package weather

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/geocode"
	"github.com/deadmade/isopruefi-ingest/internal/model"
)

type leaser interface {
	AcquireLease(ctx context.Context) (*model.CoordinateMapping, error)
}

type enricher interface {
	EnsureCoordinates(ctx context.Context, postalCode int) error
}

type fetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (*model.WeatherData, string, error)
}

type outsideWriter interface {
	WriteOutsideWeather(ctx context.Context, place, website string, temperature float64, timestamp time.Time, postalCode int)
}

// geocodeBackoff is how long the worker leaves the geocoding endpoint alone
// after a rate-limit response. Deliberately much longer than the cycle
// interval.
const geocodeBackoff = 15 * time.Minute

// Worker is the periodic enrichment loop. Each cycle it makes sure every
// configured postal code has coordinates, leases one location, and writes
// that location's current outside temperature. The lease is never released
// explicitly; it lapses after a minute, which also bounds the damage of a
// crashed worker. Any number of instances can run concurrently.
type Worker struct {
	leases      leaser
	coordinates enricher
	weather     fetcher
	writer      outsideWriter
	postalCodes []int
	interval    time.Duration
	logger      *zap.Logger

	backoffUntil time.Time
}

func NewWorker(leases leaser, coordinates enricher, weather fetcher, writer outsideWriter,
	postalCodes []int, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		leases:      leases,
		coordinates: coordinates,
		weather:     weather,
		writer:      writer,
		postalCodes: postalCodes,
		interval:    interval,
		logger:      logger,
	}
}

// Run executes cycles on a fixed interval until ctx is cancelled. An
// in-flight cycle finishes before the loop exits; interrupting a lease
// transaction halfway would corrupt the coordination invariant.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one enrichment cycle. Every failure is logged and left
// for the next cycle; the loop itself never stops on an error.
func (w *Worker) RunOnce(ctx context.Context) {
	w.ensureCoordinates(ctx)

	lease, err := w.leases.AcquireLease(ctx)
	if err != nil {
		w.logger.Error("lease acquisition failed", zap.Error(err))
		return
	}
	if lease == nil {
		w.logger.Debug("no leasable location, all rows currently owned")
		return
	}

	data, website, err := w.weather.Fetch(ctx, lease.Latitude, lease.Longitude)
	if err != nil {
		w.logger.Error("weather fetch failed",
			zap.Int("postal_code", lease.PostalCode), zap.Error(err))
		return
	}

	w.writer.WriteOutsideWeather(ctx, lease.Location, website,
		data.Temperature, data.Timestamp, lease.PostalCode)
	w.logger.Info("outside weather stored",
		zap.String("place", lease.Location),
		zap.String("website", website),
		zap.Float64("temperature", data.Temperature))
}

func (w *Worker) ensureCoordinates(ctx context.Context) {
	if time.Now().Before(w.backoffUntil) {
		return
	}
	for _, code := range w.postalCodes {
		err := w.coordinates.EnsureCoordinates(ctx, code)
		if err == nil {
			continue
		}
		if errors.Is(err, geocode.ErrRateLimited) {
			w.backoffUntil = time.Now().Add(geocodeBackoff)
			w.logger.Warn("geocoding rate limited, backing off",
				zap.Duration("backoff", geocodeBackoff))
			return
		}
		w.logger.Error("coordinate enrichment failed",
			zap.Int("postal_code", code), zap.Error(err))
	}
}
