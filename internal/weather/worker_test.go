package weather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/geocode"
	"github.com/deadmade/isopruefi-ingest/internal/model"
)

type fakeLeaser struct {
	lease *model.CoordinateMapping
	err   error
	calls int
}

func (f *fakeLeaser) AcquireLease(context.Context) (*model.CoordinateMapping, error) {
	f.calls++
	return f.lease, f.err
}

type fakeEnricher struct {
	mu    sync.Mutex
	codes []int
	err   error
}

func (f *fakeEnricher) EnsureCoordinates(_ context.Context, postalCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, postalCode)
	return f.err
}

type fakeFetcher struct {
	data    *model.WeatherData
	website string
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, float64, float64) (*model.WeatherData, string, error) {
	return f.data, f.website, f.err
}

type outsideRecord struct {
	Place      string
	Website    string
	Temp       float64
	PostalCode int
}

type fakeOutsideWriter struct {
	writes []outsideRecord
}

func (w *fakeOutsideWriter) WriteOutsideWeather(_ context.Context, place, website string, temperature float64, _ time.Time, postalCode int) {
	w.writes = append(w.writes, outsideRecord{place, website, temperature, postalCode})
}

func TestRunOnce_FetchesWeatherForLeasedLocation(t *testing.T) {
	leaser := &fakeLeaser{lease: &model.CoordinateMapping{
		PostalCode: 89518, Location: "Reno", Latitude: 39.52, Longitude: -119.81,
	}}
	enricher := &fakeEnricher{}
	fetcher := &fakeFetcher{
		data:    &model.WeatherData{Temperature: 20.4, Timestamp: time.Now()},
		website: "Meteo",
	}
	writer := &fakeOutsideWriter{}

	w := NewWorker(leaser, enricher, fetcher, writer, []int{89518}, time.Second, zap.NewNop())
	w.RunOnce(context.Background())

	assert.Equal(t, []int{89518}, enricher.codes)
	require.Len(t, writer.writes, 1)
	assert.Equal(t, outsideRecord{"Reno", "Meteo", 20.4, 89518}, writer.writes[0])
}

func TestRunOnce_NoLeaseIsNotAnError(t *testing.T) {
	leaser := &fakeLeaser{lease: nil}
	writer := &fakeOutsideWriter{}

	w := NewWorker(leaser, &fakeEnricher{}, &fakeFetcher{}, writer, nil, time.Second, zap.NewNop())
	w.RunOnce(context.Background())

	assert.Equal(t, 1, leaser.calls)
	assert.Empty(t, writer.writes)
}

func TestRunOnce_FetchFailureLeavesRetryToNextCycle(t *testing.T) {
	leaser := &fakeLeaser{lease: &model.CoordinateMapping{PostalCode: 1}}
	fetcher := &fakeFetcher{err: errors.New("both sources down")}
	writer := &fakeOutsideWriter{}

	w := NewWorker(leaser, &fakeEnricher{}, fetcher, writer, nil, time.Second, zap.NewNop())
	w.RunOnce(context.Background())
	w.RunOnce(context.Background())

	assert.Equal(t, 2, leaser.calls, "every cycle tries again")
	assert.Empty(t, writer.writes)
}

func TestRunOnce_RateLimitBacksOffGeocoding(t *testing.T) {
	enricher := &fakeEnricher{err: geocode.ErrRateLimited}
	leaser := &fakeLeaser{}

	w := NewWorker(leaser, enricher, &fakeFetcher{}, &fakeOutsideWriter{},
		[]int{89518, 89519}, time.Second, zap.NewNop())

	w.RunOnce(context.Background())
	w.RunOnce(context.Background())

	// One attempt, then the backoff window suppresses further calls; the
	// remaining postal codes of the first cycle are skipped too.
	assert.Equal(t, []int{89518}, enricher.codes)
	// Leasing keeps going regardless of the geocoding quota.
	assert.Equal(t, 2, leaser.calls)
}

func TestRunOnce_EnrichmentErrorDoesNotBlockOtherCodes(t *testing.T) {
	enricher := &fakeEnricher{err: errors.New("nominatim hiccup")}
	w := NewWorker(&fakeLeaser{}, enricher, &fakeFetcher{}, &fakeOutsideWriter{},
		[]int{1, 2}, time.Second, zap.NewNop())

	w.RunOnce(context.Background())

	assert.Equal(t, []int{1, 2}, enricher.codes, "a plain error moves on to the next code")
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := NewWorker(&fakeLeaser{}, &fakeEnricher{}, &fakeFetcher{}, &fakeOutsideWriter{},
		nil, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
