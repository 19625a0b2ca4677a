package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetch_OpenMeteoPreferred(t *testing.T) {
	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "39.52", r.URL.Query().Get("latitude"))
		assert.Equal(t, "-119.81", r.URL.Query().Get("longitude"))
		w.Write([]byte(`{"current":{"time":"2026-09-01T12:30","temperature_2m":20.4}}`))
	}))
	defer meteo.Close()

	c := NewClient(
		meteo.URL+"/v1/forecast?latitude={lat}&longitude={lon}&current=temperature_2m",
		"http://unused.invalid/{lat}/{lon}",
		zap.NewNop())

	data, website, err := c.Fetch(context.Background(), 39.52, -119.81)
	require.NoError(t, err)
	assert.Equal(t, "Meteo", website)
	assert.Equal(t, 20.4, data.Temperature)
	assert.Equal(t, time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC), data.Timestamp)
}

func TestFetch_FallsBackToBrightSky(t *testing.T) {
	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer meteo.Close()

	brightSky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"weather":{"timestamp":"2026-09-01T12:30:00+00:00","temperature":19.8}}`))
	}))
	defer brightSky.Close()

	c := NewClient(
		meteo.URL+"/?lat={lat}&lon={lon}",
		brightSky.URL+"/?lat={lat}&lon={lon}",
		zap.NewNop())

	data, website, err := c.Fetch(context.Background(), 48.67, 10.15)
	require.NoError(t, err)
	assert.Equal(t, "Bright Sky", website)
	assert.Equal(t, 19.8, data.Temperature)
}

func TestFetch_AllSourcesDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c := NewClient(down.URL+"/?lat={lat}&lon={lon}", down.URL+"/?lat={lat}&lon={lon}", zap.NewNop())

	_, _, err := c.Fetch(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestFetch_IncompleteResponse(t *testing.T) {
	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{}}`))
	}))
	defer meteo.Close()
	brightSky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer brightSky.Close()

	c := NewClient(meteo.URL+"/?lat={lat}&lon={lon}", brightSky.URL+"/?lat={lat}&lon={lon}", zap.NewNop())

	_, _, err := c.Fetch(context.Background(), 0, 0)
	assert.Error(t, err)
}
