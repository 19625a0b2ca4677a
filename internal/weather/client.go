// Package weather fetches outside-temperature samples for leased locations
// from Open-Meteo, falling back to Bright Sky when Open-Meteo is down.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// Client calls the two weather APIs. The configured URLs carry {lat} and
// {lon} placeholders.
type Client struct {
	http         *resty.Client
	openMeteoURL string
	brightSkyURL string
	logger       *zap.Logger
}

func NewClient(openMeteoURL, brightSkyURL string, logger *zap.Logger) *Client {
	return &Client{
		http:         resty.New().SetTimeout(15 * time.Second).SetHeader("Accept", "application/json"),
		openMeteoURL: openMeteoURL,
		brightSkyURL: brightSkyURL,
		logger:       logger,
	}
}

type openMeteoResponse struct {
	Current struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
	} `json:"current"`
}

type brightSkyResponse struct {
	Weather struct {
		Timestamp   string  `json:"timestamp"`
		Temperature float64 `json:"temperature"`
	} `json:"weather"`
}

// Fetch returns the current outside temperature at the coordinates, plus the
// name of the API that supplied it.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (*model.WeatherData, string, error) {
	data, err := c.fetchOpenMeteo(ctx, lat, lon)
	if err == nil {
		return data, "Meteo", nil
	}
	c.logger.Warn("open-meteo fetch failed, trying bright sky", zap.Error(err))

	data, altErr := c.fetchBrightSky(ctx, lat, lon)
	if altErr == nil {
		return data, "Bright Sky", nil
	}
	return nil, "", fmt.Errorf("all weather sources failed: %w (bright sky: %v)", err, altErr)
}

func (c *Client) fetchOpenMeteo(ctx context.Context, lat, lon float64) (*model.WeatherData, error) {
	body, err := c.get(ctx, c.openMeteoURL, lat, lon)
	if err != nil {
		return nil, err
	}
	var r openMeteoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode open-meteo response: %w", err)
	}
	if r.Current.Time == "" {
		return nil, fmt.Errorf("open-meteo response incomplete")
	}
	ts, err := parseTimestamp(r.Current.Time)
	if err != nil {
		return nil, err
	}
	return &model.WeatherData{Temperature: r.Current.Temperature, Timestamp: ts}, nil
}

func (c *Client) fetchBrightSky(ctx context.Context, lat, lon float64) (*model.WeatherData, error) {
	body, err := c.get(ctx, c.brightSkyURL, lat, lon)
	if err != nil {
		return nil, err
	}
	var r brightSkyResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode bright sky response: %w", err)
	}
	if r.Weather.Timestamp == "" {
		return nil, fmt.Errorf("bright sky response incomplete")
	}
	ts, err := parseTimestamp(r.Weather.Timestamp)
	if err != nil {
		return nil, err
	}
	return &model.WeatherData{Temperature: r.Weather.Temperature, Timestamp: ts}, nil
}

func (c *Client) get(ctx context.Context, urlTemplate string, lat, lon float64) ([]byte, error) {
	if urlTemplate == "" {
		return nil, fmt.Errorf("weather API URL not configured")
	}
	url := strings.NewReplacer(
		"{lat}", strconv.FormatFloat(lat, 'f', -1, 64),
		"{lon}", strconv.FormatFloat(lon, 'f', -1, 64),
	).Replace(urlTemplate)

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("weather request returned status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// parseTimestamp accepts both RFC3339 and the minute-resolution form
// Open-Meteo uses ("2026-09-01T12:34").
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable weather timestamp %q", s)
}
