// Package geocode resolves postal codes to coordinates through the
// Nominatim search API and persists the result as a coordinate mapping.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// ErrRateLimited signals an HTTP 403 from the geocoding endpoint. The caller
// must back off longer than for an ordinary network error before retrying.
var ErrRateLimited = errors.New("geocoding endpoint rate limited")

// Nominatim blocks requests without a browser-like user agent.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"

type coordinateStore interface {
	ExistsPostalCode(ctx context.Context, postalCode int) (bool, error)
	InsertMapping(ctx context.Context, m model.CoordinateMapping) error
	TouchLastUsed(ctx context.Context, postalCode int, t time.Time) error
}

type geocodeResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type Service struct {
	http   *resty.Client
	apiURL string
	store  coordinateStore
	logger *zap.Logger
	group  singleflight.Group
}

func NewService(apiURL string, store coordinateStore, logger *zap.Logger) *Service {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &Service{
		http:   client,
		apiURL: apiURL,
		store:  store,
		logger: logger,
	}
}

// EnsureCoordinates makes sure a mapping for postalCode exists. Known codes
// only get their last_used refreshed. Concurrent calls for the same code are
// collapsed into a single lookup, so the external endpoint sees one request
// and the table gets one row.
func (s *Service) EnsureCoordinates(ctx context.Context, postalCode int) error {
	exists, err := s.store.ExistsPostalCode(ctx, postalCode)
	if err != nil {
		return err
	}
	if exists {
		if err := s.store.TouchLastUsed(ctx, postalCode, time.Now()); err != nil {
			return err
		}
		return nil
	}

	_, err, _ = s.group.Do(strconv.Itoa(postalCode), func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have inserted
		// the row while this one waited.
		exists, err := s.store.ExistsPostalCode(ctx, postalCode)
		if err != nil || exists {
			return nil, err
		}
		return nil, s.lookupAndInsert(ctx, postalCode)
	})
	return err
}

func (s *Service) lookupAndInsert(ctx context.Context, postalCode int) error {
	resp, err := s.http.R().SetContext(ctx).Get(s.apiURL + strconv.Itoa(postalCode))
	if err != nil {
		return fmt.Errorf("call geocoding endpoint: %w", err)
	}
	if resp.StatusCode() == http.StatusForbidden {
		return ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("geocoding endpoint returned status %d", resp.StatusCode())
	}

	var results []geocodeResult
	if err := json.Unmarshal(resp.Body(), &results); err != nil {
		return fmt.Errorf("decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("no geocoding result for postal code %d", postalCode)
	}

	mapping, err := toMapping(postalCode, results[0])
	if err != nil {
		return err
	}
	if err := s.store.InsertMapping(ctx, mapping); err != nil {
		return err
	}

	s.logger.Info("postal code geocoded",
		zap.Int("postal_code", postalCode),
		zap.String("location", mapping.Location))
	return nil
}

func toMapping(postalCode int, r geocodeResult) (model.CoordinateMapping, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return model.CoordinateMapping{}, fmt.Errorf("parse latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return model.CoordinateMapping{}, fmt.Errorf("parse longitude %q: %w", r.Lon, err)
	}
	return model.CoordinateMapping{
		PostalCode: postalCode,
		Location:   locationLabel(r.DisplayName),
		Latitude:   lat,
		Longitude:  lon,
	}, nil
}

// locationLabel extracts the short place name from a Nominatim display name
// like "89518, Reno, Washoe County, Nevada, USA".
func locationLabel(displayName string) string {
	parts := strings.Split(displayName, ",")
	if len(parts) > 1 {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(displayName)
}
