// Package influx is the write path to the time-series store. Writes that
// fail are buffered locally instead of surfaced, so the broker consumer
// keeps draining its feed even while InfluxDB is unreachable; a background
// drainer re-attempts buffered points until they succeed or expire.
package influx

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/config"
)

// PointWriter is the slice of the InfluxDB client the writer needs.
// api.WriteAPIBlocking satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Writer struct {
	client   influxdb2.Client
	writeAPI PointWriter
	buffer   *Buffer
	logger   *zap.Logger
}

func NewWriter(cfg *config.Config, logger *zap.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		buffer:   NewBuffer(cfg.BufferTTL),
		logger:   logger,
	}
}

// NewWriterWithAPI wires an explicit PointWriter and buffer. Tests use it to
// substitute a failing store.
func NewWriterWithAPI(writeAPI PointWriter, buffer *Buffer, logger *zap.Logger) *Writer {
	return &Writer{writeAPI: writeAPI, buffer: buffer, logger: logger}
}

func (w *Writer) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

func (w *Writer) Buffer() *Buffer {
	return w.buffer
}

// WriteSensorData stores one temperature reading. timestamp is unix seconds.
func (w *Writer) WriteSensorData(ctx context.Context, value float64, sensor string, timestamp int64, sequence int) {
	point := write.NewPoint("temperature",
		map[string]string{
			"sensor":   sensor,
			"sequence": strconv.Itoa(sequence),
		},
		map[string]interface{}{"value": value},
		time.Unix(timestamp, 0).UTC(),
	)
	w.writeBuffered(ctx, "sensor", point)
}

// WriteOutsideWeather stores one outside-temperature sample fetched from a
// weather API for a leased location.
func (w *Writer) WriteOutsideWeather(ctx context.Context, place, website string, temperature float64, timestamp time.Time, postalCode int) {
	point := write.NewPoint("outside_temperature",
		map[string]string{
			"place":   place,
			"website": website,
		},
		map[string]interface{}{
			"value":            temperature,
			"value_fahrenheit": temperature*9/5 + 32,
			"postalcode":       int64(postalCode),
		},
		timestamp.UTC(),
	)
	w.writeBuffered(ctx, "weather", point)
}

// writeBuffered attempts the store write and degrades to the local buffer on
// any failure. It never reports an error to the caller: a buffered point is
// success from the ingestion pipeline's perspective.
func (w *Writer) writeBuffered(ctx context.Context, category string, point *write.Point) {
	if err := w.writeAPI.WritePoint(ctx, point); err != nil {
		key := w.buffer.Add(category, point)
		w.logger.Warn("influx write failed, point buffered for retry",
			zap.String("category", category),
			zap.String("key", key),
			zap.Error(err))
	}
}
