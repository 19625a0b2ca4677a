package influx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Drainer periodically re-attempts every buffered point. A point leaves the
// buffer only on a confirmed successful write; failures stay for the next
// cycle and keep aging toward their expiry. No ordering is guaranteed
// between retried points and live writes.
type Drainer struct {
	writer   *Writer
	interval time.Duration
	logger   *zap.Logger
}

func NewDrainer(writer *Writer, interval time.Duration, logger *zap.Logger) *Drainer {
	return &Drainer{writer: writer, interval: interval, logger: logger}
}

// Run drains on a fixed interval until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce snapshots the buffer and retries each point once.
func (d *Drainer) RunOnce(ctx context.Context) {
	points := d.writer.buffer.Snapshot()
	if len(points) == 0 {
		return
	}

	d.logger.Info("retrying buffered influx points", zap.Int("count", len(points)))
	retried := 0
	for key, point := range points {
		if err := d.writer.writeAPI.WritePoint(ctx, point); err != nil {
			d.logger.Debug("buffered point still failing",
				zap.String("key", key), zap.Error(err))
			continue
		}
		d.writer.buffer.Remove(key)
		retried++
	}
	d.logger.Info("buffered point retry cycle finished",
		zap.Int("succeeded", retried),
		zap.Int("remaining", d.writer.buffer.Len()))
}
