package influx

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	cache "github.com/patrickmn/go-cache"
)

const bufferKeyPrefix = "failed_influx_point"

// Buffer holds fully-built points whose store write failed. Entries expire
// unconditionally after the configured TTL: a point that could not be
// retried within that window is dropped to bound memory during a long
// outage. Safe for concurrent use by the live write path and the drainer.
type Buffer struct {
	entries *cache.Cache
}

func NewBuffer(ttl time.Duration) *Buffer {
	return &Buffer{entries: cache.New(ttl, 10*time.Minute)}
}

// Add stores a failed point and returns its key. Keys embed a fresh UUID so
// colliding retries can never overwrite each other.
func (b *Buffer) Add(category string, point *write.Point) string {
	key := fmt.Sprintf("%s:%s:%s", bufferKeyPrefix, category, uuid.NewString())
	b.entries.Set(key, point, cache.DefaultExpiration)
	return key
}

// Remove deletes a point after a confirmed successful retry.
func (b *Buffer) Remove(key string) {
	b.entries.Delete(key)
}

// Snapshot returns all unexpired buffered points. The drainer iterates the
// snapshot while the live path keeps adding; neither blocks the other.
func (b *Buffer) Snapshot() map[string]*write.Point {
	items := b.entries.Items()
	points := make(map[string]*write.Point, len(items))
	for key, item := range items {
		if p, ok := item.Object.(*write.Point); ok {
			points[key] = p
		}
	}
	return points
}

// Len reports the number of unexpired buffered points. ItemCount would also
// count expired entries the janitor has not swept yet.
func (b *Buffer) Len() int {
	return len(b.entries.Items())
}
