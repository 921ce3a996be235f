package spatialcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
)

// Record is the storage form of a cache entry.
type Record struct {
	Key        string
	Scope      string
	Origin     geo.Coordinates
	Radius     float64
	TTL        time.Duration
	InsertedAt time.Time
	Payload    []byte
}

// Persister stores cache entries outside the process.
type Persister interface {
	Save(ctx context.Context, rec Record) error
	LoadSince(ctx context.Context, since time.Time) ([]Record, error)
	Purge(ctx context.Context) error
}

// Restore loads persisted entries inserted after since. Malformed or expired
// records are skipped. It returns the number of entries restored.
func (c *Cache[T]) Restore(ctx context.Context, since time.Time) (int, error) {
	if c.persister == nil {
		return 0, nil
	}
	recs, err := c.persister.LoadSince(ctx, since)
	if err != nil {
		return 0, eris.Wrap(err, "spatialcache: load persisted entries")
	}

	now := c.now()
	restored := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			zap.L().Debug("spatialcache: skipping malformed record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		e := &entry[T]{
			Entry: Entry[T]{
				Value:      v,
				Origin:     rec.Origin,
				Radius:     rec.Radius,
				TTL:        rec.TTL,
				InsertedAt: rec.InsertedAt,
			},
			scope: rec.Scope,
		}
		if e.TTL <= 0 || e.expired(now) {
			continue
		}
		if len(c.entries) >= c.maxEntries {
			break
		}
		c.entries[rec.Key] = e
		restored++
	}
	return restored, nil
}
