// Package spatialcache is a location-aware TTL cache with in-flight request
// deduplication. Entries answer for any query point within their validity
// radius, not only for the exact coordinates they were stored under.
package spatialcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/coverage-aggregation/internal/geo"
)

const (
	// DefaultMaxEntries bounds the cache when no capacity is configured.
	DefaultMaxEntries = 1000
	// DefaultTTL applies when Set is called without a ttl.
	DefaultTTL = 5 * time.Minute
	// nearestCapFactor caps the nearest-neighbour search at this multiple of
	// the requested radius.
	nearestCapFactor = 2
	evictFraction    = 0.1
)

// Entry is a cached value and the region it is valid for.
type Entry[T any] struct {
	Value      T
	Origin     geo.Coordinates
	Radius     float64
	TTL        time.Duration
	InsertedAt time.Time
}

func (e *Entry[T]) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

type entry[T any] struct {
	Entry[T]
	scope string
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"maxEntries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hitRate"`
	InFlight   int64   `json:"inFlight"`
	Shared     int64   `json:"sharedResults"`
}

// Options configures a Cache.
type Options struct {
	MaxEntries int
	Persister  Persister
	Now        func() time.Time
}

// Cache is a concurrency-safe spatial cache of T values.
type Cache[T any] struct {
	mu         sync.RWMutex
	entries    map[string]*entry[T]
	maxEntries int
	persister  Persister
	now        func() time.Time

	group    singleflight.Group
	hits     atomic.Int64
	misses   atomic.Int64
	inFlight atomic.Int64
	shared   atomic.Int64
}

// New creates a Cache.
func New[T any](opts Options) *Cache[T] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[T]{
		entries:    make(map[string]*entry[T]),
		maxEntries: opts.MaxEntries,
		persister:  opts.Persister,
		now:        opts.Now,
	}
}

// Precision returns the number of decimal places used to bucket a point
// cached with the given validity radius.
func Precision(radius float64) int {
	switch {
	case radius <= 10:
		return 5
	case radius <= 100:
		return 4
	default:
		return 3
	}
}

// Key builds the bucket key for a point.
func Key(scope string, c geo.Coordinates, radius float64) string {
	p := Precision(radius)
	r := c.Round(p)
	return fmt.Sprintf("%s|%d|%.*f,%.*f", scope, p, p, r.Lat, p, r.Lng)
}

// Get returns the live entry covering c within scope. The exact bucket is
// tried first, then the nearest live entry whose own radius covers c, capped
// at twice the requested radius.
func (c *Cache[T]) Get(scope string, coords geo.Coordinates, radius float64) (Entry[T], bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[Key(scope, coords, radius)]; ok {
		if !e.expired(now) && geo.Haversine(coords, e.Origin) <= e.Radius {
			c.hits.Add(1)
			return e.Entry, true
		}
	}

	limit := radius * nearestCapFactor
	var (
		best     *entry[T]
		bestDist float64
	)
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			continue
		}
		if e.scope != scope {
			continue
		}
		d := geo.Haversine(coords, e.Origin)
		if d > e.Radius || d > limit {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = e, d
		}
	}

	if best == nil {
		c.misses.Add(1)
		var zero Entry[T]
		return zero, false
	}
	c.hits.Add(1)
	return best.Entry, true
}

// Set stores value for the region around coords. The in-memory write always
// happens; a non-nil error reports a persistence failure only.
func (c *Cache[T]) Set(ctx context.Context, scope string, coords geo.Coordinates, value T, radius float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := Key(scope, coords, radius)
	e := &entry[T]{
		Entry: Entry[T]{
			Value:      value,
			Origin:     coords,
			Radius:     radius,
			TTL:        ttl,
			InsertedAt: c.now(),
		},
		scope: scope,
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked(e.InsertedAt)
	}
	c.entries[key] = e
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "spatialcache: encode entry")
	}
	rec := Record{
		Key:        key,
		Scope:      scope,
		Origin:     coords,
		Radius:     radius,
		TTL:        ttl,
		InsertedAt: e.InsertedAt,
		Payload:    payload,
	}
	if err := c.persister.Save(ctx, rec); err != nil {
		return eris.Wrap(err, "spatialcache: persist entry")
	}
	return nil
}

// makeRoomLocked purges expired entries and, if still full, evicts the
// oldest tenth by insertion time. Caller holds c.mu.
func (c *Cache[T]) makeRoomLocked(now time.Time) {
	c.purgeLocked(now)
	if len(c.entries) < c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].InsertedAt.Before(c.entries[keys[j]].InsertedAt)
	})

	n := int(float64(len(keys)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
	zap.L().Debug("spatialcache: evicted oldest entries", zap.Int("count", n))
}

func (c *Cache[T]) purgeLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache[T]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now)
}

// Clear drops every entry, including persisted ones.
func (c *Cache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*entry[T])
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	return eris.Wrap(c.persister.Purge(ctx), "spatialcache: purge persisted entries")
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		InFlight:   c.inFlight.Load(),
		Shared:     c.shared.Load(),
	}
}
