package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/spatialcache"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS coverage_cache (
	cache_key   TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	radius_m    DOUBLE PRECISION NOT NULL,
	ttl_ms      BIGINT NOT NULL,
	payload     JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS coverage_cache_inserted_at_idx ON coverage_cache (inserted_at);
`

// PostgresStore persists spatial cache entries so a restart can warm the
// cache. It implements spatialcache.Persister.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ spatialcache.Persister = (*PostgresStore)(nil)

// EnsureSchema creates the cache table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return eris.Wrap(err, "store: create coverage_cache")
	}
	return nil
}

// Save upserts rec by cache key.
func (s *PostgresStore) Save(ctx context.Context, rec spatialcache.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coverage_cache
			(cache_key, scope, lat, lng, radius_m, ttl_ms, payload, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cache_key) DO UPDATE SET
			scope = EXCLUDED.scope,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			radius_m = EXCLUDED.radius_m,
			ttl_ms = EXCLUDED.ttl_ms,
			payload = EXCLUDED.payload,
			inserted_at = EXCLUDED.inserted_at
	`, rec.Key, rec.Scope, rec.Origin.Lat, rec.Origin.Lng, rec.Radius, rec.TTL.Milliseconds(), rec.Payload, rec.InsertedAt)
	if err != nil {
		return eris.Wrapf(err, "store: save cache entry %s", rec.Key)
	}
	return nil
}

// LoadSince returns entries inserted at or after since, oldest first.
func (s *PostgresStore) LoadSince(ctx context.Context, since time.Time) ([]spatialcache.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cache_key, scope, lat, lng, radius_m, ttl_ms, payload, inserted_at
		FROM coverage_cache
		WHERE inserted_at >= $1
		ORDER BY inserted_at
	`, since)
	if err != nil {
		return nil, eris.Wrap(err, "store: query cache entries")
	}
	defer rows.Close()

	var out []spatialcache.Record
	for rows.Next() {
		var (
			rec   spatialcache.Record
			lat   float64
			lng   float64
			ttlMS int64
		)
		if err := rows.Scan(&rec.Key, &rec.Scope, &lat, &lng, &rec.Radius, &ttlMS, &rec.Payload, &rec.InsertedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan cache entry")
		}
		rec.Origin = geo.Coordinates{Lat: lat, Lng: lng}
		rec.TTL = time.Duration(ttlMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate cache entries")
	}
	return out, nil
}

// Purge deletes every persisted entry.
func (s *PostgresStore) Purge(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coverage_cache`)
	if err != nil {
		return eris.Wrap(err, "store: purge cache entries")
	}
	zap.L().Info("store: purged persisted cache", zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// DeleteBefore removes entries inserted before cutoff.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coverage_cache WHERE inserted_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete stale cache entries")
	}
	return tag.RowsAffected(), nil
}
