package store

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
)

var (
	// ErrNotFound is returned when no checks are recorded for a location.
	ErrNotFound = eris.New("no coverage checks for location")
)

// keyPrecision groups history at roughly 11 m.
const keyPrecision = 4

// CheckHistory holds a time-ordered list of checks for a location.
type CheckHistory struct {
	Checks []coverage.CheckRecord
}

// MemoryStore is a concurrency-safe in-memory coverage.HistoryStore.
type MemoryStore struct {
	mu sync.RWMutex

	// key: rounded coordinates
	data map[string]*CheckHistory

	maxHistory int           // max checks per location
	maxAge     time.Duration // optional max age for checks
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*CheckHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// LocationKey is the history bucket for c.
func LocationKey(c geo.Coordinates) string {
	return c.Round(keyPrecision).String()
}

// SaveCheck appends a check for a location and enforces retention.
func (s *MemoryStore) SaveCheck(c geo.Coordinates, rec coverage.CheckRecord) {
	key := LocationKey(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &CheckHistory{}
		s.data[key] = history
	}

	// Keep checks ordered by timestamp even if writers race.
	i := len(history.Checks)
	for i > 0 && history.Checks[i-1].Timestamp.After(rec.Timestamp) {
		i--
	}
	history.Checks = append(history.Checks, coverage.CheckRecord{})
	copy(history.Checks[i+1:], history.Checks[i:])
	history.Checks[i] = rec

	if s.maxHistory > 0 && len(history.Checks) > s.maxHistory {
		over := len(history.Checks) - s.maxHistory
		history.Checks = history.Checks[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		j := 0
		for ; j < len(history.Checks); j++ {
			if !history.Checks[j].Timestamp.Before(cutoff) {
				break
			}
		}
		history.Checks = history.Checks[j:]
		if len(history.Checks) == 0 {
			delete(s.data, key)
		}
	}
}

// GetLatest returns the most recent check for a location.
func (s *MemoryStore) GetLatest(c geo.Coordinates) (coverage.CheckRecord, error) {
	key := LocationKey(c)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Checks) == 0 {
		return coverage.CheckRecord{}, eris.Wrapf(ErrNotFound, "location %s", key)
	}
	return history.Checks[len(history.Checks)-1], nil
}

// GetRange returns all checks for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(c geo.Coordinates, from, to time.Time) ([]coverage.CheckRecord, error) {
	key := LocationKey(c)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Checks) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "location %s", key)
	}

	var result []coverage.CheckRecord
	for _, rec := range history.Checks {
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			result = append(result, rec)
		}
	}

	if len(result) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "location %s in range", key)
	}
	return result, nil
}

// Locations returns the number of locations with recorded checks.
func (s *MemoryStore) Locations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
