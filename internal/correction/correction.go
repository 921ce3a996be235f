// Package correction snaps user-supplied coordinates to the nearest known
// address point, compensating for geocoder drift.
package correction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/spatialcache"
)

// Reasons recorded on a Result.
const (
	ReasonCorrected       = "corrected"
	ReasonWithinThreshold = "within_threshold"
	ReasonNoMatch         = "no_match"
	ReasonLookupFailed    = "lookup_failed"
	ReasonRecentFailure   = "recent_failure"
)

// AddressPoint is a surveyed address location.
type AddressPoint struct {
	Coordinates geo.Coordinates
	Address     string
}

// Lookup finds the nearest address point within radius meters.
type Lookup interface {
	Nearest(ctx context.Context, c geo.Coordinates, radius float64) (AddressPoint, bool, error)
}

// Result describes what correction did to a point.
type Result struct {
	Original       geo.Coordinates `json:"original"`
	Corrected      geo.Coordinates `json:"corrected"`
	Applied        bool            `json:"applied"`
	DistanceMeters float64         `json:"distanceMeters"`
	Address        string          `json:"address,omitempty"`
	Confidence     string          `json:"confidence"`
	Reason         string          `json:"reason"`
}

// Config tunes correction.
type Config struct {
	// Threshold is the minimum displacement worth applying.
	Threshold    float64
	SearchRadius float64
	Timeout      time.Duration
	// FailureTTL suppresses repeated lookups for a point that just failed.
	FailureTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:    30,
		SearchRadius: 500,
		Timeout:      5 * time.Second,
		FailureTTL:   30 * time.Second,
	}
}

// Service applies address-point correction. It never fails.
type Service struct {
	lookup   Lookup
	cfg      Config
	failures *spatialcache.Cache[string]
}

// NewService creates a Service over lookup.
func NewService(lookup Lookup, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = def.SearchRadius
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = def.FailureTTL
	}
	return &Service{
		lookup:   lookup,
		cfg:      cfg,
		failures: spatialcache.New[string](spatialcache.Options{MaxEntries: 500}),
	}
}

const failureScope = "correction-failure"

// failureRadius is how close a point must be to a failed one to reuse the failure.
const failureRadius = 10.0

// Correct returns the corrected point, or the original with a reason when no
// correction applies.
func (s *Service) Correct(ctx context.Context, c geo.Coordinates) Result {
	res := Result{Original: c, Corrected: c, Confidence: "none"}

	if e, ok := s.failures.Get(failureScope, c, failureRadius); ok {
		res.Reason = ReasonRecentFailure
		zap.L().Debug("correction: skipping recently failed point", zap.String("cause", e.Value))
		return res
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	point, found, err := s.lookup.Nearest(lctx, c, s.cfg.SearchRadius)
	if err != nil {
		zap.L().Warn("correction: address lookup failed", zap.Error(err))
		if serr := s.failures.Set(ctx, failureScope, c, err.Error(), failureRadius, s.cfg.FailureTTL); serr != nil {
			zap.L().Debug("correction: record failure", zap.Error(serr))
		}
		res.Reason = ReasonLookupFailed
		return res
	}
	if !found {
		res.Reason = ReasonNoMatch
		return res
	}

	dist := geo.Haversine(c, point.Coordinates)
	res.DistanceMeters = dist
	res.Address = point.Address
	if dist > s.cfg.SearchRadius {
		res.Reason = ReasonNoMatch
		return res
	}
	if dist < s.cfg.Threshold {
		res.Reason = ReasonWithinThreshold
		res.Confidence = confidenceFor(dist, s.cfg.SearchRadius)
		return res
	}

	res.Corrected = point.Coordinates
	res.Applied = true
	res.Reason = ReasonCorrected
	res.Confidence = confidenceFor(dist, s.cfg.SearchRadius)
	return res
}

// confidenceFor grades a match by how much of the search radius it used.
func confidenceFor(dist, radius float64) string {
	switch {
	case dist <= radius/5:
		return "high"
	case dist <= radius/2:
		return "medium"
	default:
		return "low"
	}
}
