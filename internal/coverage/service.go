package coverage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/infrastructure"
	"github.com/i474232898/coverage-aggregation/internal/spatialcache"
)

// Config tunes the orchestrator.
type Config struct {
	CacheTTL        time.Duration
	CacheRadius     float64 // meters
	ProviderTimeout time.Duration
	Weights         Weights
	Proximity       ProximityPolicy
	Preference      []ProviderID
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:        5 * time.Minute,
		CacheRadius:     100,
		ProviderTimeout: 15 * time.Second,
		Weights:         DefaultWeights(),
		Proximity:       DefaultProximityPolicy(),
	}
}

// Dependencies are the optional collaborators of a Service. Nil fields are
// skipped.
type Dependencies struct {
	Cache     *spatialcache.Cache[AggregatedResult]
	Corrector Corrector
	Proximity ProximityLookup
	History   HistoryStore
}

// Service orchestrates provider fan-out, caching and ranking.
type Service struct {
	cfg       Config
	providers map[ProviderID]Provider
	order     []ProviderID
	cache     *spatialcache.Cache[AggregatedResult]
	corrector Corrector
	proximity ProximityLookup
	history   HistoryStore
	ranker    Ranker
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(cfg Config, providers []Provider, deps Dependencies) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if cfg.CacheRadius <= 0 {
		cfg.CacheRadius = DefaultConfig().CacheRadius
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if deps.Cache == nil {
		deps.Cache = spatialcache.New[AggregatedResult](spatialcache.Options{})
	}

	s := &Service{
		cfg:       cfg,
		providers: make(map[ProviderID]Provider, len(providers)),
		cache:     deps.Cache,
		corrector: deps.Corrector,
		proximity: deps.Proximity,
		history:   deps.History,
		ranker:    Ranker{Weights: cfg.Weights, Preference: cfg.Preference},
		now:       time.Now,
	}
	for _, p := range providers {
		s.providers[p.ID()] = p
		s.order = append(s.order, p.ID())
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return s
}

// Providers returns the configured provider ids in sorted order.
func (s *Service) Providers() []ProviderID {
	out := make([]ProviderID, len(s.order))
	copy(out, s.order)
	return out
}

// CacheStats returns the result cache statistics.
func (s *Service) CacheStats() spatialcache.Stats {
	return s.cache.Stats()
}

// ClearCache drops all cached results.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// SweepCache removes expired results.
func (s *Service) SweepCache() int {
	return s.cache.Sweep()
}

// Check answers q from the cache, from an identical in-flight computation,
// or by querying the providers. Only invalid input, a missing provider set or
// the caller giving up yields an error.
func (s *Service) Check(ctx context.Context, q Query) (AggregatedResult, error) {
	q = q.normalized()
	if err := q.Coordinates.Validate(); err != nil {
		return AggregatedResult{}, eris.Wrap(ErrInvalidQuery, err.Error())
	}
	for _, st := range q.ServiceTypes {
		if st.Priority() == 0 {
			return AggregatedResult{}, eris.Wrapf(ErrInvalidQuery, "unknown service type %q", st)
		}
	}
	if len(s.providers) == 0 {
		return AggregatedResult{}, ErrNoProviders
	}
	selected, err := s.selectProviders(q.Providers)
	if err != nil {
		return AggregatedResult{}, err
	}

	scope := q.Scope()
	if e, ok := s.cache.Get(scope, q.Coordinates, s.cfg.CacheRadius); ok {
		res := e.Value.Clone()
		res.Cached = true
		return res, nil
	}

	key := scope + "|" + q.Coordinates.String()
	res, shared, err := s.cache.Deduplicate(ctx, key, func(ctx context.Context) (AggregatedResult, error) {
		return s.compute(ctx, q, selected), nil
	})
	if err != nil {
		return AggregatedResult{}, err
	}
	if shared {
		zap.L().Debug("coverage: joined in-flight check", zap.String("request_id", res.RequestID))
	}
	return res.Clone(), nil
}

func (s *Service) selectProviders(ids []ProviderID) ([]Provider, error) {
	if len(ids) == 0 {
		out := make([]Provider, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.providers[id])
		}
		return out, nil
	}
	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		p, ok := s.providers[id]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownProvider, "provider %q", id)
		}
		out = append(out, p)
	}
	return out, nil
}

// compute runs correction, fan-out, proximity adjustment and ranking, then
// records the result. It always produces a result.
func (s *Service) compute(ctx context.Context, q Query, providers []Provider) AggregatedResult {
	start := s.now()
	requestID := uuid.NewString()
	log := zap.L().With(
		zap.String("request_id", requestID),
		zap.Float64("lat", q.Coordinates.Lat),
		zap.Float64("lng", q.Coordinates.Lng),
	)

	probe := q.Coordinates
	result := AggregatedResult{
		RequestID:   requestID,
		Coordinates: q.Coordinates,
		Territory:   geo.Locate(q.Coordinates),
	}

	if s.corrector != nil {
		corr := s.corrector.Correct(ctx, q.Coordinates)
		if corr.Applied {
			probe = corr.Corrected
			log.Info("coverage: applied coordinate correction",
				zap.Float64("distance_m", corr.DistanceMeters),
				zap.String("address", corr.Address),
			)
		}
		result.Correction = &corr
	}

	outcomes := s.fanOut(ctx, log, probe, q.ServiceTypes, providers)
	s.adjustProximity(ctx, log, probe, outcomes)

	result.Providers = outcomes
	result.BestServices = s.ranker.Rank(q.ServiceTypes, outcomes, q.Options)
	result.OverallCoverage = OverallCoverage(result.BestServices)
	result.LastUpdated = s.now().UTC()

	if err := s.cache.Set(ctx, q.Scope(), q.Coordinates, result, s.cfg.CacheRadius, s.cfg.CacheTTL); err != nil {
		log.Warn("coverage: cache write failed", zap.Error(err))
	}
	s.record(q, probe, result, s.now().Sub(start))

	log.Info("coverage: check complete",
		zap.Bool("overall_coverage", result.OverallCoverage),
		zap.Int("providers", len(outcomes)),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return result
}

// fanOut queries every provider concurrently. Each provider gets its own
// timeout; a provider that panics or times out contributes a failed outcome.
func (s *Service) fanOut(ctx context.Context, log *zap.Logger, c geo.Coordinates, types []ServiceType, providers []Provider) map[ProviderID]ProviderOutcome {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[ProviderID]ProviderOutcome, len(providers))
	)

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			out := s.callProvider(ctx, p, c, types)
			if out.Error != "" {
				log.Warn("coverage: provider failed",
					zap.String("provider", string(p.ID())),
					zap.String("error", out.Error),
				)
			}

			mu.Lock()
			outcomes[p.ID()] = out
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return outcomes
}

func (s *Service) callProvider(ctx context.Context, p Provider, c geo.Coordinates, types []ServiceType) ProviderOutcome {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	done := make(chan ProviderOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- FailedOutcome(eris.Errorf("provider %s panicked: %v", p.ID(), r))
			}
		}()
		done <- p.CheckCoverage(pctx, c, types)
	}()

	select {
	case out := <-done:
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		if out.Services == nil {
			out.Services = []ServiceCoverage{}
		}
		for i := range out.Services {
			if out.Services[i].Provider == "" {
				out.Services[i].Provider = p.ID()
			}
			if out.Services[i].Metadata == nil {
				out.Services[i].Metadata = map[string]any{}
			}
		}
		return out
	case <-pctx.Done():
		return FailedOutcome(eris.Wrapf(pctx.Err(), "provider %s timed out after %s", p.ID(), s.cfg.ProviderTimeout))
	}
}

// adjustProximity caps fixed-wireless records by distance to the nearest
// facility. Lookup failures leave records untouched.
func (s *Service) adjustProximity(ctx context.Context, log *zap.Logger, c geo.Coordinates, outcomes map[ProviderID]ProviderOutcome) {
	if s.proximity == nil {
		return
	}
	needed := false
	for _, o := range outcomes {
		for _, rec := range o.Services {
			if rec.Available && s.cfg.Proximity.AppliesTo(rec.ServiceType) {
				needed = true
			}
		}
	}
	if !needed {
		return
	}

	match, found, err := s.proximity.Nearest(ctx, c, s.cfg.Proximity.LowDistance)
	if errors.Is(err, infrastructure.ErrEmpty) {
		log.Debug("coverage: proximity index empty; skipping adjustment")
		return
	}
	if err != nil {
		log.Warn("coverage: proximity lookup failed", zap.Error(err))
		return
	}
	tier := s.cfg.Proximity.Tier(match, found)

	for id, o := range outcomes {
		services := make([]ServiceCoverage, len(o.Services))
		for i, rec := range o.Services {
			services[i] = s.cfg.Proximity.Adjust(rec, tier)
			if found && s.cfg.Proximity.AppliesTo(rec.ServiceType) && rec.Available {
				services[i].Metadata["nearestFacility"] = match.Facility.ID
				services[i].Metadata["facilityDistanceMeters"] = match.Distance
			}
		}
		o.Services = services
		o.Available = false
		for _, rec := range services {
			if rec.Available {
				o.Available = true
				break
			}
		}
		outcomes[id] = o
	}
}

func (s *Service) record(q Query, probe geo.Coordinates, res AggregatedResult, took time.Duration) {
	if s.history == nil {
		return
	}
	rec := CheckRecord{
		RequestID:       res.RequestID,
		Coordinates:     q.Coordinates,
		OverallCoverage: res.OverallCoverage,
		Duration:        took,
		Timestamp:       res.LastUpdated,
	}
	if probe != q.Coordinates {
		p := probe
		rec.Corrected = &p
	}
	for _, bs := range res.BestServices {
		if bs.Available {
			rec.AvailableServices = append(rec.AvailableServices, bs.ServiceType)
		}
	}
	for id, o := range res.Providers {
		if o.Error != "" {
			if rec.ProviderErrors == nil {
				rec.ProviderErrors = make(map[ProviderID]string)
			}
			rec.ProviderErrors[id] = o.Error
		}
	}
	s.history.SaveCheck(q.Coordinates, rec)
}

// Compare checks a single service type and lists every provider's answer.
func (s *Service) Compare(ctx context.Context, c geo.Coordinates, st ServiceType) ([]ProviderComparison, AggregatedResult, error) {
	res, err := s.Check(ctx, Query{
		Coordinates:  c,
		ServiceTypes: []ServiceType{st},
		Options:      DefaultOptions(),
	})
	if err != nil {
		return nil, AggregatedResult{}, err
	}
	return CompareByService(res, st), res, nil
}

// GetLatest delegates to the history store.
func (s *Service) GetLatest(c geo.Coordinates) (CheckRecord, error) {
	if s.history == nil {
		return CheckRecord{}, eris.New("coverage: history not configured")
	}
	return s.history.GetLatest(c)
}

// GetRange delegates to the history store.
func (s *Service) GetRange(c geo.Coordinates, from, to time.Time) ([]CheckRecord, error) {
	if s.history == nil {
		return nil, eris.New("coverage: history not configured")
	}
	return s.history.GetRange(c, from, to)
}
