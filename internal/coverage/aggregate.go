package coverage

import (
	"math"
	"sort"
)

// Weights scale the components of a provider entry's reliability score.
type Weights struct {
	Confidence float64
	Signal     float64
	Speed      float64
}

// DefaultWeights score confidence twice as heavily as signal.
func DefaultWeights() Weights {
	return Weights{Confidence: 2, Signal: 1, Speed: 0.5}
}

// Ranker merges provider outcomes into ranked recommendations.
type Ranker struct {
	Weights Weights
	// Preference breaks otherwise exact ties, earlier providers first.
	Preference []ProviderID
}

// Score is the reliability score of rec: weighted confidence and signal
// ranks plus log-scaled download speed. With PrioritizeSpeed the speed
// weight is doubled.
func (r Ranker) Score(rec ServiceCoverage, opts Options) float64 {
	speedWeight := r.Weights.Speed
	if opts.PrioritizeSpeed {
		speedWeight *= 2
	}
	score := r.Weights.Confidence*float64(rec.Confidence.Rank()) +
		r.Weights.Signal*float64(rec.Signal.Rank()) +
		speedWeight*math.Log10(1+rec.downloadMbps())
	return math.Round(score*1000) / 1000
}

func (r Ranker) preference(p ProviderID) int {
	for i, id := range r.Preference {
		if id == p {
			return i
		}
	}
	return len(r.Preference)
}

type candidate struct {
	rec   ServiceCoverage
	score float64
}

// less orders a before b. The order is total so ranking is deterministic.
func (r Ranker) less(a, b candidate, opts Options) bool {
	if opts.PrioritizeReliability && a.score != b.score {
		return a.score > b.score
	}
	if opts.PrioritizeSpeed {
		if sa, sb := a.rec.downloadMbps(), b.rec.downloadMbps(); sa != sb {
			return sa > sb
		}
	}
	if ca, cb := a.rec.Confidence.Rank(), b.rec.Confidence.Rank(); ca != cb {
		return ca > cb
	}
	if sa, sb := a.rec.Signal.Rank(), b.rec.Signal.Rank(); sa != sb {
		return sa > sb
	}
	if sa, sb := a.rec.downloadMbps(), b.rec.downloadMbps(); sa != sb {
		return sa > sb
	}
	if pa, pb := r.preference(a.rec.Provider), r.preference(b.rec.Provider); pa != pb {
		return pa < pb
	}
	return a.rec.Provider < b.rec.Provider
}

// Rank builds one recommendation per service type. Requested types always
// appear; with no filter, every type any provider reported appears. Only
// available records become provider entries, one per provider.
func (r Ranker) Rank(requested []ServiceType, outcomes map[ProviderID]ProviderOutcome, opts Options) []ServiceRecommendation {
	types := requested
	if len(types) == 0 {
		seen := make(map[ServiceType]bool)
		for _, o := range outcomes {
			for _, s := range o.Services {
				if !seen[s.ServiceType] {
					seen[s.ServiceType] = true
					types = append(types, s.ServiceType)
				}
			}
		}
	}

	ids := make([]ProviderID, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	recs := make([]ServiceRecommendation, 0, len(types))
	for _, st := range types {
		var cands []candidate
		for _, id := range ids {
			best, ok := r.bestRecord(id, outcomes[id].Services, st, opts)
			if ok {
				cands = append(cands, best)
			}
		}
		sort.SliceStable(cands, func(i, j int) bool { return r.less(cands[i], cands[j], opts) })

		rec := ServiceRecommendation{
			ServiceType:          st,
			Available:            len(cands) > 0,
			Providers:            make([]ProviderEntry, 0, len(cands)),
			AlternativeProviders: []ProviderID{},
		}
		for i, c := range cands {
			rec.Providers = append(rec.Providers, ProviderEntry{
				Provider:       c.rec.Provider,
				Signal:         c.rec.Signal,
				Confidence:     c.rec.Confidence,
				Technology:     c.rec.Technology,
				EstimatedSpeed: c.rec.EstimatedSpeed,
				Score:          c.score,
				Caveats:        c.rec.Caveats,
			})
			if i == 0 {
				rec.RecommendedProvider = c.rec.Provider
			} else if opts.IncludeAlternatives {
				rec.AlternativeProviders = append(rec.AlternativeProviders, c.rec.Provider)
			}
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Available != recs[j].Available {
			return recs[i].Available
		}
		pi, pj := recs[i].ServiceType.Priority(), recs[j].ServiceType.Priority()
		if pi != pj {
			return pi < pj
		}
		return recs[i].ServiceType < recs[j].ServiceType
	})
	return recs
}

// bestRecord picks the strongest available record of type st from one
// provider. The provider id is stamped on the record.
func (r Ranker) bestRecord(id ProviderID, services []ServiceCoverage, st ServiceType, opts Options) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	for _, s := range services {
		if s.ServiceType != st || !s.Available {
			continue
		}
		if s.Provider == "" {
			s.Provider = id
		}
		c := candidate{rec: s, score: r.Score(s, opts)}
		if !found || r.less(c, best, opts) {
			best, found = c, true
		}
	}
	return best, found
}

// OverallCoverage reports whether any recommendation has an available provider.
func OverallCoverage(recs []ServiceRecommendation) bool {
	for _, rec := range recs {
		if rec.Available {
			return true
		}
	}
	return false
}
