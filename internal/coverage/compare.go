package coverage

import "sort"

// ProviderComparison is one provider's position for a single service type.
type ProviderComparison struct {
	Provider ProviderID       `json:"provider"`
	Coverage *ServiceCoverage `json:"coverage"`
	Pros     []string         `json:"pros"`
	Cons     []string         `json:"cons"`
}

// CompareByService lists every provider's answer for st with pros and cons,
// strongest first.
func CompareByService(result AggregatedResult, st ServiceType) []ProviderComparison {
	ranker := Ranker{Weights: DefaultWeights()}
	out := make([]ProviderComparison, 0, len(result.Providers))

	for id, outcome := range result.Providers {
		cmp := ProviderComparison{Provider: id, Pros: []string{}, Cons: []string{}}
		if best, ok := ranker.bestRecord(id, outcome.Services, st, DefaultOptions()); ok {
			rec := best.rec
			cmp.Coverage = &rec
		} else {
			for _, s := range outcome.Services {
				if s.ServiceType == st {
					rec := s
					cmp.Coverage = &rec
					break
				}
			}
		}
		cmp.Pros, cmp.Cons = prosAndCons(cmp.Coverage)
		out = append(out, cmp)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coverage, out[j].Coverage
		aa, ba := a != nil && a.Available, b != nil && b.Available
		if aa != ba {
			return aa
		}
		if aa && ba {
			if a.Confidence.Rank() != b.Confidence.Rank() {
				return a.Confidence.Rank() > b.Confidence.Rank()
			}
			if a.Signal.Rank() != b.Signal.Rank() {
				return a.Signal.Rank() > b.Signal.Rank()
			}
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func prosAndCons(rec *ServiceCoverage) ([]string, []string) {
	pros, cons := []string{}, []string{}
	if rec == nil || !rec.Available {
		return pros, append(cons, "Service not available")
	}

	if rec.Confidence == ConfidenceHigh {
		pros = append(pros, "High confidence coverage")
	}
	if rec.Signal == SignalExcellent {
		pros = append(pros, "Excellent signal strength")
	}
	if rec.downloadMbps() > 100 {
		pros = append(pros, "High speed connection")
	}

	if rec.Confidence == ConfidenceLow {
		cons = append(cons, "Low confidence in coverage data")
	}
	if rec.Signal == SignalPoor || rec.Signal == SignalNone {
		cons = append(cons, "Weak signal strength")
	}
	if rec.EstimatedSpeed == nil {
		cons = append(cons, "Speed estimate unavailable")
	}
	cons = append(cons, rec.Caveats...)
	return pros, cons
}
