package coverage

import (
	"github.com/i474232898/coverage-aggregation/internal/infrastructure"
)

// ProximityTier grades how well a point is served by the nearest facility.
type ProximityTier string

const (
	TierHigh   ProximityTier = "high"
	TierMedium ProximityTier = "medium"
	TierLow    ProximityTier = "low"
	TierNone   ProximityTier = "none"
)

const (
	CaveatElevatedAntenna = "elevated antenna required"
	CaveatNoBaseStation   = "no base station within range"
)

// ProximityPolicy maps facility distance and load to a tier.
type ProximityPolicy struct {
	HighDistance      float64 // meters
	HighUtilization   float64 // 0..1
	MediumDistance    float64
	MediumUtilization float64
	LowDistance       float64
	ServiceTypes      []ServiceType
}

// DefaultProximityPolicy applies to uncapped fixed wireless.
func DefaultProximityPolicy() ProximityPolicy {
	return ProximityPolicy{
		HighDistance:      3000,
		HighUtilization:   0.7,
		MediumDistance:    5000,
		MediumUtilization: 0.9,
		LowDistance:       8000,
		ServiceTypes:      []ServiceType{ServiceUncappedWireless},
	}
}

// AppliesTo reports whether st is subject to proximity adjustment.
func (p ProximityPolicy) AppliesTo(st ServiceType) bool {
	for _, s := range p.ServiceTypes {
		if s == st {
			return true
		}
	}
	return false
}

// Tier classifies a facility match. A missing match is TierNone.
func (p ProximityPolicy) Tier(m infrastructure.Match, found bool) ProximityTier {
	if !found {
		return TierNone
	}
	u := m.Facility.Utilization
	switch {
	case m.Distance <= p.HighDistance && u < p.HighUtilization:
		return TierHigh
	case m.Distance <= p.MediumDistance && u < p.MediumUtilization:
		return TierMedium
	case m.Distance <= p.LowDistance:
		return TierLow
	default:
		return TierNone
	}
}

// Adjust caps rec by the tier. It can only lower confidence or remove
// availability, never raise either.
func (p ProximityPolicy) Adjust(rec ServiceCoverage, tier ProximityTier) ServiceCoverage {
	if !rec.Available || !p.AppliesTo(rec.ServiceType) {
		return rec
	}

	out := rec
	out.Metadata = make(map[string]any, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata["proximityTier"] = string(tier)
	out.Caveats = append([]string(nil), rec.Caveats...)

	switch tier {
	case TierHigh:
	case TierMedium:
		out.Confidence = out.Confidence.Min(ConfidenceMedium)
	case TierLow:
		out.Confidence = out.Confidence.Min(ConfidenceLow)
		out.Caveats = append(out.Caveats, CaveatElevatedAntenna)
	default:
		out.Available = false
		out.Confidence = ConfidenceLow
		out.Signal = SignalNone
		out.EstimatedSpeed = nil
		out.Caveats = append(out.Caveats, CaveatNoBaseStation)
	}
	return out
}
