package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/infrastructure"
)

func TestParseServiceType(t *testing.T) {
	st, err := ParseServiceType(" Fibre ")
	require.NoError(t, err)
	assert.Equal(t, ServiceFibre, st)

	_, err = ParseServiceType("carrier_pigeon")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestServiceTypePriority(t *testing.T) {
	assert.Equal(t, 1, ServiceFibre.Priority())
	assert.Equal(t, 9, Service2G.Priority())
	assert.Zero(t, ServiceType("x").Priority())
	assert.Equal(t, "FTTB", ServiceFibre.Technology())
	assert.Len(t, AllServiceTypes(), 9)
}

func TestQueryScopeNormalizes(t *testing.T) {
	a := Query{
		ServiceTypes: []ServiceType{ServiceLTE, ServiceFibre, ServiceLTE},
		Providers:    []ProviderID{"mtn", "dfa"},
		Options:      DefaultOptions(),
	}
	b := Query{
		ServiceTypes: []ServiceType{ServiceFibre, ServiceLTE},
		Providers:    []ProviderID{"dfa", "mtn", "dfa"},
		Options:      DefaultOptions(),
	}
	assert.Equal(t, "fibre,lte/dfa,mtn/110", a.Scope())
	assert.Equal(t, a.Scope(), b.Scope())

	b.Options.PrioritizeSpeed = true
	assert.NotEqual(t, a.Scope(), b.Scope())
	assert.Equal(t, "//000", Query{}.Scope())
}

func TestEstimateSpeed(t *testing.T) {
	tests := []struct {
		st       ServiceType
		signal   Signal
		download Speed
		upload   Speed
	}{
		{ServiceFibre, SignalExcellent, Speed{1, "Gbps"}, Speed{1, "Gbps"}},
		{ServiceFibre, SignalGood, Speed{800, "Mbps"}, Speed{800, "Mbps"}},
		{ServiceLTE, SignalFair, Speed{30, "Mbps"}, Speed{12, "Mbps"}},
		{Service2G, SignalPoor, Speed{0.4, "Mbps"}, Speed{0.2, "Mbps"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.st)+"/"+string(tt.signal), func(t *testing.T) {
			got := EstimateSpeed(tt.st, tt.signal)
			require.NotNil(t, got)
			assert.Equal(t, tt.download, got.Download)
			assert.Equal(t, tt.upload, got.Upload)
		})
	}
	assert.Nil(t, EstimateSpeed(ServiceFibre, SignalNone))
	assert.Nil(t, EstimateSpeed(ServiceType("x"), SignalGood))
}

func TestOutcomeConfidence(t *testing.T) {
	strong := svc("a", ServiceLTE, true, SignalGood, ConfidenceHigh)
	weak := svc("a", ServiceLTE, true, SignalPoor, ConfidenceLow)
	none := svc("a", ServiceLTE, false, SignalNone, ConfidenceMedium)

	assert.Equal(t, ConfidenceHigh, OutcomeConfidence(5, 5, []ServiceCoverage{strong, strong, weak}))
	assert.Equal(t, ConfidenceMedium, OutcomeConfidence(5, 5, []ServiceCoverage{strong, weak}))
	assert.Equal(t, ConfidenceLow, OutcomeConfidence(5, 5, []ServiceCoverage{strong, weak, weak, weak}))
	assert.Equal(t, ConfidenceLow, OutcomeConfidence(2, 5, []ServiceCoverage{strong}))
	assert.Equal(t, ConfidenceMedium, OutcomeConfidence(3, 4, []ServiceCoverage{none}))
	assert.Equal(t, ConfidenceLow, OutcomeConfidence(0, 0, nil))
}

func TestNewOutcomeAvailability(t *testing.T) {
	out := NewOutcome(nil, ConfidenceHigh, nil)
	assert.False(t, out.Available)
	assert.NotNil(t, out.Services)
	assert.NotNil(t, out.Metadata)

	out = NewOutcome([]ServiceCoverage{svc("a", ServiceLTE, true, SignalFair, ConfidenceMedium)}, ConfidenceMedium, nil)
	assert.True(t, out.Available)

	failed := FailedOutcome(nil)
	assert.Equal(t, "unknown error", failed.Error)
	assert.Equal(t, ConfidenceLow, failed.Confidence)
}

func facilityMatch(distance, utilization float64) infrastructure.Match {
	return infrastructure.Match{
		Facility: infrastructure.Facility{ID: "site-1", Utilization: utilization},
		Distance: distance,
	}
}

func TestProximityTier(t *testing.T) {
	p := DefaultProximityPolicy()
	tests := []struct {
		name     string
		distance float64
		util     float64
		found    bool
		want     ProximityTier
	}{
		{"close and idle", 1000, 0.2, true, TierHigh},
		{"close but busy", 1000, 0.8, true, TierMedium},
		{"close and saturated", 1000, 0.95, true, TierLow},
		{"mid range", 4000, 0.5, true, TierMedium},
		{"far", 7000, 0.1, true, TierLow},
		{"out of range", 9000, 0.1, true, TierNone},
		{"nothing found", 0, 0, false, TierNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Tier(facilityMatch(tt.distance, tt.util), tt.found))
		})
	}
}

func TestProximityAdjustNeverRaises(t *testing.T) {
	p := DefaultProximityPolicy()
	for _, conf := range []Confidence{ConfidenceLow, ConfidenceMedium, ConfidenceHigh} {
		for _, tier := range []ProximityTier{TierHigh, TierMedium, TierLow, TierNone} {
			rec := svc("mtn", ServiceUncappedWireless, true, SignalGood, conf)
			got := p.Adjust(rec, tier)
			assert.LessOrEqual(t, got.Confidence.Rank(), conf.Rank(), "%s/%s", conf, tier)
			assert.Equal(t, string(tier), got.Metadata["proximityTier"])
			assert.NotContains(t, rec.Metadata, "proximityTier")
		}
	}
}

func TestProximityAdjust(t *testing.T) {
	p := DefaultProximityPolicy()
	rec := svc("mtn", ServiceUncappedWireless, true, SignalGood, ConfidenceHigh)

	low := p.Adjust(rec, TierLow)
	assert.True(t, low.Available)
	assert.Equal(t, ConfidenceLow, low.Confidence)
	assert.Contains(t, low.Caveats, CaveatElevatedAntenna)

	none := p.Adjust(rec, TierNone)
	assert.False(t, none.Available)
	assert.Equal(t, SignalNone, none.Signal)
	assert.Nil(t, none.EstimatedSpeed)
	assert.Contains(t, none.Caveats, CaveatNoBaseStation)

	lte := svc("mtn", ServiceLTE, true, SignalGood, ConfidenceHigh)
	assert.Equal(t, lte, p.Adjust(lte, TierNone))
}

func TestCompareByService(t *testing.T) {
	fibre := svc("dfa", ServiceFibre, true, SignalExcellent, ConfidenceHigh)
	weak := svc("mtn", ServiceFibre, true, SignalPoor, ConfidenceLow)
	weak.EstimatedSpeed = &EstimatedSpeed{Download: Speed{Value: 50, Unit: "Mbps"}}
	weak.Caveats = []string{"building not yet connected"}

	result := AggregatedResult{
		Coordinates: geo.Coordinates{Lat: -26.2041, Lng: 28.0473},
		Providers: map[ProviderID]ProviderOutcome{
			"mtn": outcome(weak),
			"dfa": outcome(fibre),
			"x":   outcome(svc("x", ServiceLTE, true, SignalGood, ConfidenceHigh)),
		},
	}
	got := CompareByService(result, ServiceFibre)
	require.Len(t, got, 3)

	assert.Equal(t, ProviderID("dfa"), got[0].Provider)
	assert.Equal(t, []string{"High confidence coverage", "Excellent signal strength", "High speed connection"}, got[0].Pros)
	assert.Empty(t, got[0].Cons)

	assert.Equal(t, ProviderID("mtn"), got[1].Provider)
	assert.Empty(t, got[1].Pros)
	assert.Equal(t, []string{"Low confidence in coverage data", "Weak signal strength", "building not yet connected"}, got[1].Cons)

	assert.Equal(t, ProviderID("x"), got[2].Provider)
	assert.Nil(t, got[2].Coverage)
	assert.Equal(t, []string{"Service not available"}, got[2].Cons)
}
