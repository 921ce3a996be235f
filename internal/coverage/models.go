package coverage

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/i474232898/coverage-aggregation/internal/correction"
	"github.com/i474232898/coverage-aggregation/internal/geo"
)

// ServiceType is a connectivity product category.
type ServiceType string

const (
	ServiceFibre            ServiceType = "fibre"
	Service5G               ServiceType = "5g"
	ServiceFixedLTE         ServiceType = "fixed_lte"
	ServiceUncappedWireless ServiceType = "uncapped_wireless"
	ServiceLicensedWireless ServiceType = "licensed_wireless"
	ServiceLTE              ServiceType = "lte"
	Service3G2100           ServiceType = "3g_2100"
	Service3G900            ServiceType = "3g_900"
	Service2G               ServiceType = "2g"
)

// serviceTypes lists every service type in recommendation priority order.
var serviceTypes = []ServiceType{
	ServiceFibre,
	Service5G,
	ServiceFixedLTE,
	ServiceUncappedWireless,
	ServiceLicensedWireless,
	ServiceLTE,
	Service3G2100,
	Service3G900,
	Service2G,
}

var technologies = map[ServiceType]string{
	ServiceFibre:            "FTTB",
	Service5G:               "5G",
	ServiceFixedLTE:         "Fixed LTE",
	ServiceUncappedWireless: "Tarana Wireless G1",
	ServiceLicensedWireless: "PMP",
	ServiceLTE:              "LTE",
	Service3G2100:           "3G 2100MHz",
	Service3G900:            "3G 900MHz",
	Service2G:               "2G",
}

// AllServiceTypes returns every known service type in priority order.
func AllServiceTypes() []ServiceType {
	out := make([]ServiceType, len(serviceTypes))
	copy(out, serviceTypes)
	return out
}

// ParseServiceType validates s as a service type.
func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(strings.ToLower(strings.TrimSpace(s)))
	if st.Priority() == 0 {
		return "", eris.Wrapf(ErrInvalidQuery, "unknown service type %q", s)
	}
	return st, nil
}

// Priority is the position of s in recommendation order, starting at 1.
// Unknown types return 0.
func (s ServiceType) Priority() int {
	for i, st := range serviceTypes {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Technology is the customer-facing technology label for s.
func (s ServiceType) Technology() string {
	return technologies[s]
}

// Signal is a normalized signal quality.
type Signal string

const (
	SignalExcellent Signal = "excellent"
	SignalGood      Signal = "good"
	SignalFair      Signal = "fair"
	SignalPoor      Signal = "poor"
	SignalNone      Signal = "none"
)

// Rank orders signals from none (0) to excellent (4).
func (s Signal) Rank() int {
	switch s {
	case SignalExcellent:
		return 4
	case SignalGood:
		return 3
	case SignalFair:
		return 2
	case SignalPoor:
		return 1
	default:
		return 0
	}
}

// Strong reports whether s is good or better.
func (s Signal) Strong() bool {
	return s.Rank() >= SignalGood.Rank()
}

// Confidence is a three-level trust score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence from low (1) to high (3).
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// Min returns the lower of c and o.
func (c Confidence) Min(o Confidence) Confidence {
	if o.Rank() < c.Rank() {
		return o
	}
	return c
}

// ProviderID identifies a provider backend.
type ProviderID string

const (
	ProviderMTN            ProviderID = "mtn"
	ProviderMTNFeasibility ProviderID = "mtn_feasibility"
	ProviderDFA            ProviderID = "dfa"
)

// Speed is a bandwidth figure with its display unit.
type Speed struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Mbps converts the speed to megabits per second.
func (s Speed) Mbps() float64 {
	if s.Unit == "Gbps" {
		return s.Value * 1000
	}
	return s.Value
}

// EstimatedSpeed is the expected download and upload bandwidth.
type EstimatedSpeed struct {
	Download Speed `json:"download"`
	Upload   Speed `json:"upload"`
}

// ServiceCoverage is one provider's answer for one service type.
type ServiceCoverage struct {
	ServiceType    ServiceType     `json:"serviceType"`
	Available      bool            `json:"available"`
	Signal         Signal          `json:"signal"`
	Confidence     Confidence      `json:"confidence"`
	Technology     string          `json:"technology,omitempty"`
	EstimatedSpeed *EstimatedSpeed `json:"estimatedSpeed,omitempty"`
	Provider       ProviderID      `json:"provider"`
	Caveats        []string        `json:"caveats,omitempty"`
	Metadata       map[string]any  `json:"metadata"`
}

// downloadMbps is the estimated download speed, or 0 when unknown.
func (s ServiceCoverage) downloadMbps() float64 {
	if s.EstimatedSpeed == nil {
		return 0
	}
	return s.EstimatedSpeed.Download.Mbps()
}

// ProviderOutcome is everything one provider returned for a query.
type ProviderOutcome struct {
	Available  bool              `json:"available"`
	Confidence Confidence        `json:"confidence"`
	Services   []ServiceCoverage `json:"services"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]any    `json:"metadata"`
}

// Options tune ranking.
type Options struct {
	IncludeAlternatives   bool `json:"includeAlternatives"`
	PrioritizeReliability bool `json:"prioritizeReliability"`
	PrioritizeSpeed       bool `json:"prioritizeSpeed"`
}

// DefaultOptions favours reliability and returns alternatives.
func DefaultOptions() Options {
	return Options{IncludeAlternatives: true, PrioritizeReliability: true}
}

// Query is one coverage check request.
type Query struct {
	Coordinates  geo.Coordinates `json:"coordinates"`
	ServiceTypes []ServiceType   `json:"serviceTypes,omitempty"`
	Providers    []ProviderID    `json:"providers,omitempty"`
	Options      Options         `json:"options"`
}

// normalized returns q with sorted, de-duplicated filters.
func (q Query) normalized() Query {
	out := q
	if len(q.ServiceTypes) > 0 {
		seen := make(map[ServiceType]bool, len(q.ServiceTypes))
		out.ServiceTypes = nil
		for _, st := range q.ServiceTypes {
			if !seen[st] {
				seen[st] = true
				out.ServiceTypes = append(out.ServiceTypes, st)
			}
		}
		sort.Slice(out.ServiceTypes, func(i, j int) bool {
			return out.ServiceTypes[i].Priority() < out.ServiceTypes[j].Priority()
		})
	}
	if len(q.Providers) > 0 {
		seen := make(map[ProviderID]bool, len(q.Providers))
		out.Providers = nil
		for _, p := range q.Providers {
			if !seen[p] {
				seen[p] = true
				out.Providers = append(out.Providers, p)
			}
		}
		sort.Slice(out.Providers, func(i, j int) bool { return out.Providers[i] < out.Providers[j] })
	}
	return out
}

// Scope is the cache partition for q: option sets never share entries.
func (q Query) Scope() string {
	q = q.normalized()
	var b strings.Builder
	for i, st := range q.ServiceTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(st))
	}
	b.WriteByte('/')
	for i, p := range q.Providers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(p))
	}
	b.WriteByte('/')
	for _, flag := range []bool{q.Options.IncludeAlternatives, q.Options.PrioritizeReliability, q.Options.PrioritizeSpeed} {
		if flag {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// ProviderEntry is one provider's ranked offer for a service type.
type ProviderEntry struct {
	Provider       ProviderID      `json:"provider"`
	Signal         Signal          `json:"signal"`
	Confidence     Confidence      `json:"confidence"`
	Technology     string          `json:"technology,omitempty"`
	EstimatedSpeed *EstimatedSpeed `json:"estimatedSpeed,omitempty"`
	Score          float64         `json:"score"`
	Caveats        []string        `json:"caveats,omitempty"`
}

// ServiceRecommendation ranks the providers offering one service type.
type ServiceRecommendation struct {
	ServiceType          ServiceType     `json:"serviceType"`
	Available            bool            `json:"available"`
	Providers            []ProviderEntry `json:"providers"`
	RecommendedProvider  ProviderID      `json:"recommendedProvider,omitempty"`
	AlternativeProviders []ProviderID    `json:"alternativeProviders"`
}

// AggregatedResult is the reconciled answer for a query.
type AggregatedResult struct {
	RequestID       string                         `json:"requestId"`
	Coordinates     geo.Coordinates                `json:"coordinates"`
	Providers       map[ProviderID]ProviderOutcome `json:"providers"`
	BestServices    []ServiceRecommendation        `json:"bestServices"`
	OverallCoverage bool                           `json:"overallCoverage"`
	LastUpdated     time.Time                      `json:"lastUpdated"`
	Correction      *correction.Result             `json:"correction,omitempty"`
	Territory       geo.Territory                  `json:"territory"`
	Cached          bool                           `json:"cached"`
}

// Recommendation returns the recommendation for st, if present.
func (r AggregatedResult) Recommendation(st ServiceType) (ServiceRecommendation, bool) {
	for _, rec := range r.BestServices {
		if rec.ServiceType == st {
			return rec, true
		}
	}
	return ServiceRecommendation{}, false
}

// Clone returns a copy that shares no maps or slices with r. The cache
// stores results by value; callers get clones so edits stay local.
func (r AggregatedResult) Clone() AggregatedResult {
	out := r
	if r.Providers != nil {
		out.Providers = make(map[ProviderID]ProviderOutcome, len(r.Providers))
		for id, o := range r.Providers {
			o.Metadata = maps.Clone(o.Metadata)
			o.Services = slices.Clone(o.Services)
			for i := range o.Services {
				o.Services[i].Metadata = maps.Clone(o.Services[i].Metadata)
				o.Services[i].Caveats = slices.Clone(o.Services[i].Caveats)
			}
			out.Providers[id] = o
		}
	}
	out.BestServices = slices.Clone(r.BestServices)
	for i := range out.BestServices {
		out.BestServices[i].Providers = slices.Clone(out.BestServices[i].Providers)
		out.BestServices[i].AlternativeProviders = slices.Clone(out.BestServices[i].AlternativeProviders)
	}
	if r.Correction != nil {
		c := *r.Correction
		out.Correction = &c
	}
	return out
}

// CheckRecord is the history entry written for every computed result.
type CheckRecord struct {
	RequestID         string                `json:"requestId"`
	Coordinates       geo.Coordinates       `json:"coordinates"`
	Corrected         *geo.Coordinates      `json:"corrected,omitempty"`
	OverallCoverage   bool                  `json:"overallCoverage"`
	AvailableServices []ServiceType         `json:"availableServices"`
	ProviderErrors    map[ProviderID]string `json:"providerErrors,omitempty"`
	Duration          time.Duration         `json:"durationNs"`
	Timestamp         time.Time             `json:"timestamp"`
}
