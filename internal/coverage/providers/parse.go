package providers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/i474232898/coverage-aggregation/internal/common"
	"github.com/i474232898/coverage-aggregation/internal/coverage"
)

// Envelope names reported in record metadata.
const (
	EnvelopeGeoJSON = "geojson"
	EnvelopeResults = "results"
	EnvelopeArcGIS  = "arcgis"
	EnvelopeObject  = "object"
)

type envelopeParser struct {
	name  string
	parse func(doc map[string]any) ([]map[string]any, bool)
}

// envelopeParsers are tried in order; the first that recognizes the
// document wins.
var envelopeParsers = []envelopeParser{
	{EnvelopeGeoJSON, parseFeatureCollection},
	{EnvelopeResults, parseResultArray},
	{EnvelopeArcGIS, parseArcGISFeatures},
	{EnvelopeObject, parseBareObject},
}

func parseFeatureCollection(doc map[string]any) ([]map[string]any, bool) {
	raw, ok := doc["features"].([]any)
	if !ok {
		return nil, false
	}
	if t, _ := doc["type"].(string); t != "FeatureCollection" && !hasItemKey(raw, "properties") && len(raw) > 0 {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		props, _ := f["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, props)
	}
	return out, true
}

func parseResultArray(doc map[string]any) ([]map[string]any, bool) {
	raw, ok := doc["results"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func parseArcGISFeatures(doc map[string]any) ([]map[string]any, bool) {
	raw, ok := doc["features"].([]any)
	if !ok || !hasItemKey(raw, "attributes") {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if attrs, ok := f["attributes"].(map[string]any); ok {
			out = append(out, attrs)
		}
	}
	return out, true
}

func parseBareObject(doc map[string]any) ([]map[string]any, bool) {
	if len(doc) == 0 {
		return []map[string]any{}, true
	}
	return []map[string]any{doc}, true
}

func hasItemKey(items []any, key string) bool {
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if _, ok := m[key]; ok {
				return true
			}
		}
	}
	return false
}

// ParseFeatures detects the envelope of body and returns its property bags.
// Undecodable bodies yield no features.
func ParseFeatures(body []byte) ([]map[string]any, string) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, ""
	}
	return parseDocument(doc)
}

func parseDocument(doc map[string]any) ([]map[string]any, string) {
	for _, p := range envelopeParsers {
		if features, ok := p.parse(doc); ok {
			return features, p.name
		}
	}
	return nil, ""
}

// Assessment is the normalized reading of one or more property bags.
type Assessment struct {
	Available  bool
	Signal     coverage.Signal
	Technology string
	Metadata   map[string]any
}

var (
	availabilityKeys = []string{"coverage", "available", "signal", "strength", "level", "quality"}
	signalKeys       = []string{"signal", "strength", "quality", "level", "power"}
	technologyKeys   = []string{"technology", "type"}
	negativeValues   = map[string]bool{"none": true, "no": true, "false": true, "unavailable": true, "null": true, "0": true, "": true}
)

// AssessFeature reads availability, signal and technology from a feature's
// property bag. A bag with no recognized key counts as available: a feature
// was returned at the point. Unrecognized properties are kept as metadata.
func AssessFeature(props map[string]any) Assessment {
	return assessFeature(props, true)
}

// assessFeature reads props. presence says whether the bag's mere existence
// implies coverage, which holds for features but not for a bare object.
func assessFeature(props map[string]any, presence bool) Assessment {
	a := Assessment{Metadata: map[string]any{}}

	a.Available = presence && len(props) > 0
	for _, k := range availabilityKeys {
		if v, ok := common.Lookup(props, k); ok {
			a.Available = truthy(v)
			break
		}
	}

	a.Signal = coverage.SignalNone
	if a.Available {
		a.Signal = coverage.SignalFair
		for _, k := range signalKeys {
			if v, ok := common.Lookup(props, k); ok {
				if s, ok := signalFrom(v); ok {
					a.Signal = s
					break
				}
			}
		}
	}

	for _, k := range technologyKeys {
		if v, ok := common.Lookup(props, k); ok {
			if s, ok := v.(string); ok && s != "" {
				a.Technology = s
				break
			}
		}
	}

	for k, v := range props {
		if !isRecognized(k) {
			a.Metadata[k] = v
		}
	}
	return a
}

// AssessFeatures combines the bags parsed from one envelope: available if
// any bag is, with the strongest signal among available bags. Bags from the
// bare-object fallback only count when they carry a recognized key.
func AssessFeatures(features []map[string]any, envelope string) Assessment {
	presence := envelope != EnvelopeObject
	combined := Assessment{Signal: coverage.SignalNone, Metadata: map[string]any{}}
	for _, props := range features {
		a := assessFeature(props, presence)
		if !a.Available {
			continue
		}
		if !combined.Available || a.Signal.Rank() > combined.Signal.Rank() {
			combined = a
		}
	}
	combined.Metadata["featureCount"] = len(features)
	return combined
}

func isRecognized(k string) bool {
	lk := strings.ToLower(k)
	for _, group := range [][]string{availabilityKeys, signalKeys, technologyKeys} {
		for _, r := range group {
			if lk == r {
				return true
			}
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t > 0
	case int:
		return t > 0
	case string:
		return !negativeValues[strings.ToLower(strings.TrimSpace(t))]
	case nil:
		return false
	default:
		return true
	}
}

func signalFrom(v any) (coverage.Signal, bool) {
	switch t := v.(type) {
	case float64:
		return signalFromNumber(t), true
	case int:
		return signalFromNumber(float64(t)), true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return signalFromNumber(n), true
		}
		switch {
		case common.HasAny(t, "excellent", "very strong", "very good"):
			return coverage.SignalExcellent, true
		case common.HasAny(t, "none", "no signal", "unavailable"):
			return coverage.SignalNone, true
		case common.HasAny(t, "good", "strong"):
			return coverage.SignalGood, true
		case common.HasAny(t, "fair", "medium", "moderate"):
			return coverage.SignalFair, true
		case common.HasAny(t, "poor", "weak", "low"):
			return coverage.SignalPoor, true
		}
	}
	return "", false
}

func signalFromNumber(n float64) coverage.Signal {
	switch {
	case n >= 90:
		return coverage.SignalExcellent
	case n >= 70:
		return coverage.SignalGood
	case n >= 50:
		return coverage.SignalFair
	case n >= 30:
		return coverage.SignalPoor
	default:
		return coverage.SignalNone
	}
}
