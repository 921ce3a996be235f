package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/transport"
)

// DFA footprint tiers, strongest first.
const (
	TierConnected = "Connected"
	TierNearNet   = "Near-Net"
	TierDuctbank  = "Ductbank"
)

// DFAConfig configures the fibre footprint provider.
type DFAConfig struct {
	// BaseURL is the map service root; layer ids are appended.
	BaseURL        string
	ConnectedLayer string
	NearNetLayer   string
	DuctbankLayer  string
	// ConnectedBuffer is the half-size of the envelope around the point.
	ConnectedBuffer  float64
	NearNetDistance  float64
	DuctbankDistance float64
}

// DefaultDFAConfig returns the production layer ids and distances.
func DefaultDFAConfig() DFAConfig {
	return DFAConfig{
		ConnectedLayer:   "0",
		NearNetLayer:     "1",
		DuctbankLayer:    "2",
		ConnectedBuffer:  25,
		NearNetDistance:  200,
		DuctbankDistance: 1000,
	}
}

// DFAProvider reports fibre availability from ArcGIS footprint layers.
type DFAProvider struct {
	cfg    DFAConfig
	client *transport.Client
}

// NewDFAProvider creates the provider.
func NewDFAProvider(client *transport.Client, cfg DFAConfig) *DFAProvider {
	def := DefaultDFAConfig()
	if cfg.ConnectedLayer == "" {
		cfg.ConnectedLayer = def.ConnectedLayer
	}
	if cfg.NearNetLayer == "" {
		cfg.NearNetLayer = def.NearNetLayer
	}
	if cfg.DuctbankLayer == "" {
		cfg.DuctbankLayer = def.DuctbankLayer
	}
	if cfg.ConnectedBuffer <= 0 {
		cfg.ConnectedBuffer = def.ConnectedBuffer
	}
	if cfg.NearNetDistance <= 0 {
		cfg.NearNetDistance = def.NearNetDistance
	}
	if cfg.DuctbankDistance <= 0 {
		cfg.DuctbankDistance = def.DuctbankDistance
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &DFAProvider{cfg: cfg, client: client}
}

func (p *DFAProvider) ID() coverage.ProviderID {
	return coverage.ProviderDFA
}

type tierQuery struct {
	tier       string
	layer      string
	signal     coverage.Signal
	confidence coverage.Confidence
	params     url.Values
}

type tierAnswer struct {
	features []map[string]any
	err      error
}

// CheckCoverage queries the three footprint layers concurrently and reports
// the strongest tier that matched.
func (p *DFAProvider) CheckCoverage(ctx context.Context, c geo.Coordinates, types []coverage.ServiceType) coverage.ProviderOutcome {
	if !wantsService(types, coverage.ServiceFibre) {
		return coverage.NewOutcome(nil, coverage.ConfidenceLow, map[string]any{"skipped": "fibre not requested"})
	}

	queries := p.queries(c)
	answers := make([]tierAnswer, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			var doc map[string]any
			if err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/"+q.layer+"/query", q.params, &doc); err != nil {
				answers[i].err = err
				return nil
			}
			if apiErr, ok := doc["error"].(map[string]any); ok {
				answers[i].err = eris.Errorf("dfa: arcgis error: %v", apiErr["message"])
				return nil
			}
			features, envelope := parseDocument(doc)
			if envelope != EnvelopeArcGIS && envelope != EnvelopeGeoJSON {
				answers[i].err = eris.Errorf("dfa: unexpected response shape %q", envelope)
				return nil
			}
			answers[i].features = features
			return nil
		})
	}
	_ = g.Wait()

	rec := coverage.ServiceCoverage{
		ServiceType: coverage.ServiceFibre,
		Signal:      coverage.SignalNone,
		Confidence:  coverage.ConfidenceMedium,
		Technology:  coverage.ServiceFibre.Technology(),
		Provider:    coverage.ProviderDFA,
		Metadata:    map[string]any{"spatialReference": 102100},
	}

	var errs []string
	succeeded := 0
	for i, q := range queries {
		a := answers[i]
		if a.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", q.tier, a.err))
			continue
		}
		succeeded++
		if rec.Available || len(a.features) == 0 {
			continue
		}
		rec.Available = true
		rec.Signal = q.signal
		rec.Confidence = q.confidence
		rec.Metadata["buildingType"] = q.tier
		rec.Metadata["layer"] = q.layer
		rec.Metadata["featureCount"] = len(a.features)
		rec.Metadata["properties"] = a.features[0]
	}
	if len(errs) > 0 {
		rec.Metadata["errors"] = errs
	}
	if succeeded == 0 {
		return coverage.FailedOutcome(eris.Errorf("dfa: all layer queries failed: %s", strings.Join(errs, "; ")))
	}

	if rec.Available {
		rec.EstimatedSpeed = coverage.EstimateSpeed(coverage.ServiceFibre, rec.Signal)
		if rec.Metadata["buildingType"] != TierConnected {
			rec.Caveats = append(rec.Caveats, "building not yet connected; installation lead time applies")
		}
	}
	// Any failed layer caps confidence at medium.
	if len(errs) > 0 {
		rec.Confidence = rec.Confidence.Min(coverage.ConfidenceMedium)
	}

	records := []coverage.ServiceCoverage{rec}
	return coverage.NewOutcome(records, rec.Confidence, map[string]any{
		"layersQueried":   len(queries),
		"layersSucceeded": succeeded,
	})
}

// queries builds the tier queries in Web Mercator, strongest first.
func (p *DFAProvider) queries(c geo.Coordinates) []tierQuery {
	m := geo.ToMercator(c)
	b := p.cfg.ConnectedBuffer
	envelope, _ := json.Marshal(map[string]any{
		"xmin": m.X - b, "ymin": m.Y - b, "xmax": m.X + b, "ymax": m.Y + b,
		"spatialReference": map[string]int{"wkid": 102100},
	})
	point, _ := json.Marshal(map[string]any{
		"x": m.X, "y": m.Y,
		"spatialReference": map[string]int{"wkid": 102100},
	})

	base := func(geometry []byte, geometryType string) url.Values {
		v := url.Values{}
		v.Set("geometry", string(geometry))
		v.Set("geometryType", geometryType)
		v.Set("inSR", "102100")
		v.Set("spatialRel", "esriSpatialRelIntersects")
		v.Set("outFields", "*")
		v.Set("returnGeometry", "false")
		v.Set("f", "json")
		return v
	}

	connected := base(envelope, "esriGeometryEnvelope")

	nearNet := base(point, "esriGeometryPoint")
	nearNet.Set("distance", fmt.Sprintf("%.0f", p.cfg.NearNetDistance))
	nearNet.Set("units", "esriSRUnit_Meter")

	ductbank := base(point, "esriGeometryPoint")
	ductbank.Set("distance", fmt.Sprintf("%.0f", p.cfg.DuctbankDistance))
	ductbank.Set("units", "esriSRUnit_Meter")

	return []tierQuery{
		{TierConnected, p.cfg.ConnectedLayer, coverage.SignalExcellent, coverage.ConfidenceHigh, connected},
		{TierNearNet, p.cfg.NearNetLayer, coverage.SignalGood, coverage.ConfidenceMedium, nearNet},
		{TierDuctbank, p.cfg.DuctbankLayer, coverage.SignalFair, coverage.ConfidenceLow, ductbank},
	}
}

func wantsService(types []coverage.ServiceType, st coverage.ServiceType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == st {
			return true
		}
	}
	return false
}
