package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/coverage-aggregation/internal/common"
	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/transport"
)

// WMS source configurations.
const (
	SourceBusiness = "business"
	SourceConsumer = "consumer"
)

const (
	DefaultBusinessWMSURL = "https://mtnsi.mtn.co.za/coverage/dev/v3/wms"
	DefaultConsumerWMSURL = "https://mtnsi.mtn.co.za/cache/geoserver/wms"
)

// RequestStyle selects how a source frames GetFeatureInfo.
type RequestStyle int

const (
	// StyleTile frames a zoom-level Mercator tile around the point.
	StyleTile RequestStyle = iota
	// StyleCRS84 frames a small geographic bbox around the point.
	StyleCRS84
)

// WMSSource is one GeoServer endpoint.
type WMSSource struct {
	Name  string
	URL   string
	Style RequestStyle
}

// LayerRef names a layer on a source.
type LayerRef struct {
	Source string
	Layer  string
}

// MTNConfig configures the MTN WMS provider.
type MTNConfig struct {
	Sources map[string]WMSSource
	// Layers is the primary layer per service type.
	Layers map[coverage.ServiceType]LayerRef
	// Fallbacks are tried when the primary errors or finds nothing.
	Fallbacks map[coverage.ServiceType]LayerRef
	// Buffered service types are probed at the center and four cardinal points.
	Buffered     []coverage.ServiceType
	BufferRadius float64
	Zoom         int
	TileSize     int
	// BBoxRadius is the half-size in meters of CRS:84 request boxes.
	BBoxRadius   float64
	QueryTimeout time.Duration
}

// DefaultMTNConfig returns the production layer table.
func DefaultMTNConfig() MTNConfig {
	return MTNConfig{
		Sources: map[string]WMSSource{
			SourceBusiness: {Name: SourceBusiness, URL: DefaultBusinessWMSURL, Style: StyleCRS84},
			SourceConsumer: {Name: SourceConsumer, URL: DefaultConsumerWMSURL, Style: StyleTile},
		},
		Layers: map[coverage.ServiceType]LayerRef{
			coverage.ServiceFibre:            {SourceBusiness, "FTTBCoverage"},
			coverage.ServiceFixedLTE:         {SourceBusiness, "FLTECoverageEBU"},
			coverage.ServiceLicensedWireless: {SourceBusiness, "PMPCoverage"},
			coverage.ServiceUncappedWireless: {SourceConsumer, "mtnsi:MTNSA-Coverage-Tarana"},
			coverage.Service5G:               {SourceConsumer, "mtnsi:MTNSA-Coverage-5G-5G"},
			coverage.ServiceLTE:              {SourceConsumer, "mtnsi:MTNSA-Coverage-LTE"},
			coverage.Service3G900:            {SourceConsumer, "UMTS-900"},
			coverage.Service3G2100:           {SourceConsumer, "UMTS-2100"},
			coverage.Service2G:               {SourceConsumer, "GSM"},
		},
		Fallbacks: map[coverage.ServiceType]LayerRef{
			coverage.ServiceUncappedWireless: {SourceBusiness, "UncappedWirelessEBU"},
		},
		Buffered:     []coverage.ServiceType{coverage.ServiceUncappedWireless},
		BufferRadius: 500,
		Zoom:         14,
		TileSize:     256,
		BBoxRadius:   100,
		QueryTimeout: 8 * time.Second,
	}
}

// MTNProvider implements coverage.Provider over MTN's GeoServer WMS layers.
type MTNProvider struct {
	cfg    MTNConfig
	client *transport.Client
}

// NewMTNProvider creates the provider.
func NewMTNProvider(client *transport.Client, cfg MTNConfig) *MTNProvider {
	def := DefaultMTNConfig()
	if cfg.Sources == nil {
		cfg.Sources = def.Sources
	}
	if cfg.Layers == nil {
		cfg.Layers = def.Layers
	}
	if cfg.BufferRadius <= 0 {
		cfg.BufferRadius = def.BufferRadius
	}
	if cfg.Zoom <= 0 {
		cfg.Zoom = def.Zoom
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	if cfg.BBoxRadius <= 0 {
		cfg.BBoxRadius = def.BBoxRadius
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &MTNProvider{cfg: cfg, client: client}
}

func (p *MTNProvider) ID() coverage.ProviderID {
	return coverage.ProviderMTN
}

// probeResult is one GetFeatureInfo answer.
type probeResult struct {
	probe      geo.Probe
	assessment Assessment
	envelope   string
	err        error
}

// layerResult summarizes all probes against one layer.
type layerResult struct {
	ref          LayerRef
	available    bool
	signal       coverage.Signal
	technology   string
	contributing []string
	succeeded    int
	probes       int
	envelope     string
	properties   map[string]any
	errs         []string
}

func (r layerResult) failed() bool {
	return r.succeeded == 0
}

// CheckCoverage queries each requested layer concurrently.
func (p *MTNProvider) CheckCoverage(ctx context.Context, c geo.Coordinates, types []coverage.ServiceType) coverage.ProviderOutcome {
	if len(types) == 0 {
		types = coverage.AllServiceTypes()
	}

	var queried []coverage.ServiceType
	for _, st := range types {
		if _, ok := p.cfg.Layers[st]; ok {
			queried = append(queried, st)
		}
	}
	if len(queried) == 0 {
		return coverage.NewOutcome(nil, coverage.ConfidenceLow, map[string]any{"skipped": "no layers for requested service types"})
	}

	records := make([]coverage.ServiceCoverage, len(queried))
	okFlags := make([]bool, len(queried))

	var g errgroup.Group
	g.SetLimit(4)
	for i, st := range queried {
		g.Go(func() error {
			records[i], okFlags[i] = p.checkService(ctx, c, st)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, ok := range okFlags {
		if ok {
			succeeded++
		}
	}
	if succeeded == 0 {
		out := coverage.FailedOutcome(eris.Errorf("mtn: all %d layer queries failed", len(queried)))
		out.Services = records
		return out
	}

	conf := coverage.OutcomeConfidence(succeeded, len(queried), records)
	return coverage.NewOutcome(records, conf, map[string]any{
		"layersQueried":   len(queried),
		"layersSucceeded": succeeded,
	})
}

// checkService resolves one service type, falling back to the alternate
// source when the primary errors or finds nothing. The bool reports whether
// any query succeeded.
func (p *MTNProvider) checkService(ctx context.Context, c geo.Coordinates, st coverage.ServiceType) (coverage.ServiceCoverage, bool) {
	probes := []geo.Probe{{Label: geo.ProbeCenter, Coordinates: c}}
	if p.isBuffered(st) {
		probes = geo.CardinalPoints(c, p.cfg.BufferRadius)
	}

	primary := p.queryLayer(ctx, p.cfg.Layers[st], probes)
	result := primary
	usedFallback := false
	errs := primary.errs

	if fb, ok := p.cfg.Fallbacks[st]; ok && (primary.failed() || !primary.available) {
		alt := p.queryLayer(ctx, fb, probes)
		errs = append(append([]string(nil), primary.errs...), alt.errs...)
		if !alt.failed() && (alt.available || primary.failed()) {
			result = alt
			usedFallback = true
		}
	}

	rec := coverage.ServiceCoverage{
		ServiceType: st,
		Available:   result.available,
		Signal:      result.signal,
		Technology:  st.Technology(),
		Provider:    coverage.ProviderMTN,
		Metadata: map[string]any{
			"layer":        result.ref.Layer,
			"source":       result.ref.Source,
			"envelope":     result.envelope,
			"probeCount":   result.probes,
			"probesOK":     result.succeeded,
			"bufferMeters": 0.0,
		},
	}
	if len(probes) > 1 {
		rec.Metadata["bufferMeters"] = p.cfg.BufferRadius
	}
	if result.technology != "" {
		rec.Metadata["reportedTechnology"] = result.technology
	}
	if usedFallback {
		rec.Metadata["fallbackSource"] = result.ref.Source
		rec.Metadata["primarySource"] = primary.ref.Source
	}
	if len(result.properties) > 0 {
		rec.Metadata["properties"] = result.properties
	}
	if len(errs) > 0 {
		rec.Metadata["errors"] = errs
	}

	switch {
	case result.failed():
		rec.Available = false
		rec.Signal = coverage.SignalNone
		rec.Confidence = coverage.ConfidenceLow
	case result.available:
		rec.Metadata["contributingProbes"] = result.contributing
		rec.EstimatedSpeed = coverage.EstimateSpeed(st, result.signal)
		rec.Confidence = coverage.ConfidenceMedium
		if !usedFallback && containsLabel(result.contributing, geo.ProbeCenter) && result.signal.Strong() {
			rec.Confidence = coverage.ConfidenceHigh
		}
		if !containsLabel(result.contributing, geo.ProbeCenter) {
			rec.Caveats = append(rec.Caveats, "coverage found near but not at the exact location")
		}
	case result.envelope == EnvelopeObject:
		// An answer in no known feature shape says nothing either way.
		rec.Signal = coverage.SignalNone
		rec.Confidence = coverage.ConfidenceLow
	default:
		rec.Signal = coverage.SignalNone
		rec.Confidence = coverage.ConfidenceMedium
	}
	return rec, !result.failed()
}

func (p *MTNProvider) isBuffered(st coverage.ServiceType) bool {
	for _, b := range p.cfg.Buffered {
		if b == st {
			return true
		}
	}
	return false
}

// queryLayer probes ref at every point concurrently.
func (p *MTNProvider) queryLayer(ctx context.Context, ref LayerRef, probes []geo.Probe) layerResult {
	res := layerResult{ref: ref, probes: len(probes), signal: coverage.SignalNone}

	src, ok := p.cfg.Sources[ref.Source]
	if !ok {
		res.errs = append(res.errs, fmt.Sprintf("unknown source %q", ref.Source))
		return res
	}

	results := make([]probeResult, len(probes))
	var wg sync.WaitGroup
	for i, pr := range probes {
		wg.Add(1)
		go func(i int, pr geo.Probe) {
			defer wg.Done()
			results[i] = p.queryPoint(ctx, src, ref.Layer, pr)
		}(i, pr)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			res.errs = append(res.errs, fmt.Sprintf("%s: %v", r.probe.Label, r.err))
			continue
		}
		res.succeeded++
		if res.envelope == "" {
			res.envelope = r.envelope
		}
		if !r.assessment.Available {
			continue
		}
		res.contributing = append(res.contributing, r.probe.Label)
		if !res.available || r.assessment.Signal.Rank() > res.signal.Rank() {
			res.signal = r.assessment.Signal
			res.technology = r.assessment.Technology
			res.properties = r.assessment.Metadata
		}
		res.available = true
	}
	return res
}

func (p *MTNProvider) queryPoint(ctx context.Context, src WMSSource, layer string, pr geo.Probe) probeResult {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	var doc map[string]any
	err := p.client.GetJSON(qctx, src.URL, p.featureInfoParams(src, layer, pr.Coordinates), &doc)
	if err != nil {
		return probeResult{probe: pr, err: err}
	}
	if exc, ok := common.Lookup(doc, "exceptions"); ok {
		return probeResult{probe: pr, err: eris.Errorf("wms exception: %v", exc)}
	}
	features, envelope := parseDocument(doc)
	return probeResult{probe: pr, assessment: AssessFeatures(features, envelope), envelope: envelope}
}

// featureInfoParams builds a WMS 1.3.0 GetFeatureInfo query for c.
func (p *MTNProvider) featureInfoParams(src WMSSource, layer string, c geo.Coordinates) url.Values {
	v := url.Values{}
	v.Set("service", "WMS")
	v.Set("version", "1.3.0")
	v.Set("request", "GetFeatureInfo")
	v.Set("layers", layer)
	v.Set("query_layers", layer)
	v.Set("feature_count", "100")
	v.Set("info_format", "application/json")

	switch src.Style {
	case StyleCRS84:
		box := geo.BoundingBoxAround(c, p.cfg.BBoxRadius)
		v.Set("crs", "CRS:84")
		v.Set("bbox", box.CRS84())
		v.Set("width", "256")
		v.Set("height", "256")
		v.Set("I", "128")
		v.Set("J", "128")
	default:
		tile := geo.MercatorTile(c, p.cfg.Zoom, p.cfg.TileSize)
		v.Set("srs", "EPSG:900913")
		v.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", tile.MinX, tile.MinY, tile.MaxX, tile.MaxY))
		v.Set("width", strconv.Itoa(tile.Size))
		v.Set("height", strconv.Itoa(tile.Size))
		v.Set("i", strconv.Itoa(tile.I))
		v.Set("j", strconv.Itoa(tile.J))
	}
	return v
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
