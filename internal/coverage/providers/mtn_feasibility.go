package providers

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/transport"
)

// FeasibilityConfig configures the batch feasibility provider.
type FeasibilityConfig struct {
	URL string
	// Products maps a product name on the API to a service type.
	Products     map[string]coverage.ServiceType
	BufferRadius float64
	Requestor    string
}

// DefaultFeasibilityProducts is the production product table.
func DefaultFeasibilityProducts() map[string]coverage.ServiceType {
	return map[string]coverage.ServiceType{
		"Wholesale FTTB":           coverage.ServiceFibre,
		"Fixed Wireless Broadband": coverage.ServiceUncappedWireless,
		"Fixed LTE":                coverage.ServiceFixedLTE,
		"Licensed Wireless":        coverage.ServiceLicensedWireless,
		"5G Broadband":             coverage.Service5G,
	}
}

// FeasibilityProvider checks named products at a radius bracket of points in
// one batched request.
type FeasibilityProvider struct {
	cfg    FeasibilityConfig
	client *transport.Client
}

// NewFeasibilityProvider creates the provider.
func NewFeasibilityProvider(client *transport.Client, cfg FeasibilityConfig) *FeasibilityProvider {
	if cfg.Products == nil {
		cfg.Products = DefaultFeasibilityProducts()
	}
	if cfg.BufferRadius <= 0 {
		cfg.BufferRadius = 500
	}
	if cfg.Requestor == "" {
		cfg.Requestor = "coverage-aggregation"
	}
	return &FeasibilityProvider{cfg: cfg, client: client}
}

func (p *FeasibilityProvider) ID() coverage.ProviderID {
	return coverage.ProviderMTNFeasibility
}

type feasibilityInput struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type feasibilityRequest struct {
	Inputs       []feasibilityInput `json:"inputs"`
	ProductNames []string           `json:"product_names"`
	Requestor    string             `json:"requestor"`
}

type feasibilityResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Outputs      []struct {
		Label          string `json:"label"`
		ProductResults []struct {
			ProductName     string `json:"product_name"`
			ProductFeasible any    `json:"product_feasible"`
			ProductCapacity string `json:"product_capacity"`
			ProductRegion   string `json:"product_region"`
		} `json:"product_results"`
	} `json:"outputs"`
}

type productHit struct {
	labels   []string
	capacity string
	region   string
}

// CheckCoverage posts the center and four bracket points with the products
// for the requested service types. A product is feasible if any point says so.
func (p *FeasibilityProvider) CheckCoverage(ctx context.Context, c geo.Coordinates, types []coverage.ServiceType) coverage.ProviderOutcome {
	products := p.productsFor(types)
	if len(products) == 0 {
		return coverage.NewOutcome(nil, coverage.ConfidenceLow, map[string]any{"skipped": "no products for requested service types"})
	}

	probes := geo.CardinalPoints(c, p.cfg.BufferRadius)
	req := feasibilityRequest{ProductNames: products, Requestor: p.cfg.Requestor}
	for _, pr := range probes {
		req.Inputs = append(req.Inputs, feasibilityInput{
			Label:     pr.Label,
			Latitude:  pr.Coordinates.Lat,
			Longitude: pr.Coordinates.Lng,
		})
	}

	var resp feasibilityResponse
	if err := p.client.PostJSON(ctx, p.cfg.URL, req, &resp); err != nil {
		return coverage.FailedOutcome(eris.Wrap(err, "mtn_feasibility: request"))
	}
	if resp.ErrorCode != "" && resp.ErrorCode != "200" {
		return coverage.FailedOutcome(eris.Errorf("mtn_feasibility: api error %s: %s", resp.ErrorCode, resp.ErrorMessage))
	}

	hits := make(map[string]*productHit)
	for _, out := range resp.Outputs {
		for _, pr := range out.ProductResults {
			if !truthy(normalizeFeasible(pr.ProductFeasible)) {
				continue
			}
			h, ok := hits[pr.ProductName]
			if !ok {
				h = &productHit{}
				hits[pr.ProductName] = h
			}
			h.labels = append(h.labels, out.Label)
			if h.capacity == "" || out.Label == geo.ProbeCenter {
				h.capacity = pr.ProductCapacity
				h.region = pr.ProductRegion
			}
		}
	}

	records := make([]coverage.ServiceCoverage, 0, len(products))
	for _, name := range products {
		st := p.cfg.Products[name]
		rec := coverage.ServiceCoverage{
			ServiceType: st,
			Signal:      coverage.SignalNone,
			Confidence:  coverage.ConfidenceMedium,
			Technology:  st.Technology(),
			Provider:    coverage.ProviderMTNFeasibility,
			Metadata: map[string]any{
				"product":      name,
				"probeCount":   len(probes),
				"bufferMeters": p.cfg.BufferRadius,
			},
		}
		if h, ok := hits[name]; ok {
			sort.Strings(h.labels)
			rec.Available = true
			rec.Metadata["contributingProbes"] = h.labels
			if h.capacity != "" {
				rec.Metadata["capacity"] = h.capacity
			}
			if h.region != "" {
				rec.Metadata["region"] = h.region
			}
			if containsLabel(h.labels, geo.ProbeCenter) {
				rec.Signal = coverage.SignalGood
				rec.Confidence = coverage.ConfidenceHigh
			} else {
				rec.Signal = coverage.SignalFair
				rec.Caveats = append(rec.Caveats, "coverage found near but not at the exact location")
			}
			rec.EstimatedSpeed = speedFromCapacity(h.capacity)
			if rec.EstimatedSpeed == nil {
				rec.EstimatedSpeed = coverage.EstimateSpeed(st, rec.Signal)
			}
		}
		records = append(records, rec)
	}

	return coverage.NewOutcome(records, coverage.OutcomeConfidence(1, 1, records), map[string]any{
		"products": products,
		"probes":   len(probes),
	})
}

// productsFor returns the product names covering types, sorted.
func (p *FeasibilityProvider) productsFor(types []coverage.ServiceType) []string {
	want := make(map[coverage.ServiceType]bool, len(types))
	for _, st := range types {
		want[st] = true
	}
	var names []string
	for name, st := range p.cfg.Products {
		if len(types) == 0 || want[st] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func normalizeFeasible(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch ls := strings.ToLower(strings.TrimSpace(s)); {
	case strings.Contains(ls, "not") || strings.Contains(ls, "infeasible"):
		return false
	case ls == "feasible":
		return true
	}
	return v
}

var capacityPattern = regexp.MustCompile(`(?i)([\d.]+)\s*(g|m)bps`)

// speedFromCapacity reads a symmetric speed from strings like "100Mbps".
func speedFromCapacity(capacity string) *coverage.EstimatedSpeed {
	m := capacityPattern.FindStringSubmatch(capacity)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return nil
	}
	unit := "Mbps"
	if strings.EqualFold(m[2], "g") {
		unit = "Gbps"
	}
	s := coverage.Speed{Value: v, Unit: unit}
	return &coverage.EstimatedSpeed{Download: s, Upload: s}
}
