package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
)

type feasibilityResult struct {
	ProductName     string `json:"product_name"`
	ProductFeasible any    `json:"product_feasible"`
	ProductCapacity string `json:"product_capacity,omitempty"`
	ProductRegion   string `json:"product_region,omitempty"`
}

type feasibilityOutput struct {
	Label          string              `json:"label"`
	ProductResults []feasibilityResult `json:"product_results"`
}

func feasibilityServer(t *testing.T, outputs func(req feasibilityRequest) []feasibilityOutput) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req feasibilityRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"error_code": "200", "outputs": outputs(req)})
	}))
}

func TestFeasibilityRequestShape(t *testing.T) {
	var got feasibilityRequest
	srv := feasibilityServer(t, func(req feasibilityRequest) []feasibilityOutput {
		got = req
		return nil
	})
	defer srv.Close()

	p := NewFeasibilityProvider(testClient(srv), FeasibilityConfig{URL: srv.URL})
	out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.ServiceFibre, coverage.ServiceUncappedWireless})

	assert.Empty(t, out.Error)
	assert.Equal(t, []string{"Fixed Wireless Broadband", "Wholesale FTTB"}, got.ProductNames)
	assert.Equal(t, "coverage-aggregation", got.Requestor)
	require.Len(t, got.Inputs, 5)
	assert.Equal(t, geo.ProbeCenter, got.Inputs[0].Label)
	assert.InDelta(t, johannesburg.Lat, got.Inputs[0].Latitude, 1e-9)
	assert.Greater(t, got.Inputs[1].Latitude, johannesburg.Lat)

	require.Len(t, out.Services, 2)
	for _, rec := range out.Services {
		assert.False(t, rec.Available)
		assert.Equal(t, coverage.SignalNone, rec.Signal)
	}
}

func TestFeasibilityAnyProbeFeasible(t *testing.T) {
	srv := feasibilityServer(t, func(feasibilityRequest) []feasibilityOutput {
		return []feasibilityOutput{
			{Label: geo.ProbeCenter, ProductResults: []feasibilityResult{
				{ProductName: "Wholesale FTTB", ProductFeasible: "Not Feasible"},
				{ProductName: "Fixed Wireless Broadband", ProductFeasible: true, ProductCapacity: "1Gbps", ProductRegion: "Gauteng"},
			}},
			{Label: geo.ProbeEast, ProductResults: []feasibilityResult{
				{ProductName: "Wholesale FTTB", ProductFeasible: "Feasible", ProductCapacity: "100 Mbps"},
			}},
		}
	})
	defer srv.Close()

	p := NewFeasibilityProvider(testClient(srv), FeasibilityConfig{URL: srv.URL})
	out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.ServiceFibre, coverage.ServiceUncappedWireless})

	require.True(t, out.Available)
	byType := map[coverage.ServiceType]coverage.ServiceCoverage{}
	for _, rec := range out.Services {
		byType[rec.ServiceType] = rec
	}

	fibre := byType[coverage.ServiceFibre]
	assert.True(t, fibre.Available)
	assert.Equal(t, coverage.SignalFair, fibre.Signal)
	assert.Equal(t, coverage.ConfidenceMedium, fibre.Confidence)
	assert.Equal(t, []string{geo.ProbeEast}, fibre.Metadata["contributingProbes"])
	assert.NotEmpty(t, fibre.Caveats)
	require.NotNil(t, fibre.EstimatedSpeed)
	assert.Equal(t, coverage.Speed{Value: 100, Unit: "Mbps"}, fibre.EstimatedSpeed.Download)

	wireless := byType[coverage.ServiceUncappedWireless]
	assert.True(t, wireless.Available)
	assert.Equal(t, coverage.SignalGood, wireless.Signal)
	assert.Equal(t, coverage.ConfidenceHigh, wireless.Confidence)
	assert.Equal(t, "Gauteng", wireless.Metadata["region"])
	require.NotNil(t, wireless.EstimatedSpeed)
	assert.Equal(t, coverage.Speed{Value: 1, Unit: "Gbps"}, wireless.EstimatedSpeed.Upload)
}

func TestFeasibilityAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"error_code": "500", "error_message": "backend unavailable"})
	}))
	defer srv.Close()

	p := NewFeasibilityProvider(testClient(srv), FeasibilityConfig{URL: srv.URL})
	out := p.CheckCoverage(context.Background(), johannesburg, nil)

	assert.False(t, out.Available)
	assert.Contains(t, out.Error, "backend unavailable")
	assert.Equal(t, coverage.ConfidenceLow, out.Confidence)
}

func TestFeasibilitySkipsWithoutProducts(t *testing.T) {
	p := NewFeasibilityProvider(nil, FeasibilityConfig{})
	out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.Service2G})
	assert.Empty(t, out.Error)
	assert.Empty(t, out.Services)
}

func TestSpeedFromCapacity(t *testing.T) {
	assert.Nil(t, speedFromCapacity(""))
	assert.Nil(t, speedFromCapacity("unknown"))
	assert.Equal(t, &coverage.EstimatedSpeed{
		Download: coverage.Speed{Value: 50, Unit: "Mbps"},
		Upload:   coverage.Speed{Value: 50, Unit: "Mbps"},
	}, speedFromCapacity("up to 50Mbps"))
	assert.Equal(t, "Gbps", speedFromCapacity("1.5 GBPS").Download.Unit)
}

func TestNormalizeFeasible(t *testing.T) {
	assert.Equal(t, false, normalizeFeasible("Not Feasible"))
	assert.Equal(t, false, normalizeFeasible("infeasible"))
	assert.Equal(t, true, normalizeFeasible("FEASIBLE"))
	assert.Equal(t, true, normalizeFeasible(true))
	assert.Equal(t, "maybe", normalizeFeasible("maybe"))
}
