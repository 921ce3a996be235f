package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
)

func arcgisFeatures(attrs ...map[string]any) map[string]any {
	features := make([]any, 0, len(attrs))
	for _, a := range attrs {
		features = append(features, map[string]any{"attributes": a})
	}
	return map[string]any{"features": features}
}

// dfaServer answers each layer path with the handler's response. A nil
// response produces a 404.
func dfaServer(t *testing.T, layers map[string]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		layer := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/query")
		resp, ok := layers[layer]
		if !ok || resp == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, resp)
	}))
}

func TestDFAQueryParams(t *testing.T) {
	p := NewDFAProvider(nil, DFAConfig{BaseURL: "https://example.test/MapServer/"})
	qs := p.queries(johannesburg)
	require.Len(t, qs, 3)

	assert.Equal(t, TierConnected, qs[0].tier)
	assert.Equal(t, "esriGeometryEnvelope", qs[0].params.Get("geometryType"))
	assert.Empty(t, qs[0].params.Get("distance"))
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(qs[0].params.Get("geometry")), &env))
	assert.InDelta(t, 50, env["xmax"].(float64)-env["xmin"].(float64), 1e-6)

	assert.Equal(t, "esriGeometryPoint", qs[1].params.Get("geometryType"))
	assert.Equal(t, "200", qs[1].params.Get("distance"))
	assert.Equal(t, "1000", qs[2].params.Get("distance"))
	for _, q := range qs {
		assert.Equal(t, "102100", q.params.Get("inSR"))
		assert.Equal(t, "json", q.params.Get("f"))
	}
	assert.Equal(t, "https://example.test/MapServer", p.cfg.BaseURL)
}

func TestDFATiers(t *testing.T) {
	tests := []struct {
		name       string
		layers     map[string]map[string]any
		available  bool
		signal     coverage.Signal
		confidence coverage.Confidence
		tier       string
	}{
		{
			name: "connected wins",
			layers: map[string]map[string]any{
				"0": arcgisFeatures(map[string]any{"BUILDING_ID": 7}),
				"1": arcgisFeatures(map[string]any{"ID": 1}),
				"2": arcgisFeatures(),
			},
			available: true, signal: coverage.SignalExcellent, confidence: coverage.ConfidenceHigh, tier: TierConnected,
		},
		{
			name: "near net",
			layers: map[string]map[string]any{
				"0": arcgisFeatures(),
				"1": arcgisFeatures(map[string]any{"ID": 1}),
				"2": arcgisFeatures(map[string]any{"ID": 2}),
			},
			available: true, signal: coverage.SignalGood, confidence: coverage.ConfidenceMedium, tier: TierNearNet,
		},
		{
			name: "ductbank",
			layers: map[string]map[string]any{
				"0": arcgisFeatures(),
				"1": arcgisFeatures(),
				"2": arcgisFeatures(map[string]any{"ID": 2}),
			},
			available: true, signal: coverage.SignalFair, confidence: coverage.ConfidenceLow, tier: TierDuctbank,
		},
		{
			name: "nothing nearby",
			layers: map[string]map[string]any{
				"0": arcgisFeatures(),
				"1": arcgisFeatures(),
				"2": arcgisFeatures(),
			},
			available: false, signal: coverage.SignalNone, confidence: coverage.ConfidenceMedium,
		},
		{
			name: "connected with failed layer is capped",
			layers: map[string]map[string]any{
				"0": arcgisFeatures(map[string]any{"BUILDING_ID": 7}),
				"1": nil,
				"2": arcgisFeatures(),
			},
			available: true, signal: coverage.SignalExcellent, confidence: coverage.ConfidenceMedium, tier: TierConnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := dfaServer(t, tt.layers)
			defer srv.Close()

			p := NewDFAProvider(testClient(srv), DFAConfig{BaseURL: srv.URL})
			out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.ServiceFibre})

			assert.Empty(t, out.Error)
			require.Len(t, out.Services, 1)
			rec := out.Services[0]
			assert.Equal(t, coverage.ServiceFibre, rec.ServiceType)
			assert.Equal(t, coverage.ProviderDFA, rec.Provider)
			assert.Equal(t, tt.available, rec.Available)
			assert.Equal(t, tt.available, out.Available)
			assert.Equal(t, tt.signal, rec.Signal)
			assert.Equal(t, tt.confidence, rec.Confidence)
			if tt.tier != "" {
				assert.Equal(t, tt.tier, rec.Metadata["buildingType"])
				assert.NotNil(t, rec.EstimatedSpeed)
			}
			if tt.tier == TierConnected {
				assert.Empty(t, rec.Caveats)
			} else if tt.available {
				assert.NotEmpty(t, rec.Caveats)
			}
		})
	}
}

func TestDFAArcGISErrorBody(t *testing.T) {
	srv := dfaServer(t, map[string]map[string]any{
		"0": {"error": map[string]any{"code": 400, "message": "Invalid geometry"}},
		"1": arcgisFeatures(),
		"2": arcgisFeatures(),
	})
	defer srv.Close()

	p := NewDFAProvider(testClient(srv), DFAConfig{BaseURL: srv.URL})
	out := p.CheckCoverage(context.Background(), johannesburg, nil)

	require.Len(t, out.Services, 1)
	errs, ok := out.Services[0].Metadata["errors"].([]string)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Invalid geometry")
	assert.Equal(t, 2, out.Metadata["layersSucceeded"])
}

func TestDFARejectsUnexpectedBodies(t *testing.T) {
	maintenance := map[string]any{"message": "service under maintenance"}

	t.Run("every layer", func(t *testing.T) {
		srv := dfaServer(t, map[string]map[string]any{"0": maintenance, "1": maintenance, "2": maintenance})
		defer srv.Close()

		p := NewDFAProvider(testClient(srv), DFAConfig{BaseURL: srv.URL})
		out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.ServiceFibre})

		assert.False(t, out.Available)
		assert.Equal(t, coverage.ConfidenceLow, out.Confidence)
		assert.Contains(t, out.Error, "unexpected response shape")
		assert.Empty(t, out.Services)
	})

	t.Run("connected layer only", func(t *testing.T) {
		srv := dfaServer(t, map[string]map[string]any{"0": maintenance, "1": arcgisFeatures(), "2": arcgisFeatures()})
		defer srv.Close()

		p := NewDFAProvider(testClient(srv), DFAConfig{BaseURL: srv.URL})
		out := p.CheckCoverage(context.Background(), johannesburg, nil)

		require.Len(t, out.Services, 1)
		rec := out.Services[0]
		assert.False(t, rec.Available)
		assert.Equal(t, coverage.SignalNone, rec.Signal)
		assert.NotContains(t, rec.Metadata, "buildingType")
		errs, ok := rec.Metadata["errors"].([]string)
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], TierConnected)
		assert.Equal(t, 2, out.Metadata["layersSucceeded"])
	})
}

func TestDFAAllLayersFailed(t *testing.T) {
	srv := dfaServer(t, nil)
	defer srv.Close()

	p := NewDFAProvider(testClient(srv), DFAConfig{BaseURL: srv.URL})
	out := p.CheckCoverage(context.Background(), johannesburg, nil)

	assert.False(t, out.Available)
	assert.Contains(t, out.Error, "all layer queries failed")
	assert.Empty(t, out.Services)
}

func TestDFASkipsWhenFibreNotRequested(t *testing.T) {
	p := NewDFAProvider(nil, DFAConfig{})
	out := p.CheckCoverage(context.Background(), johannesburg, []coverage.ServiceType{coverage.ServiceLTE})
	assert.Empty(t, out.Error)
	assert.Empty(t, out.Services)
	assert.Equal(t, "fibre not requested", out.Metadata["skipped"])
}
