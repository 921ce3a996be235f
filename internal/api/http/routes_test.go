package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/geocode"
	"github.com/i474232898/coverage-aggregation/internal/store"
)

type fibreProvider struct {
	id        coverage.ProviderID
	available bool
	calls     atomic.Int32
}

func (p *fibreProvider) ID() coverage.ProviderID { return p.id }

func (p *fibreProvider) CheckCoverage(_ context.Context, _ geo.Coordinates, _ []coverage.ServiceType) coverage.ProviderOutcome {
	p.calls.Add(1)
	rec := coverage.ServiceCoverage{
		ServiceType: coverage.ServiceFibre,
		Available:   p.available,
		Signal:      coverage.SignalNone,
		Confidence:  coverage.ConfidenceMedium,
	}
	if p.available {
		rec.Signal = coverage.SignalExcellent
		rec.Confidence = coverage.ConfidenceHigh
		rec.EstimatedSpeed = coverage.EstimateSpeed(coverage.ServiceFibre, rec.Signal)
	}
	return coverage.NewOutcome([]coverage.ServiceCoverage{rec}, rec.Confidence, nil)
}

type fakeGeocoder struct{}

func (fakeGeocoder) Geocode(_ context.Context, address string) (geo.Coordinates, error) {
	if strings.Contains(address, "Nowhere") {
		return geo.Coordinates{}, geocode.ErrNoResult
	}
	return geo.Coordinates{Lat: -26.1076, Lng: 28.0567}, nil
}

type testEnv struct {
	app *fiber.App
	a   *fibreProvider
	b   *fibreProvider
}

func newTestApp(t *testing.T, geocoder geocode.Geocoder) testEnv {
	t.Helper()
	env := testEnv{
		app: fiber.New(fiber.Config{ErrorHandler: ErrorHandler}),
		a:   &fibreProvider{id: "a"},
		b:   &fibreProvider{id: "b", available: true},
	}
	svc := coverage.NewService(coverage.DefaultConfig(), []coverage.Provider{env.a, env.b}, coverage.Dependencies{
		History: store.NewMemoryStore(10, time.Hour),
	})
	RegisterRoutes(env.app, svc, geocoder)
	return env
}

func doJSON(t *testing.T, app *fiber.App, req *http.Request, out any) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestPostCoverageCheck(t *testing.T) {
	env := newTestApp(t, nil)

	body := `{"coordinates":{"lat":-26.2041,"lng":28.0473},"serviceTypes":["fibre"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coverage/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	var res coverage.AggregatedResult
	require.Equal(t, http.StatusOK, doJSON(t, env.app, req, &res))

	assert.True(t, res.OverallCoverage)
	require.Len(t, res.BestServices, 1)
	assert.Equal(t, coverage.ProviderID("b"), res.BestServices[0].RecommendedProvider)
	assert.Len(t, res.Providers, 2)
	assert.False(t, res.Cached)
}

func TestPostCoverageCheckValidation(t *testing.T) {
	env := newTestApp(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"coordinates":`, http.StatusBadRequest},
		{"missing coordinates", `{"serviceTypes":["fibre"]}`, http.StatusBadRequest},
		{"missing lng", `{"coordinates":{"lat":-26.2}}`, http.StatusBadRequest},
		{"latitude out of range", `{"coordinates":{"lat":-91,"lng":28}}`, http.StatusBadRequest},
		{"unknown service", `{"coordinates":{"lat":-26.2,"lng":28},"serviceTypes":["dialup"]}`, http.StatusBadRequest},
		{"unknown provider", `{"coordinates":{"lat":-26.2,"lng":28},"providers":["zzz"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/coverage/check", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			var errBody struct {
				Error   bool   `json:"error"`
				Message string `json:"message"`
			}
			assert.Equal(t, tt.want, doJSON(t, env.app, req, &errBody))
			assert.True(t, errBody.Error)
			assert.NotEmpty(t, errBody.Message)
		})
	}
}

func TestGetCoverageUsesCacheOnRepeat(t *testing.T) {
	env := newTestApp(t, nil)
	url := "/api/v1/coverage?lat=-26.2041&lng=28.0473&services=fibre&speed=false"

	var first, second coverage.AggregatedResult
	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, url, nil), &first))
	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, url, nil), &second))

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 1, env.b.calls.Load())

	var stats map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil), &stats))
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["entries"])

	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil), nil))
	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil), &stats))
	assert.EqualValues(t, 0, stats["entries"])
}

func TestGetCoverageRejectsBadParams(t *testing.T) {
	env := newTestApp(t, nil)
	for _, url := range []string{
		"/api/v1/coverage",
		"/api/v1/coverage?lat=abc&lng=28",
		"/api/v1/coverage?lat=-26.2&lng=181",
		"/api/v1/coverage?lat=-26.2&lng=28&services=fibre,telepathy",
		"/api/v1/coverage?lat=-26.2&lng=28&speed=maybe",
	} {
		resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, url, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, url)
	}
}

func TestCompareEndpoint(t *testing.T) {
	env := newTestApp(t, nil)

	var out struct {
		ServiceType string                        `json:"serviceType"`
		Comparison  []coverage.ProviderComparison `json:"comparison"`
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/coverage/compare?lat=-26.2041&lng=28.0473&service=fibre", nil)
	require.Equal(t, http.StatusOK, doJSON(t, env.app, req, &out))

	assert.Equal(t, "fibre", out.ServiceType)
	require.Len(t, out.Comparison, 2)
	assert.Equal(t, coverage.ProviderID("b"), out.Comparison[0].Provider)
	assert.Contains(t, out.Comparison[1].Cons, "Service not available")

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/coverage/compare?lat=-26.2&lng=28&service=bogus", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddressEndpoint(t *testing.T) {
	env := newTestApp(t, fakeGeocoder{})

	var out struct {
		Address  string                    `json:"address"`
		Geocoded geo.Coordinates           `json:"geocoded"`
		Result   coverage.AggregatedResult `json:"result"`
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/coverage/address?address=Sandton+City", nil)
	require.Equal(t, http.StatusOK, doJSON(t, env.app, req, &out))
	assert.Equal(t, "Sandton City", out.Address)
	assert.Equal(t, -26.1076, out.Geocoded.Lat)
	assert.True(t, out.Result.OverallCoverage)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/coverage/address?address=Nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/coverage/address", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	noGeocoder := newTestApp(t, nil)
	resp, err = noGeocoder.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/coverage/address?address=Sandton", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestApp(t, nil)
	from := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/coverage/history?lat=-26.2041&lng=28.0473&from="+from+"&to="+time.Now().Add(time.Minute).UTC().Format(time.RFC3339), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/coverage?lat=-26.2041&lng=28.0473", nil), nil))

	var out struct {
		Bucket string                 `json:"bucket"`
		Checks []coverage.CheckRecord `json:"checks"`
	}
	to := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/coverage/history?lat=-26.2041&lng=28.0473&from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, doJSON(t, env.app, req, &out))
	assert.Equal(t, "-26.204100,28.047300", out.Bucket)
	require.Len(t, out.Checks, 1)
	assert.True(t, out.Checks[0].OverallCoverage)

	// to before from
	req = httptest.NewRequest(http.MethodGet, "/api/v1/coverage/history?lat=-26.2041&lng=28.0473&from="+to+"&to="+from, nil)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProvidersEndpoint(t *testing.T) {
	env := newTestApp(t, nil)
	var out struct {
		Providers []string `json:"providers"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil), &out))
	assert.Equal(t, []string{"a", "b"}, out.Providers)
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2026-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	ts, err = parseTime("1772359200")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1772359200, 0).UTC(), ts)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
