package correction

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/transport"
)

// ArcGISLookup queries an address-point feature layer.
type ArcGISLookup struct {
	client   *transport.Client
	layerURL string
}

// NewArcGISLookup creates a lookup against layerURL (the layer root, without /query).
func NewArcGISLookup(client *transport.Client, layerURL string) *ArcGISLookup {
	return &ArcGISLookup{client: client, layerURL: strings.TrimSuffix(layerURL, "/")}
}

type arcgisResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
		Geometry   *struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"geometry"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var addressFields = []string{"FULL_ADDRESS", "ADDRESS", "Address", "STREET_ADDRESS", "full_address"}

// Nearest returns the closest address point within radius meters.
func (l *ArcGISLookup) Nearest(ctx context.Context, c geo.Coordinates, radius float64) (AddressPoint, bool, error) {
	params := url.Values{}
	params.Set("geometry", fmt.Sprintf("%f,%f", c.Lng, c.Lat))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("inSR", "4326")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("distance", fmt.Sprintf("%.0f", radius))
	params.Set("units", "esriSRUnit_Meter")
	params.Set("outFields", "*")
	params.Set("returnGeometry", "true")
	params.Set("outSR", "4326")
	params.Set("f", "json")

	var resp arcgisResponse
	if err := l.client.GetJSON(ctx, l.layerURL+"/query", params, &resp); err != nil {
		return AddressPoint{}, false, eris.Wrap(err, "correction: query address points")
	}
	if resp.Error != nil {
		return AddressPoint{}, false, eris.Errorf("correction: arcgis error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var (
		best     AddressPoint
		bestDist float64
		found    bool
	)
	for _, f := range resp.Features {
		if f.Geometry == nil {
			continue
		}
		p := geo.Coordinates{Lat: f.Geometry.Y, Lng: f.Geometry.X}
		if p.Validate() != nil {
			continue
		}
		d := geo.Haversine(c, p)
		if !found || d < bestDist {
			best = AddressPoint{Coordinates: p, Address: addressOf(f.Attributes)}
			bestDist, found = d, true
		}
	}
	return best, found, nil
}

func addressOf(attrs map[string]any) string {
	for _, k := range addressFields {
		if s, ok := attrs[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
