// Package geo holds the coordinate math shared by the coverage engine:
// distances, projections, probe offsets and territory lookup.
package geo

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

const (
	earthRadius = 6371e3 // meters

	// MetersPerDegree is the flat-earth approximation used for probe offsets
	// and bounding boxes.
	MetersPerDegree = 111000.0
)

// ErrInvalidCoordinates is returned for out-of-range or non-finite input.
var ErrInvalidCoordinates = eris.New("invalid coordinates")

// Coordinates is a WGS84 point in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that the point is finite and within WGS84 ranges.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return eris.Wrap(ErrInvalidCoordinates, "coordinates must be finite")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinates, "latitude %f out of range", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return eris.Wrapf(ErrInvalidCoordinates, "longitude %f out of range", c.Lng)
	}
	return nil
}

// String returns the point with six decimals, lat first.
func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Round snaps the point to the given number of decimal places.
func (c Coordinates) Round(decimals int) Coordinates {
	p := math.Pow(10, float64(decimals))
	return Coordinates{
		Lat: math.Round(c.Lat*p) / p,
		Lng: math.Round(c.Lng*p) / p,
	}
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadius * c
}

// Offset moves c by the given meters north and east.
func Offset(c Coordinates, northMeters, eastMeters float64) Coordinates {
	return Coordinates{
		Lat: c.Lat + northMeters/MetersPerDegree,
		Lng: c.Lng + eastMeters/(MetersPerDegree*math.Cos(c.Lat*math.Pi/180)),
	}
}

// Probe is a labelled query point derived from a center.
type Probe struct {
	Label       string      `json:"label"`
	Coordinates Coordinates `json:"coordinates"`
}

// Probe labels, in query order.
const (
	ProbeCenter = "center"
	ProbeNorth  = "north"
	ProbeSouth  = "south"
	ProbeWest   = "west"
	ProbeEast   = "east"
)

// CardinalPoints returns the center followed by the four points at radius
// meters to the north, south, west and east.
func CardinalPoints(center Coordinates, radius float64) []Probe {
	return []Probe{
		{Label: ProbeCenter, Coordinates: center},
		{Label: ProbeNorth, Coordinates: Offset(center, radius, 0)},
		{Label: ProbeSouth, Coordinates: Offset(center, -radius, 0)},
		{Label: ProbeWest, Coordinates: Offset(center, 0, -radius)},
		{Label: ProbeEast, Coordinates: Offset(center, 0, radius)},
	}
}
