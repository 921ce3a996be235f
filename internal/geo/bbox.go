package geo

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// BoundingBox is an axis-aligned WGS84 box.
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundingBoxAround returns the box extending radius meters from center in
// each direction.
func BoundingBoxAround(center Coordinates, radius float64) BoundingBox {
	latOffset := radius / MetersPerDegree
	lngOffset := radius / (MetersPerDegree * math.Cos(center.Lat*math.Pi/180))
	return BoundingBox{
		South: center.Lat - latOffset,
		West:  center.Lng - lngOffset,
		North: center.Lat + latOffset,
		East:  center.Lng + lngOffset,
	}
}

// Bounds returns the box as go-geom bounds with x=lng, y=lat.
func (b BoundingBox) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.West, b.South, b.East, b.North)
}

// Contains reports whether c lies inside the box, edges included.
func (b BoundingBox) Contains(c Coordinates) bool {
	return b.Bounds().OverlapsPoint(geom.XY, geom.Coord{c.Lng, c.Lat})
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Coordinates {
	return Coordinates{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2}
}

// CRS84 formats the box as minLng,minLat,maxLng,maxLat.
func (b BoundingBox) CRS84() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.West, b.South, b.East, b.North)
}
