package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

const (
	mercatorExtent = 20037508.34
	// initialResolution is meters per pixel at zoom 0 for 256px tiles.
	initialResolution = 156543.03392804097
)

// MercatorPoint is a spherical Mercator (EPSG:3857/900913/102100) position.
type MercatorPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToMercator projects c onto spherical Mercator.
func ToMercator(c Coordinates) MercatorPoint {
	x := c.Lng * mercatorExtent / 180
	y := math.Log(math.Tan((90+c.Lat)*math.Pi/360)) / (math.Pi / 180)
	y = y * mercatorExtent / 180
	return MercatorPoint{X: x, Y: y}
}

// FromMercator inverts ToMercator.
func FromMercator(p MercatorPoint) Coordinates {
	lng := p.X / mercatorExtent * 180
	lat := p.Y / mercatorExtent * 180
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
	return Coordinates{Lat: lat, Lng: lng}
}

// Tile is a square projected extent centered on a query point together with
// the pixel position of that point inside it.
type Tile struct {
	MinX, MinY, MaxX, MaxY float64
	Size                   int
	I, J                   int
}

// MercatorTile builds a size x size pixel extent at the given zoom centered
// on c. I/J are the pixel column and row of c.
func MercatorTile(c Coordinates, zoom, size int) Tile {
	p := ToMercator(c)
	res := initialResolution / math.Pow(2, float64(zoom))
	half := float64(size) * res / 2

	t := Tile{
		MinX: p.X - half,
		MinY: p.Y - half,
		MaxX: p.X + half,
		MaxY: p.Y + half,
		Size: size,
		I:    size / 2,
		J:    size / 2,
	}
	return t
}

// Pixel returns the pixel column and row of p within the tile.
func (t Tile) Pixel(p MercatorPoint) (int, int) {
	i := int(math.Floor((p.X - t.MinX) / (t.MaxX - t.MinX) * float64(t.Size)))
	j := int(math.Floor((t.MaxY - p.Y) / (t.MaxY - t.MinY) * float64(t.Size)))
	return i, j
}

// Bounds returns the tile extent as go-geom bounds.
func (t Tile) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(t.MinX, t.MinY, t.MaxX, t.MaxY)
}
