package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var johannesburg = Coordinates{Lat: -26.2041, Lng: 28.0473}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Coordinates
		wantErr bool
	}{
		{"johannesburg", johannesburg, false},
		{"poles", Coordinates{Lat: 90, Lng: -180}, false},
		{"lat too high", Coordinates{Lat: 90.01, Lng: 0}, true},
		{"lng too low", Coordinates{Lat: 0, Lng: -180.5}, true},
		{"nan", Coordinates{Lat: math.NaN(), Lng: 0}, true},
		{"inf", Coordinates{Lat: 0, Lng: math.Inf(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHaversine(t *testing.T) {
	assert.Zero(t, Haversine(johannesburg, johannesburg))

	oneDegree := Haversine(Coordinates{Lat: 0, Lng: 0}, Coordinates{Lat: 1, Lng: 0})
	assert.InDelta(t, 111195, oneDegree, 5)

	capeTown := Coordinates{Lat: -33.9249, Lng: 18.4241}
	assert.InDelta(t, 1_262_000, Haversine(johannesburg, capeTown), 10_000)
}

func TestCardinalPoints(t *testing.T) {
	probes := CardinalPoints(johannesburg, 500)
	require.Len(t, probes, 5)

	labels := []string{ProbeCenter, ProbeNorth, ProbeSouth, ProbeWest, ProbeEast}
	for i, p := range probes {
		assert.Equal(t, labels[i], p.Label)
	}
	assert.Equal(t, johannesburg, probes[0].Coordinates)
	assert.Greater(t, probes[1].Coordinates.Lat, johannesburg.Lat)
	assert.Less(t, probes[2].Coordinates.Lat, johannesburg.Lat)
	assert.Less(t, probes[3].Coordinates.Lng, johannesburg.Lng)
	assert.Greater(t, probes[4].Coordinates.Lng, johannesburg.Lng)

	for _, p := range probes[1:] {
		assert.InDelta(t, 500, Haversine(johannesburg, p.Coordinates), 5, p.Label)
	}
}

func TestMercatorRoundTrip(t *testing.T) {
	p := ToMercator(johannesburg)
	assert.InDelta(t, 3122210.0, p.X, 10)
	assert.Less(t, p.Y, 0.0)

	back := FromMercator(p)
	assert.InDelta(t, johannesburg.Lat, back.Lat, 1e-9)
	assert.InDelta(t, johannesburg.Lng, back.Lng, 1e-9)
}

func TestMercatorTileCentersPoint(t *testing.T) {
	tile := MercatorTile(johannesburg, 14, 256)
	assert.Equal(t, 128, tile.I)
	assert.Equal(t, 128, tile.J)

	p := ToMercator(johannesburg)
	assert.InDelta(t, p.X, (tile.MinX+tile.MaxX)/2, 1e-6)
	assert.InDelta(t, tile.MaxX-tile.MinX, 256*initialResolution/math.Pow(2, 14), 1e-6)

	i, j := tile.Pixel(MercatorPoint{X: tile.MinX + (tile.MaxX-tile.MinX)*0.3, Y: tile.MaxY - (tile.MaxY-tile.MinY)*0.7})
	assert.Equal(t, 76, i)
	assert.Equal(t, 179, j)

	b := tile.Bounds()
	assert.InDelta(t, tile.MinX, b.Min(0), 1e-9)
	assert.InDelta(t, tile.MaxY, b.Max(1), 1e-9)
}

func TestBoundingBoxAround(t *testing.T) {
	box := BoundingBoxAround(johannesburg, 100)
	assert.True(t, box.Contains(johannesburg))
	assert.True(t, box.Contains(Offset(johannesburg, 90, 90)))
	assert.False(t, box.Contains(Offset(johannesburg, 150, 0)))
	assert.InDelta(t, johannesburg.Lat, box.Center().Lat, 1e-12)
	assert.Contains(t, box.CRS84(), "28.04")
}

func TestLocate(t *testing.T) {
	jhb := Locate(johannesburg)
	assert.True(t, jhb.InServiceArea)
	assert.Equal(t, "Gauteng", jhb.Province)
	assert.Empty(t, jhb.Warnings)

	ct := Locate(Coordinates{Lat: -33.9249, Lng: 18.4241})
	assert.Equal(t, "Western Cape", ct.Province)

	london := Locate(Coordinates{Lat: 51.5, Lng: -0.12})
	assert.False(t, london.InServiceArea)
	assert.NotEmpty(t, london.Warnings)

	coast := Locate(Coordinates{Lat: -35.02, Lng: 20})
	assert.False(t, coast.InServiceArea)
	assert.Contains(t, coast.Warnings[0], "coastline")
}

func TestRound(t *testing.T) {
	r := Coordinates{Lat: -26.204149, Lng: 28.047351}.Round(4)
	assert.Equal(t, Coordinates{Lat: -26.2041, Lng: 28.0474}, r)
}
