// Package infrastructure indexes fixed-wireless base stations for proximity
// lookups.
package infrastructure

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
)

const (
	// resolution is the H3 resolution of the index.
	resolution = 7
	// avgEdgeMeters is the average hexagon edge length at resolution 7.
	avgEdgeMeters = 1406.475763
)

// ErrEmpty is returned by Nearest while the registry holds no facilities.
var ErrEmpty = eris.New("infrastructure: registry is empty")

// Facility is a base station.
type Facility struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Utilization float64 `json:"utilization"`
	Technology  string  `json:"technology,omitempty"`
}

// Coordinates returns the facility location.
func (f Facility) Coordinates() geo.Coordinates {
	return geo.Coordinates{Lat: f.Lat, Lng: f.Lng}
}

// Match is a facility and its distance from the query point.
type Match struct {
	Facility Facility `json:"facility"`
	Distance float64  `json:"distanceMeters"`
}

// Registry is a concurrency-safe facility index keyed by H3 cell.
type Registry struct {
	mu    sync.RWMutex
	cells map[h3.Cell][]Facility
	count int
	path  string
}

// NewRegistry creates an empty registry. path, if set, is used by Reload.
func NewRegistry(path string) *Registry {
	return &Registry{cells: make(map[h3.Cell][]Facility), path: path}
}

// LoadFile reads a JSON array of facilities.
func LoadFile(path string) ([]Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "infrastructure: read %s", path)
	}
	var fs []Facility
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, eris.Wrapf(err, "infrastructure: decode %s", path)
	}
	return fs, nil
}

// Load replaces the index with facilities. Facilities with invalid
// coordinates are skipped.
func (r *Registry) Load(facilities []Facility) error {
	cells := make(map[h3.Cell][]Facility, len(facilities))
	count := 0
	for _, f := range facilities {
		if err := f.Coordinates().Validate(); err != nil {
			zap.L().Warn("infrastructure: skipping facility", zap.String("id", f.ID), zap.Error(err))
			continue
		}
		cell, err := h3.LatLngToCell(h3.NewLatLng(f.Lat, f.Lng), resolution)
		if err != nil {
			return eris.Wrapf(err, "infrastructure: index facility %s", f.ID)
		}
		cells[cell] = append(cells[cell], f)
		count++
	}

	r.mu.Lock()
	r.cells = cells
	r.count = count
	r.mu.Unlock()
	return nil
}

// Reload re-reads the registry file. It is a no-op without a path.
func (r *Registry) Reload(context.Context) error {
	if r.path == "" {
		return nil
	}
	fs, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	if err := r.Load(fs); err != nil {
		return err
	}
	zap.L().Info("infrastructure: registry loaded", zap.Int("facilities", r.Len()))
	return nil
}

// Len returns the number of indexed facilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Nearest returns the closest facility within maxDistance meters of c.
func (r *Registry) Nearest(ctx context.Context, c geo.Coordinates, maxDistance float64) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}
	origin, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lng), resolution)
	if err != nil {
		return Match{}, false, eris.Wrap(err, "infrastructure: locate query cell")
	}
	disk, err := h3.GridDisk(origin, ringsFor(maxDistance))
	if err != nil {
		return Match{}, false, eris.Wrap(err, "infrastructure: expand query cell")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return Match{}, false, ErrEmpty
	}

	var (
		best  Match
		found bool
	)
	for _, cell := range disk {
		for _, f := range r.cells[cell] {
			d := geo.Haversine(c, f.Coordinates())
			if d > maxDistance {
				continue
			}
			if !found || d < best.Distance || (d == best.Distance && f.ID < best.Facility.ID) {
				best, found = Match{Facility: f, Distance: d}, true
			}
		}
	}
	return best, found, nil
}

// ringsFor returns a grid-disk size that covers maxDistance from any point
// in the origin cell.
func ringsFor(maxDistance float64) int {
	return int(math.Ceil(maxDistance/(avgEdgeMeters*1.5))) + 1
}
