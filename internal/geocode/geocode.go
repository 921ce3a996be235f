// Package geocode resolves street addresses to coordinates.
package geocode

import (
	"context"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/geo"
)

var (
	// ErrEmptyAddress is returned for a blank address.
	ErrEmptyAddress = eris.New("geocode: address is required")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = eris.New("geocode: geocoder not configured")
	// ErrNoResult is returned when the address could not be resolved.
	ErrNoResult = eris.New("geocode: address not found")
)

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinates, error)
}

// DefaultCountry is appended to every lookup.
const DefaultCountry = "South Africa"

// keyMu guards geocoder.ApiKey, which the library keeps as a package global.
var keyMu sync.Mutex

// GoogleGeocoder uses the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey  string
	country string
	lookup  func(geocoder.Address) (geocoder.Location, error)

	mu    sync.RWMutex
	cache map[string]geo.Coordinates
}

// NewGoogleGeocoder creates a geocoder. An empty key yields a geocoder that
// always returns ErrNotConfigured.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	g := &GoogleGeocoder{
		apiKey:  apiKey,
		country: DefaultCountry,
		cache:   make(map[string]geo.Coordinates),
	}
	g.lookup = g.google
	return g
}

func (g *GoogleGeocoder) google(addr geocoder.Address) (geocoder.Location, error) {
	keyMu.Lock()
	defer keyMu.Unlock()
	geocoder.ApiKey = g.apiKey
	return geocoder.Geocoding(addr)
}

// Geocode resolves address. Results are memoized per normalized address.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Coordinates{}, ErrEmptyAddress
	}
	if g.apiKey == "" {
		return geo.Coordinates{}, ErrNotConfigured
	}

	key := strings.ToLower(strings.Join(strings.Fields(address), " "))
	g.mu.RLock()
	c, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}

	type answer struct {
		loc geocoder.Location
		err error
	}
	done := make(chan answer, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{Street: address, Country: g.country})
		done <- answer{loc, err}
	}()

	var a answer
	select {
	case a = <-done:
	case <-ctx.Done():
		return geo.Coordinates{}, eris.Wrap(ctx.Err(), "geocode: lookup cancelled")
	}
	if a.err != nil {
		zap.L().Debug("geocode: lookup failed", zap.String("address", address), zap.Error(a.err))
		return geo.Coordinates{}, eris.Wrapf(ErrNoResult, "%q: %v", address, a.err)
	}

	c = geo.Coordinates{Lat: a.loc.Latitude, Lng: a.loc.Longitude}
	if err := c.Validate(); err != nil || (c.Lat == 0 && c.Lng == 0) {
		return geo.Coordinates{}, eris.Wrapf(ErrNoResult, "%q", address)
	}

	g.mu.Lock()
	g.cache[key] = c
	g.mu.Unlock()
	return c, nil
}
