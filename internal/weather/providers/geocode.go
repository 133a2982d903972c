package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a city to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, loc weather.Location) (Coordinates, error)
}

// GoogleGeocoder resolves locations through the Google Geocoding API.
type GoogleGeocoder struct {
	lookup func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleGeocoder configures the geocoding client with apiKey.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{lookup: geocoder.Geocoding}
}

func (g *GoogleGeocoder) Resolve(ctx context.Context, loc weather.Location) (Coordinates, error) {
	type result struct {
		loc geocoder.Location
		err error
	}

	// The geocoding client takes no context, so the lookup races the deadline.
	ch := make(chan result, 1)
	go func() {
		l, err := g.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
		ch <- result{l, err}
	}()

	select {
	case <-ctx.Done():
		return Coordinates{}, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if hasAny(res.err.Error(), "ZERO_RESULTS") {
				return Coordinates{}, fmt.Errorf("%w: %s", errNotFound, loc.Key())
			}
			return Coordinates{}, fmt.Errorf("geocode %s: %w", loc.Key(), res.err)
		}
		if res.loc.Latitude == 0 && res.loc.Longitude == 0 {
			return Coordinates{}, fmt.Errorf("%w: %s", errNotFound, loc.Key())
		}
		return Coordinates{Latitude: res.loc.Latitude, Longitude: res.loc.Longitude}, nil
	}
}

// CachedGeocoder remembers successful resolutions. Cities do not move.
type CachedGeocoder struct {
	inner Geocoder

	mu      sync.RWMutex
	entries map[string]Coordinates
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner Geocoder) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		entries: make(map[string]Coordinates),
	}
}

func (c *CachedGeocoder) Resolve(ctx context.Context, loc weather.Location) (Coordinates, error) {
	key := loc.Key()

	c.mu.RLock()
	coords, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return coords, nil
	}

	coords, err := c.inner.Resolve(ctx, loc)
	if err != nil {
		return Coordinates{}, err
	}

	c.mu.Lock()
	c.entries[key] = coords
	c.mu.Unlock()
	return coords, nil
}

// StaticGeocoder resolves from a fixed table. Unknown locations are not found.
type StaticGeocoder map[string]Coordinates

func (s StaticGeocoder) Resolve(_ context.Context, loc weather.Location) (Coordinates, error) {
	coords, ok := s[loc.Key()]
	if !ok {
		return Coordinates{}, fmt.Errorf("%w: %s", errNotFound, loc.Key())
	}
	return coords, nil
}
