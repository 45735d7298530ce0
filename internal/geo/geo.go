// Package geo provides the distance and aggregation math behind
// geo-aware cohort statistics.
package geo

import (
	"context"
	"math"
	"sort"
	"sync"
)

// earthRadiusMiles is the mean Earth radius in statute miles.
const earthRadiusMiles = 3958.7613

// Haversine returns the great-circle distance between two coordinates
// in statute miles.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}

// Median returns the middle value of the samples, averaging the two
// central values for even counts. Empty input yields 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Centroid is a zip code's representative coordinate.
type Centroid struct {
	Lat float64
	Lon float64
}

// CentroidSource looks up a zip centroid. The bool is false when the
// zip is unknown.
type CentroidSource interface {
	ZipCentroid(ctx context.Context, zip string) (Centroid, bool, error)
}

// Resolver memoizes centroid lookups for the lifetime of a process so
// cohort queries do not re-read the same zips.
type Resolver struct {
	src CentroidSource

	mu    sync.Mutex
	cache map[string]*cachedCentroid
}

type cachedCentroid struct {
	centroid Centroid
	known    bool
}

// NewResolver wraps a centroid source with a cache.
func NewResolver(src CentroidSource) *Resolver {
	return &Resolver{src: src, cache: make(map[string]*cachedCentroid)}
}

// Resolve returns the centroid for a zip, caching both hits and misses.
func (r *Resolver) Resolve(ctx context.Context, zip string) (Centroid, bool, error) {
	r.mu.Lock()
	if c, ok := r.cache[zip]; ok {
		r.mu.Unlock()
		return c.centroid, c.known, nil
	}
	r.mu.Unlock()

	centroid, known, err := r.src.ZipCentroid(ctx, zip)
	if err != nil {
		return Centroid{}, false, err
	}
	r.mu.Lock()
	r.cache[zip] = &cachedCentroid{centroid: centroid, known: known}
	r.mu.Unlock()
	return centroid, known, nil
}

// WithinRadius reports whether two zips lie within miles of each other.
// When either centroid is unknown the pair is treated as within range:
// geography narrows a cohort only when it can actually be measured.
func (r *Resolver) WithinRadius(ctx context.Context, zipA, zipB string, miles float64) (bool, error) {
	if zipA == "" || zipB == "" || miles <= 0 {
		return true, nil
	}
	if zipA == zipB {
		return true, nil
	}
	a, knownA, err := r.Resolve(ctx, zipA)
	if err != nil {
		return false, err
	}
	b, knownB, err := r.Resolve(ctx, zipB)
	if err != nil {
		return false, err
	}
	if !knownA || !knownB {
		return true, nil
	}
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) <= miles, nil
}
