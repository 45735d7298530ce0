package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/compscout/compscout/internal/geo"
)

// ZipCentroid looks up a zip's coordinate. Implements geo.CentroidSource.
func (s *Store) ZipCentroid(ctx context.Context, zip string) (geo.Centroid, bool, error) {
	var c geo.Centroid
	err := s.DB.QueryRowContext(ctx,
		`SELECT lat, lon FROM zip_centroids WHERE zip = $1`, zip).Scan(&c.Lat, &c.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.Centroid{}, false, nil
	}
	if err != nil {
		return geo.Centroid{}, false, fmt.Errorf("zip centroid %s: %w", zip, err)
	}
	return c, true, nil
}

// CohortStatsQuery selects a cohort for aggregate pricing.
type CohortStatsQuery struct {
	Make        string
	Model       string
	Year        int
	Zip         string
	RadiusMiles int
}

// CohortStats is the aggregate price picture of one cohort.
type CohortStats struct {
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Year          int     `json:"year,omitempty"`
	Zip           string  `json:"zip,omitempty"`
	RadiusMiles   int     `json:"radius_miles,omitempty"`
	SampleSize    int     `json:"sample_size"`
	PricedSamples int     `json:"priced_samples"`
	PriceMedian   float64 `json:"price_median"`
	MileageMedian float64 `json:"mileage_median"`
	Confidence    string  `json:"confidence"`
}

// CohortStats aggregates stored listings for a make/model/year cohort.
// A query zip narrows the cohort: by radius when one is given, by exact
// zip match otherwise. Listings without a zip, and zips without
// centroids, stay in the cohort: distance only excludes what it can
// actually measure.
func (s *Store) CohortStats(ctx context.Context, resolver *geo.Resolver, q CohortStatsQuery) (CohortStats, error) {
	rows, err := s.CohortListings(ctx, CohortQuery{Make: q.Make, Model: q.Model, Year: q.Year})
	if err != nil {
		return CohortStats{}, err
	}

	var prices, mileages []float64
	n := 0
	for _, l := range rows {
		if q.Zip != "" && l.Zip != nil {
			if q.RadiusMiles > 0 {
				within, err := resolver.WithinRadius(ctx, q.Zip, *l.Zip, float64(q.RadiusMiles))
				if err != nil {
					return CohortStats{}, err
				}
				if !within {
					continue
				}
			} else if *l.Zip != q.Zip {
				continue
			}
		}
		n++
		if l.Price != nil {
			prices = append(prices, *l.Price)
		}
		if l.Mileage != nil {
			mileages = append(mileages, *l.Mileage)
		}
	}

	return CohortStats{
		Make:          q.Make,
		Model:         q.Model,
		Year:          q.Year,
		Zip:           q.Zip,
		RadiusMiles:   q.RadiusMiles,
		SampleSize:    n,
		PricedSamples: len(prices),
		PriceMedian:   geo.Median(prices),
		MileageMedian: geo.Median(mileages),
		Confidence:    confidence(len(prices)),
	}, nil
}

// confidence grades the cohort by priced sample count.
func confidence(priced int) string {
	switch {
	case priced >= 8:
		return "high"
	case priced >= 4:
		return "medium"
	default:
		return "low"
	}
}
