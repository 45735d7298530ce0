package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compscout/compscout/internal/listing"
)

// minOutlierSamples is the smallest priced cohort the IQR fences apply
// to. Smaller cohorts keep everything: the fences would be noise.
const minOutlierSamples = 8

// dropPriceOutliers removes listings whose price falls outside the
// 1.5*IQR fences of their make/model/year cohort. Unpriced listings are
// never dropped here.
func dropPriceOutliers(in []listing.Listing, report *Report) ([]listing.Listing, []GroupSnapshot) {
	groups := make(map[string][]float64)
	for _, l := range in {
		if l.Price != nil {
			groups[cohortKey(l)] = append(groups[cohortKey(l)], *l.Price)
		}
	}

	type fence struct{ lo, hi float64 }
	fences := make(map[string]fence, len(groups))
	for key, prices := range groups {
		if len(prices) < minOutlierSamples {
			continue
		}
		sort.Float64s(prices)
		q1 := quantile(prices, 0.25)
		q3 := quantile(prices, 0.75)
		iqr := q3 - q1
		fences[key] = fence{lo: q1 - 1.5*iqr, hi: q3 + 1.5*iqr}
	}

	out := make([]listing.Listing, 0, len(in))
	for _, l := range in {
		if l.Price != nil {
			if f, fenced := fences[cohortKey(l)]; fenced && (*l.Price < f.lo || *l.Price > f.hi) {
				report.drop(ReasonOutlier)
				continue
			}
		}
		out = append(out, l)
	}

	return out, snapshotGroups(out)
}

// cohortKey buckets listings for outlier detection and reporting.
// Missing years share an "any" bucket rather than fragmenting.
func cohortKey(l listing.Listing) string {
	year := "any"
	if l.Year != nil {
		year = fmt.Sprintf("%d", *l.Year)
	}
	return strings.ToLower(strings.TrimSpace(l.Make)) + "/" +
		strings.ToLower(strings.TrimSpace(l.Model)) + "/" + year
}

// quantile computes the q-th quantile of sorted values with linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// snapshotGroups summarizes the surviving cohorts for the run report,
// sorted by key for stable output.
func snapshotGroups(in []listing.Listing) []GroupSnapshot {
	type agg struct {
		n        int
		prices   []float64
		mileages []float64
	}
	byKey := make(map[string]*agg)
	for _, l := range in {
		key := cohortKey(l)
		a := byKey[key]
		if a == nil {
			a = &agg{}
			byKey[key] = a
		}
		a.n++
		if l.Price != nil {
			a.prices = append(a.prices, *l.Price)
		}
		if l.Mileage != nil {
			a.mileages = append(a.mileages, *l.Mileage)
		}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]GroupSnapshot, 0, len(keys))
	for _, key := range keys {
		a := byKey[key]
		sort.Float64s(a.prices)
		sort.Float64s(a.mileages)
		out = append(out, GroupSnapshot{
			Key:           key,
			N:             a.n,
			PriceMedian:   quantile(a.prices, 0.5),
			MileageMedian: quantile(a.mileages, 0.5),
		})
	}
	return out
}
