// Package filter screens extracted listings before persistence:
// freshness, year proximity, dedup, plausibility bounds and per-cohort
// price outliers, in that order. Every drop is attributed to a reason.
package filter

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/compscout/compscout/internal/listing"
)

// Drop reasons, also the keys of Report.Dropped.
const (
	ReasonStale        = "stale"
	ReasonYearMismatch = "year_mismatch"
	ReasonDuplicate    = "duplicate"
	ReasonPriceRange   = "price_out_of_range"
	ReasonMileageRange = "mileage_out_of_range"
	ReasonYearRange    = "year_out_of_range"
	ReasonIncomplete   = "incomplete"
	ReasonOutlier      = "price_outlier"
)

var (
	dropCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compscout_filter_drops_total",
		Help: "Listings dropped by the filter pipeline, by reason.",
	}, []string{"reason"})
	unparseableCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compscout_filter_freshness_unparseable_total",
		Help: "Listings whose posted_at could not be parsed (kept, fail-open).",
	})
)

// Bounds are the plausibility limits for a listing. Unset fields are
// defaulted independently, so partial overrides keep the rest of the
// window intact.
type Bounds struct {
	MinPrice   float64
	MaxPrice   float64
	MaxMileage float64
	MinYear    int
}

// DefaultBounds returns the stock plausibility window.
func DefaultBounds() Bounds {
	return Bounds{MinPrice: 500, MaxPrice: 300000, MaxMileage: 400000, MinYear: 1980}
}

// Normalize fills each unset limit with its stock default.
func (b Bounds) Normalize() Bounds {
	d := DefaultBounds()
	if b.MinPrice <= 0 {
		b.MinPrice = d.MinPrice
	}
	if b.MaxPrice <= 0 {
		b.MaxPrice = d.MaxPrice
	}
	if b.MaxMileage <= 0 {
		b.MaxMileage = d.MaxMileage
	}
	if b.MinYear <= 0 {
		b.MinYear = d.MinYear
	}
	return b
}

// Options parameterize one pipeline run.
type Options struct {
	Now           time.Time
	QueryYear     int                   // 0 disables year-proximity filtering
	FreshnessDays func(host string) int // per-host window; <=0 disables
	Bounds        Bounds
}

// GroupSnapshot summarizes one outlier cohort for the run report.
type GroupSnapshot struct {
	Key           string  `json:"key"`
	N             int     `json:"n"`
	PriceMedian   float64 `json:"price_median"`
	MileageMedian float64 `json:"mileage_median"`
}

// Report is the auditable outcome of one pipeline run.
type Report struct {
	Kept    int             `json:"kept"`
	Dropped map[string]int  `json:"dropped"`
	Groups  []GroupSnapshot `json:"groups,omitempty"`
}

func (r *Report) drop(reason string) {
	r.Dropped[reason]++
	dropCounter.WithLabelValues(reason).Inc()
}

// Run applies the full pipeline and returns the survivors plus the drop
// accounting. Input order is preserved.
func Run(in []listing.Listing, opts Options) ([]listing.Listing, Report) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	opts.Bounds = opts.Bounds.Normalize()
	report := Report{Dropped: make(map[string]int)}

	kept := make([]listing.Listing, 0, len(in))
	for _, l := range in {
		if !fresh(l, opts) {
			report.drop(ReasonStale)
			continue
		}
		if reason := yearMismatch(l, opts.QueryYear); reason != "" {
			report.drop(reason)
			continue
		}
		kept = append(kept, l)
	}

	deduped := listing.Dedupe(kept)
	for i := len(deduped); i < len(kept); i++ {
		report.drop(ReasonDuplicate)
	}

	sane := make([]listing.Listing, 0, len(deduped))
	for _, l := range deduped {
		if reason := implausible(l, opts.Bounds, opts.Now); reason != "" {
			report.drop(reason)
			continue
		}
		sane = append(sane, l)
	}

	final, groups := dropPriceOutliers(sane, &report)
	report.Groups = groups
	report.Kept = len(final)
	return final, report
}

// fresh reports whether the listing's posted_at falls inside the host's
// freshness window. Listings without a timestamp, or with one that does
// not parse, are kept: staleness must be proven, not assumed.
func fresh(l listing.Listing, opts Options) bool {
	if opts.FreshnessDays == nil {
		return true
	}
	days := opts.FreshnessDays(l.Source)
	if days <= 0 {
		return true
	}
	if l.PostedAt == nil || *l.PostedAt == "" {
		return true
	}
	posted, err := parseTimestamp(*l.PostedAt)
	if err != nil {
		unparseableCounter.Inc()
		return true
	}
	return opts.Now.Sub(posted) <= time.Duration(days)*24*time.Hour
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// yearMismatch drops listings more than one model year away from the
// requested year. Listings with no year survive; the sanity stage still
// bounds the ones that have one.
func yearMismatch(l listing.Listing, queryYear int) string {
	if queryYear == 0 || l.Year == nil {
		return ""
	}
	diff := *l.Year - queryYear
	if diff < -1 || diff > 1 {
		return ReasonYearMismatch
	}
	return ""
}

func implausible(l listing.Listing, b Bounds, now time.Time) string {
	if l.Make == "" || l.Model == "" || l.URL == "" || l.Source == "" {
		return ReasonIncomplete
	}
	if l.Price != nil && (*l.Price < b.MinPrice || *l.Price > b.MaxPrice) {
		return ReasonPriceRange
	}
	if l.Mileage != nil && (*l.Mileage < 0 || *l.Mileage > b.MaxMileage) {
		return ReasonMileageRange
	}
	if l.Year != nil && (*l.Year < b.MinYear || *l.Year > now.Year()+1) {
		return ReasonYearRange
	}
	return ""
}
