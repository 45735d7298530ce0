package source

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compscout/compscout/config"
)

var usZipPattern = regexp.MustCompile(`^\d{5}$`)

// RouteParams describe where a valuation request originates.
type RouteParams struct {
	Locale string
	Zip    string
}

// VehicleQuery parameterizes seed URL construction for one ingestion run.
type VehicleQuery struct {
	Make        string
	Model       string
	Year        int // 0 = unspecified
	Zip         string
	RadiusMiles int
}

// Validate rejects malformed queries before any fetch is attempted.
func (q VehicleQuery) Validate() error {
	if strings.TrimSpace(q.Make) == "" || strings.TrimSpace(q.Model) == "" {
		return fmt.Errorf("make and model are required")
	}
	if q.Zip != "" && !usZipPattern.MatchString(q.Zip) {
		return fmt.Errorf("zip must be 5 digits, got %q", q.Zip)
	}
	if q.RadiusMiles < 0 {
		return fmt.Errorf("radius must be non-negative")
	}
	return nil
}

// Seed is one marketplace search URL to fetch.
type Seed struct {
	URL      string
	Host     string
	Trust    float64
	PageType string
}

// RouteDomains returns the ordered tier list to query. Domestic requests
// (5-digit zip) walk the US ladder; everything else gets the international
// set.
func RouteDomains(params RouteParams) []string {
	if usZipPattern.MatchString(strings.TrimSpace(params.Zip)) {
		return []string{
			config.TierUST1,
			config.TierOEM,
			config.TierDealerGroup,
			config.TierUST2,
			config.TierAuction,
			config.TierSpecialty,
		}
	}
	return []string{config.TierIntl, config.TierSpecialty}
}

// SeedURLs expands the search URL template of every allowed host in the
// routed tiers, ordered tier-first then trust descending so high-trust
// marketplaces are fetched at the front of the batch.
func (r *Registry) SeedURLs(q VehicleQuery) []Seed {
	tiers := RouteDomains(RouteParams{Zip: q.Zip})
	tierRank := make(map[string]int, len(tiers))
	for i, t := range tiers {
		tierRank[t] = i
	}

	var seeds []Seed
	for _, host := range r.Hosts() {
		pol, err := r.ForHost(host)
		if err != nil || !pol.Allowed || pol.SearchURL == "" {
			continue
		}
		if _, routed := tierRank[pol.Tier]; !routed {
			continue
		}
		seeds = append(seeds, Seed{
			URL:      expandSearchURL(pol.SearchURL, q),
			Host:     pol.Host,
			Trust:    pol.Trust,
			PageType: pol.PageType,
		})
	}
	sort.Slice(seeds, func(i, j int) bool {
		pi, _ := r.ForHost(seeds[i].Host)
		pj, _ := r.ForHost(seeds[j].Host)
		if tierRank[pi.Tier] != tierRank[pj.Tier] {
			return tierRank[pi.Tier] < tierRank[pj.Tier]
		}
		if seeds[i].Trust != seeds[j].Trust {
			return seeds[i].Trust > seeds[j].Trust
		}
		return seeds[i].Host < seeds[j].Host
	})
	return seeds
}

func expandSearchURL(tmpl string, q VehicleQuery) string {
	year := ""
	if q.Year > 0 {
		year = strconv.Itoa(q.Year)
	}
	radius := ""
	if q.RadiusMiles > 0 {
		radius = strconv.Itoa(q.RadiusMiles)
	}
	return strings.NewReplacer(
		"{make}", slugify(q.Make),
		"{model}", slugify(q.Model),
		"{year}", year,
		"{zip}", q.Zip,
		"{radius}", radius,
	).Replace(tmpl)
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
