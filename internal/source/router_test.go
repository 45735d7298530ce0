package source

import (
	"errors"
	"testing"

	"github.com/compscout/compscout/config"
)

func testRegistry() *Registry {
	return NewRegistry(config.SourcesConfig{
		Hosts: map[string]config.HostConfig{
			"cars.example":     {Tier: config.TierUST1, SearchURL: "https://cars.example/s?make={make}&model={model}&zip={zip}&radius={radius}"},
			"trader.example":   {Tier: config.TierUST1, Trust: 0.95, SearchURL: "https://trader.example/find/{make}/{model}?zip={zip}"},
			"auktion.example":  {Tier: config.TierAuction, SearchURL: "https://auktion.example/q?mk={make}&md={model}"},
			"global.example":   {Tier: config.TierIntl, SearchURL: "https://global.example/search?make={make}"},
			"banned.example":   {Tier: config.TierUST2, Disallow: true, SearchURL: "https://banned.example/s"},
			"nosearch.example": {Tier: config.TierUST2},
		},
	}, config.IngestConfig{})
}

func TestForHostFailClosed(t *testing.T) {
	r := testRegistry()
	_, err := r.ForHost("shady.example")
	var unknown ErrUnknownHost
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownHost, got %v", err)
	}
}

func TestForHostMergesTierAndOverrides(t *testing.T) {
	r := testRegistry()
	pol, err := r.ForHost("https://www.trader.example/somewhere")
	if err != nil {
		t.Fatalf("ForHost: %v", err)
	}
	if pol.Trust != 0.95 {
		t.Fatalf("expected host trust override, got %v", pol.Trust)
	}
	if pol.FreshnessDays != 30 {
		t.Fatalf("expected tier freshness preset, got %d", pol.FreshnessDays)
	}
	if pol.MaxConcurrent != 2 {
		t.Fatalf("expected tier max concurrent, got %d", pol.MaxConcurrent)
	}
	if !pol.Allowed {
		t.Fatal("expected host allowed")
	}

	banned, err := r.ForHost("banned.example")
	if err != nil {
		t.Fatalf("ForHost banned: %v", err)
	}
	if banned.Allowed {
		t.Fatal("expected disallowed host")
	}
}

func TestRouteDomains(t *testing.T) {
	domestic := RouteDomains(RouteParams{Zip: "94103"})
	want := []string{
		config.TierUST1, config.TierOEM, config.TierDealerGroup,
		config.TierUST2, config.TierAuction, config.TierSpecialty,
	}
	if len(domestic) != len(want) {
		t.Fatalf("unexpected domestic tiers: %v", domestic)
	}
	for i := range want {
		if domestic[i] != want[i] {
			t.Fatalf("domestic[%d] = %q, want %q", i, domestic[i], want[i])
		}
	}

	intl := RouteDomains(RouteParams{Zip: "SW1A 1AA"})
	if len(intl) != 2 || intl[0] != config.TierIntl || intl[1] != config.TierSpecialty {
		t.Fatalf("unexpected international tiers: %v", intl)
	}
}

func TestSeedURLsOrderingAndExpansion(t *testing.T) {
	r := testRegistry()
	seeds := r.SeedURLs(VehicleQuery{Make: "Toyota", Model: "Camry", Year: 2019, Zip: "94103", RadiusMiles: 100})

	if len(seeds) != 3 {
		t.Fatalf("expected 3 seeds (disallowed, template-less and intl hosts skipped), got %d: %#v", len(seeds), seeds)
	}
	// trader.example carries a higher trust override within us_t1.
	if seeds[0].Host != "trader.example" || seeds[1].Host != "cars.example" {
		t.Fatalf("unexpected trust ordering: %v, %v", seeds[0].Host, seeds[1].Host)
	}
	if seeds[2].Host != "auktion.example" {
		t.Fatalf("expected auction tier last, got %q", seeds[2].Host)
	}
	if seeds[1].URL != "https://cars.example/s?make=toyota&model=camry&zip=94103&radius=100" {
		t.Fatalf("unexpected seed URL: %q", seeds[1].URL)
	}
}

func TestVehicleQueryValidate(t *testing.T) {
	if err := (VehicleQuery{Make: "Toyota", Model: "Camry", Zip: "94103"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (VehicleQuery{Model: "Camry"}).Validate(); err == nil {
		t.Fatal("expected missing make error")
	}
	if err := (VehicleQuery{Make: "Toyota", Model: "Camry", Zip: "9410"}).Validate(); err == nil {
		t.Fatal("expected bad zip error")
	}
}
