package config

import (
	"testing"
	"time"
)

func TestSourcesNormalize(t *testing.T) {
	cfg := SourcesConfig{
		Hosts: map[string]HostConfig{
			"WWW.Cars.Example":          {Tier: "US_T1"},
			"https://auto.example/path": {Tier: "oem", Fetcher: "chromedp"},
			"  ":                        {},
		},
	}

	norm := cfg.Normalize()
	if len(norm.Hosts) != 2 {
		t.Fatalf("unexpected host count: %#v", norm.Hosts)
	}
	hc, ok := norm.Hosts["cars.example"]
	if !ok {
		t.Fatalf("expected cars.example key, got %#v", norm.Hosts)
	}
	if hc.Tier != TierUST1 {
		t.Fatalf("expected tier lowered to us_t1, got %q", hc.Tier)
	}
	if hc.Fetcher != "http" || hc.PageType != "srp" {
		t.Fatalf("expected fetcher/page_type defaults, got %q/%q", hc.Fetcher, hc.PageType)
	}
	if _, ok := norm.Hosts["auto.example"]; !ok {
		t.Fatalf("expected URL-form host normalized, got %#v", norm.Hosts)
	}
	if len(norm.Tiers) != len(DefaultTiers()) {
		t.Fatalf("expected default tiers filled, got %d", len(norm.Tiers))
	}
}

func TestSourcesValidate(t *testing.T) {
	valid := SourcesConfig{
		Hosts: map[string]HostConfig{"cars.example": {Tier: TierUST1}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	badTier := SourcesConfig{
		Hosts: map[string]HostConfig{"cars.example": {Tier: "platinum"}},
	}
	if err := badTier.Validate(); err == nil {
		t.Fatalf("expected unknown tier error")
	}

	badFetcher := SourcesConfig{
		Hosts: map[string]HostConfig{"cars.example": {Tier: TierUST1, Fetcher: "curl"}},
	}
	if err := badFetcher.Validate(); err == nil {
		t.Fatalf("expected unknown fetcher error")
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"WWW.Example.com":              "example.com",
		"https://www.example.com/x?y=z": "example.com",
		"example.com:8080":             "example.com",
		"example.com/search":           "example.com",
		"":                             "",
	}
	for in, want := range cases {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIngestNormalizeDefaults(t *testing.T) {
	c := IngestConfig{}.Normalize()
	if c.MaxConcurrentPerHost != 2 {
		t.Fatalf("unexpected max concurrent: %d", c.MaxConcurrentPerHost)
	}
	if c.FreshnessDays != 30 {
		t.Fatalf("unexpected freshness window: %d", c.FreshnessDays)
	}
	if c.FetchTimeout != 15*time.Second {
		t.Fatalf("unexpected fetch timeout: %v", c.FetchTimeout)
	}
}
