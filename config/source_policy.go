package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Marketplace tiers, highest trust first within the domestic ordering.
const (
	TierUST1        = "us_t1"
	TierOEM         = "oem"
	TierDealerGroup = "dealer_group"
	TierUST2        = "us_t2"
	TierAuction     = "auction"
	TierSpecialty   = "specialty"
	TierIntl        = "intl"
)

// SourcesConfig configures per-host marketplace policy: tier presets plus
// host-specific overrides. Hosts absent from the table are disallowed.
type SourcesConfig struct {
	Tiers map[string]TierConfig `mapstructure:"tiers" json:"tiers"`
	Hosts map[string]HostConfig `mapstructure:"hosts" json:"hosts"`
}

// TierConfig is the preset a host inherits from its tier.
type TierConfig struct {
	Trust          float64       `mapstructure:"trust" json:"trust"`
	FreshnessDays  int           `mapstructure:"freshness_days" json:"freshness_days"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	StopOn429After int           `mapstructure:"stop_on_429_after" json:"stop_on_429_after"`
	MinDelay       time.Duration `mapstructure:"min_delay" json:"min_delay"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" json:"max_concurrent"`
}

// HostConfig overrides tier presets for a single marketplace host.
// Zero values inherit from the tier preset; Disallow excludes the host
// without removing its configuration.
type HostConfig struct {
	Tier           string        `mapstructure:"tier" json:"tier"`
	Disallow       bool          `mapstructure:"disallow" json:"disallow"`
	Trust          float64       `mapstructure:"trust" json:"trust"`
	FreshnessDays  int           `mapstructure:"freshness_days" json:"freshness_days"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	StopOn429After int           `mapstructure:"stop_on_429_after" json:"stop_on_429_after"`
	MinDelay       time.Duration `mapstructure:"min_delay" json:"min_delay"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" json:"max_concurrent"`
	Fetcher        string        `mapstructure:"fetcher" json:"fetcher"`     // http (default) or chromedp
	PageType       string        `mapstructure:"page_type" json:"page_type"` // srp (default) or vdp
	SearchURL      string        `mapstructure:"search_url" json:"search_url"`
}

// DefaultTiers returns the built-in tier presets applied when the config
// file does not define a tier.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		TierUST1:        {Trust: 0.9, FreshnessDays: 30, CacheTTL: 15 * time.Minute, MaxRetries: 2, StopOn429After: 2, MinDelay: 1500 * time.Millisecond, MaxConcurrent: 2},
		TierOEM:         {Trust: 0.85, FreshnessDays: 45, CacheTTL: 30 * time.Minute, MaxRetries: 2, StopOn429After: 2, MinDelay: 2 * time.Second, MaxConcurrent: 2},
		TierDealerGroup: {Trust: 0.8, FreshnessDays: 30, CacheTTL: 15 * time.Minute, MaxRetries: 2, StopOn429After: 2, MinDelay: 2 * time.Second, MaxConcurrent: 2},
		TierUST2:        {Trust: 0.65, FreshnessDays: 21, CacheTTL: 10 * time.Minute, MaxRetries: 1, StopOn429After: 1, MinDelay: 3 * time.Second, MaxConcurrent: 1},
		TierAuction:     {Trust: 0.6, FreshnessDays: 14, CacheTTL: 10 * time.Minute, MaxRetries: 1, StopOn429After: 1, MinDelay: 3 * time.Second, MaxConcurrent: 1},
		TierSpecialty:   {Trust: 0.55, FreshnessDays: 30, CacheTTL: 30 * time.Minute, MaxRetries: 1, StopOn429After: 1, MinDelay: 3 * time.Second, MaxConcurrent: 1},
		TierIntl:        {Trust: 0.5, FreshnessDays: 30, CacheTTL: 30 * time.Minute, MaxRetries: 1, StopOn429After: 1, MinDelay: 3 * time.Second, MaxConcurrent: 1},
	}
}

// Normalize cleans host keys and fills missing tier presets.
func (c SourcesConfig) Normalize() SourcesConfig {
	norm := c
	if norm.Tiers == nil {
		norm.Tiers = map[string]TierConfig{}
	}
	for name, preset := range DefaultTiers() {
		if _, ok := norm.Tiers[name]; !ok {
			norm.Tiers[name] = preset
		}
	}
	hosts := make(map[string]HostConfig, len(norm.Hosts))
	for raw, hc := range norm.Hosts {
		key := NormalizeHost(raw)
		if key == "" {
			continue
		}
		hc.Tier = strings.TrimSpace(strings.ToLower(hc.Tier))
		if hc.Tier == "" {
			hc.Tier = TierUST2
		}
		if hc.Fetcher == "" {
			hc.Fetcher = "http"
		}
		if hc.PageType == "" {
			hc.PageType = "srp"
		}
		hosts[key] = hc
	}
	norm.Hosts = hosts
	return norm
}

// Validate ensures every configured host references a known tier.
func (c SourcesConfig) Validate() error {
	norm := c.Normalize()
	for host, hc := range norm.Hosts {
		if _, ok := norm.Tiers[hc.Tier]; !ok {
			return fmt.Errorf("source policy: host %q references unknown tier %q", host, hc.Tier)
		}
		if hc.Fetcher != "http" && hc.Fetcher != "chromedp" {
			return fmt.Errorf("source policy: host %q has unknown fetcher %q", host, hc.Fetcher)
		}
		if hc.PageType != "srp" && hc.PageType != "vdp" {
			return fmt.Errorf("source policy: host %q has unknown page_type %q", host, hc.PageType)
		}
	}
	return nil
}

// NormalizeHost lowercases, trims and strips www. from a hostname or URL.
func NormalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	if i := strings.IndexByte(value, '/'); i >= 0 {
		value = value[:i]
	}
	if i := strings.IndexByte(value, ':'); i >= 0 {
		value = value[:i]
	}
	return strings.TrimPrefix(value, "www.")
}
