package source

import (
	"fmt"
	"time"

	"github.com/compscout/compscout/config"
)

// Policy is the fully resolved per-host policy: tier preset merged with
// host overrides and global ingest defaults.
type Policy struct {
	Host           string
	Tier           string
	Allowed        bool
	Trust          float64
	FreshnessDays  int
	CacheTTL       time.Duration
	MaxRetries     int
	StopOn429After int
	MinDelay       time.Duration
	MaxConcurrent  int
	Fetcher        string
	PageType       string
	SearchURL      string
}

// ErrUnknownHost is returned for hosts absent from the policy table.
// Callers must treat it as "disallowed": the registry fails closed.
type ErrUnknownHost struct{ Host string }

func (e ErrUnknownHost) Error() string {
	return fmt.Sprintf("no source policy for host %q", e.Host)
}

// Registry resolves policies for marketplace hosts. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	tiers    map[string]config.TierConfig
	hosts    map[string]config.HostConfig
	defaults config.IngestConfig
}

// NewRegistry builds a policy registry from normalized configuration.
func NewRegistry(sources config.SourcesConfig, defaults config.IngestConfig) *Registry {
	norm := sources.Normalize()
	return &Registry{tiers: norm.Tiers, hosts: norm.Hosts, defaults: defaults.Normalize()}
}

// ForHost resolves the policy for a host (hostname or URL form). Unknown
// hosts yield ErrUnknownHost and must be treated as disallowed.
func (r *Registry) ForHost(host string) (Policy, error) {
	key := config.NormalizeHost(host)
	hc, ok := r.hosts[key]
	if !ok {
		return Policy{}, ErrUnknownHost{Host: key}
	}
	preset := r.tiers[hc.Tier]

	p := Policy{
		Host:           key,
		Tier:           hc.Tier,
		Allowed:        !hc.Disallow,
		Trust:          preset.Trust,
		FreshnessDays:  preset.FreshnessDays,
		CacheTTL:       preset.CacheTTL,
		MaxRetries:     preset.MaxRetries,
		StopOn429After: preset.StopOn429After,
		MinDelay:       preset.MinDelay,
		MaxConcurrent:  preset.MaxConcurrent,
		Fetcher:        hc.Fetcher,
		PageType:       hc.PageType,
		SearchURL:      hc.SearchURL,
	}
	if hc.Trust > 0 {
		p.Trust = hc.Trust
	}
	if hc.FreshnessDays > 0 {
		p.FreshnessDays = hc.FreshnessDays
	}
	if hc.CacheTTL > 0 {
		p.CacheTTL = hc.CacheTTL
	}
	if hc.MaxRetries > 0 {
		p.MaxRetries = hc.MaxRetries
	}
	if hc.StopOn429After > 0 {
		p.StopOn429After = hc.StopOn429After
	}
	if hc.MinDelay > 0 {
		p.MinDelay = hc.MinDelay
	}
	if hc.MaxConcurrent > 0 {
		p.MaxConcurrent = hc.MaxConcurrent
	}

	// Global ingest defaults backstop anything a tier left unset.
	if p.FreshnessDays <= 0 {
		p.FreshnessDays = r.defaults.FreshnessDays
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = r.defaults.CacheTTL
	}
	if p.MinDelay <= 0 {
		p.MinDelay = r.defaults.MinDelay
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = r.defaults.MaxConcurrentPerHost
	}
	return p, nil
}

// Hosts returns the configured host keys.
func (r *Registry) Hosts() []string {
	out := make([]string, 0, len(r.hosts))
	for host := range r.hosts {
		out = append(out, host)
	}
	return out
}
