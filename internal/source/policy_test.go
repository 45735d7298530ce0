package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/compscout/compscout/config"
)

func TestForHostOverridePrecedence(t *testing.T) {
	r := NewRegistry(config.SourcesConfig{
		Hosts: map[string]config.HostConfig{
			"slow.example": {
				Tier:           config.TierUST2,
				MinDelay:       5 * time.Second,
				StopOn429After: 3,
				Fetcher:        "chromedp",
				PageType:       "vdp",
			},
		},
	}, config.IngestConfig{})

	pol, err := r.ForHost("slow.example")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, pol.MinDelay, "host override beats tier preset")
	require.Equal(t, 3, pol.StopOn429After)
	require.Equal(t, "chromedp", pol.Fetcher)
	require.Equal(t, "vdp", pol.PageType)
	// Everything not overridden still comes from the us_t2 preset.
	require.Equal(t, 0.65, pol.Trust)
	require.Equal(t, 21, pol.FreshnessDays)
	require.Equal(t, 1, pol.MaxConcurrent)
}

func TestForHostIngestDefaultsBackstop(t *testing.T) {
	r := NewRegistry(config.SourcesConfig{
		Tiers: map[string]config.TierConfig{"bare": {Trust: 0.4}},
		Hosts: map[string]config.HostConfig{"bare.example": {Tier: "bare"}},
	}, config.IngestConfig{FreshnessDays: 7, CacheTTL: time.Minute})

	pol, err := r.ForHost("bare.example")
	require.NoError(t, err)
	require.Equal(t, 7, pol.FreshnessDays, "global default fills the gap the tier left")
	require.Equal(t, time.Minute, pol.CacheTTL)
	require.Equal(t, 2, pol.MaxConcurrent, "normalized ingest default")
}
