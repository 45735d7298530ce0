package fetch

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/compscout/compscout/internal/fetchcache"
	"github.com/compscout/compscout/internal/source"
	"github.com/compscout/compscout/internal/throttle"
)

var (
	cacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compscout_page_cache_results_total",
		Help: "Page cache lookups by result.",
	}, []string{"result"})
	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compscout_page_fetch_errors_total",
		Help: "Page fetch failures per host.",
	}, []string{"host"})
)

var ldJSONPattern = regexp.MustCompile(`(?is)<script[^>]+type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

// Page is one fetched marketplace page, reduced for extraction.
type Page struct {
	URL       string
	Host      string
	HTML      string
	Text      string   // readability-reduced article text
	Blocks    []string // embedded ld+json payloads, most useful first
	FetchedAt time.Time
	CacheHit  bool
}

// PageFetcher resolves policy, consults the cache, and only on a miss
// runs the host's fetcher under the host's limiter.
type PageFetcher struct {
	policies  *source.Registry
	limiters  *throttle.Registry
	cache     fetchcache.Cache
	http      Fetcher
	rendered  Fetcher
	maxBlocks int
	logger    *log.Logger
}

// NewPageFetcher wires policy, throttling, caching and the two fetcher
// implementations together.
func NewPageFetcher(policies *source.Registry, limiters *throttle.Registry, cache fetchcache.Cache, httpFetcher, renderedFetcher Fetcher, maxBlocks int) *PageFetcher {
	if maxBlocks <= 0 {
		maxBlocks = 3
	}
	return &PageFetcher{
		policies:  policies,
		limiters:  limiters,
		cache:     cache,
		http:      httpFetcher,
		rendered:  renderedFetcher,
		maxBlocks: maxBlocks,
		logger:    log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// FetchPage retrieves one page under the host's policy. Unknown or
// disallowed hosts fail before any network activity.
func (p *PageFetcher) FetchPage(ctx context.Context, rawURL string) (Page, error) {
	pol, err := p.policies.ForHost(rawURL)
	if err != nil {
		return Page{}, err
	}
	if !pol.Allowed {
		return Page{}, fmt.Errorf("host %s is disallowed by policy", pol.Host)
	}

	if payload, hit, err := p.cache.Get(ctx, rawURL); err != nil {
		p.logger.Printf("warn: cache get %s: %v", pol.Host, err)
	} else if hit {
		cacheResults.WithLabelValues("hit").Inc()
		return p.buildPage(rawURL, pol.Host, string(payload), true), nil
	}
	cacheResults.WithLabelValues("miss").Inc()

	fetcher := p.http
	if pol.Fetcher == "chromedp" {
		fetcher = p.rendered
	}

	var html string
	limiter := p.limiters.For(pol.Host, pol.MaxConcurrent, pol.MinDelay)
	err = limiter.Run(ctx, func(ctx context.Context) error {
		var ferr error
		html, ferr = fetcher.Fetch(ctx, rawURL)
		return ferr
	})
	if err != nil {
		fetchErrors.WithLabelValues(pol.Host).Inc()
		return Page{}, err
	}

	if err := p.cache.Set(ctx, rawURL, []byte(html), pol.CacheTTL); err != nil {
		p.logger.Printf("warn: cache set %s: %v", pol.Host, err)
	}
	return p.buildPage(rawURL, pol.Host, html, false), nil
}

func (p *PageFetcher) buildPage(rawURL, host, html string, cacheHit bool) Page {
	return Page{
		URL:       rawURL,
		Host:      host,
		HTML:      html,
		Text:      ReadableText(rawURL, html),
		Blocks:    StructuredBlocks(html, p.maxBlocks),
		FetchedAt: time.Now().UTC(),
		CacheHit:  cacheHit,
	}
}

// StructuredBlocks pulls embedded ld+json payloads out of the page, in
// document order, up to max blocks. Marketplaces typically carry the
// full listing schema here, which extracts far more reliably than prose.
func StructuredBlocks(html string, max int) []string {
	matches := ldJSONPattern.FindAllStringSubmatch(html, -1)
	var blocks []string
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		blocks = append(blocks, body)
		if len(blocks) >= max {
			break
		}
	}
	return blocks
}

// ReadableText reduces a page to its article text so extraction prompts
// stay small. Returns "" when readability cannot parse the page; callers
// fall back to structured blocks or raw HTML.
func ReadableText(rawURL, html string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
