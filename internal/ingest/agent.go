// Package ingest orchestrates one valuation run end to end: route the
// query to marketplace seeds, fetch and extract under per-host policy,
// filter, persist, and leave a finalized audit record whatever happens.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/compscout/compscout/config"
	"github.com/compscout/compscout/internal/extract"
	"github.com/compscout/compscout/internal/fetch"
	"github.com/compscout/compscout/internal/filter"
	"github.com/compscout/compscout/internal/listing"
	"github.com/compscout/compscout/internal/source"
	"github.com/compscout/compscout/internal/store"
)

// State is the run's lifecycle phase.
type State string

const (
	StateStart      State = "start"
	StateFetching   State = "fetching"
	StateFiltering  State = "filtering"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var runsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "compscout_ingest_runs_total",
	Help: "Finished ingest runs by final status.",
}, []string{"status"})

// PageFetcher is the slice of fetch.PageFetcher the agent needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (fetch.Page, error)
}

// StoreAPI is the slice of the store the agent needs.
type StoreAPI interface {
	UpsertListings(ctx context.Context, runID string, listings []listing.Listing) (int64, error)
	CreateRunLog(ctx context.Context, run store.RunLog) (string, error)
	FinishRunLog(ctx context.Context, runID, status string, stats store.RunStats) error
}

// ItemResult is the explicit per-page outcome of a run. Every seed URL
// produces exactly one.
type ItemResult struct {
	URL      string `json:"url"`
	Host     string `json:"host"`
	CacheHit bool   `json:"cache_hit"`
	Listings int    `json:"listings"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of one ingest run.
type Result struct {
	RunID     string        `json:"run_id"`
	State     State         `json:"state"`
	Items     []ItemResult  `json:"items"`
	Extracted int           `json:"extracted"`
	Kept      int           `json:"kept"`
	Persisted int64         `json:"persisted"`
	Report    filter.Report `json:"report"`
	Usage     extract.Usage `json:"usage"`
	Notes     []string      `json:"notes,omitempty"`
}

// Agent runs valuation ingests. All collaborators are injected.
type Agent struct {
	policies  *source.Registry
	fetcher   PageFetcher
	extractor extract.Extractor
	store     StoreAPI
	cfg       config.IngestConfig
	model     string
	logger    *log.Logger
}

// NewAgent wires an agent from its collaborators. model is recorded on
// every run's audit record.
func NewAgent(policies *source.Registry, fetcher PageFetcher, extractor extract.Extractor, st StoreAPI, cfg config.IngestConfig, model string) *Agent {
	return &Agent{
		policies:  policies,
		fetcher:   fetcher,
		extractor: extractor,
		store:     st,
		cfg:       cfg.Normalize(),
		model:     model,
		logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Run executes one valuation query end to end. The audit record is
// finalized exactly once on every path, including timeout.
func (a *Agent) Run(ctx context.Context, q source.VehicleQuery) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{State: StateFailed}, ValidationError{Reason: err.Error()}
	}

	seeds := a.policies.SeedURLs(q)
	if len(seeds) == 0 {
		return Result{State: StateFailed}, ValidationError{Reason: "no allowed sources for query"}
	}

	hosts := make([]string, 0, len(seeds))
	for _, s := range seeds {
		hosts = append(hosts, s.Host)
	}
	runID, err := a.store.CreateRunLog(ctx, store.RunLog{
		Query: store.RunQuery{
			Make: q.Make, Model: q.Model, Year: q.Year,
			Zip: q.Zip, RadiusMiles: q.RadiusMiles,
		},
		Sources:  hosts,
		Model:    a.model,
		URLCount: len(seeds),
	})
	if err != nil {
		return Result{State: StateFailed}, PersistenceError{Err: err}
	}
	a.logger.Printf("run %s: %s %s (%d seeds)", runID, q.Make, q.Model, len(seeds))

	runCtx := ctx
	var cancel context.CancelFunc
	if a.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}

	result := Result{RunID: runID, State: StateFetching}
	raw, items, usage, notes := a.fetchAll(runCtx, seeds)
	result.Items = items
	result.Usage = usage
	result.Extracted = len(raw)

	result.State = StateFiltering
	kept, report := filter.Run(raw, filter.Options{
		QueryYear:     q.Year,
		FreshnessDays: a.freshnessDays,
	})
	result.Report = report
	result.Kept = len(kept)

	result.State = StatePersisting
	var persistErr error
	result.Persisted, persistErr = a.store.UpsertListings(runCtx, runID, kept)
	if persistErr != nil {
		// The store already degrades its own failures; this only fires
		// for transport-level surprises. Either way the run goes on.
		a.logger.Printf("warn: run %s persist: %v", runID, persistErr)
		notes = append(notes, fmt.Sprintf("persistence degraded: %v", persistErr))
		result.Persisted = 0
	}
	if runCtx.Err() != nil {
		notes = append(notes, "run deadline exceeded")
	}
	notes = append(notes, sourceSummary(items)...)
	result.Notes = notes

	status := finalStatus(items, runCtx.Err())
	result.State = StateDone
	if status == store.RunStatusError {
		result.State = StateFailed
	}
	a.finalize(runID, status, result, report)
	if status == store.RunStatusError {
		reason := "all sources failed"
		if runCtx.Err() != nil {
			reason = "run deadline exceeded"
		}
		return result, RunError{RunID: runID, Reason: reason}
	}
	return result, nil
}

// fetchAll works the seed list in batches, extracting each fetched page.
// A host that answers 429 too many times is skipped for the rest of the
// run; every other failure is recorded on its item and the run goes on.
func (a *Agent) fetchAll(ctx context.Context, seeds []source.Seed) ([]listing.Listing, []ItemResult, extract.Usage, []string) {
	var (
		mu    sync.Mutex
		raw   []listing.Listing
		usage extract.Usage
		notes []string
	)
	throttled := make(map[string]int)
	stopped := make(map[string]bool)
	items := make([]ItemResult, len(seeds))

	sem := make(chan struct{}, a.cfg.BatchSize)
	var wg sync.WaitGroup
	for i, seed := range seeds {
		wg.Add(1)
		go func(i int, seed source.Seed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item := ItemResult{URL: seed.URL, Host: seed.Host}

			mu.Lock()
			skip := stopped[seed.Host]
			mu.Unlock()
			if skip || ctx.Err() != nil {
				item.Skipped = true
				items[i] = item
				return
			}

			page, err := a.fetcher.FetchPage(ctx, seed.URL)
			if err != nil {
				item.Error = NetworkError{Host: seed.Host, Err: err}.Error()
				items[i] = item
				if errors.Is(err, fetch.ErrTooManyRequests) {
					a.chargeThrottle(seed.Host, throttled, stopped, &notes, &mu)
				}
				return
			}
			item.CacheHit = page.CacheHit

			pol, _ := a.policies.ForHost(seed.Host)
			ls, u, err := a.extractor.Extract(ctx, page, pol.PageType)
			mu.Lock()
			usage.PromptTokens += u.PromptTokens
			usage.CompletionTokens += u.CompletionTokens
			mu.Unlock()
			if err != nil {
				item.Error = ExtractionError{URL: seed.URL, Err: err}.Error()
				items[i] = item
				return
			}

			item.Listings = len(ls)
			items[i] = item
			mu.Lock()
			raw = append(raw, ls...)
			mu.Unlock()
		}(i, seed)
	}
	wg.Wait()

	return raw, items, usage, notes
}

// chargeThrottle counts a 429 against the host and stops dispatching to
// it once the policy budget is spent.
func (a *Agent) chargeThrottle(host string, throttled map[string]int, stopped map[string]bool, notes *[]string, mu *sync.Mutex) {
	pol, err := a.policies.ForHost(host)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	throttled[host]++
	if pol.StopOn429After > 0 && throttled[host] >= pol.StopOn429After && !stopped[host] {
		stopped[host] = true
		*notes = append(*notes, fmt.Sprintf("host %s stopped after %d throttle responses", host, throttled[host]))
		a.logger.Printf("warn: host %s stopped after %d 429s", host, throttled[host])
	}
}

func (a *Agent) freshnessDays(host string) int {
	pol, err := a.policies.ForHost(host)
	if err != nil {
		return a.cfg.FreshnessDays
	}
	return pol.FreshnessDays
}

// finalStatus grades the run. Per-URL failures are isolated, so the run
// is an error only when nothing succeeded at all or the deadline killed
// it; partial failures are visible in the per-source notes instead.
func finalStatus(items []ItemResult, ctxErr error) string {
	if ctxErr != nil {
		return store.RunStatusError
	}
	for _, it := range items {
		if it.Error == "" && !it.Skipped {
			return store.RunStatusSuccess
		}
	}
	return store.RunStatusError
}

// sourceSummary turns failed items into audit notes.
func sourceSummary(items []ItemResult) []string {
	var notes []string
	for _, it := range items {
		switch {
		case it.Error != "":
			notes = append(notes, fmt.Sprintf("source %s failed: %s", it.Host, it.Error))
		case it.Skipped:
			notes = append(notes, fmt.Sprintf("source %s skipped", it.Host))
		}
	}
	return notes
}

// finalize writes the audit record's terminal state. It deliberately
// uses its own context so a run that died on deadline still gets its
// record closed.
func (a *Agent) finalize(runID, status string, result Result, report filter.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pages := 0
	for _, it := range result.Items {
		if it.Error == "" && !it.Skipped {
			pages++
		}
	}
	err := a.store.FinishRunLog(ctx, runID, status, store.RunStats{
		ListingsFound:    result.Extracted,
		ListingsUpserted: int(result.Persisted),
		TokenInput:       result.Usage.PromptTokens,
		TokenOutput:      result.Usage.CompletionTokens,
		Notes: store.RunNotes{
			DropReasons: report.Dropped,
			Groups:      report.Groups,
			Messages:    sortedNotes(result.Notes),
		},
	})
	if err != nil && !errors.Is(err, store.ErrRunFinalized) {
		a.logger.Printf("warn: finalize run %s: %v", runID, err)
	}
	runsByStatus.WithLabelValues(status).Inc()
	a.logger.Printf("run %s finished: status=%s pages=%d found=%d kept=%d upserted=%d tokens=%d/%d",
		runID, status, pages, result.Extracted, result.Kept, result.Persisted,
		result.Usage.PromptTokens, result.Usage.CompletionTokens)
}

func sortedNotes(notes []string) []string {
	out := append([]string(nil), notes...)
	sort.Strings(out)
	return out
}
