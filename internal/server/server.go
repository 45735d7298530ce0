// Package server hosts the HTTP API, the refresh scheduler and the
// database migration entrypoint.
package server

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/compscout/compscout/config"
	"github.com/compscout/compscout/internal/extract"
	"github.com/compscout/compscout/internal/fetch"
	"github.com/compscout/compscout/internal/fetchcache"
	"github.com/compscout/compscout/internal/geo"
	"github.com/compscout/compscout/internal/ingest"
	"github.com/compscout/compscout/internal/source"
	"github.com/compscout/compscout/internal/store"
	"github.com/compscout/compscout/internal/throttle"
)

// Run wires the full service and serves until the listener fails.
func Run(cfg *config.Config, addr string) error {
	if addr == "" {
		addr = cfg.General.Listen
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	st := store.New(db)

	var rdb *redis.Client
	var cache fetchcache.Cache = fetchcache.NewMemory()
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		cache = fetchcache.NewRedis(rdb)
	}

	policies := source.NewRegistry(cfg.Sources, cfg.Ingest)
	limiters := throttle.NewRegistry()
	pageFetcher := fetch.NewPageFetcher(
		policies,
		limiters,
		cache,
		fetch.NewHTTPFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.FetchRetries),
		fetch.NewRenderedFetcher(cfg.Ingest.FetchTimeout),
		cfg.Ingest.MaxStructuredBlocks,
	)
	extractor := extract.NewLLMExtractor(extract.NewOpenAIProvider(cfg.LLM))
	agent := ingest.NewAgent(policies, pageFetcher, extractor, st, cfg.Ingest, cfg.LLM.CompletionModel)

	h := &Handlers{Agent: agent, Store: st, Resolver: geo.NewResolver(st)}
	h.Register(e.Group("/api"))

	if cfg.Refresh.Enabled {
		cohorts := make([]CohortSpec, 0, len(cfg.Refresh.Cohorts))
		for _, c := range cfg.Refresh.Cohorts {
			cohorts = append(cohorts, CohortSpec{
				Make: c.Make, Model: c.Model, Year: c.Year,
				Zip: c.Zip, Radius: c.Radius, CronSpec: c.CronSpec,
			})
		}
		sched := &Scheduler{
			Cohorts: cohorts,
			Agent:   agent,
			Rdb:     rdb,
			Stop:    make(chan struct{}),
		}
		sched.Start()
		defer close(sched.Stop)
	}

	return e.Start(addr)
}
