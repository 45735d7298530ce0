package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/compscout/compscout/internal/source"
)

// Scheduler re-ingests configured cohorts on their cron cadence so
// stored comps stay warm between user requests.
type Scheduler struct {
	Cohorts []CohortSpec
	Agent   IngestRunner
	Rdb     *redis.Client
	Stop    chan struct{}

	Interval time.Duration
	Logger   *log.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// CohortSpec mirrors config.RefreshCohort without importing config here;
// the server wiring converts between them.
type CohortSpec struct {
	Make     string
	Model    string
	Year     int
	Zip      string
	Radius   int
	CronSpec string
}

// Start ticks the scheduler until Stop is closed.
func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.lastRun == nil {
		s.lastRun = make(map[string]time.Time)
	}
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, cohort := range s.Cohorts {
		key := cohortLockKey(cohort)

		s.mu.Lock()
		last, ran := s.lastRun[key]
		s.mu.Unlock()
		var lastPtr *time.Time
		if ran {
			lastPtr = &last
		}
		if !isDue(cohort.CronSpec, lastPtr) {
			continue
		}

		// Distributed lock keeps replicas from refreshing the same
		// cohort at the same tick.
		if s.Rdb != nil {
			ok, _ := s.Rdb.SetNX(ctx, key, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		s.mu.Lock()
		s.lastRun[key] = time.Now()
		s.mu.Unlock()

		go func(cohort CohortSpec) {
			q := source.VehicleQuery{
				Make:        cohort.Make,
				Model:       cohort.Model,
				Year:        cohort.Year,
				Zip:         cohort.Zip,
				RadiusMiles: cohort.Radius,
			}
			result, err := s.Agent.Run(ctx, q)
			if err != nil {
				s.Logger.Printf("warn: refresh %s %s: %v", cohort.Make, cohort.Model, err)
				return
			}
			s.Logger.Printf("refreshed %s %s: run %s kept %d", cohort.Make, cohort.Model, result.RunID, result.Kept)
		}(cohort)
	}
}

func cohortLockKey(c CohortSpec) string {
	return fmt.Sprintf("compscout:refresh:%s:%s:%d:%s", c.Make, c.Model, c.Year, c.Zip)
}

// isDue decides whether a cohort with the given cron spec should run.
// Supports "@daily", "@hourly" and standard cron expressions; invalid
// specs fall back to daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily", "":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
