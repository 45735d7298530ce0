// Package throttle bounds per-host request concurrency and spacing. One
// limiter exists per marketplace host and is shared by every concurrently
// running valuation request, so unrelated runs still respect the host's
// politeness budget.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/compscout/compscout/config"
)

var inflightGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "compscout_host_inflight_requests",
	Help: "In-flight fetches per marketplace host.",
}, []string{"host"})

// Limiter governs one host: at most maxConcurrent tasks in flight, and at
// least minDelay between consecutive dispatches.
type Limiter struct {
	host     string
	minDelay time.Duration
	sem      chan struct{}

	mu           sync.Mutex
	nextDispatch time.Time
}

// NewLimiter constructs a limiter for a host.
func NewLimiter(host string, maxConcurrent int, minDelay time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if minDelay < 0 {
		minDelay = 0
	}
	return &Limiter{
		host:     config.NormalizeHost(host),
		minDelay: minDelay,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Run acquires a slot, waits out any remaining spacing since the host's
// last dispatch, executes task, and releases the slot even when the task
// fails or panics.
func (l *Limiter) Run(ctx context.Context, task func(ctx context.Context) error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	inflightGauge.WithLabelValues(l.host).Inc()
	defer func() {
		inflightGauge.WithLabelValues(l.host).Dec()
		<-l.sem
	}()

	// Reserve the next dispatch time under the lock so waiters queue up
	// in claim order rather than racing for the same slot.
	l.mu.Lock()
	now := time.Now()
	at := l.nextDispatch
	if at.Before(now) {
		at = now
	}
	l.nextDispatch = at.Add(l.minDelay)
	l.mu.Unlock()

	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return task(ctx)
}

// Registry hands out one shared limiter per normalized host. It is
// dependency-injected rather than a package global so tests can build
// isolated instances.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// For returns the limiter for host, creating it on first use with the
// supplied bounds. Later calls reuse the original limiter regardless of
// the bounds passed, keeping one governor per host process-wide.
func (r *Registry) For(host string, maxConcurrent int, minDelay time.Duration) *Limiter {
	key := config.NormalizeHost(host)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := NewLimiter(key, maxConcurrent, minDelay)
	r.limiters[key] = l
	return l
}
