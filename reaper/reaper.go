// Package reaper evicts workers that stopped reporting.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"workerwatch/metrics"
	"workerwatch/storage"
)

// Reaper periodically sweeps a Store. An entry may outlive ttl by up to
// one interval.
type Reaper struct {
	store    storage.Store
	interval time.Duration
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock overrides the clock passed to Sweep.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New returns a reaper that is not running yet.
func New(store storage.Store, interval, ttl time.Duration, log *zap.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		store:    store,
		interval: interval,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started", zap.Duration("interval", r.interval), zap.Duration("ttl", r.ttl))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Failures are logged and counted, never
// returned: a failed pass is retried on the next tick.
func (r *Reaper) SweepOnce(ctx context.Context) int {
	start := time.Now()
	removed, err := r.store.Sweep(ctx, r.now(), r.ttl)
	metrics.RecordSweep(time.Since(start).Seconds(), removed, err)
	if err != nil {
		r.log.Error("sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		r.log.Debug("stale workers evicted", zap.Int("removed", removed))
	}

	n, err := r.store.Len(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("len").Inc()
		r.log.Warn("count workers failed", zap.Error(err))
		return removed
	}
	metrics.SetWorkers(n)
	return removed
}

// Start runs the reaper in its own goroutine. Calling Start on a running
// reaper does nothing.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.Run(ctx)
	}(r.done)
}

// Stop cancels a started reaper and waits for its goroutine to exit.
// It is safe to call on a reaper that was never started.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
