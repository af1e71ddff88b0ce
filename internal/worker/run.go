package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefreshAll runs every pass once and notifies subscribers after each.
func (w *Worker) RefreshAll(ctx context.Context) {
	for _, p := range w.passes() {
		w.runPass(ctx, p.reg, p.fn)
	}
}

type pass struct {
	reg      Registry
	interval time.Duration
	fn       func(context.Context)
}

func (w *Worker) passes() []pass {
	return []pass{
		{RegistryRRD, w.intervals.Departures, w.ProcessRRD},
		{RegistryRRA, w.intervals.Arrivals, w.ProcessRRA},
		{RegistryRRR, w.intervals.Routes, w.ProcessRRR},
		{RegistryRP3, w.intervals.Routes, w.ProcessRP3},
		{RegistryFP, w.intervals.Vehicles, w.ProcessFP},
	}
}

func (w *Worker) runPass(ctx context.Context, reg Registry, fn func(context.Context)) {
	w.running.Store(true)
	start := time.Now()
	fn(ctx)
	w.running.Store(false)
	slog.Debug("worker: pass complete", "registry", reg, "duration", time.Since(start))
	w.notify(reg)
}

// Run performs an initial refresh of every registry, then ticks each pass at
// its interval (one minute when unset) until ctx is cancelled. Passes never
// overlap.
func (w *Worker) Run(ctx context.Context) {
	var passMu sync.Mutex
	run := func(p pass) {
		passMu.Lock()
		defer passMu.Unlock()
		if ctx.Err() == nil {
			w.runPass(ctx, p.reg, p.fn)
		}
	}

	for _, p := range w.passes() {
		run(p)
	}
	w.startup.Store(false)
	slog.Info("worker: startup refresh complete")

	var wg sync.WaitGroup
	for _, p := range w.passes() {
		interval := p.interval
		if interval <= 0 {
			interval = time.Minute
		}
		wg.Add(1)
		go func(p pass) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					run(p)
				}
			}
		}(p)
	}
	wg.Wait()
}
