// Package orchestrator implements the cooperating-task scheduler (spec
// component G): fast tick, hourly rebuild, price refresh, a debounced
// settings-change rebuild trigger, a single-slot rebuild queue, rebuild
// tracing, and a CPU-spike monitor. Grounded on scheduler/scheduler.go's
// PeriodicTask (ticker + stopChan + ctx.Done select) and getInitialDelay,
// and scheduler/server.go's periodic-broadcast goroutine shape.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/devskill-org/homeenergy/internal/telemetry"
)

// PeriodicTask runs runFunc once (after an optional initial delay to align
// to a wall-clock boundary) and then every interval, until ctx is done or
// stop is closed.
type PeriodicTask struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	RunFunc      func(ctx context.Context)
}

func (pt *PeriodicTask) run(ctx context.Context, stop <-chan struct{}, log *telemetry.Logger) {
	if pt.InitialDelay > 0 {
		select {
		case <-time.After(pt.InitialDelay):
			pt.RunFunc(ctx)
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	} else {
		pt.RunFunc(ctx)
	}

	ticker := time.NewTicker(pt.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pt.RunFunc(ctx)
		case <-ctx.Done():
			log.Debug("orchestrator", "task_stopped", map[string]any{"task": pt.Name, "cause": "context"})
			return
		case <-stop:
			log.Debug("orchestrator", "task_stopped", map[string]any{"task": pt.Name, "cause": "stop"})
			return
		}
	}
}

// getInitialDelay returns the delay until the next wall-clock boundary that
// is an exact multiple of interval past the top of the hour.
func getInitialDelay(now time.Time, interval time.Duration) time.Duration {
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	delay := now.Sub(top)
	for delay > 0 {
		delay -= interval
	}
	return -delay
}

// RebuildHooks are the phases of one rebuild, timed individually and fed
// into the rebuild trace. A nil hook is treated as an instant no-op.
type RebuildHooks struct {
	Build    func(ctx context.Context, reason string) error
	Change   func(ctx context.Context, reason string) error
	Snapshot func(ctx context.Context, reason string) error
	Status   func(ctx context.Context, reason string) error
	Apply    func(ctx context.Context, reason string) error
}

// Config wires the orchestrator's tasks and dependencies.
type Config struct {
	FastTickInterval     time.Duration // default 3s
	PriceRefreshInterval time.Duration // default 3h
	DebounceInterval     time.Duration // default 250ms
	PerfSampleInterval   time.Duration // default 1s

	FastTick     func(ctx context.Context)
	PriceRefresh func(ctx context.Context) error
	Rebuild      RebuildHooks

	Log   *telemetry.Logger
	Trace *telemetry.TraceRing
	Spans *telemetry.SpanTracker
	Perf  *telemetry.PerfMonitor
}

// Orchestrator runs the spec's three cooperating tasks plus the debounced
// settings-change rebuild trigger and CPU-spike monitor.
type Orchestrator struct {
	cfg Config

	mu                sync.Mutex
	rebuildInProgress bool
	queuedReason      string
	queuedAt          time.Time

	debounceMu     sync.Mutex
	debouncePend   string
	debounceTimer  *time.Timer

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Orchestrator, filling in spec defaults for any zero
// duration fields.
func New(cfg Config) *Orchestrator {
	if cfg.FastTickInterval == 0 {
		cfg.FastTickInterval = 3 * time.Second
	}
	if cfg.PriceRefreshInterval == 0 {
		cfg.PriceRefreshInterval = 3 * time.Hour
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 250 * time.Millisecond
	}
	if cfg.PerfSampleInterval == 0 {
		cfg.PerfSampleInterval = time.Second
	}
	if cfg.Log == nil {
		cfg.Log = telemetry.NewLogger(nil, "orchestrator")
	}
	return &Orchestrator{cfg: cfg, stop: make(chan struct{})}
}

// Start launches the fast tick, hourly rebuild, price refresh, and
// CPU-spike monitor tasks. The hourly rebuild requests
// RequestRebuild("hourly") at each top of the hour in the location of
// time.Now(); like every PeriodicTask it runs once immediately when Start
// is called exactly on a boundary.
func (o *Orchestrator) Start(ctx context.Context) {
	now := time.Now()

	if o.cfg.FastTick != nil {
		task := &PeriodicTask{
			Name:     "fast_tick",
			Interval: o.cfg.FastTickInterval,
			RunFunc:  o.cfg.FastTick,
		}
		o.wg.Add(1)
		go func() { defer o.wg.Done(); task.run(ctx, o.stop, o.cfg.Log) }()
	}

	if o.cfg.PriceRefresh != nil {
		task := &PeriodicTask{
			Name:         "price_refresh",
			InitialDelay: getInitialDelay(now, o.cfg.PriceRefreshInterval),
			Interval:     o.cfg.PriceRefreshInterval,
			RunFunc: func(ctx context.Context) {
				if err := o.cfg.PriceRefresh(ctx); err != nil {
					o.cfg.Log.Error("orchestrator", "price_refresh_failed", map[string]any{"error": err.Error()})
					return
				}
				o.RequestRebuild("price_refresh")
			},
		}
		o.wg.Add(1)
		go func() { defer o.wg.Done(); task.run(ctx, o.stop, o.cfg.Log) }()
	}

	hourly := &PeriodicTask{
		Name:         "hourly_rebuild",
		InitialDelay: getInitialDelay(now, time.Hour),
		Interval:     time.Hour,
		RunFunc:      func(ctx context.Context) { o.RequestRebuild("hourly") },
	}
	o.wg.Add(1)
	go func() { defer o.wg.Done(); hourly.run(ctx, o.stop, o.cfg.Log) }()

	if o.cfg.Perf != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			ticker := time.NewTicker(o.cfg.PerfSampleInterval)
			defer ticker.Stop()
			for {
				select {
				case t := <-ticker.C:
					o.cfg.Perf.Sample(t)
				case <-ctx.Done():
					return
				case <-o.stop:
					return
				}
			}
		}()
	}
}

// Stop signals every running task to exit and waits for them to return.
func (o *Orchestrator) Stop() {
	close(o.stop)
	o.wg.Wait()
}

// NotifySettingsChanged coalesces settings-change notifications into a
// single debounced rebuild: repeated calls within DebounceInterval collapse
// into one rebuild request, using the most recent reason (spec §9's
// "latest-timestamp-wins on the reason string").
func (o *Orchestrator) NotifySettingsChanged(reason string) {
	o.debounceMu.Lock()
	defer o.debounceMu.Unlock()

	o.debouncePend = reason
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	o.debounceTimer = time.AfterFunc(o.cfg.DebounceInterval, func() {
		o.debounceMu.Lock()
		r := o.debouncePend
		o.debouncePend = ""
		o.debounceMu.Unlock()
		if r != "" {
			o.RequestRebuild(r)
		}
	})
}

// RequestRebuild implements the single-slot FIFO: at most one rebuild in
// progress, at most one queued. A request arriving while one is already
// queued collapses into it, retaining the earliest reason string (spec
// §4.G).
func (o *Orchestrator) RequestRebuild(reason string) {
	o.mu.Lock()
	if o.rebuildInProgress {
		if o.queuedReason == "" {
			o.queuedReason = reason
			o.queuedAt = time.Now()
		}
		o.mu.Unlock()
		return
	}
	o.rebuildInProgress = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runRebuild(reason, time.Now())
}

func (o *Orchestrator) runRebuild(reason string, queuedAt time.Time) {
	defer o.wg.Done()

	trace := telemetry.RebuildTrace{Reason: reason, StartedAt: queuedAt}
	trace.QueueWait = time.Since(queuedAt)

	ctx := context.Background()
	run := func(name string, fn func(ctx context.Context, reason string) error) time.Duration {
		if fn == nil {
			return 0
		}
		start := time.Now()
		if err := fn(ctx, reason); err != nil {
			trace.Failed = true
			trace.FailReason = name + ": " + err.Error()
			o.cfg.Log.Error("orchestrator", "rebuild_phase_failed", map[string]any{"phase": name, "reason": reason, "error": err.Error()})
		}
		return time.Since(start)
	}

	trace.Build = run("build", o.cfg.Rebuild.Build)
	if !trace.Failed {
		trace.Change = run("change", o.cfg.Rebuild.Change)
	}
	if !trace.Failed {
		trace.Snapshot = run("snapshot", o.cfg.Rebuild.Snapshot)
	}
	if !trace.Failed {
		trace.Status = run("status", o.cfg.Rebuild.Status)
	}
	if !trace.Failed {
		trace.Apply = run("apply", o.cfg.Rebuild.Apply)
	}

	if o.cfg.Trace != nil {
		o.cfg.Trace.Add(trace)
	}

	o.mu.Lock()
	next, nextQueuedAt := o.queuedReason, o.queuedAt
	o.queuedReason = ""
	if next == "" {
		o.rebuildInProgress = false
	}
	o.mu.Unlock()

	if next != "" {
		o.wg.Add(1)
		go o.runRebuild(next, nextQueuedAt)
	}
}
