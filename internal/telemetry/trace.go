package telemetry

import (
	"sync"
	"time"
)

// RebuildTrace records the per-phase duration of one orchestrator rebuild
// cycle (spec §4.G): queue-wait, build, change, snapshot, status, apply.
type RebuildTrace struct {
	Reason     string
	StartedAt  time.Time
	QueueWait  time.Duration
	Build      time.Duration
	Change     time.Duration
	Snapshot   time.Duration
	Status     time.Duration
	Apply      time.Duration
	Failed     bool
	FailReason string
}

// Total is the sum of all recorded phases.
func (t RebuildTrace) Total() time.Duration {
	return t.QueueWait + t.Build + t.Change + t.Snapshot + t.Status + t.Apply
}

const traceRingSize = 64

// TraceRing is a bounded ring buffer retaining the last 64 rebuild traces
// (spec §4.G).
type TraceRing struct {
	mu     sync.Mutex
	traces []RebuildTrace
}

// NewTraceRing constructs an empty ring.
func NewTraceRing() *TraceRing {
	return &TraceRing{}
}

// Add appends a trace, evicting the oldest entry once the ring is full.
func (r *TraceRing) Add(t RebuildTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
	if len(r.traces) > traceRingSize {
		r.traces = r.traces[len(r.traces)-traceRingSize:]
	}
}

// Recent returns a copy of the retained traces, oldest first.
func (r *TraceRing) Recent() []RebuildTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RebuildTrace, len(r.traces))
	copy(out, r.traces)
	return out
}

// Summary aggregates the retained traces for the CPU-spike diagnostic
// message. No periodic perf-counter emission uses it.
type Summary struct {
	Count        int
	FailedCount  int
	AvgTotal     time.Duration
	MaxTotal     time.Duration
	LastReason   string
}

// Summarize computes a Summary over the retained traces.
func (r *TraceRing) Summarize() Summary {
	traces := r.Recent()
	if len(traces) == 0 {
		return Summary{}
	}
	var sum time.Duration
	var max time.Duration
	failed := 0
	for _, t := range traces {
		total := t.Total()
		sum += total
		if total > max {
			max = total
		}
		if t.Failed {
			failed++
		}
	}
	return Summary{
		Count:       len(traces),
		FailedCount: failed,
		AvgTotal:    sum / time.Duration(len(traces)),
		MaxTotal:    max,
		LastReason:  traces[len(traces)-1].Reason,
	}
}

// Reset clears the ring. Exposed for tests.
func (r *TraceRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = nil
}
