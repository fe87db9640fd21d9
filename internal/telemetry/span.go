package telemetry

import (
	"sync"
	"time"
)

// Span is one named, timed unit of work (e.g. an orchestrator rebuild phase
// or a network fetch).
type Span struct {
	Name      string
	StartedAt time.Time
}

// Age returns how long the span has been active, relative to now.
func (s Span) Age(now time.Time) time.Duration { return now.Sub(s.StartedAt) }

// CompletedSpan is a finished span retained for the diagnostic message.
type CompletedSpan struct {
	Name     string
	Duration time.Duration
}

const recentSpanCap = 32

// SpanTracker tracks in-flight spans and a bounded history of recently
// completed ones, for the CPU-spike diagnostic message (spec §4.G: "active
// span names with ages, recent span names with durations").
type SpanTracker struct {
	mu     sync.Mutex
	active map[int64]Span
	nextID int64
	recent []CompletedSpan
}

// NewSpanTracker constructs an empty tracker.
func NewSpanTracker() *SpanTracker {
	return &SpanTracker{active: map[int64]Span{}}
}

// SpanHandle ends a started span.
type SpanHandle struct {
	tracker *SpanTracker
	id      int64
	name    string
	start   time.Time
}

// Start begins tracking a named span.
func (t *SpanTracker) Start(name string) *SpanHandle {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	start := time.Now()
	t.active[id] = Span{Name: name, StartedAt: start}
	t.mu.Unlock()
	return &SpanHandle{tracker: t, id: id, name: name, start: start}
}

// End completes the span, recording its duration into the recent-history
// ring and removing it from the active set.
func (h *SpanHandle) End() {
	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	delete(h.tracker.active, h.id)
	h.tracker.recent = append(h.tracker.recent, CompletedSpan{Name: h.name, Duration: time.Since(h.start)})
	if len(h.tracker.recent) > recentSpanCap {
		h.tracker.recent = h.tracker.recent[len(h.tracker.recent)-recentSpanCap:]
	}
}

// Active returns a snapshot of currently in-flight spans.
func (t *SpanTracker) Active() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s)
	}
	return out
}

// Recent returns a snapshot of recently completed spans, oldest first.
func (t *SpanTracker) Recent() []CompletedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CompletedSpan, len(t.recent))
	copy(out, t.recent)
	return out
}
