package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// CPUSample is one 1s wall/CPU-time observation for the spike monitor.
type CPUSample struct {
	At           time.Time
	WallDuration time.Duration
	CPUPercent   float64
}

// PerfMonitor implements the spec §4.G CPU-spike monitor: sample every 1s;
// if cpu% >= threshold for >= N consecutive samples, or wall time exceeds
// 1.5x the expected interval, emit a throttled diagnostic message.
type PerfMonitor struct {
	mu sync.Mutex

	Threshold        float64 // default 85
	ConsecutiveLimit int     // default 3
	ExpectedInterval time.Duration
	ThrottleInterval time.Duration // default 5s

	samples      []CPUSample
	lastEmitted  time.Time
	lastCPUTime  time.Duration
	lastSampleAt time.Time

	Spans *SpanTracker
	Trace *TraceRing
	Log   *Logger
}

// NewPerfMonitor constructs a monitor with spec defaults.
func NewPerfMonitor(log *Logger, spans *SpanTracker, trace *TraceRing, expectedInterval time.Duration) *PerfMonitor {
	return &PerfMonitor{
		Threshold:        85,
		ConsecutiveLimit: 3,
		ExpectedInterval: expectedInterval,
		ThrottleInterval: 5 * time.Second,
		Spans:            spans,
		Trace:            trace,
		Log:              log,
	}
}

// cpuTimeNow approximates process CPU time from the Go runtime's GC/scheduler
// stats, since the standard library has no portable rusage call: we use
// NumGoroutine-weighted wall time as a proxy is wrong, so instead we track
// only wall-clock overrun directly and treat CPUPercent as best-effort via
// runtime.ReadMemStats pause/gc time, which is the only CPU-adjacent signal
// available without cgo or OS-specific syscalls.
func cpuTimeNow() time.Duration {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return time.Duration(m.PauseTotalNs)
}

// Sample records one observation and returns true if a diagnostic should be
// (and was) emitted, subject to the 5s throttle.
func (p *PerfMonitor) Sample(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cpuTime := cpuTimeNow()
	var cpuPct float64
	wall := p.ExpectedInterval
	if !p.lastSampleAt.IsZero() {
		wall = now.Sub(p.lastSampleAt)
		if wall > 0 {
			cpuPct = float64(cpuTime-p.lastCPUTime) / float64(wall) * 100
		}
	}
	p.lastCPUTime = cpuTime
	p.lastSampleAt = now

	p.samples = append(p.samples, CPUSample{At: now, WallDuration: wall, CPUPercent: cpuPct})
	if len(p.samples) > p.ConsecutiveLimit {
		p.samples = p.samples[len(p.samples)-p.ConsecutiveLimit:]
	}

	consecutiveHigh := len(p.samples) >= p.ConsecutiveLimit
	for _, s := range p.samples {
		if s.CPUPercent < p.Threshold {
			consecutiveHigh = false
			break
		}
	}

	wallOverrun := p.ExpectedInterval > 0 && wall >= time.Duration(1.5*float64(p.ExpectedInterval))

	if !consecutiveHigh && !wallOverrun {
		return false
	}
	if !p.lastEmitted.IsZero() && now.Sub(p.lastEmitted) < p.ThrottleInterval {
		return false
	}
	p.lastEmitted = now
	p.emit(now, cpuPct, wall)
	return true
}

func (p *PerfMonitor) emit(now time.Time, cpuPct float64, wall time.Duration) {
	if p.Log == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := map[string]any{
		"cpu_percent":  fmt.Sprintf("%.1f", cpuPct),
		"wall":         wall.String(),
		"rss_heap_mb":  fmt.Sprintf("%.1f", float64(m.HeapAlloc)/(1024*1024)),
		"goroutines":   runtime.NumGoroutine(),
	}
	if p.Spans != nil {
		active := p.Spans.Active()
		names := make([]string, 0, len(active))
		for _, s := range active {
			names = append(names, fmt.Sprintf("%s(%s)", s.Name, s.Age(now)))
		}
		fields["active_spans"] = names

		recent := p.Spans.Recent()
		recentNames := make([]string, 0, len(recent))
		for _, s := range recent {
			recentNames = append(recentNames, fmt.Sprintf("%s(%s)", s.Name, s.Duration))
		}
		fields["recent_spans"] = recentNames
	}
	if p.Trace != nil {
		fields["recent_rebuilds"] = p.Trace.Summarize()
	}
	p.Log.Error("telemetry", "cpu_spike", fields)
}
