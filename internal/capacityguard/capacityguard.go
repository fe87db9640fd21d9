// Package capacityguard implements the instantaneous-kW state machine
// (spec component F): ok / overshoot / shortfall_wait_clear with
// hysteresis, generalized from scheduler/miners.go's single
// price-threshold shedding check into an explicit three-state machine (the
// teacher has no hysteresis timer; this is new behavior the spec requires).
package capacityguard

import (
	"sort"
	"sync"
	"time"
)

// State is one of the three control-loop states.
type State string

const (
	StateOK                  State = "ok"
	StateOvershoot           State = "overshoot"
	StateShortfallWaitClear  State = "shortfall_wait_clear"
)

const (
	defaultHysteresisMarginKw = 0.2
	defaultSustainedClear     = 60 * time.Second
)

// Allocation is one controllable device currently counted as "on" against
// the guard's running sum.
type Allocation struct {
	ID         string
	Label      string
	ExpectedKw float64
	Priority   int
}

// Actuator turns a device off. When DryRun is set it is never invoked, but
// the guard's internal bookkeeping still updates as though it had been.
type Actuator func(id string) error

// Guard is the capacity guard's state.
type Guard struct {
	mu sync.Mutex

	SoftLimitKw          float64
	SoftMarginKw         float64
	ShortfallThresholdKw float64 // 0 means "use SoftLimitKw"
	HysteresisMarginKw   float64
	SustainedClear       time.Duration
	DryRun               bool
	Actuator             Actuator

	OnShortfall        func(deficit float64)
	OnShortfallCleared func()

	state        State
	allocations  map[string]Allocation
	currentSumKw float64
	lastTotalKw  float64
	clearSince   *time.Time
	shedLog      []string
}

// New constructs a Guard with spec-default hysteresis/timing.
func New() *Guard {
	return &Guard{
		HysteresisMarginKw: defaultHysteresisMarginKw,
		SustainedClear:     defaultSustainedClear,
		state:              StateOK,
		allocations:        map[string]Allocation{},
	}
}

func (g *Guard) effectiveThreshold() float64 {
	if g.ShortfallThresholdKw != 0 {
		return g.ShortfallThresholdKw
	}
	return g.SoftLimitKw
}

// State returns the guard's current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RequestOn implements spec §4.F's admission gate: accepted only when
// current_sum + expectedKw <= softLimit - softMarginKw.
func (g *Guard) RequestOn(id, label string, expectedKw float64, priority int) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.currentSumKw+expectedKw > g.SoftLimitKw-g.SoftMarginKw {
		return false, "plan limit exceeded"
	}
	g.allocations[id] = Allocation{ID: id, Label: label, ExpectedKw: expectedKw, Priority: priority}
	g.currentSumKw += expectedKw
	return true, ""
}

// SeedAllocation force-registers a device as already on, bypassing the
// admission gate — used to sync the guard's bookkeeping with devices the
// plan builder already reports as running.
func (g *Guard) SeedAllocation(id, label string, expectedKw float64, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.allocations[id]; ok {
		g.currentSumKw -= existing.ExpectedKw
	}
	g.allocations[id] = Allocation{ID: id, Label: label, ExpectedKw: expectedKw, Priority: priority}
	g.currentSumKw += expectedKw
}

// ReportOff removes a device from the running allocation set (e.g. it was
// turned off for a reason unrelated to shedding).
func (g *Guard) ReportOff(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.allocations[id]; ok {
		g.currentSumKw -= a.ExpectedKw
		delete(g.allocations, id)
	}
}

// ReportTotalPower records the latest measured totalKw sample.
func (g *Guard) ReportTotalPower(kw float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTotalKw = kw
}

// shedCandidates returns allocations sorted in shed order: descending
// priority number (least important first), ties broken by largest
// expected kW first (property #6).
func (g *Guard) shedCandidates() []Allocation {
	out := make([]Allocation, 0, len(g.allocations))
	for _, a := range g.allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ExpectedKw > out[j].ExpectedKw
	})
	return out
}

func (g *Guard) headroomOK(runningKw float64) bool {
	return runningKw <= g.SoftLimitKw-g.HysteresisMarginKw
}

// Tick runs one control-loop iteration against the latest reported power
// sample (spec §4.F).
func (g *Guard) Tick(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	threshold := g.effectiveThreshold()
	totalKw := g.lastTotalKw

	if g.state == StateOK {
		if totalKw > threshold {
			deficit := totalKw - threshold
			g.state = StateOvershoot
			g.clearSince = nil
			if g.OnShortfall != nil {
				g.OnShortfall(deficit)
			}
		}
	}

	switch g.state {
	case StateOK:
		// handled above; nothing further this tick.

	case StateOvershoot:
		running := totalKw
		for !g.headroomOK(running) {
			candidates := g.shedCandidates()
			if len(candidates) == 0 {
				break
			}
			victim := candidates[0]
			if !g.DryRun && g.Actuator != nil {
				g.Actuator(victim.ID)
			}
			delete(g.allocations, victim.ID)
			g.currentSumKw -= victim.ExpectedKw
			g.shedLog = append(g.shedLog, victim.ID)
			running -= victim.ExpectedKw
		}

		if g.headroomOK(running) {
			t := now
			g.state = StateShortfallWaitClear
			g.clearSince = &t
		}

	case StateShortfallWaitClear:
		if !g.headroomOK(totalKw) {
			g.clearSince = nil
			if totalKw > threshold {
				g.state = StateOvershoot
			}
			return
		}
		if g.clearSince == nil {
			t := now
			g.clearSince = &t
			return
		}
		if now.Sub(*g.clearSince) > g.SustainedClear {
			g.state = StateOK
			g.clearSince = nil
			if g.OnShortfallCleared != nil {
				g.OnShortfallCleared()
			}
		}
	}
}

// ShedLog returns the ordered list of device IDs the guard has actuated
// off since construction (or since ResetShedLog), for observability/tests.
func (g *Guard) ShedLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.shedLog))
	copy(out, g.shedLog)
	return out
}

// ResetShedLog clears the shed log.
func (g *Guard) ResetShedLog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shedLog = nil
}
