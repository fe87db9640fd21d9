// Package deviceplan builds the per-device keep/shed decision list (spec
// component E), grounded on scheduler/miners.go's manageMiners /
// getMinerPowerConsumption pattern: per-entity power accounting, a
// price-vs-limit decision, and a human-readable reason string attached to
// each decision for observability.
package deviceplan

import "sort"

// DeviceState mirrors the host's reported on/off/heating/idle state.
type DeviceState string

const (
	StateOn      DeviceState = "on"
	StateOff     DeviceState = "off"
	StateHeating DeviceState = "heating"
	StateIdle    DeviceState = "idle"
)

// PlannedState is the builder's keep/shed decision for a device.
type PlannedState string

const (
	PlanKeep PlannedState = "keep"
	PlanShed PlannedState = "shed"
)

// ShedAction is how a shed decision is carried out.
type ShedAction string

const (
	ShedPowerOff       ShedAction = "power_off"
	ShedSetTemperature ShedAction = "set_temperature"
)

// OvershootPolicy selects the ShedAction a device uses when shed.
type OvershootPolicy string

const (
	OvershootPowerOff       OvershootPolicy = "power_off"
	OvershootSetTemperature OvershootPolicy = "set_temperature"
)

// LimitReason records which constraint(s) drove shedding in this plan.
type LimitReason string

const (
	LimitNone   LimitReason = "none"
	LimitHourly LimitReason = "hourly"
	LimitDaily  LimitReason = "daily"
	LimitBoth   LimitReason = "both"
)

// Device is one controllable or fixed load as seen by the plan builder.
type Device struct {
	ID               string
	Name             string
	Zone             string
	Priority         int // lower number = more important = shed last
	Controllable     bool
	PriceOptimizable bool
	OvershootPolicy  OvershootPolicy
	HasSetTemperature bool

	CurrentState    DeviceState
	MeasuredPowerKw float64
	// ExpectedPowerKw is the last on-state measurement, falling back to a
	// device-settings hint, falling back to the mode default; the caller
	// resolves that fallback chain before calling Build.
	ExpectedPowerKw float64

	TargetTemperature   float64
	CheapDelta          float64
	ExpensiveDelta      float64
	OvershootTemperature float64
	// HasDaylightRemaining is the zone's suncalc daylight state for the
	// device's local day, resolved by the caller (internal/bucket.Daylight).
	// Devices with passive solar gain need less of a cheap-hour temperature
	// boost once the sun is down.
	HasDaylightRemaining bool
}

// daylightShadeFactor scales CheapDelta down once a device's zone has no
// remaining daylight today.
const daylightShadeFactor = 0.5

// Decision is the builder's output for one device.
type Decision struct {
	ID              string
	Name            string
	Zone            string
	Priority        int
	Controllable    bool
	CurrentState    DeviceState
	PlannedState    PlannedState
	ShedAction      ShedAction
	PlannedTarget   *float64
	ExpectedPowerKw float64
	MeasuredPowerKw float64
	Reason          string
}

// Meta aggregates plan-level figures (spec §3 "Plan meta").
type Meta struct {
	HeadroomKw               float64
	SoftLimitKw              float64
	ControlledKw             float64
	UncontrolledKw           float64
	UsedKWh                  float64
	DailyBudgetUsedKWh       float64
	DailyBudgetAllowedKWhNow float64
	DailyBudgetRemainingKWh  float64
	DailyBudgetPressure      float64
	DailyBudgetExceeded      bool
	HourlyBudgetExhausted    bool
	Shedding                 bool
	LimitReason              LimitReason
}

// Plan is the full per-device decision list plus meta.
type Plan struct {
	Devices []Decision
	Meta    Meta
}

// Input is everything Build needs for one tick.
type Input struct {
	Devices     []Device
	SoftLimitKw float64

	DailyBudgetExceeded      bool
	DailyBudgetUsedKWh       float64
	DailyBudgetAllowedKWhNow float64
	DailyBudgetRemainingKWh  float64
	DailyBudgetPressure      float64
	HourlyBudgetExhausted    bool

	CurrentPriceIsCheap     bool
	CurrentPriceIsExpensive bool
}

func power(d Device) float64 {
	if d.CurrentState == StateOff {
		return 0
	}
	if d.MeasuredPowerKw > 0 {
		return d.MeasuredPowerKw
	}
	return d.ExpectedPowerKw
}

// Build implements spec §4.E end-to-end: capacity shedding first (by least
// important, highest-power-first order), then price-optimizable shedding
// for devices still over the daily budget, then target-temperature
// resolution and final device-list ordering.
func Build(in Input) Plan {
	totalKw := 0.0
	for _, d := range in.Devices {
		totalKw += power(d)
	}
	headroom := in.SoftLimitKw - totalKw

	shedByCapacity := map[string]bool{}
	if headroom < 0 {
		candidates := make([]Device, 0, len(in.Devices))
		for _, d := range in.Devices {
			if d.Controllable && d.CurrentState != StateOff {
				candidates = append(candidates, d)
			}
		}
		// Shed order: least important first (higher priority number),
		// ties broken by greater expected power first (property #6).
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority > candidates[j].Priority
			}
			return power(candidates[i]) > power(candidates[j])
		})

		remaining := totalKw
		for _, d := range candidates {
			if remaining <= in.SoftLimitKw {
				break
			}
			shedByCapacity[d.ID] = true
			remaining -= power(d)
		}
	}

	var controlledKw, uncontrolledKw float64
	decisions := make([]Decision, 0, len(in.Devices))
	var anyHourly, anyDaily bool

	for _, d := range in.Devices {
		p := power(d)
		if d.Controllable {
			controlledKw += p
		} else {
			uncontrolledKw += p
		}

		dec := Decision{
			ID:              d.ID,
			Name:            d.Name,
			Zone:            d.Zone,
			Priority:        d.Priority,
			Controllable:    d.Controllable,
			CurrentState:    d.CurrentState,
			PlannedState:    PlanKeep,
			ExpectedPowerKw: d.ExpectedPowerKw,
			MeasuredPowerKw: d.MeasuredPowerKw,
			Reason:          "within limits",
		}

		hourlyShed := shedByCapacity[d.ID]
		dailyShed := d.Controllable && in.DailyBudgetExceeded && d.PriceOptimizable && !in.CurrentPriceIsCheap

		switch {
		case hourlyShed && dailyShed:
			dec.PlannedState = PlanShed
			dec.Reason = "capacity and daily budget both exceeded"
			anyHourly, anyDaily = true, true
		case hourlyShed:
			dec.PlannedState = PlanShed
			dec.Reason = "capacity limit exceeded"
			anyHourly = true
		case dailyShed:
			dec.PlannedState = PlanShed
			dec.Reason = "daily budget exceeded at non-cheap price"
			anyDaily = true
		}

		if dec.PlannedState == PlanShed {
			if d.HasSetTemperature && d.OvershootPolicy == OvershootSetTemperature {
				dec.ShedAction = ShedSetTemperature
				target := d.OvershootTemperature
				dec.PlannedTarget = &target
			} else {
				dec.ShedAction = ShedPowerOff
			}
		} else if d.HasSetTemperature {
			target := d.TargetTemperature
			switch {
			case in.CurrentPriceIsCheap:
				delta := d.CheapDelta
				if !d.HasDaylightRemaining {
					delta *= daylightShadeFactor
				}
				target += delta
			case in.CurrentPriceIsExpensive:
				target += d.ExpensiveDelta
			}
			dec.PlannedTarget = &target
		}

		decisions = append(decisions, dec)
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		if decisions[i].Priority != decisions[j].Priority {
			return decisions[i].Priority < decisions[j].Priority
		}
		if decisions[i].Zone != decisions[j].Zone {
			return decisions[i].Zone < decisions[j].Zone
		}
		return decisions[i].Name < decisions[j].Name
	})

	limitReason := LimitNone
	switch {
	case anyHourly && anyDaily:
		limitReason = LimitBoth
	case anyHourly:
		limitReason = LimitHourly
	case anyDaily:
		limitReason = LimitDaily
	}

	return Plan{
		Devices: decisions,
		Meta: Meta{
			HeadroomKw:               headroom,
			SoftLimitKw:              in.SoftLimitKw,
			ControlledKw:             controlledKw,
			UncontrolledKw:           uncontrolledKw,
			DailyBudgetUsedKWh:       in.DailyBudgetUsedKWh,
			DailyBudgetAllowedKWhNow: in.DailyBudgetAllowedKWhNow,
			DailyBudgetRemainingKWh:  in.DailyBudgetRemainingKWh,
			DailyBudgetPressure:      in.DailyBudgetPressure,
			DailyBudgetExceeded:      in.DailyBudgetExceeded,
			HourlyBudgetExhausted:    in.HourlyBudgetExhausted,
			Shedding:                 anyHourly || anyDaily,
			LimitReason:              limitReason,
		},
	}
}
