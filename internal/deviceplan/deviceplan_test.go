package deviceplan

import "testing"

func dev(id string, priority int, expectedKw float64) Device {
	return Device{
		ID:              id,
		Name:            id,
		Zone:            "main",
		Priority:        priority,
		Controllable:    true,
		CurrentState:    StateOn,
		ExpectedPowerKw: expectedKw,
	}
}

func TestCapacityShedsLeastImportantFirst(t *testing.T) {
	// A(3kW, pri 10) and B(2kW, pri 1), soft limit 4.8kW: only the least
	// important (higher priority number) device should be shed.
	in := Input{
		SoftLimitKw: 4.8,
		Devices: []Device{
			dev("A", 10, 3),
			dev("B", 1, 2),
		},
	}
	plan := Build(in)

	var shedIDs []string
	for _, d := range plan.Devices {
		if d.PlannedState == PlanShed {
			shedIDs = append(shedIDs, d.ID)
		}
	}
	if len(shedIDs) != 1 || shedIDs[0] != "A" {
		t.Fatalf("expected only A shed, got %+v", shedIDs)
	}
}

func TestNoSheddingWithinLimit(t *testing.T) {
	in := Input{
		SoftLimitKw: 10,
		Devices: []Device{
			dev("A", 10, 3),
			dev("B", 1, 2),
		},
	}
	plan := Build(in)
	for _, d := range plan.Devices {
		if d.PlannedState != PlanKeep {
			t.Fatalf("expected device %s kept under headroom, got %s", d.ID, d.PlannedState)
		}
	}
	if plan.Meta.LimitReason != LimitNone {
		t.Fatalf("expected LimitNone, got %s", plan.Meta.LimitReason)
	}
}

func TestLowerPriorityNumberNeverShedWhileHigherNumberRemainsOn(t *testing.T) {
	// Property #6: no device with lower priority number is shed while a
	// higher-numbered device remains on.
	in := Input{
		SoftLimitKw: 5,
		Devices: []Device{
			dev("important", 1, 4),
			dev("mid", 5, 4),
			dev("least", 9, 4),
		},
	}
	plan := Build(in)

	byID := map[string]Decision{}
	for _, d := range plan.Devices {
		byID[d.ID] = d
	}

	if byID["least"].PlannedState != PlanShed {
		t.Fatalf("expected least-important device shed first, got %+v", byID["least"])
	}
	if byID["important"].PlannedState == PlanShed && byID["mid"].PlannedState != PlanShed {
		t.Fatalf("lower-numbered device shed while higher-numbered device remains on: %+v", byID)
	}
}

func TestTieBreaksByGreaterExpectedPowerFirst(t *testing.T) {
	in := Input{
		SoftLimitKw: 4,
		Devices: []Device{
			dev("small", 5, 1),
			dev("big", 5, 4),
		},
	}
	plan := Build(in)

	byID := map[string]Decision{}
	for _, d := range plan.Devices {
		byID[d.ID] = d
	}
	if byID["big"].PlannedState != PlanShed {
		t.Fatalf("expected the higher-power device shed first among equal priority, got %+v", byID)
	}
	if byID["small"].PlannedState == PlanShed {
		t.Fatalf("did not expect the lower-power device shed once headroom is restored, got %+v", byID)
	}
}

func TestDailyBudgetSheddingRequiresPriceOptimizableAndNonCheapPrice(t *testing.T) {
	in := Input{
		SoftLimitKw:         100,
		DailyBudgetExceeded: true,
		Devices: []Device{
			{ID: "opt", Name: "opt", Controllable: true, PriceOptimizable: true, CurrentState: StateOn, ExpectedPowerKw: 1},
			{ID: "not-opt", Name: "not-opt", Controllable: true, PriceOptimizable: false, CurrentState: StateOn, ExpectedPowerKw: 1},
		},
	}
	plan := Build(in)

	byID := map[string]Decision{}
	for _, d := range plan.Devices {
		byID[d.ID] = d
	}
	if byID["opt"].PlannedState != PlanShed {
		t.Fatalf("expected price-optimizable device shed on exceeded daily budget, got %+v", byID["opt"])
	}
	if byID["not-opt"].PlannedState != PlanKeep {
		t.Fatalf("expected non-optimizable device kept, got %+v", byID["not-opt"])
	}
	if plan.Meta.LimitReason != LimitDaily {
		t.Fatalf("expected LimitDaily, got %s", plan.Meta.LimitReason)
	}

	// Cheap price suppresses daily-budget shedding.
	in.CurrentPriceIsCheap = true
	plan2 := Build(in)
	for _, d := range plan2.Devices {
		if d.PlannedState == PlanShed {
			t.Fatalf("expected no shedding at a cheap price, got %+v", d)
		}
	}
}

func TestShedActionUsesSetTemperatureWhenConfigured(t *testing.T) {
	d := dev("heater", 9, 3)
	d.HasSetTemperature = true
	d.OvershootPolicy = OvershootSetTemperature
	d.OvershootTemperature = 16

	in := Input{SoftLimitKw: 1, Devices: []Device{d}}
	plan := Build(in)
	got := plan.Devices[0]
	if got.PlannedState != PlanShed {
		t.Fatalf("expected device shed, got %+v", got)
	}
	if got.ShedAction != ShedSetTemperature {
		t.Fatalf("expected set_temperature shed action, got %s", got.ShedAction)
	}
	if got.PlannedTarget == nil || *got.PlannedTarget != 16 {
		t.Fatalf("expected planned target 16, got %+v", got.PlannedTarget)
	}
}

func TestCheapHourOvershootShadedWithoutRemainingDaylight(t *testing.T) {
	d := dev("heater", 1, 1)
	d.HasSetTemperature = true
	d.TargetTemperature = 20
	d.CheapDelta = 2

	d.HasDaylightRemaining = true
	withSun := Build(Input{SoftLimitKw: 100, CurrentPriceIsCheap: true, Devices: []Device{d}})
	if got := *withSun.Devices[0].PlannedTarget; got != 22 {
		t.Fatalf("expected full cheap delta with daylight remaining, got %v", got)
	}

	d.HasDaylightRemaining = false
	withoutSun := Build(Input{SoftLimitKw: 100, CurrentPriceIsCheap: true, Devices: []Device{d}})
	if got := *withoutSun.Devices[0].PlannedTarget; got != 21 {
		t.Fatalf("expected shaded cheap delta without remaining daylight, got %v", got)
	}
}

func TestDevicesSortedByPriorityThenZoneThenName(t *testing.T) {
	in := Input{
		SoftLimitKw: 100,
		Devices: []Device{
			{ID: "z1", Name: "b", Zone: "z", Priority: 5, CurrentState: StateOn},
			{ID: "a1", Name: "a", Zone: "a", Priority: 1, CurrentState: StateOn},
			{ID: "z2", Name: "a", Zone: "z", Priority: 5, CurrentState: StateOn},
		},
	}
	plan := Build(in)
	order := []string{plan.Devices[0].ID, plan.Devices[1].ID, plan.Devices[2].ID}
	want := []string{"a1", "z2", "z1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected sort order: got %+v want %+v", order, want)
		}
	}
}
