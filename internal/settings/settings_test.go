package settings

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoadConfigFromReaderAppliesDefaultsAndValidates(t *testing.T) {
	r := strings.NewReader(`{"zone":"Europe/Oslo","daily_budget_kwh":15}`)
	cfg, err := LoadConfigFromReader(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Zone != "Europe/Oslo" {
		t.Fatalf("expected overridden zone, got %q", cfg.Zone)
	}
	if cfg.DailyBudgetKWh != 15 {
		t.Fatalf("expected overridden daily budget, got %v", cfg.DailyBudgetKWh)
	}
	if cfg.PriceScheme != "norway" {
		t.Fatalf("expected default price_scheme to survive, got %q", cfg.PriceScheme)
	}
	if cfg.CapacityLimitKw != 5 {
		t.Fatalf("expected default capacity_limit_kw to survive, got %v", cfg.CapacityLimitKw)
	}
}

func TestLoadConfigFromReaderRejectsInvalidPriceScheme(t *testing.T) {
	r := strings.NewReader(`{"price_scheme":"bogus"}`)
	if _, err := LoadConfigFromReader(r); err == nil {
		t.Fatalf("expected an error for an unknown price_scheme")
	}
}

func TestLoadConfigFromReaderRejectsMarginAtOrAboveLimit(t *testing.T) {
	r := strings.NewReader(`{"capacity_limit_kw":3,"capacity_margin_kw":3}`)
	if _, err := LoadConfigFromReader(r); err == nil {
		t.Fatalf("expected an error when capacity_margin_kw >= capacity_limit_kw")
	}
}

func TestSaveConfigRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Zone = "Europe/Oslo"
	var buf bytes.Buffer
	if err := cfg.SaveConfigToWriter(&buf); err != nil {
		t.Fatalf("unexpected error saving config: %v", err)
	}
	loaded, err := LoadConfigFromReader(&buf)
	if err != nil {
		t.Fatalf("unexpected error reloading saved config: %v", err)
	}
	if loaded.Zone != "Europe/Oslo" {
		t.Fatalf("expected zone to round-trip, got %q", loaded.Zone)
	}
}

func TestStoreSetNotifiesSubscribersWithRebuildFlag(t *testing.T) {
	s := NewStore()
	ch, unsub := s.Subscribe()
	defer unsub()

	if err := s.Set("daily_budget_kwh", 12.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Key != "daily_budget_kwh" || !ev.SchedulesRebuild {
			t.Fatalf("expected a rebuild-scheduling change event, got %+v", ev)
		}
	default:
		t.Fatalf("expected a change event to be delivered")
	}
}

func TestStoreSnapshotKeysDoNotScheduleRebuild(t *testing.T) {
	s := NewStore()
	ch, unsub := s.Subscribe()
	defer unsub()

	if err := s.Set("combined_prices", []float64{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.SchedulesRebuild {
			t.Fatalf("expected a snapshot key write not to schedule a rebuild, got %+v", ev)
		}
	default:
		t.Fatalf("expected a change event to be delivered")
	}
}

func TestStoreSetSnapshotNeverSchedulesRebuild(t *testing.T) {
	s := NewStore()
	ch, unsub := s.Subscribe()
	defer unsub()

	s.SetSnapshot("device_plan_snapshot", "arbitrary")

	select {
	case ev := <-ch:
		if ev.SchedulesRebuild {
			t.Fatalf("expected SetSnapshot never to schedule a rebuild, got %+v", ev)
		}
	default:
		t.Fatalf("expected a change event to be delivered")
	}
}

func TestStoreValidatorRejectsAndRetainsPreviousValue(t *testing.T) {
	s := NewStore()
	s.RegisterValidator("capacity_limit_kw", func(v any) error {
		f, ok := v.(float64)
		if !ok || f <= 0 {
			return errNotPositive
		}
		return nil
	})

	if err := s.Set("capacity_limit_kw", 5.0); err != nil {
		t.Fatalf("unexpected error on valid set: %v", err)
	}
	if err := s.Set("capacity_limit_kw", -1.0); err == nil {
		t.Fatalf("expected an error rejecting a negative capacity limit")
	}

	got, _ := s.Get("capacity_limit_kw")
	if got.(float64) != 5.0 {
		t.Fatalf("expected previous value to be retained after a rejected write, got %v", got)
	}
}

func TestFlowDispatchInvokesRegisteredHandler(t *testing.T) {
	s := NewStore()
	var gotArgs map[string]any
	s.RegisterFlowHandler("set_daily_budget", func(args map[string]any) error {
		gotArgs = args
		return nil
	})

	if err := s.Dispatch("set_daily_budget", map[string]any{"kwh": 10.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs["kwh"] != 10.0 {
		t.Fatalf("expected handler to receive dispatch args, got %+v", gotArgs)
	}
}

func TestFlowDispatchUnknownActionErrors(t *testing.T) {
	s := NewStore()
	if err := s.Dispatch("nonexistent", nil); err == nil {
		t.Fatalf("expected an error dispatching an unregistered action")
	}
}

func TestSeedFromConfigPopulatesPersistedKeys(t *testing.T) {
	s := NewStore()
	cfg := DefaultConfig()
	SeedFromConfig(s, cfg)

	if v, _ := s.Get("price_scheme"); v != cfg.PriceScheme {
		t.Fatalf("expected price_scheme seeded, got %v", v)
	}
	if got := s.GetFloat("capacity_limit_kw", -1); got != cfg.CapacityLimitKw {
		t.Fatalf("expected capacity_limit_kw seeded, got %v", got)
	}
}

type simpleValidationErr string

func (e simpleValidationErr) Error() string { return string(e) }

var errNotPositive = simpleValidationErr("must be positive")
