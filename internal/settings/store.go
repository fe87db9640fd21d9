package settings

import (
	"fmt"
	"sync"
)

// snapshotKeys are written frequently by the daemon's own rebuild output;
// writing them must not itself schedule another rebuild (spec §6: "Any
// write to a known key schedules a rebuild (except pure snapshot keys, to
// avoid loops)").
var snapshotKeys = map[string]bool{
	"combined_prices":      true,
	"power_tracker_state":  true,
	"device_plan_snapshot": true,
}

// ChangeEvent is delivered to subscribers on every Set call.
type ChangeEvent struct {
	Key              string
	OldValue         any
	NewValue         any
	SchedulesRebuild bool
}

// Validator validates a candidate value for a key before it is stored.
type Validator func(value any) error

// FlowHandler implements one flow-card-style action (spec §6, UI-triggered
// actions such as refresh tokens and price-optimization-settings writes).
type FlowHandler func(args map[string]any) error

// Store is the flat, typed key-value store described in spec §6, with
// change notification and flow-card dispatch.
type Store struct {
	mu     sync.RWMutex
	values map[string]any

	validators map[string]Validator

	subMu       sync.Mutex
	subscribers map[int]chan ChangeEvent
	nextSubID   int

	flowMu   sync.RWMutex
	handlers map[string]FlowHandler
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		values:      map[string]any{},
		validators:  map[string]Validator{},
		subscribers: map[int]chan ChangeEvent{},
		handlers:    map[string]FlowHandler{},
	}
}

// RegisterValidator attaches a validator to a key; Set rejects a value the
// validator refuses and leaves the previous value in place.
func (s *Store) RegisterValidator(key string, v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[key] = v
}

// Get returns the raw value and whether the key is present.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetFloat returns the float64 value for key, or def if absent/wrong type.
func (s *Store) GetFloat(key string, def float64) float64 {
	if v, ok := s.Get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// GetString returns the string value for key, or def if absent/wrong type.
func (s *Store) GetString(key string, def string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// GetBool returns the bool value for key, or def if absent/wrong type.
func (s *Store) GetBool(key string, def bool) bool {
	if v, ok := s.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Set validates (if a validator is registered) and stores value, then
// notifies subscribers. On validation failure the previous value is
// retained and the error returned (spec §7 "configuration errors").
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	if v, ok := s.validators[key]; ok {
		if err := v(value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("settings: %s: %w", key, err)
		}
	}
	old := s.values[key]
	s.values[key] = value
	s.mu.Unlock()

	s.notify(ChangeEvent{
		Key:              key,
		OldValue:         old,
		NewValue:         value,
		SchedulesRebuild: !snapshotKeys[key],
	})
	return nil
}

// SetSnapshot writes a pure-snapshot key without scheduling a rebuild,
// regardless of whether the key is in the well-known snapshot set.
func (s *Store) SetSnapshot(key string, value any) {
	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	s.mu.Unlock()

	s.notify(ChangeEvent{Key: key, OldValue: old, NewValue: value, SchedulesRebuild: false})
}

func (s *Store) notify(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the writer. The
			// orchestrator's debounce means a dropped notification is
			// superseded by the next one anyway.
		}
	}
}

// Subscribe returns a channel of change events and an unsubscribe
// function. The channel is buffered; a subscriber that falls behind will
// miss events rather than stall writers.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan ChangeEvent, 16)
	s.subscribers[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
	}
}

// RegisterFlowHandler attaches a handler for a flow-card-style action id.
func (s *Store) RegisterFlowHandler(actionID string, h FlowHandler) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	s.handlers[actionID] = h
}

// Dispatch invokes the handler registered for actionID.
func (s *Store) Dispatch(actionID string, args map[string]any) error {
	s.flowMu.RLock()
	h, ok := s.handlers[actionID]
	s.flowMu.RUnlock()
	if !ok {
		return fmt.Errorf("settings: no flow handler registered for %q", actionID)
	}
	return h(args)
}

// SeedFromConfig populates the store's persisted keys from a loaded
// Config, without triggering subscriber notifications (this is the
// initial load, not a runtime change).
func SeedFromConfig(s *Store, cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values["price_scheme"] = cfg.PriceScheme
	s.values["price_area"] = cfg.PriceArea
	s.values["price_threshold_percent"] = cfg.PriceThresholdPercent
	s.values["price_min_diff_ore"] = cfg.PriceMinDiffOre
	s.values["price_optimization_enabled"] = cfg.PriceOptimizationOn
	s.values["daily_budget_kwh"] = cfg.DailyBudgetKWh
	s.values["daily_budget_enabled"] = cfg.DailyBudgetEnabled
	s.values["daily_budget_price_shaping_enabled"] = cfg.PriceShapingEnabled
	s.values["daily_budget_breakdown_enabled"] = cfg.BreakdownEnabled
	s.values["daily_budget_controlled_weight"] = cfg.ControlledWeight
	s.values["daily_budget_price_flex_share"] = cfg.PriceShapingFlexShare
	s.values["capacity_limit_kw"] = cfg.CapacityLimitKw
	s.values["capacity_margin_kw"] = cfg.CapacityMarginKw
	s.values["operating_mode"] = cfg.OperatingMode
}
