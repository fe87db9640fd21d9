// Package settings implements the settings/flow adapter (spec component
// H): JSON config load/validate, a typed flat key-value store with
// change-notification, and flow-card-style action dispatch. Grounded on
// scheduler/config.go's DefaultConfig/LoadConfigFromReader/Validate
// pattern.
package settings

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the on-disk configuration the daemon is started with; most of
// its fields are also mirrored into the Store as persisted keys (spec §6).
// The daemon reads its running values from Config, so a Store write
// schedules a rebuild but does not change those values.
type Config struct {
	Zone string `json:"zone"` // IANA timezone, e.g. "Europe/Oslo"

	PriceScheme           string  `json:"price_scheme"` // norway | flow | homey
	PriceArea             string  `json:"price_area"`   // NO1..NO5
	PriceThresholdPercent float64 `json:"price_threshold_percent"`
	PriceMinDiffOre       float64 `json:"price_min_diff_ore"`
	PriceOptimizationOn   bool    `json:"price_optimization_enabled"`

	DailyBudgetKWh               float64 `json:"daily_budget_kwh"`
	DailyBudgetEnabled           bool    `json:"daily_budget_enabled"`
	PriceShapingEnabled          bool    `json:"daily_budget_price_shaping_enabled"`
	BreakdownEnabled             bool    `json:"daily_budget_breakdown_enabled"`
	ControlledWeight             float64 `json:"daily_budget_controlled_weight"`
	PriceShapingFlexShare        float64 `json:"daily_budget_price_flex_share"`

	CapacityLimitKw  float64 `json:"capacity_limit_kw"`
	CapacityMarginKw float64 `json:"capacity_margin_kw"`
	OperatingMode    string  `json:"operating_mode"`

	SpotURLFormat   string        `json:"spot_url_format"`
	TariffURLFormat string        `json:"tariff_url_format"`
	APITimeout      time.Duration `json:"api_timeout"`

	FastTickInterval     time.Duration `json:"fast_tick_interval"`
	PriceRefreshInterval time.Duration `json:"price_refresh_interval"`
	DebounceInterval     time.Duration `json:"debounce_interval"`

	PostgresConnString string `json:"postgres_conn_string"`
	HealthCheckPort    int    `json:"health_check_port"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DryRun bool `json:"dry_run"`
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		Zone: "UTC",

		PriceScheme:           "norway",
		PriceArea:             "NO1",
		PriceThresholdPercent: 10,
		PriceMinDiffOre:       5,
		PriceOptimizationOn:   true,

		DailyBudgetKWh:        20,
		DailyBudgetEnabled:    true,
		PriceShapingEnabled:   true,
		BreakdownEnabled:      true,
		ControlledWeight:      0.7,
		PriceShapingFlexShare: 0.3,

		CapacityLimitKw:  5,
		CapacityMarginKw: 0.2,
		OperatingMode:    "normal",

		SpotURLFormat:   "https://example.invalid/spot?area=%s&date=%s",
		TariffURLFormat: "https://example.invalid/tariff?date=%s",
		APITimeout:      10 * time.Second,

		FastTickInterval:     3 * time.Second,
		PriceRefreshInterval: 3 * time.Hour,
		DebounceInterval:     250 * time.Millisecond,

		HealthCheckPort: 0,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("settings: open config file: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes JSON over the defaults and validates the
// result.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("settings: decode config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings: invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfigToWriter writes cfg as indented JSON.
func (c *Config) SaveConfigToWriter(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("settings: encode config JSON: %w", err)
	}
	return nil
}

// Validate checks configuration invariants (spec §7 "configuration
// errors").
func (c *Config) Validate() error {
	if c.Zone == "" {
		return fmt.Errorf("zone cannot be empty")
	}
	switch c.PriceScheme {
	case "norway", "flow", "homey":
	default:
		return fmt.Errorf("price_scheme must be one of norway|flow|homey, got %q", c.PriceScheme)
	}
	if c.DailyBudgetKWh < 0 {
		return fmt.Errorf("daily_budget_kwh must be >= 0, got %v", c.DailyBudgetKWh)
	}
	if c.PriceThresholdPercent < 0 || c.PriceThresholdPercent > 100 {
		return fmt.Errorf("price_threshold_percent must be in [0,100], got %v", c.PriceThresholdPercent)
	}
	if c.CapacityLimitKw <= 0 {
		return fmt.Errorf("capacity_limit_kw must be > 0, got %v", c.CapacityLimitKw)
	}
	if c.CapacityMarginKw < 0 || c.CapacityMarginKw >= c.CapacityLimitKw {
		return fmt.Errorf("capacity_margin_kw must be in [0, capacity_limit_kw), got %v", c.CapacityMarginKw)
	}
	if c.ControlledWeight < 0 || c.ControlledWeight > 1 {
		return fmt.Errorf("daily_budget_controlled_weight must be in [0,1], got %v", c.ControlledWeight)
	}
	if c.PriceShapingFlexShare < 0 || c.PriceShapingFlexShare > 1 {
		return fmt.Errorf("daily_budget_price_flex_share must be in [0,1], got %v", c.PriceShapingFlexShare)
	}
	if c.FastTickInterval <= 0 {
		return fmt.Errorf("fast_tick_interval must be > 0, got %s", c.FastTickInterval)
	}
	return nil
}
