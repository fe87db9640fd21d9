// Command homeenergyd is the home energy control service entry point,
// grounded on the teacher's main.go (flag parsing, config load, logger
// construction, signal handling, graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/homeenergy/internal/bucket"
	"github.com/devskill-org/homeenergy/internal/budget"
	"github.com/devskill-org/homeenergy/internal/capacityguard"
	"github.com/devskill-org/homeenergy/internal/devicehost"
	"github.com/devskill-org/homeenergy/internal/deviceplan"
	"github.com/devskill-org/homeenergy/internal/orchestrator"
	"github.com/devskill-org/homeenergy/internal/persistence"
	"github.com/devskill-org/homeenergy/internal/powertracker"
	"github.com/devskill-org/homeenergy/internal/price"
	"github.com/devskill-org/homeenergy/internal/price/spot"
	"github.com/devskill-org/homeenergy/internal/price/tariff"
	"github.com/devskill-org/homeenergy/internal/settings"
	"github.com/devskill-org/homeenergy/internal/statusserver"
	"github.com/devskill-org/homeenergy/internal/telemetry"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		help       = flag.Bool("help", false, "Show help message")
		serverOnly = flag.Bool("serverOnly", false, "Run only the status server, without the control loop")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := settings.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	fmt.Printf("Starting home energy control service with the following configuration:\n")
	fmt.Printf("  Zone: %s\n", cfg.Zone)
	fmt.Printf("  Price scheme: %s (area %s)\n", cfg.PriceScheme, cfg.PriceArea)
	fmt.Printf("  Daily budget: %.2f kWh\n", cfg.DailyBudgetKWh)
	fmt.Printf("  Capacity limit: %.2f kW (margin %.2f kW)\n", cfg.CapacityLimitKw, cfg.CapacityMarginKw)
	if cfg.DryRun {
		fmt.Printf("  Mode: DRY-RUN (actuator calls are simulated only)\n")
	}
	fmt.Println()

	logger := log.New(os.Stdout, "[homeenergyd] ", log.LstdFlags)
	logTel := telemetry.NewLogger(logger, "daemon")

	store := settings.NewStore()
	settings.SeedFromConfig(store, cfg)

	priceSvc := price.NewService(logTel.With("price"))
	priceSvc.Zone = cfg.Zone
	priceSvc.Area = cfg.PriceArea
	priceSvc.ThresholdPercent = cfg.PriceThresholdPercent
	priceSvc.MinDiffOre = cfg.PriceMinDiffOre
	priceSvc.Scheme = price.Scheme(cfg.PriceScheme)
	priceSvc.FetchSpot = spot.NewClient(cfg.SpotURLFormat).Fetch
	priceSvc.FetchTariff = tariff.NewClient(cfg.TariffURLFormat).Fetch

	tracker := powertracker.New(cfg.Zone)

	// softLimitKw is the derived threshold spec.md §3 defines as
	// "softLimitKw = limitKw - softMarginKw"; SoftMarginKw is kept on the
	// guard too since RequestOn's admission gate subtracts it a second time
	// for headroom on top of the already-derived limit.
	softLimitKw := cfg.CapacityLimitKw - cfg.CapacityMarginKw

	guard := capacityguard.New()
	guard.SoftLimitKw = softLimitKw
	guard.SoftMarginKw = cfg.CapacityMarginKw
	guard.DryRun = cfg.DryRun

	var snapStore *persistence.Store
	if cfg.PostgresConnString != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err := persistence.Open(ctx, cfg.PostgresConnString)
		cancel()
		if err != nil {
			logTel.Error("daemon", "persistence_open_failed", map[string]any{"error": err.Error()})
		} else {
			snapStore = s
			defer snapStore.Close()
		}
	}

	// A real deployment wires a ModbusDeviceHost here, registering each
	// device's register map from its own config section (device serial
	// port/TCP address, per-capability register offsets). host stays nil
	// until that's configured, and every consumer below treats a nil host
	// as "no devices" rather than an error.
	var host devicehost.DeviceHost

	guard.Actuator = func(id string) error {
		if host == nil {
			return nil
		}
		ctx := context.Background()
		if host.HasCapability(id, devicehost.CapabilityOnOff) {
			return host.SetCapability(ctx, id, devicehost.CapabilityOnOff, false)
		}
		if host.HasCapability(id, devicehost.CapabilityPower) {
			return host.SetCapability(ctx, id, devicehost.CapabilityPower, 0.0)
		}
		return nil
	}

	var currentPlan deviceplan.Plan
	running := true
	var dayPlan budget.Plan

	// devicePriority carries each device's shed priority from the last
	// built plan into the fast tick's guard bookkeeping, since
	// devicehost.DeviceInfo itself has no notion of priority.
	devicePriority := map[string]int{}

	health := statusserver.New(cfg.HealthCheckPort, func() any {
		return map[string]any{
			"capacity_guard_state": guard.State(),
			"distinct_days":        tracker.DistinctDays(),
			"device_plan":          currentPlan,
			"daily_plan":           dayPlan,
		}
	}, func() *statusserver.SunInfo {
		if cfg.Latitude == 0 && cfg.Longitude == 0 {
			return nil
		}
		now := time.Now().In(bucket.Location(cfg.Zone))
		w := bucket.Daylight(now, cfg.Latitude, cfg.Longitude)
		return &statusserver.SunInfo{
			Sunrise:           w.Sunrise.Format(time.RFC3339),
			Sunset:            w.Sunset.Format(time.RFC3339),
			DaylightRemaining: w.HasDaylightRemaining(now),
		}
	}, func() bool { return running }, logTel.With("status"))
	if health != nil {
		if err := health.Start(); err != nil {
			logTel.Error("daemon", "status_server_start_failed", map[string]any{"error": err.Error()})
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		FastTickInterval:     cfg.FastTickInterval,
		PriceRefreshInterval: cfg.PriceRefreshInterval,
		DebounceInterval:     cfg.DebounceInterval,
		Log:                  logTel.With("orchestrator"),
		FastTick: func(ctx context.Context) {
			if host != nil {
				devices, err := host.Enumerate(ctx)
				if err != nil {
					logTel.Error("daemon", "enumerate_failed", map[string]any{"error": err.Error()})
					guard.Tick(time.Now().UTC())
					return
				}

				var totalKw float64
				for _, d := range devices {
					on := true
					if host.HasCapability(d.ID, devicehost.CapabilityOnOff) {
						if v, err := host.GetCapability(ctx, d.ID, devicehost.CapabilityOnOff); err == nil {
							if b, ok := v.(bool); ok {
								on = b
							}
						}
					}
					if !on {
						guard.ReportOff(d.ID)
						continue
					}

					if !host.HasCapability(d.ID, devicehost.CapabilityPower) {
						continue
					}
					v, err := host.GetCapability(ctx, d.ID, devicehost.CapabilityPower)
					if err != nil {
						continue
					}
					w, ok := v.(float64)
					if !ok {
						continue
					}
					tracker.RecordPowerSample(time.Now().UTC(), w, 0)
					totalKw += w
					guard.SeedAllocation(d.ID, d.Name, w, devicePriority[d.ID])
				}
				guard.ReportTotalPower(totalKw)
			}
			guard.Tick(time.Now().UTC())
		},
		PriceRefresh: func(ctx context.Context) error {
			now := time.Now().In(bucket.Location(cfg.Zone))
			priceSvc.RefreshSpotPrices(ctx, now, false)
			priceSvc.RefreshGridTariffData(ctx, now, false)
			priceSvc.UpdateCombinedPrices(now)
			return nil
		},
		Rebuild: orchestrator.RebuildHooks{
			Build: func(ctx context.Context, reason string) error {
				now := time.Now().In(bucket.Location(cfg.Zone))
				dateKey := bucket.DateKey(now, cfg.Zone)
				buckets, err := bucket.BucketsForDay(dateKey, cfg.Zone)
				if err != nil {
					return fmt.Errorf("build buckets for %s: %w", dateKey, err)
				}

				combined := priceSvc.Combined().GetCombinedHourlyPrices()
				prices := make([]float64, len(buckets))
				baseWeights := make([]float64, len(buckets))
				for i, b := range buckets {
					baseWeights[i] = 1
					for _, e := range combined {
						if e.StartsAt.Equal(b) {
							prices[i] = e.Total
							break
						}
					}
				}

				currentIdx := 0
				for i, b := range buckets {
					if !b.After(now) {
						currentIdx = i
					}
				}

				dayPlan = budget.Allocate(budget.Input{
					BucketStartUTC:           buckets,
					CurrentBucket:            currentIdx,
					UsedNowKWh:               tracker.DailyTotals()[dateKey],
					DailyBudgetKWh:           cfg.DailyBudgetKWh,
					BaseWeights:              baseWeights,
					CombinedPrices:           prices,
					PriceOptimizationEnabled: cfg.PriceOptimizationOn,
					PriceShapingEnabled:      cfg.PriceShapingEnabled,
					PriceShapingFlexShare:    cfg.PriceShapingFlexShare,
					DistinctDaysSeen:         tracker.DistinctDays(),
				})
				return nil
			},
			Apply: func(ctx context.Context, reason string) error {
				now := time.Now().In(bucket.Location(cfg.Zone))
				daylight := bucket.Daylight(now, cfg.Latitude, cfg.Longitude)
				hasDaylight := daylight.HasDaylightRemaining(now)

				// A per-device policy section (priority, price-optimizable,
				// overshoot behavior) belongs in its own config block once
				// one exists; until then every enumerated device is treated
				// as controllable and price-optimizable at equal priority,
				// since devicehost.DeviceInfo carries no policy metadata of
				// its own.
				var devices []deviceplan.Device
				if host != nil {
					infos, err := host.Enumerate(ctx)
					if err == nil {
						for _, d := range infos {
							state := deviceplan.StateOn
							var measuredKw float64
							if host.HasCapability(d.ID, devicehost.CapabilityOnOff) {
								if v, err := host.GetCapability(ctx, d.ID, devicehost.CapabilityOnOff); err == nil {
									if on, ok := v.(bool); ok && !on {
										state = deviceplan.StateOff
									}
								}
							}
							if host.HasCapability(d.ID, devicehost.CapabilityPower) {
								if v, err := host.GetCapability(ctx, d.ID, devicehost.CapabilityPower); err == nil {
									if w, ok := v.(float64); ok {
										measuredKw = w
									}
								}
							}

							devices = append(devices, deviceplan.Device{
								ID:                   d.ID,
								Name:                 d.Name,
								Zone:                 d.Zone,
								Controllable:         true,
								PriceOptimizable:     true,
								HasSetTemperature:    host.HasCapability(d.ID, devicehost.CapabilityTargetTemperature),
								CurrentState:         state,
								MeasuredPowerKw:       measuredKw,
								HasDaylightRemaining: hasDaylight,
							})
						}
					}
				}

				dateKey := bucket.DateKey(now, cfg.Zone)
				remaining := dayPlan.DailyBudgetKWh - tracker.DailyTotals()[dateKey]
				if idx := dayPlan.CurrentBucketIndex; idx >= 0 && idx < len(dayPlan.AllowedCumKWh) {
					remaining = dayPlan.AllowedCumKWh[idx] - tracker.DailyTotals()[dateKey]
				}
				currentPlan = deviceplan.Build(deviceplan.Input{
					Devices:                 devices,
					SoftLimitKw:             softLimitKw,
					DailyBudgetExceeded:     remaining < 0,
					DailyBudgetRemainingKWh: remaining,
				})

				// Refresh the priority map for the next fast tick's guard
				// bookkeeping, then write each decision's target out to the
				// host (spec §5: "compute device plan -> write device
				// targets -> persist snapshot -> emit status").
				devicePriority = map[string]int{}
				for _, dec := range currentPlan.Devices {
					devicePriority[dec.ID] = dec.Priority
					if host == nil || !dec.Controllable {
						continue
					}

					if dec.PlannedState == deviceplan.PlanShed && dec.ShedAction == deviceplan.ShedPowerOff {
						var err error
						if host.HasCapability(dec.ID, devicehost.CapabilityOnOff) {
							err = host.SetCapability(ctx, dec.ID, devicehost.CapabilityOnOff, false)
						} else if host.HasCapability(dec.ID, devicehost.CapabilityPower) {
							err = host.SetCapability(ctx, dec.ID, devicehost.CapabilityPower, 0.0)
						}
						if err != nil {
							logTel.Error("daemon", "shed_apply_failed", map[string]any{"device": dec.ID, "error": err.Error()})
						}
						continue
					}

					if dec.PlannedTarget != nil && host.HasCapability(dec.ID, devicehost.CapabilityTargetTemperature) {
						if err := host.SetCapability(ctx, dec.ID, devicehost.CapabilityTargetTemperature, *dec.PlannedTarget); err != nil {
							logTel.Error("daemon", "target_apply_failed", map[string]any{"device": dec.ID, "error": err.Error()})
						}
					}
				}

				if snapStore != nil {
					if err := snapStore.SaveDevicePlanSnapshot(ctx, time.Now().UTC(), currentPlan); err != nil {
						return fmt.Errorf("save device plan snapshot: %w", err)
					}
					if err := snapStore.SavePowerTrackerSnapshot(ctx, cfg.Zone, tracker.Buckets()); err != nil {
						return fmt.Errorf("save power tracker snapshot: %w", err)
					}
				}
				return nil
			},
		},
	})

	changeCh, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range changeCh {
			if ev.SchedulesRebuild {
				orch.NotifySettingsChanged(ev.Key)
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !*serverOnly {
		orch.Start(ctx)
		orch.RequestRebuild("startup")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logTel.Info("daemon", "started", nil)
	<-sigChan
	logTel.Info("daemon", "shutdown_signal_received", nil)

	running = false
	cancel()
	orch.Stop()
	if health != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		health.Stop(stopCtx)
		stopCancel()
	}

	logTel.Info("daemon", "stopped", nil)
}

func showHelp() {
	fmt.Println("homeenergyd - price- and capacity-aware home energy control service")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Tracks power consumption, allocates a daily energy budget against")
	fmt.Println("  dynamic electricity prices, builds a per-device shed/keep plan, and")
	fmt.Println("  enforces an instantaneous capacity limit.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  homeenergyd [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  homeenergyd --config=config.json")
	fmt.Println("  homeenergyd -serverOnly")
	fmt.Println("  homeenergyd -help")
}
