// Package powertracker implements the power tracker (spec component C): an
// hourly energy accumulator with gap/outage detection, grounded on
// scheduler/pv.go's power-sampling and scheduler/miners.go's
// kWh-from-kW-over-time math.
package powertracker

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/devskill-org/homeenergy/internal/bucket"
)

// Period is a time interval during which power samples were missing and no
// energy can be attributed (spec §3 "Unreliable period").
type Period struct {
	Start time.Time
	End   time.Time
}

// HourlyAverage accumulates a running mean of kWh deposited into a given
// weekday+hour slot, used to derive the typical-week usage profile consumed
// by the daily budget planner.
type HourlyAverage struct {
	Sum   float64
	Count int
}

// Mean returns the running average, or 0 if no samples yet.
func (h HourlyAverage) Mean() float64 {
	if h.Count == 0 {
		return 0
	}
	return h.Sum / float64(h.Count)
}

const bucketKeyLayout = time.RFC3339

// Tracker accumulates hourly energy (spec §3 "Power tracker state").
type Tracker struct {
	mu sync.Mutex

	// Zone is the IANA zone used to derive local date keys.
	Zone string

	buckets             map[string]float64
	controlledBuckets   map[string]float64
	uncontrolledBuckets map[string]float64
	hourlyBudgets       map[string]float64
	dailyTotals         map[string]float64
	hourlyAverages      map[string]HourlyAverage
	unreliablePeriods   []Period

	lastMeterKWh   *float64
	lastPowerW     float64
	lastTimestamp  time.Time
	haveLastSample bool
}

// New constructs an empty Tracker for the given IANA zone.
func New(zone string) *Tracker {
	return &Tracker{
		Zone:                zone,
		buckets:             map[string]float64{},
		controlledBuckets:   map[string]float64{},
		uncontrolledBuckets: map[string]float64{},
		hourlyBudgets:       map[string]float64{},
		dailyTotals:         map[string]float64{},
		hourlyAverages:      map[string]HourlyAverage{},
	}
}

func clampFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	return v
}

// RecordPowerSample accepts one instantaneous power reading (spec §4.C).
// controlledW is the portion of currentW attributable to controllable
// devices (0 if unknown/all-uncontrolled). Samples with non-finite power or
// non-monotonic timestamps are rejected and ignored, per spec.
func (t *Tracker) RecordPowerSample(now time.Time, currentW, controlledW float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if math.IsNaN(currentW) || math.IsInf(currentW, 0) {
		return fmt.Errorf("powertracker: non-finite power sample %v", currentW)
	}
	if controlledW > currentW {
		controlledW = currentW
	}
	if controlledW < 0 {
		controlledW = 0
	}

	if !t.haveLastSample {
		t.lastPowerW = currentW
		t.lastTimestamp = now
		t.haveLastSample = true
		return nil
	}

	if !now.After(t.lastTimestamp) {
		return fmt.Errorf("powertracker: non-monotonic sample at %s (last %s)", now, t.lastTimestamp)
	}

	start := t.lastTimestamp
	end := now
	delta := end.Sub(start)

	crossesHourBoundary := bucket.TopOfHour(start, "UTC") != bucket.TopOfHour(end, "UTC")
	isOutage := (delta > time.Hour) || (delta > 60*time.Second && crossesHourBoundary)

	if isOutage {
		t.appendUnreliablePeriod(Period{Start: start, End: end})
	} else {
		avgW := (t.lastPowerW + currentW) / 2
		controlledShare := 0.0
		if currentW > 0 {
			controlledShare = controlledW / currentW
		}
		t.depositEnergy(start, end, avgW, controlledShare)
	}

	t.lastPowerW = currentW
	t.lastTimestamp = now
	return nil
}

// RecordMeterReading derives a power sample from the increase of a
// cumulative kWh meter since the last reading (spec §4.C "Alternative
// meter-delta path"). A decreasing reading is treated as a meter reset and
// the delta is dropped; deltas below minSignificantPowerW are ignored.
func (t *Tracker) RecordMeterReading(now time.Time, cumulativeKWh, minSignificantPowerW float64) error {
	t.mu.Lock()
	wasNil := t.lastMeterKWh == nil
	var prevKWh float64
	var prevTS time.Time
	if !wasNil {
		prevKWh = *t.lastMeterKWh
		prevTS = t.lastTimestamp
	}
	t.mu.Unlock()

	if wasNil {
		t.mu.Lock()
		t.lastMeterKWh = &cumulativeKWh
		t.lastTimestamp = now
		t.mu.Unlock()
		return nil
	}

	if cumulativeKWh < prevKWh {
		// Meter reset: drop the delta, resync the baseline.
		t.mu.Lock()
		t.lastMeterKWh = &cumulativeKWh
		t.lastTimestamp = now
		t.mu.Unlock()
		return nil
	}

	elapsedH := now.Sub(prevTS).Hours()
	if elapsedH <= 0 {
		return fmt.Errorf("powertracker: non-monotonic meter reading at %s", now)
	}

	deltaKWh := cumulativeKWh - prevKWh
	impliedW := (deltaKWh / elapsedH) * 1000
	if impliedW < minSignificantPowerW {
		t.mu.Lock()
		t.lastMeterKWh = &cumulativeKWh
		t.lastTimestamp = now
		t.mu.Unlock()
		return nil
	}

	t.mu.Lock()
	t.lastMeterKWh = &cumulativeKWh
	t.mu.Unlock()

	return t.RecordPowerSample(now, impliedW, 0)
}

// appendUnreliablePeriod inserts p into the sorted, non-overlapping
// unreliablePeriods list, merging with an adjacent/overlapping period if
// necessary.
func (t *Tracker) appendUnreliablePeriod(p Period) {
	t.unreliablePeriods = append(t.unreliablePeriods, p)
	sort.Slice(t.unreliablePeriods, func(i, j int) bool {
		return t.unreliablePeriods[i].Start.Before(t.unreliablePeriods[j].Start)
	})
	merged := t.unreliablePeriods[:0]
	for _, cur := range t.unreliablePeriods {
		if len(merged) > 0 && !cur.Start.After(merged[len(merged)-1].End) {
			if cur.End.After(merged[len(merged)-1].End) {
				merged[len(merged)-1].End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}
	t.unreliablePeriods = merged
}

// depositEnergy deposits the kWh for interval [start,end) at average power
// avgW, splitting across an hour boundary if the interval crosses one, and
// updates dailyTotals/hourlyAverages.
func (t *Tracker) depositEnergy(start, end time.Time, avgW, controlledShare float64) {
	segStart := start
	for segStart.Before(end) {
		hourEnd := bucket.TopOfHour(segStart, "UTC").Add(time.Hour)
		segEnd := end
		if hourEnd.Before(segEnd) {
			segEnd = hourEnd
		}

		h := segEnd.Sub(segStart).Hours()
		kWh := clampFinite(avgW * h / 1000)

		key := bucket.TopOfHour(segStart, "UTC").Format(bucketKeyLayout)
		t.buckets[key] += kWh
		t.controlledBuckets[key] += kWh * controlledShare
		t.uncontrolledBuckets[key] += kWh * (1 - controlledShare)

		dateKey := bucket.DateKey(segStart, t.Zone)
		t.dailyTotals[dateKey] += kWh

		local := segStart.In(bucket.Location(t.Zone))
		avgKey := fmt.Sprintf("%d_%d", int(local.Weekday()), local.Hour())
		avg := t.hourlyAverages[avgKey]
		avg.Sum += kWh
		avg.Count++
		t.hourlyAverages[avgKey] = avg

		segStart = segEnd
	}
}

// Buckets returns a copy of the raw hourly energy map.
func (t *Tracker) Buckets() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMap(t.buckets)
}

// ControlledBuckets returns a copy of the controlled-energy hourly map.
func (t *Tracker) ControlledBuckets() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMap(t.controlledBuckets)
}

// UncontrolledBuckets returns a copy of the uncontrolled-energy hourly map.
func (t *Tracker) UncontrolledBuckets() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMap(t.uncontrolledBuckets)
}

// DailyTotals returns a copy of the local-date-key -> kWh map.
func (t *Tracker) DailyTotals() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMap(t.dailyTotals)
}

// HourlyAverages returns a copy of the weekday_hour -> running-average map.
func (t *Tracker) HourlyAverages() map[string]HourlyAverage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]HourlyAverage, len(t.hourlyAverages))
	for k, v := range t.hourlyAverages {
		out[k] = v
	}
	return out
}

// UnreliablePeriods returns a copy of the sorted, non-overlapping outage
// list.
func (t *Tracker) UnreliablePeriods() []Period {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Period, len(t.unreliablePeriods))
	copy(out, t.unreliablePeriods)
	return out
}

// SetHourlyBudget records the planned kWh cap for a UTC hour bucket, keyed
// the same way as Buckets().
func (t *Tracker) SetHourlyBudget(hourStartUTC time.Time, kWh float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hourlyBudgets[bucket.TopOfHour(hourStartUTC, "UTC").Format(bucketKeyLayout)] = kWh
}

// DistinctDays returns the number of distinct local date keys observed,
// used by the daily budget planner's confidence computation.
func (t *Tracker) DistinctDays() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dailyTotals)
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
