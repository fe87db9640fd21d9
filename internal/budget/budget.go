// Package budget implements the daily budget planner (spec component D): a
// per-bucket kWh allocator under a daily cap, observed usage profile, and
// optional price shaping. Grounded on mpc/mpc.go's constraint-checking
// style (isFeasible/canCharge/canDischarge), adapted from a dynamic-program
// search over battery SOC to a closed-form iterative proportional
// redistribution, since this planner optimizes a single-shot allocation
// (kWh per hour bucket) rather than a multi-step state.
package budget

import (
	"math"
	"time"
)

// Input is everything the planner needs to build one day's Plan.
type Input struct {
	BucketStartUTC []time.Time
	BucketUsage    []float64 // observed actual kWh per bucket, for past buckets
	CurrentBucket  int
	UsedNowKWh     float64
	DailyBudgetKWh float64

	BaseWeights         []float64 // whole-day profile weights, len == len(BucketStartUTC)
	ControlledWeights   []float64 // optional split profile; nil if unavailable
	UncontrolledWeights []float64

	CombinedPrices []float64 // optional, aligned to buckets; nil entries represented as NaN

	PriceOptimizationEnabled bool
	PriceShapingEnabled      bool
	PriceShapingFlexShare    float64

	PreviousPlannedKWh []float64 // optional, same length

	CapacityBudgetKWh       *float64 // optional per-bucket instantaneous*1h cap
	ObservedMaxControlledKWh []float64
	ObservedPeakMarginRatio   float64

	ObservedMinControlledKWh   []float64 // floors
	ObservedMinUncontrolledKWh []float64

	LockCurrentBucket bool
	DistinctDaysSeen  int
}

// Plan is the planner's output (spec §3 "Daily plan").
type Plan struct {
	BucketStartUTC         []time.Time
	PlannedKWh             []float64
	PlannedUncontrolledKWh []float64
	PlannedControlledKWh   []float64
	ActualKWh              []float64
	AllowedCumKWh          []float64
	CurrentBucketIndex     int

	DailyBudgetKWh                 float64
	PriceShapingActive             bool
	EffectivePriceShapingFlexShare float64
	Confidence                     float64
	Frozen                         bool
}

func clampNonNeg(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func isComplete(prices []float64, from int) bool {
	if prices == nil || from >= len(prices) {
		return false
	}
	for i := from; i < len(prices); i++ {
		if math.IsNaN(prices[i]) {
			return false
		}
	}
	return true
}

// priceFactors computes a per-bucket multiplier from the deviation of that
// bucket's price from the remaining-day average (spec §4.D step 1), plus a
// global priceSpreadFactor in [0,1].
func priceFactors(prices []float64, from int) (factors []float64, spreadFactor float64) {
	n := len(prices)
	factors = make([]float64, n)
	for i := range factors {
		factors[i] = 1
	}
	if from >= n {
		return factors, 0
	}

	sum := 0.0
	count := 0
	for i := from; i < n; i++ {
		sum += prices[i]
		count++
	}
	if count == 0 || sum == 0 {
		return factors, 0
	}
	avg := sum / float64(count)

	var variance float64
	for i := from; i < n; i++ {
		d := prices[i] - avg
		variance += d * d
	}
	variance /= float64(count)
	stdDev := math.Sqrt(variance)
	spreadFactor = stdDev / avg
	if spreadFactor > 1 {
		spreadFactor = 1
	}
	if spreadFactor < 0 {
		spreadFactor = 0
	}

	for i := from; i < n; i++ {
		deviation := (avg - prices[i]) / avg
		f := 1 + deviation
		if f < 0.1 {
			f = 0.1
		}
		factors[i] = f
	}
	return factors, spreadFactor
}

// compositeWeights blends base weights with price factors (spec §4.D step
// 2), normalized to sum to 1 over the given indices.
func compositeWeights(base, priceFactor []float64, flex float64, indices []int) []float64 {
	out := make([]float64, len(base))
	sum := 0.0
	for _, i := range indices {
		w := base[i]*(1-flex) + base[i]*priceFactor[i]*flex
		if w < 0 {
			w = 0
		}
		out[i] = w
		sum += w
	}
	if sum <= 0 {
		return out
	}
	for _, i := range indices {
		out[i] /= sum
	}
	return out
}

// allocateWithCaps distributes pot across indices proportional to weight,
// never exceeding cap[i]-floor[i] headroom, redistributing any overflow to
// the remaining uncapped peers until stable (spec §4.D step 5).
func allocateWithCaps(indices []int, weights, headroom []float64, pot float64) map[int]float64 {
	alloc := map[int]float64{}
	active := append([]int(nil), indices...)
	for _, i := range indices {
		alloc[i] = 0
	}

	for pot > 1e-9 && len(active) > 0 {
		sumW := 0.0
		for _, i := range active {
			sumW += weights[i]
		}

		var nextActive []int
		overflow := 0.0
		if sumW <= 0 {
			share := pot / float64(len(active))
			for _, i := range active {
				room := headroom[i] - alloc[i]
				add := share
				if add > room {
					add = room
					overflow += share - room
				} else {
					nextActive = append(nextActive, i)
				}
				alloc[i] += add
			}
		} else {
			for _, i := range active {
				add := pot * (weights[i] / sumW)
				room := headroom[i] - alloc[i]
				if add > room {
					overflow += add - room
					add = room
				} else {
					nextActive = append(nextActive, i)
				}
				alloc[i] += add
			}
		}

		if len(nextActive) == len(active) && overflow < 1e-9 {
			break
		}
		active = nextActive
		pot = overflow
	}
	return alloc
}

// Allocate builds a Plan from in, implementing spec §4.D's algorithm
// end-to-end.
func Allocate(in Input) Plan {
	n := len(in.BucketStartUTC)
	plan := Plan{
		BucketStartUTC:         append([]time.Time(nil), in.BucketStartUTC...),
		PlannedKWh:             make([]float64, n),
		PlannedUncontrolledKWh: make([]float64, n),
		PlannedControlledKWh:   make([]float64, n),
		ActualKWh:              make([]float64, n),
		AllowedCumKWh:          make([]float64, n),
		CurrentBucketIndex:     in.CurrentBucket,
		DailyBudgetKWh:         clampNonNeg(in.DailyBudgetKWh),
	}
	copy(plan.ActualKWh, in.BucketUsage)

	if n == 0 {
		return plan
	}

	base := make([]float64, n)
	copy(base, in.BaseWeights)
	splitAvailable := len(in.ControlledWeights) == n && len(in.UncontrolledWeights) == n

	var weightsForShaping []float64
	if splitAvailable {
		weightsForShaping = append([]float64(nil), in.ControlledWeights...)
	} else {
		weightsForShaping = base
	}

	// Step 1: price factors.
	pricesComplete := isComplete(in.CombinedPrices, in.CurrentBucket)
	priceFactor := make([]float64, n)
	for i := range priceFactor {
		priceFactor[i] = 1
	}
	spreadFactor := 0.0
	if in.PriceOptimizationEnabled && in.PriceShapingEnabled && pricesComplete {
		priceFactor, spreadFactor = priceFactors(in.CombinedPrices, in.CurrentBucket)
	}
	effectiveFlex := in.PriceShapingFlexShare * spreadFactor
	if effectiveFlex < 0 {
		effectiveFlex = 0
	}
	plan.EffectivePriceShapingFlexShare = effectiveFlex
	plan.PriceShapingActive = in.PriceShapingEnabled && effectiveFlex > 0

	// Pinned buckets: before currentBucket always; currentBucket too if
	// LockCurrentBucket.
	pinnedUpTo := in.CurrentBucket
	if in.LockCurrentBucket {
		pinnedUpTo = in.CurrentBucket + 1
	}
	if pinnedUpTo > n {
		pinnedUpTo = n
	}

	pinnedValue := func(i int) float64 {
		if i < len(in.PreviousPlannedKWh) {
			return clampNonNeg(in.PreviousPlannedKWh[i])
		}
		if i < len(in.BucketUsage) {
			return clampNonNeg(in.BucketUsage[i])
		}
		return 0
	}

	sumPinned := 0.0
	var unpinned []int
	for i := 0; i < n; i++ {
		if i < pinnedUpTo {
			plan.PlannedKWh[i] = pinnedValue(i)
			sumPinned += plan.PlannedKWh[i]
		} else {
			unpinned = append(unpinned, i)
		}
	}

	// Step 2: composite weights over unpinned indices.
	weights := compositeWeights(weightsForShaping, priceFactor, effectiveFlex, unpinned)

	// Step 3: per-bucket caps.
	caps := make([]float64, n)
	for i := 0; i < n; i++ {
		cap := math.Inf(1)
		if in.CapacityBudgetKWh != nil {
			cap = *in.CapacityBudgetKWh
		}
		if splitAvailable && i < len(in.ObservedMaxControlledKWh) {
			splitCap := in.ObservedMaxControlledKWh[i] * (1 + in.ObservedPeakMarginRatio)
			if splitCap < cap {
				cap = splitCap
			}
		}
		caps[i] = cap
	}

	// Step 4: floors, scaled down if they exceed the remaining budget.
	floors := make([]float64, n)
	sumFloors := 0.0
	for _, i := range unpinned {
		f := 0.0
		if i < len(in.ObservedMinControlledKWh) {
			f += clampNonNeg(in.ObservedMinControlledKWh[i])
		}
		if i < len(in.ObservedMinUncontrolledKWh) {
			f += clampNonNeg(in.ObservedMinUncontrolledKWh[i])
		}
		if f > caps[i] {
			f = caps[i]
		}
		floors[i] = f
		sumFloors += f
	}

	remainingBudget := plan.DailyBudgetKWh - sumPinned
	if remainingBudget < 0 {
		remainingBudget = 0
	}
	if sumFloors > remainingBudget && sumFloors > 0 {
		scale := remainingBudget / sumFloors
		for _, i := range unpinned {
			floors[i] *= scale
		}
		sumFloors = remainingBudget
	}

	// Step 5: allocate the remainder above floors, respecting caps, with
	// iterative overflow redistribution.
	headroom := make([]float64, n)
	for _, i := range unpinned {
		headroom[i] = caps[i] - floors[i]
		if headroom[i] < 0 {
			headroom[i] = 0
		}
	}
	remainder := remainingBudget - sumFloors
	if remainder < 0 {
		remainder = 0
	}
	extra := allocateWithCaps(unpinned, weights, headroom, remainder)

	for _, i := range unpinned {
		plan.PlannedKWh[i] = floors[i] + extra[i]
	}

	// Step 6: split breakdown and cumulative cap.
	cum := 0.0
	for i := 0; i < n; i++ {
		kwh := clampNonNeg(plan.PlannedKWh[i])
		plan.PlannedKWh[i] = kwh
		if splitAvailable {
			cw, uw := in.ControlledWeights[i], in.UncontrolledWeights[i]
			total := cw + uw
			ratio := 0.5
			if total > 0 {
				ratio = cw / total
			}
			plan.PlannedControlledKWh[i] = kwh * ratio
			plan.PlannedUncontrolledKWh[i] = kwh - plan.PlannedControlledKWh[i]
		} else {
			plan.PlannedControlledKWh[i] = kwh
			plan.PlannedUncontrolledKWh[i] = 0
		}
		cum += kwh
		plan.AllowedCumKWh[i] = cum
	}

	plan.Confidence = confidenceFromHistory(in.DistinctDaysSeen)
	return plan
}

// confidenceFromHistory implements spec §4.D's linear confidence ramp: 0 at
// less than 1 day of history, 1 at 28 days.
func confidenceFromHistory(distinctDays int) float64 {
	if distinctDays <= 0 {
		return 0
	}
	c := float64(distinctDays) / 28.0
	if c > 1 {
		c = 1
	}
	return c
}
