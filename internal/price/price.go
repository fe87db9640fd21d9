// Package price implements the price service (spec component B): fetching,
// normalizing, combining and classifying hourly electricity prices from the
// norway (spot+tariff), flow and homey schemes.
package price

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Scheme selects the price source.
type Scheme string

const (
	SchemeNorway Scheme = "norway"
	SchemeFlow   Scheme = "flow"
	SchemeHomey  Scheme = "homey"
)

// ErrNoPriceData is returned by queries when the combined series is empty.
var ErrNoPriceData = errors.New("price: no data available")

// Entry is one hour of the combined price series (spec §3 "Price entry").
type Entry struct {
	StartsAt time.Time

	Total float64

	SpotPriceExVat          *float64
	GridTariffExVat         *float64
	ProviderSurchargeExVat  *float64
	ConsumptionTaxExVat     *float64
	EnovaFeeExVat           *float64
	VatMultiplier           *float64
	VatAmount               *float64
	ElectricitySupport      *float64
	NorgesprisAdjustment    *float64
	TotalExVat              *float64

	IsCheap     bool
	IsExpensive bool
}

// HasBreakdown reports whether all ex-VAT breakdown fields are present.
func (e Entry) HasBreakdown() bool {
	return e.SpotPriceExVat != nil && e.GridTariffExVat != nil &&
		e.ProviderSurchargeExVat != nil && e.ConsumptionTaxExVat != nil &&
		e.EnovaFeeExVat != nil && e.VatMultiplier != nil
}

// CheckInvariants validates the §3 Price-entry invariant: when every
// breakdown field is present, Total must reconstruct from them within 0.01
// units. Returns an error describing the first violation found.
func (e Entry) CheckInvariants() error {
	if math.IsNaN(e.Total) || math.IsInf(e.Total, 0) {
		return fmt.Errorf("price: entry at %s has non-finite total", e.StartsAt)
	}
	if e.IsCheap && e.IsExpensive {
		return fmt.Errorf("price: entry at %s is both cheap and expensive", e.StartsAt)
	}
	if !e.HasBreakdown() {
		return nil
	}
	support := 0.0
	if e.ElectricitySupport != nil {
		support = *e.ElectricitySupport
	}
	norgespris := 0.0
	if e.NorgesprisAdjustment != nil {
		norgespris = *e.NorgesprisAdjustment
	}
	expected := (*e.SpotPriceExVat + *e.GridTariffExVat + *e.ProviderSurchargeExVat +
		*e.ConsumptionTaxExVat + *e.EnovaFeeExVat) * *e.VatMultiplier
	expected = expected - support + norgespris
	if math.Abs(expected-e.Total) > 0.01 {
		return fmt.Errorf("price: entry at %s total %.4f does not reconstruct from breakdown (%.4f)", e.StartsAt, e.Total, expected)
	}
	return nil
}

// Series is the combined hourly price series (spec §3 "Combined price
// series").
type Series struct {
	Entries          []Entry
	AvgPrice         float64
	LowThreshold     float64
	HighThreshold    float64
	ThresholdPercent float64
	MinDiffOre       float64
	PriceScheme      Scheme
	PriceUnit        string
	LastFetched      time.Time
}

// Classify recomputes AvgPrice/LowThreshold/HighThreshold and each entry's
// IsCheap/IsExpensive flags in place, per spec §4.B's classification rule:
//
//	avg   = mean(total)
//	low   = avg * (1 - p/100)
//	high  = avg * (1 + p/100)
//	meets = |total - avg| >= minDiffOre
//	cheap = total <= low && meets
//	expensive = total >= high && meets
//
// Classification is idempotent: calling Classify twice on the same entries
// yields the same flags (property test #3).
func Classify(entries []Entry, thresholdPercent, minDiffOre float64) (avg, low, high float64) {
	if len(entries) == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.Total
	}
	avg = sum / float64(len(entries))
	low = avg * (1 - thresholdPercent/100)
	high = avg * (1 + thresholdPercent/100)

	for i := range entries {
		total := entries[i].Total
		meets := math.Abs(total-avg) >= minDiffOre
		entries[i].IsCheap = total <= low && meets
		entries[i].IsExpensive = total >= high && meets
	}
	return avg, low, high
}

// BuildSeries sorts entries by StartsAt, classifies them and returns the
// combined Series.
func BuildSeries(entries []Entry, scheme Scheme, unit string, thresholdPercent, minDiffOre float64, fetchedAt time.Time) Series {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })

	avg, low, high := Classify(out, thresholdPercent, minDiffOre)

	return Series{
		Entries:          out,
		AvgPrice:         avg,
		LowThreshold:     low,
		HighThreshold:    high,
		ThresholdPercent: thresholdPercent,
		MinDiffOre:       minDiffOre,
		PriceScheme:      scheme,
		PriceUnit:        unit,
		LastFetched:      fetchedAt,
	}
}

// GetCombinedHourlyPrices returns the series entries, unmodified.
func (s Series) GetCombinedHourlyPrices() []Entry {
	return s.Entries
}

// FindCheapestHours returns the n cheapest entries by Total, preserving
// chronological order among ties is not guaranteed; ordering is purely by
// price ascending.
func (s Series) FindCheapestHours(n int) []Entry {
	if n <= 0 || len(s.Entries) == 0 {
		return nil
	}
	sorted := make([]Entry, len(s.Entries))
	copy(sorted, s.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Total < sorted[j].Total })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func (s Series) entryForHour(t time.Time) (Entry, bool) {
	hour := t.UTC().Truncate(time.Hour)
	for _, e := range s.Entries {
		if e.StartsAt.UTC().Equal(hour) {
			return e, true
		}
	}
	return Entry{}, false
}

// IsCurrentHourCheap reports whether now's hour is classified cheap. Returns
// false (with ErrNoPriceData) when no entry covers the current hour.
func (s Series) IsCurrentHourCheap(now time.Time) (bool, error) {
	e, ok := s.entryForHour(now)
	if !ok {
		return false, ErrNoPriceData
	}
	return e.IsCheap, nil
}

// IsCurrentHourExpensive reports whether now's hour is classified expensive.
func (s Series) IsCurrentHourExpensive(now time.Time) (bool, error) {
	e, ok := s.entryForHour(now)
	if !ok {
		return false, ErrNoPriceData
	}
	return e.IsExpensive, nil
}

// GetCurrentHourStartMs returns the Unix-millisecond start of now's clock
// hour, matching the settings wire format (epoch-ms) used for refresh
// tokens in spec §6.
func GetCurrentHourStartMs(now time.Time) int64 {
	return now.UTC().Truncate(time.Hour).UnixMilli()
}
