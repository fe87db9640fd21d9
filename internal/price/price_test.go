package price

import (
	"testing"
	"time"
)

func makeEntries(totals []float64) []Entry {
	out := make([]Entry, len(totals))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range totals {
		out[i] = Entry{StartsAt: base.Add(time.Duration(i) * time.Hour), Total: v}
	}
	return out
}

func TestClassifyMutuallyExclusiveAndIdempotent(t *testing.T) {
	entries := makeEntries([]float64{50, 100, 150, 200, 10, 300})

	avg1, low1, high1 := Classify(entries, 10, 0.5)
	snap1 := make([]Entry, len(entries))
	copy(snap1, entries)

	avg2, low2, high2 := Classify(entries, 10, 0.5)

	if avg1 != avg2 || low1 != low2 || high1 != high2 {
		t.Fatalf("classification thresholds not idempotent")
	}
	for i := range entries {
		if entries[i].IsCheap != snap1[i].IsCheap || entries[i].IsExpensive != snap1[i].IsExpensive {
			t.Fatalf("flags changed on reclassification at index %d", i)
		}
		if entries[i].IsCheap && entries[i].IsExpensive {
			t.Fatalf("entry %d is both cheap and expensive", i)
		}
	}
}

func TestClassifyMinDiffSuppressesFlags(t *testing.T) {
	// All prices nearly identical: with a large minDiffOre nothing should be
	// flagged despite a nonzero thresholdPercent.
	entries := makeEntries([]float64{100, 100.1, 99.9, 100.05})
	Classify(entries, 5, 1000)
	for i, e := range entries {
		if e.IsCheap || e.IsExpensive {
			t.Fatalf("entry %d flagged despite minDiffOre suppression", i)
		}
	}
}

func TestFindCheapestHours(t *testing.T) {
	entries := makeEntries([]float64{50, 10, 200, 5, 80})
	s := BuildSeries(entries, SchemeNorway, "ORE", 10, 0, time.Now())
	cheapest := s.FindCheapestHours(2)
	if len(cheapest) != 2 || cheapest[0].Total != 5 || cheapest[1].Total != 10 {
		t.Fatalf("unexpected cheapest hours: %+v", cheapest)
	}
}

func TestCurrentHourQueriesMissingData(t *testing.T) {
	s := Series{}
	if _, err := s.IsCurrentHourCheap(time.Now()); err != ErrNoPriceData {
		t.Fatalf("expected ErrNoPriceData, got %v", err)
	}
}

func TestEntryInvariantReconstructsTotal(t *testing.T) {
	spot, tariff, surcharge, tax, enova, vat := 1.0, 0.5, 0.1, 0.2, 0.05, 1.25
	support := 0.2
	total := (spot + tariff + surcharge + tax + enova) * vat - support
	e := Entry{
		Total:                  total,
		SpotPriceExVat:         &spot,
		GridTariffExVat:        &tariff,
		ProviderSurchargeExVat: &surcharge,
		ConsumptionTaxExVat:    &tax,
		EnovaFeeExVat:          &enova,
		VatMultiplier:          &vat,
		ElectricitySupport:     &support,
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("expected invariant to hold: %v", err)
	}
}

func TestEntryInvariantCatchesDrift(t *testing.T) {
	spot, vat := 1.0, 1.25
	e := Entry{Total: 999, SpotPriceExVat: &spot, GridTariffExVat: &spot, ProviderSurchargeExVat: &spot,
		ConsumptionTaxExVat: &spot, EnovaFeeExVat: &spot, VatMultiplier: &vat}
	if err := e.CheckInvariants(); err == nil {
		t.Fatalf("expected invariant violation to be detected")
	}
}
