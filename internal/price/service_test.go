package price

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/devskill-org/homeenergy/internal/telemetry"
)

func newTestService(buf *bytes.Buffer) *Service {
	logger := telemetry.NewLogger(log.New(buf, "", 0), "price")
	s := NewService(logger)
	s.Zone = "UTC"
	s.Area = "NO1"
	s.ThresholdPercent = 10
	return s
}

func TestRefreshSpotPricesTomorrowGraceWindow(t *testing.T) {
	// S6: at local 10:00 with no tomorrow data, the missing-tomorrow log is
	// at debug; at local 13:30 it is at error. Zone is UTC-3 so UTC instants
	// past the 12:15 UTC spot-price cutoff can still map to different local
	// hours either side of 13:00.
	var buf bytes.Buffer
	s := newTestService(&buf)
	s.Zone = "Etc/GMT+3" // POSIX sign convention: GMT+3 means UTC-3
	s.FetchSpot = func(ctx context.Context, area, dateKey string) ([]SpotPrice, error) {
		return nil, fmt.Errorf("boom")
	}

	debugCase := time.Date(2026, 6, 1, 13, 15, 0, 0, time.UTC) // local 10:15
	s.RefreshSpotPrices(context.Background(), debugCase, true)
	if !strings.Contains(buf.String(), "[debug]") {
		t.Fatalf("expected a debug-level missing_tomorrow log before 13:00 local, got: %s", buf.String())
	}
	buf.Reset()

	errorCase := time.Date(2026, 6, 1, 16, 30, 0, 0, time.UTC) // local 13:30
	s.RefreshSpotPrices(context.Background(), errorCase, true)
	if !strings.Contains(buf.String(), "[error]") {
		t.Fatalf("expected an error-level missing_tomorrow log after 13:00 local, got: %s", buf.String())
	}
}

func TestRefreshSpotPricesBeforeCutoffSkipsTomorrow(t *testing.T) {
	var buf bytes.Buffer
	s := newTestService(&buf)
	calls := 0
	s.FetchSpot = func(ctx context.Context, area, dateKey string) ([]SpotPrice, error) {
		calls++
		return []SpotPrice{{StartsAt: time.Now(), Total: 1}}, nil
	}

	morning := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s.RefreshSpotPrices(context.Background(), morning, true)
	if calls != 1 {
		t.Fatalf("expected only today's fetch before the 12:15 UTC cutoff, got %d calls", calls)
	}
}

func TestUpdateCombinedPricesAppliesVatAndSurcharge(t *testing.T) {
	var buf bytes.Buffer
	s := newTestService(&buf)
	s.ProviderSurchargeExVat = 0.1
	s.ConsumptionTaxExVat = 0.2
	s.EnovaFeeExVat = 0.01
	s.Vat = VatTable{"NO1": 1.25}
	s.FetchSpot = func(ctx context.Context, area, dateKey string) ([]SpotPrice, error) {
		return []SpotPrice{{StartsAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Total: 1.0}}, nil
	}
	s.RefreshSpotPrices(context.Background(), time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), true)
	series := s.UpdateCombinedPrices(time.Now())
	if len(series.Entries) != 1 {
		t.Fatalf("expected one combined entry, got %d", len(series.Entries))
	}
	want := (1.0 + 0 + 0.1 + 0.2 + 0.01) * 1.25
	got := series.Entries[0].Total
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected combined total: got %v want %v", got, want)
	}
}

func TestStoreFlowPriceDataReportsMissingHours(t *testing.T) {
	var buf bytes.Buffer
	s := newTestService(&buf)
	missing := s.StoreFlowPriceData(FlowToday, "2026-06-15", map[int]float64{0: 1, 1: 2}, "EUR")
	if len(missing) != 22 {
		t.Fatalf("expected 22 missing hours for a 24h day, got %d", len(missing))
	}
}
