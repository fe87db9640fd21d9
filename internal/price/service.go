package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/homeenergy/internal/bucket"
	"github.com/devskill-org/homeenergy/internal/telemetry"
)

// SpotFetcher fetches the spot-price component for one local day, keyed by
// date key, in the given area.
type SpotFetcher func(ctx context.Context, area string, dateKey string) ([]SpotPrice, error)

// TariffFetcher fetches the grid-tariff component for one local day.
type TariffFetcher func(ctx context.Context, dateKey string) ([]TariffPrice, error)

// Service implements the price service (spec §4.B): refreshSpotPrices,
// refreshGridTariffData, storeFlowPriceData, updateCombinedPrices and the
// read-only queries, grounded on the cache/retain-previous-on-failure
// pattern of entsoe.DownloadPublicationMarketData.
type Service struct {
	mu sync.RWMutex

	Zone string
	Area string

	FetchSpot   SpotFetcher
	FetchTariff TariffFetcher

	ProviderSurchargeExVat float64
	ConsumptionTaxExVat    float64
	EnovaFeeExVat          float64
	ElectricitySupport     func(hour time.Time, spotExVat float64) float64
	NorgesprisCapIncVat    *float64
	Vat                    VatTable
	ThresholdPercent       float64
	MinDiffOre             float64
	Scheme                 Scheme
	Unit                   string

	spotToday    []SpotPrice
	spotTomorrow []SpotPrice
	spotArea     string
	tariff       []TariffPrice

	combined Series

	log *telemetry.Logger
}

// NewService constructs a Service. log may be nil (a no-op logger is used).
func NewService(log *telemetry.Logger) *Service {
	if log == nil {
		log = telemetry.NewLogger(nil, "price")
	}
	return &Service{log: log, Vat: VatTable{}}
}

// RefreshSpotPrices implements refreshSpotPrices(force?): fetch today and,
// after 12:15 UTC, tomorrow if missing. Cached when price-area unchanged and
// today already present. On fetch failure the previous cache is retained and
// the failure is logged, never propagated.
func (s *Service) RefreshSpotPrices(ctx context.Context, now time.Time, force bool) {
	s.mu.Lock()
	areaChanged := s.spotArea != s.Area
	haveToday := len(s.spotToday) > 0 && !areaChanged
	s.mu.Unlock()

	todayKey := bucket.DateKey(now, s.Zone)

	if !force && haveToday {
		// Cached: still consider fetching tomorrow below.
	} else {
		entries, err := s.fetchSpotSafe(ctx, todayKey)
		if err != nil {
			s.log.Error("price", "refresh_spot_today_failed", map[string]any{"error": err.Error()})
		} else {
			s.mu.Lock()
			s.spotToday = entries
			s.spotArea = s.Area
			s.mu.Unlock()
		}
	}

	if now.UTC().Hour() < 12 || (now.UTC().Hour() == 12 && now.UTC().Minute() < 15) {
		return
	}

	s.mu.RLock()
	haveTomorrow := len(s.spotTomorrow) > 0
	s.mu.RUnlock()
	if haveTomorrow && !force {
		return
	}

	tomorrowKey := bucket.DateKey(now.Add(24*time.Hour), s.Zone)
	entries, err := s.fetchSpotSafe(ctx, tomorrowKey)
	if err != nil {
		// Grace window: spec §7/§8 S6 — debug before 13:00 local, error after.
		localHour := now.In(bucket.Location(s.Zone)).Hour()
		if localHour < 13 {
			s.log.Debug("price", "missing_tomorrow", map[string]any{"error": err.Error()})
		} else {
			s.log.Error("price", "missing_tomorrow", map[string]any{"error": err.Error()})
		}
		return
	}
	s.mu.Lock()
	s.spotTomorrow = entries
	s.mu.Unlock()
}

func (s *Service) fetchSpotSafe(ctx context.Context, dateKey string) (entries []SpotPrice, err error) {
	if s.FetchSpot == nil {
		return nil, fmt.Errorf("price: no spot fetcher configured")
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.FetchSpot(cctx, s.Area, dateKey)
}

// RefreshGridTariffData implements refreshGridTariffData(force?): fetch
// hourly grid-tariff entries for today; if empty, try yesterday, then 7 days
// ago, then 1 month ago, in order.
func (s *Service) RefreshGridTariffData(ctx context.Context, now time.Time, force bool) {
	s.mu.RLock()
	have := len(s.tariff) > 0
	s.mu.RUnlock()
	if have && !force {
		return
	}
	if s.FetchTariff == nil {
		return
	}

	candidates := []string{
		bucket.DateKey(now, s.Zone),
		bucket.DateKey(now.AddDate(0, 0, -1), s.Zone),
		bucket.DateKey(now.AddDate(0, 0, -7), s.Zone),
		bucket.DateKey(now.AddDate(0, -1, 0), s.Zone),
	}

	for _, key := range candidates {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		entries, err := s.FetchTariff(cctx, key)
		cancel()
		if err != nil {
			s.log.Error("price", "refresh_tariff_failed", map[string]any{"date_key": key, "error": err.Error()})
			continue
		}
		if len(entries) > 0 {
			s.mu.Lock()
			s.tariff = entries
			s.mu.Unlock()
			return
		}
	}
	s.log.Error("price", "refresh_tariff_empty", map[string]any{"candidates": candidates})
}

// FlowPriceKind selects which day a flow/homey price payload covers.
type FlowPriceKind string

const (
	FlowToday    FlowPriceKind = "today"
	FlowTomorrow FlowPriceKind = "tomorrow"
)

// StoreFlowPriceData accepts a validated hour->price mapping for the flow or
// homey scheme sources and stores it as spot-price-shaped entries for the
// given kind/day, reporting any hours missing from the payload.
func (s *Service) StoreFlowPriceData(kind FlowPriceKind, dateKey string, pricesByHour map[int]float64, currency string) (missingHours []int) {
	entries := make([]SpotPrice, 0, 24)
	dayStart, err := bucket.DayStart(dateKey, s.Zone)
	if err != nil {
		s.log.Error("price", "store_flow_invalid_date", map[string]any{"date_key": dateKey})
		return nil
	}

	buckets, _ := bucket.BucketsForDay(dateKey, s.Zone)
	for i, b := range buckets {
		p, ok := pricesByHour[i]
		if !ok {
			missingHours = append(missingHours, i)
			continue
		}
		entries = append(entries, SpotPrice{StartsAt: b, Total: p, Currency: currency})
	}
	_ = dayStart

	s.mu.Lock()
	switch kind {
	case FlowToday:
		s.spotToday = entries
	case FlowTomorrow:
		s.spotTomorrow = entries
	}
	s.spotArea = s.Area
	s.mu.Unlock()

	if len(missingHours) > 0 {
		s.log.Error("price", "flow_missing_hours", map[string]any{"kind": kind, "missing": missingHours})
	}
	return missingHours
}

// UpdateCombinedPrices recomputes the combined series from currently cached
// components and stores it. Returns the new series.
func (s *Service) UpdateCombinedPrices(now time.Time) Series {
	s.mu.RLock()
	spot := make([]SpotPrice, 0, len(s.spotToday)+len(s.spotTomorrow))
	spot = append(spot, s.spotToday...)
	spot = append(spot, s.spotTomorrow...)
	tariff := append([]TariffPrice(nil), s.tariff...)
	s.mu.RUnlock()

	series := Combine(CombineInputs{
		Area:                   s.Area,
		Spot:                   spot,
		Tariff:                 tariff,
		ProviderSurchargeExVat: s.ProviderSurchargeExVat,
		ConsumptionTaxExVat:    s.ConsumptionTaxExVat,
		EnovaFeeExVat:          s.EnovaFeeExVat,
		ElectricitySupport:     s.ElectricitySupport,
		NorgesprisCapIncVat:    s.NorgesprisCapIncVat,
		Vat:                    s.Vat,
		ThresholdPercent:       s.ThresholdPercent,
		MinDiffOre:             s.MinDiffOre,
		Scheme:                 s.Scheme,
		Unit:                   s.Unit,
		FetchedAt:              now,
	})

	s.mu.Lock()
	s.combined = series
	s.mu.Unlock()
	return series
}

// Combined returns the most recently computed combined series.
func (s *Service) Combined() Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.combined
}
