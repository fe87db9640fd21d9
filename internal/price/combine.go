package price

import "time"

// VatTable maps a price area (e.g. "NO1") to its VAT multiplier (e.g. 1.25
// for 25% VAT).
type VatTable map[string]float64

// DefaultVatMultiplier is the standard Norwegian VAT multiplier, used when an
// area has no specific override.
const DefaultVatMultiplier = 1.25

func (t VatTable) multiplierFor(area string) float64 {
	if m, ok := t[area]; ok {
		return m
	}
	return DefaultVatMultiplier
}

// SpotPrice is one hour of the normalized spot price component (spec §6's
// {startsAt, total, currency} wire shape, post-decode).
type SpotPrice struct {
	StartsAt time.Time
	Total    float64 // ex-VAT, unit/kWh
	Currency string
}

// TariffPrice is one hour of the normalized grid-tariff component (spec
// §4.B / §6: Norwegian fields normalized to English snake_case upstream in
// package tariff).
type TariffPrice struct {
	StartsAt      time.Time `json:"starts_at"`
	EnergyExVat   float64   `json:"energy_ex_vat"`
	EnergyIncVat  float64   `json:"energy_inc_vat"`
	FixedExVat    float64   `json:"fixed_ex_vat"`
}

// CombineInputs carries everything updateCombinedPrices needs to recompute
// the series from currently cached components.
type CombineInputs struct {
	Area                string
	Spot                []SpotPrice
	Tariff              []TariffPrice // optional; zero value used where absent
	ProviderSurchargeExVat float64
	ConsumptionTaxExVat    float64
	EnovaFeeExVat          float64
	ElectricitySupport     func(hour time.Time, spotExVat float64) float64 // optional
	NorgesprisCapIncVat    *float64                                       // optional
	Vat                 VatTable
	ThresholdPercent    float64
	MinDiffOre          float64
	Scheme              Scheme
	Unit                string
	FetchedAt           time.Time
}

// Combine recomputes the combined series per spec §4.B updateCombinedPrices:
//
//	total = (spotExVat + tariffExVat + surcharge + tax + enova) * vatMultiplier
//	        - electricitySupport + norgesprisAdjustment
//
// capped by an optional Norgespris fixed price.
func Combine(in CombineInputs) Series {
	vatMultiplier := in.Vat.multiplierFor(in.Area)

	tariffByHour := make(map[int64]TariffPrice, len(in.Tariff))
	for _, t := range in.Tariff {
		tariffByHour[t.StartsAt.UTC().Truncate(time.Hour).Unix()] = t
	}

	entries := make([]Entry, 0, len(in.Spot))
	for _, s := range in.Spot {
		hourKey := s.StartsAt.UTC().Truncate(time.Hour).Unix()
		tariff := tariffByHour[hourKey] // zero value if absent

		spotExVat := s.Total
		gridTariffExVat := tariff.EnergyExVat

		support := 0.0
		if in.ElectricitySupport != nil {
			support = in.ElectricitySupport(s.StartsAt, spotExVat)
		}

		preVat := spotExVat + gridTariffExVat + in.ProviderSurchargeExVat + in.ConsumptionTaxExVat + in.EnovaFeeExVat
		total := preVat*vatMultiplier - support

		var norgespris float64
		if in.NorgesprisCapIncVat != nil && total > *in.NorgesprisCapIncVat {
			norgespris = *in.NorgesprisCapIncVat - total
			total = *in.NorgesprisCapIncVat
		}

		vatAmount := preVat * (vatMultiplier - 1)

		entries = append(entries, Entry{
			StartsAt:               s.StartsAt.UTC().Truncate(time.Hour),
			Total:                  total,
			SpotPriceExVat:         ptr(spotExVat),
			GridTariffExVat:        ptr(gridTariffExVat),
			ProviderSurchargeExVat: ptr(in.ProviderSurchargeExVat),
			ConsumptionTaxExVat:    ptr(in.ConsumptionTaxExVat),
			EnovaFeeExVat:          ptr(in.EnovaFeeExVat),
			VatMultiplier:          ptr(vatMultiplier),
			VatAmount:              ptr(vatAmount),
			ElectricitySupport:     ptr(support),
			NorgesprisAdjustment:   ptr(norgespris),
			TotalExVat:             ptr(preVat),
		})
	}

	return BuildSeries(entries, in.Scheme, in.Unit, in.ThresholdPercent, in.MinDiffOre, in.FetchedAt)
}

func ptr[T any](v T) *T { return &v }
