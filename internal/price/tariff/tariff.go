// Package tariff implements the grid-tariff fetcher (spec §4.B
// refreshGridTariffData), normalizing the Norwegian wire field names
// (energileddEks/Ink, fastleddEks/Ink, datoId) to English snake_case.
package tariff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devskill-org/homeenergy/internal/price"
)

// Client fetches hourly grid-tariff entries for one local day.
type Client struct {
	HTTPClient *http.Client
	// URLFormat is fmt.Sprintf'd with dateKey.
	URLFormat string
}

// NewClient constructs a Client with a 10s timeout default.
func NewClient(urlFormat string) *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 10 * time.Second}, URLFormat: urlFormat}
}

// wireEntry mirrors the Norwegian-named payload the grid operator API
// returns.
type wireEntry struct {
	DatoID        string  `json:"datoId"`
	EnergileddEks float64 `json:"energileddEks"`
	EnergileddInk float64 `json:"energileddInk"`
	FastleddEks   float64 `json:"fastleddEks"`
	FastleddInk   float64 `json:"fastleddInk"`
}

// normalize converts the Norwegian wire shape to the English snake_case
// TariffPrice used throughout the rest of the system.
func normalize(w wireEntry) (price.TariffPrice, error) {
	t, err := time.Parse("2006-01-02T15", w.DatoID)
	if err != nil {
		return price.TariffPrice{}, fmt.Errorf("tariff: invalid datoId %q: %w", w.DatoID, err)
	}
	return price.TariffPrice{
		StartsAt:     t.UTC(),
		EnergyExVat:  w.EnergileddEks,
		EnergyIncVat: w.EnergileddInk,
		FixedExVat:   w.FastleddEks,
	}, nil
}

// Fetch downloads and normalizes the grid-tariff series for dateKey. An
// empty result (not an error) signals "no data for this day", which the
// price.Service caller uses to advance its yesterday/7-day/1-month fallback
// chain.
func (c *Client) Fetch(ctx context.Context, dateKey string) ([]price.TariffPrice, error) {
	url := fmt.Sprintf(c.URLFormat, dateKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tariff: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tariff: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tariff: unexpected status %d", resp.StatusCode)
	}

	var wire []wireEntry
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("tariff: decoding response: %w", err)
	}

	out := make([]price.TariffPrice, 0, len(wire))
	for _, w := range wire {
		n, err := normalize(w)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
