// Package spot implements the norway-scheme spot price fetcher (spec
// §4.B refreshSpotPrices), grounded on entsoe/api_client.go's HTTP-client
// and context-timeout shape, but decoding the JSON wire shape of spec §6
// ({startsAt, total, currency}) rather than the ENTSO-E XML document.
package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devskill-org/homeenergy/internal/price"
)

// Client fetches day-ahead spot prices for a price area from an HTTP
// endpoint returning a JSON array of {startsAt, total, currency}.
type Client struct {
	HTTPClient *http.Client
	// URLFormat is fmt.Sprintf'd with (area, dateKey).
	URLFormat string
	UserAgent string
}

// NewClient constructs a Client with a 10s-timeout default HTTP client,
// matching the outer-timeout requirement of spec §5.
func NewClient(urlFormat string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		URLFormat:  urlFormat,
		UserAgent:  "homeenergy-price-client/1.0",
	}
}

type wireEntry struct {
	StartsAt string  `json:"startsAt"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// Fetch downloads and decodes the spot-price series for area/dateKey.
// Data-shape failures (malformed payload) are returned as ordinary errors;
// price.Service logs an error for every failed refresh, with no
// de-duplication by cause.
func (c *Client) Fetch(ctx context.Context, area string, dateKey string) ([]price.SpotPrice, error) {
	url := fmt.Sprintf(c.URLFormat, area, dateKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("spot: building request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spot: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("spot: server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spot: unexpected status %d", resp.StatusCode)
	}

	var wire []wireEntry
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("spot: decoding response: %w", err)
	}

	out := make([]price.SpotPrice, 0, len(wire))
	for _, w := range wire {
		t, err := time.Parse(time.RFC3339, w.StartsAt)
		if err != nil {
			return nil, fmt.Errorf("spot: invalid startsAt %q: %w", w.StartsAt, err)
		}
		out = append(out, price.SpotPrice{StartsAt: t, Total: w.Total, Currency: w.Currency})
	}
	return out, nil
}
