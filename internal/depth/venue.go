// Package depth implements the DepthMerger (spec §4.5): fetching an
// external venue's depth snapshot and overlaying the local grouped book on
// its price grid. The venue client is an interface — only the shape of the
// snapshot it returns matters to this package (spec §1's out-of-scope list:
// "external venue HTTP clients" are a collaborator, not core).
package depth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
)

// VenueClient fetches a depth snapshot for symbol from an external venue.
type VenueClient interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (models.DepthSnapshot, error)
}

// HTTPVenueClient is a VenueClient for a Binance-shaped REST depth endpoint
// (original_source/services/binance_depth.py): GET {base}?symbol=...&limit=...
// returning {"bids":[["price","qty"],...],"asks":[...]}
// with price/qty as strings.
type HTTPVenueClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPVenueClient returns a client against baseURL with a short request
// timeout, matching binance_depth.py's 0.8s budget.
func NewHTTPVenueClient(baseURL string) *HTTPVenueClient {
	return &HTTPVenueClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 800 * time.Millisecond},
	}
}

type venueDepthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// FetchDepth implements VenueClient.
func (c *HTTPVenueClient) FetchDepth(ctx context.Context, symbol string, limit int) (models.DepthSnapshot, error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", c.BaseURL, symbol, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.DepthSnapshot{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return models.DepthSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.DepthSnapshot{}, fmt.Errorf("venue returned status %d", resp.StatusCode)
	}

	var raw venueDepthResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.DepthSnapshot{}, fmt.Errorf("decode venue depth: %w", err)
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return models.DepthSnapshot{}, err
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return models.DepthSnapshot{}, err
	}

	mid := decimal.Zero
	if len(bids) > 0 && len(asks) > 0 {
		mid = bids[0].Price.Add(asks[0].Price).Div(decimal.NewFromInt(2))
	}

	return models.DepthSnapshot{Bids: bids, Asks: asks, Mid: mid}, nil
}

func parseLevels(raw [][2]string) ([]models.DepthLevel, error) {
	out := make([]models.DepthLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("parse qty %q: %w", pair[1], err)
		}
		out = append(out, models.DepthLevel{Price: price, Qty: qty})
	}
	return out, nil
}
