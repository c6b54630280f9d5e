package depth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"order-matching-engine/internal/book"
	"order-matching-engine/internal/models"
)

// priceKeyScale is the fixed exponent prices are rescaled to before use as a
// map key, so "100" (local book) and "100.00" (venue) land on the same key
// instead of silently failing to align — decimal.Decimal.String() renders
// the value's original scale, not its numeric identity.
const priceKeyScale = -8

func priceKey(d decimal.Decimal) string {
	return d.Rescale(priceKeyScale).String()
}

// Merger combines an external venue's depth snapshot with the local
// in-memory book (spec §4.5): the venue's price grid is authoritative,
// the local side only annotates each of the venue's levels with whatever
// local liquidity sits at that exact price, 0/0 if none.
//
// A venue fetch that fails or trips the breaker degrades to an empty
// external grid rather than propagating an error to the caller (spec §7):
// market data is best-effort, the matching core is not allowed to depend
// on it.
type Merger struct {
	venue   VenueClient
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// New returns a Merger that calls venue through a circuit breaker named
// "depth-venue", tripping after 5 consecutive failures and probing again
// after 30s (original_source/services/binance_depth.py's fallback window).
func New(venue VenueClient, log zerolog.Logger) *Merger {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "depth-venue",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Merger{venue: venue, breaker: cb, log: log}
}

// Merge fetches symbol's venue depth and overlays ob's current grouped
// state onto it. limit bounds how many venue levels per side are requested.
func (m *Merger) Merge(ctx context.Context, symbol string, limit int, ob *book.OrderBook) models.MergedBook {
	snap, err := m.fetch(ctx, symbol, limit)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("depth venue unavailable, degrading to empty external grid")
		return models.MergedBook{Symbol: symbol}
	}

	local := ob.SnapshotGrouped()
	localBids := indexByPrice(local, models.SideBuy)
	localAsks := indexByPrice(local, models.SideSell)

	return models.MergedBook{
		Symbol: symbol,
		Bids:   overlay(snap.Bids, localBids),
		Asks:   overlay(snap.Asks, localAsks),
		Mid:    snap.Mid,
	}
}

func (m *Merger) fetch(ctx context.Context, symbol string, limit int) (models.DepthSnapshot, error) {
	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.venue.FetchDepth(ctx, symbol, limit)
	})
	if err != nil {
		return models.DepthSnapshot{}, err
	}
	return result.(models.DepthSnapshot), nil
}

func indexByPrice(levels []models.BookLevel, side models.Side) map[string]models.BookLevel {
	out := make(map[string]models.BookLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Side == side {
			out[priceKey(lvl.Price)] = lvl
		}
	}
	return out
}

func overlay(venueLevels []models.DepthLevel, local map[string]models.BookLevel) []models.MergedLevel {
	out := make([]models.MergedLevel, 0, len(venueLevels))
	for _, v := range venueLevels {
		merged := models.MergedLevel{Price: v.Price, VenueQty: v.Qty}
		if lvl, ok := local[priceKey(v.Price)]; ok {
			merged.LocalQty = lvl.Qty
			merged.LocalCount = lvl.Count
		}
		out = append(out, merged)
	}
	return out
}
