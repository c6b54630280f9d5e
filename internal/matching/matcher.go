// Package matching implements the continuous price-time-priority matcher
// (spec §4.2): crossing an incoming order against the opposite side of a
// symbol's OrderBook, emitting fills in the order they occur, and finalizing
// the incoming order's terminal in-memory state.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/book"
	"order-matching-engine/internal/models"
)

// Result is the outcome of crossing one incoming order against the book.
type Result struct {
	// Fills are emitted in the order the crossing algorithm produced them.
	Fills []models.Fill
	// RestingLeft is the incoming order's state if a LIMIT residual was
	// pushed onto the book; nil if nothing was rested.
	RestingLeft *models.Order
	// FinalStatus is the incoming order's terminal in-memory status for
	// this processing pass (PARTIAL/WORKING if rested, FILLED, or
	// CANCELLED for an unfillable MARKET residual).
	FinalStatus models.Status
}

// Engine crosses incoming orders against per-symbol books. It holds no
// state of its own; the OrderBook passed to each call is the only mutable
// state touched, per spec §4.1's ownership rule.
type Engine struct{}

// New returns a matching Engine.
func New() *Engine { return &Engine{} }

// ProcessLimit crosses a LIMIT order against ob while its price is
// marketable, then rests any residual onto its own side (spec §4.2,
// crossing algorithm points 1-2).
func (e *Engine) ProcessLimit(incoming *models.Order, ob *book.OrderBook) Result {
	working := *incoming
	fills := e.cross(&working, ob, true)

	if working.RemainingQuantity.Sign() > 0 {
		ob.Push(&working)
		status := models.StatusWorking
		if len(fills) > 0 {
			status = models.StatusPartial
		}
		rested := working
		rested.Status = status
		return Result{Fills: fills, RestingLeft: &rested, FinalStatus: status}
	}

	return Result{Fills: fills, FinalStatus: models.StatusFilled}
}

// ProcessMarket crosses a MARKET order against ob without any price check;
// any residual once the opposite side is exhausted is cancelled, never
// rested (spec §4.2, crossing algorithm point 3).
func (e *Engine) ProcessMarket(incoming *models.Order, ob *book.OrderBook) Result {
	working := *incoming
	fills := e.cross(&working, ob, false)

	if working.RemainingQuantity.Sign() > 0 {
		return Result{Fills: fills, FinalStatus: models.StatusCancelled}
	}
	return Result{Fills: fills, FinalStatus: models.StatusFilled}
}

// cross repeatedly matches incoming against the opposite side of ob. When
// checkPrice is true (LIMIT orders), the marketability test in spec §4.2
// stops the loop as soon as the incoming price no longer crosses the best
// opposite price. MARKET orders (checkPrice=false) never stop on price —
// only on an empty opposite side.
func (e *Engine) cross(incoming *models.Order, ob *book.OrderBook, checkPrice bool) []models.Fill {
	var fills []models.Fill
	opposite := incoming.Side.Opposite()
	now := time.Now()

	for incoming.RemainingQuantity.Sign() > 0 {
		resting := ob.PeekBest(opposite)
		if resting == nil {
			return fills
		}

		if checkPrice && !marketable(incoming, resting) {
			return fills
		}

		qty := decimal.Min(incoming.RemainingQuantity, resting.RemainingQuantity)
		price := resting.Price // maker price rule, spec §9

		fill := models.Fill{
			Symbol:   incoming.Symbol,
			Price:    *price,
			Quantity: qty,
		}
		if incoming.Side == models.SideBuy {
			fill.BuyOrderID, fill.SellOrderID = incoming.ID, resting.ID
		} else {
			fill.BuyOrderID, fill.SellOrderID = resting.ID, incoming.ID
		}

		incoming.RemainingQuantity = incoming.RemainingQuantity.Sub(qty)
		updatedResting := ob.DecrementFront(opposite, qty)
		if updatedResting != nil {
			updatedResting.UpdatedAt = now
			if updatedResting.RemainingQuantity.Sign() <= 0 {
				updatedResting.Status = models.StatusFilled
			} else {
				updatedResting.Status = models.StatusPartial
			}
			fill.MakerOrder = updatedResting
		}
		incoming.UpdatedAt = now
		takerSnapshot := *incoming
		fill.TakerOrder = &takerSnapshot

		fills = append(fills, fill)
	}
	return fills
}

// marketable implements spec §4.2's marketability test: BUY requires
// incoming.price >= resting.price; SELL requires incoming.price <=
// resting.price. Only meaningful for LIMIT incoming orders with a price.
func marketable(incoming, resting *models.Order) bool {
	if incoming.Price == nil || resting.Price == nil {
		return false
	}
	if incoming.Side == models.SideBuy {
		return incoming.Price.GreaterThanOrEqual(*resting.Price)
	}
	return incoming.Price.LessThanOrEqual(*resting.Price)
}
