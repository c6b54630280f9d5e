package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/book"
	"order-matching-engine/internal/models"
)

func limitOrder(id int64, side models.Side, price, qty float64) *models.Order {
	p := decimal.NewFromFloat(price)
	return &models.Order{
		ID:                id,
		Symbol:            "BTCUSD",
		Side:              side,
		Type:              models.TypeLimit,
		Price:             &p,
		Quantity:          decimal.NewFromFloat(qty),
		RemainingQuantity: decimal.NewFromFloat(qty),
		Status:            models.StatusWorking,
		CreatedAt:         time.Now(),
	}
}

func restOrder(ob *book.OrderBook, id int64, side models.Side, price, qty float64) {
	ob.Push(limitOrder(id, side, price, qty))
}

// TestProcessLimit_FullMatch verifies a 1:1 limit/limit match produces one
// fill at the resting order's price and marks the incoming order filled.
func TestProcessLimit_FullMatch(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 1.0)

	engine := New()
	incoming := limitOrder(2, models.SideBuy, 50000, 1.0)
	result := engine.ProcessLimit(incoming, ob)

	if len(result.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(result.Fills))
	}
	fill := result.Fills[0]
	if !fill.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("expected fill price 50000, got %s", fill.Price)
	}
	if fill.BuyOrderID != 2 || fill.SellOrderID != 1 {
		t.Errorf("unexpected order ids: buy=%d sell=%d", fill.BuyOrderID, fill.SellOrderID)
	}
	if result.FinalStatus != models.StatusFilled {
		t.Errorf("expected FILLED, got %s", result.FinalStatus)
	}
	if result.RestingLeft != nil {
		t.Error("expected nothing rested for a fully filled incoming order")
	}
}

// TestProcessLimit_PartialFillRests verifies a larger incoming buy partially
// fills a smaller resting sell and rests the remainder as PARTIAL.
func TestProcessLimit_PartialFillRests(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 0.5)

	engine := New()
	incoming := limitOrder(2, models.SideBuy, 50000, 1.0)
	result := engine.ProcessLimit(incoming, ob)

	if len(result.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(result.Fills))
	}
	if !result.Fills[0].Quantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected fill quantity 0.5, got %s", result.Fills[0].Quantity)
	}
	if result.RestingLeft == nil {
		t.Fatal("expected remainder to rest")
	}
	if result.RestingLeft.Status != models.StatusPartial {
		t.Errorf("expected PARTIAL, got %s", result.RestingLeft.Status)
	}
	if !result.RestingLeft.RemainingQuantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected remaining 0.5, got %s", result.RestingLeft.RemainingQuantity)
	}
}

// TestProcessLimit_NoCross verifies an unmarketable limit order rests at
// WORKING with zero fills rather than crossing.
func TestProcessLimit_NoCross(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 1.0)

	engine := New()
	incoming := limitOrder(2, models.SideBuy, 49000, 1.0)
	result := engine.ProcessLimit(incoming, ob)

	if len(result.Fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(result.Fills))
	}
	if result.RestingLeft == nil || result.RestingLeft.Status != models.StatusWorking {
		t.Fatal("expected incoming order to rest WORKING")
	}
}

// TestProcessMarket_WalksMultipleLevels confirms a market buy consumes asks
// across multiple price levels, best (lowest) price level first.
func TestProcessMarket_WalksMultipleLevels(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 0.3)
	restOrder(ob, 2, models.SideSell, 50100, 0.4)
	restOrder(ob, 3, models.SideSell, 50200, 0.5)

	engine := New()
	incoming := &models.Order{
		ID: 4, Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeMarket,
		Quantity: decimal.NewFromFloat(1.2), RemainingQuantity: decimal.NewFromFloat(1.2),
		Status: models.StatusWorking, CreatedAt: time.Now(),
	}
	result := engine.ProcessMarket(incoming, ob)

	if len(result.Fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(result.Fills))
	}
	wantPrices := []int64{50000, 50100, 50200}
	for i, want := range wantPrices {
		if !result.Fills[i].Price.Equal(decimal.NewFromInt(want)) {
			t.Errorf("fill %d: expected price %d, got %s", i, want, result.Fills[i].Price)
		}
	}
	if result.FinalStatus != models.StatusFilled {
		t.Errorf("expected FILLED, got %s", result.FinalStatus)
	}
}

// TestProcessMarket_UnfillableResidualCancels ensures a market order that
// exhausts the book is cancelled, never rested.
func TestProcessMarket_UnfillableResidualCancels(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 0.3)

	engine := New()
	incoming := &models.Order{
		ID: 2, Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeMarket,
		Quantity: decimal.NewFromFloat(1.0), RemainingQuantity: decimal.NewFromFloat(1.0),
		Status: models.StatusWorking, CreatedAt: time.Now(),
	}
	result := engine.ProcessMarket(incoming, ob)

	if len(result.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(result.Fills))
	}
	if result.FinalStatus != models.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", result.FinalStatus)
	}
	if result.RestingLeft != nil {
		t.Error("market residual must never rest")
	}
}

// TestProcessLimit_FIFOWithinPriceLevel verifies time priority: the order
// resting first at a price level is matched first.
func TestProcessLimit_FIFOWithinPriceLevel(t *testing.T) {
	ob := book.New("BTCUSD")
	restOrder(ob, 1, models.SideSell, 50000, 0.5)
	restOrder(ob, 2, models.SideSell, 50000, 0.5)

	engine := New()
	incoming := limitOrder(3, models.SideBuy, 50000, 0.3)
	result := engine.ProcessLimit(incoming, ob)

	if len(result.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(result.Fills))
	}
	if result.Fills[0].SellOrderID != 1 {
		t.Errorf("expected FIFO match against order 1, got %d", result.Fills[0].SellOrderID)
	}

	best := ob.PeekBest(models.SideSell)
	if best == nil || best.ID != 1 {
		t.Fatal("order 1 should still be resting with leftover quantity")
	}
	if !best.RemainingQuantity.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("expected order 1 remaining 0.2, got %s", best.RemainingQuantity)
	}
}
