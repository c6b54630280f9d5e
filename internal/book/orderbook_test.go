package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
)

func newLimit(id int64, side models.Side, price, qty float64) *models.Order {
	p := decimal.NewFromFloat(price)
	return &models.Order{
		ID: id, Symbol: "BTCUSD", Side: side, Type: models.TypeLimit,
		Price: &p, Quantity: decimal.NewFromFloat(qty), RemainingQuantity: decimal.NewFromFloat(qty),
		Status: models.StatusWorking, CreatedAt: time.Now(),
	}
}

func TestOrderBook_PeekBestPicksHighestBidLowestAsk(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideBuy, 100, 1))
	ob.Push(newLimit(2, models.SideBuy, 101, 1))
	ob.Push(newLimit(3, models.SideSell, 105, 1))
	ob.Push(newLimit(4, models.SideSell, 104, 1))

	bestBid := ob.PeekBest(models.SideBuy)
	if bestBid == nil || bestBid.ID != 2 {
		t.Fatalf("expected best bid order 2 (price 101), got %+v", bestBid)
	}
	bestAsk := ob.PeekBest(models.SideSell)
	if bestAsk == nil || bestAsk.ID != 4 {
		t.Fatalf("expected best ask order 4 (price 104), got %+v", bestAsk)
	}
}

func TestOrderBook_PushThenPopFront_FIFO(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideBuy, 100, 1))
	ob.Push(newLimit(2, models.SideBuy, 100, 1))

	first := ob.PopFront(models.SideBuy)
	if first == nil || first.ID != 1 {
		t.Fatalf("expected order 1 popped first, got %+v", first)
	}
	second := ob.PopFront(models.SideBuy)
	if second == nil || second.ID != 2 {
		t.Fatalf("expected order 2 popped second, got %+v", second)
	}
	if ob.PeekBest(models.SideBuy) != nil {
		t.Fatal("expected empty book after popping both orders")
	}
}

func TestOrderBook_DecrementFrontRemovesWhenExhausted(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideSell, 100, 1))

	updated := ob.DecrementFront(models.SideSell, decimal.NewFromFloat(0.4))
	if updated == nil || !updated.RemainingQuantity.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected remaining 0.6, got %+v", updated)
	}
	if ob.PeekBest(models.SideSell) == nil {
		t.Fatal("order should still be resting")
	}

	updated = ob.DecrementFront(models.SideSell, decimal.NewFromFloat(0.6))
	if updated.RemainingQuantity.Sign() > 0 {
		t.Fatalf("expected zero remaining, got %s", updated.RemainingQuantity)
	}
	if ob.PeekBest(models.SideSell) != nil {
		t.Fatal("exhausted order should be removed from the book")
	}
}

func TestOrderBook_RemoveByID(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideBuy, 100, 1))
	ob.Push(newLimit(2, models.SideBuy, 100, 1))

	if !ob.RemoveByID(1, models.SideBuy) {
		t.Fatal("expected order 1 to be removed")
	}
	if ob.RemoveByID(1, models.SideBuy) {
		t.Fatal("removing an already-removed order should report false")
	}

	remaining := ob.PeekBest(models.SideBuy)
	if remaining == nil || remaining.ID != 2 {
		t.Fatalf("expected order 2 to remain, got %+v", remaining)
	}
}

func TestOrderBook_RestoreFront_ReinsertsFullyConsumedOrderAtFront(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideSell, 100, 1))
	ob.Push(newLimit(2, models.SideSell, 100, 1))

	consumed := ob.DecrementFront(models.SideSell, decimal.NewFromFloat(1))
	if consumed.RemainingQuantity.Sign() > 0 {
		t.Fatalf("expected order 1 fully consumed, got %s", consumed.RemainingQuantity)
	}
	if best := ob.PeekBest(models.SideSell); best == nil || best.ID != 2 {
		t.Fatalf("expected order 2 now at front, got %+v", best)
	}

	ob.RestoreFront(consumed, decimal.NewFromFloat(1))

	restored := ob.PeekBest(models.SideSell)
	if restored == nil || restored.ID != 1 {
		t.Fatalf("expected order 1 restored to front of its price level, got %+v", restored)
	}
	if !restored.RemainingQuantity.Equal(decimal.NewFromFloat(1)) {
		t.Fatalf("expected restored remaining 1, got %s", restored.RemainingQuantity)
	}

	rows := ob.SnapshotGrouped()
	if len(rows) != 1 || rows[0].Count != 2 || !rows[0].Qty.Equal(decimal.NewFromFloat(2)) {
		t.Fatalf("expected both orders resting again at one level, got %+v", rows)
	}
}

func TestOrderBook_RestoreFront_SetsRemainingOnStillRestingOrder(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideSell, 100, 1))

	partial := ob.DecrementFront(models.SideSell, decimal.NewFromFloat(0.4))
	if !partial.RemainingQuantity.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected remaining 0.6 after partial fill, got %s", partial.RemainingQuantity)
	}

	ob.RestoreFront(partial, decimal.NewFromFloat(1))

	restored := ob.PeekBest(models.SideSell)
	if restored == nil || !restored.RemainingQuantity.Equal(decimal.NewFromFloat(1)) {
		t.Fatalf("expected remaining restored to 1, got %+v", restored)
	}
}

func TestOrderBook_SnapshotGrouped_OrderingAndAggregation(t *testing.T) {
	ob := New("BTCUSD")
	ob.Push(newLimit(1, models.SideBuy, 100, 1))
	ob.Push(newLimit(2, models.SideBuy, 100, 2))
	ob.Push(newLimit(3, models.SideBuy, 101, 1))
	ob.Push(newLimit(4, models.SideSell, 105, 1))

	rows := ob.SnapshotGrouped()
	if len(rows) != 3 {
		t.Fatalf("expected 3 grouped rows, got %d", len(rows))
	}

	if rows[0].Side != models.SideBuy || !rows[0].Price.Equal(decimal.NewFromFloat(101)) {
		t.Errorf("expected best bid (101) first, got %+v", rows[0])
	}
	if rows[1].Side != models.SideBuy || !rows[1].Price.Equal(decimal.NewFromFloat(100)) || rows[1].Count != 2 {
		t.Errorf("expected aggregated bid level at 100 with count 2, got %+v", rows[1])
	}
	if !rows[1].Qty.Equal(decimal.NewFromFloat(3)) {
		t.Errorf("expected aggregated qty 3, got %s", rows[1].Qty)
	}
	if rows[2].Side != models.SideSell {
		t.Errorf("expected asks after bids, got %+v", rows[2])
	}
}
