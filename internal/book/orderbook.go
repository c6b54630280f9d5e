// Package book implements the in-memory, per-symbol, two-sided order book
// (spec §4.1). It is the sole owner of live-order records; the durable row
// lives in the storage package and is reconciled with the book by id
// (spec §9's "cyclic ordering" note).
package book

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"order-matching-engine/internal/models"
)

// liveOrder is the book's minimal view of a resting order: just enough to
// match (id, price, remaining_qty, side, account_id, user_id, symbol). The
// authoritative row, with timestamps and full status history, lives in the
// storage package.
type liveOrder struct {
	ID                int64
	UserID            int64
	AccountID         int64
	Symbol            string
	Side              models.Side
	Price             decimal.Decimal
	RemainingQuantity decimal.Decimal
}

// priceLevel is a FIFO queue of live orders resting at one price.
type priceLevel struct {
	price  decimal.Decimal
	orders []*liveOrder
}

type levels = btree.BTreeG[*priceLevel]

// OrderBook is the per-symbol two-sided book. bids are indexed with the
// highest price first, asks with the lowest price first, matching the
// price-time priority rule in spec §4.1. Methods are safe for concurrent
// use, though the matcher is expected to be the only caller holding the
// per-symbol critical section (spec §5).
type OrderBook struct {
	Symbol string

	mu   sync.Mutex
	bids *levels
	asks *levels

	// byID lets RemoveByID and book reconciliation locate an order's price
	// level without a scan.
	byID map[int64]*priceLevel
}

// New constructs an empty OrderBook for symbol.
func New(symbol string) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price.GreaterThan(b.price) // descending: best bid first
	})
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price.LessThan(b.price) // ascending: best ask first
	})
	return &OrderBook{
		Symbol: symbol,
		bids:   bids,
		asks:   asks,
		byID:   make(map[int64]*priceLevel),
	}
}

func (ob *OrderBook) sideLevels(side models.Side) *levels {
	if side == models.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// PeekBest returns the oldest order at the best price on side, or nil if
// that side is empty. O(log N): a single btree Min lookup.
func (ob *OrderBook) PeekBest(side models.Side) *models.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	lv, ok := ob.sideLevels(side).Min()
	if !ok || len(lv.orders) == 0 {
		return nil
	}
	return toModelOrder(lv.orders[0], side)
}

// Push inserts order at the tail of its price level (FIFO, time priority).
// Only LIMIT orders belong in the book; callers must not push MARKET
// residuals (spec §4.2 point 3: they are cancelled instead, never rested).
func (ob *OrderBook) Push(order *models.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	lo := &liveOrder{
		ID:                order.ID,
		UserID:            order.UserID,
		AccountID:         order.AccountID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		Price:             *order.Price,
		RemainingQuantity: order.RemainingQuantity,
	}

	sl := ob.sideLevels(order.Side)
	key := &priceLevel{price: *order.Price}
	if existing, ok := sl.GetMut(key); ok {
		existing.orders = append(existing.orders, lo)
		ob.byID[order.ID] = existing
		return
	}
	key.orders = append(key.orders, lo)
	sl.Set(key)
	ob.byID[order.ID] = key
}

// PopFront removes the oldest order at the best price on side, returning it.
func (ob *OrderBook) PopFront(side models.Side) *models.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	sl := ob.sideLevels(side)
	lv, ok := sl.MinMut()
	if !ok || len(lv.orders) == 0 {
		return nil
	}
	front := lv.orders[0]
	lv.orders = lv.orders[1:]
	delete(ob.byID, front.ID)
	if len(lv.orders) == 0 {
		sl.Delete(lv)
	}
	return toModelOrder(front, side)
}

// DecrementFront reduces the remaining quantity of the front order at the
// best price on side by qty, removing it from the book iff the result is
// <= 0. Returns the order's post-decrement state, or nil if side is empty.
func (ob *OrderBook) DecrementFront(side models.Side, qty decimal.Decimal) *models.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	sl := ob.sideLevels(side)
	lv, ok := sl.MinMut()
	if !ok || len(lv.orders) == 0 {
		return nil
	}
	front := lv.orders[0]
	front.RemainingQuantity = front.RemainingQuantity.Sub(qty)
	result := toModelOrder(front, side)
	if front.RemainingQuantity.Sign() <= 0 {
		lv.orders = lv.orders[1:]
		delete(ob.byID, front.ID)
		if len(lv.orders) == 0 {
			sl.Delete(lv)
		}
	}
	return result
}

// RestoreFront undoes a DecrementFront/PopFront against order: its
// remaining quantity is set back to preFillRemaining, re-inserting it at
// the front of its price level if it had been fully consumed and dropped.
// Used to compensate the matcher's book mutations when a fill's settlement
// fails downstream and the whole order must unwind (spec §5: rollback
// covers both the database changes and the in-memory mutations the matcher
// made for the incoming order, not only the incoming order itself).
func (ob *OrderBook) RestoreFront(order *models.Order, preFillRemaining decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	sl := ob.sideLevels(order.Side)
	key := &priceLevel{price: *order.Price}
	lv, ok := sl.GetMut(key)
	if !ok {
		lv = &priceLevel{price: *order.Price}
		sl.Set(lv)
	}

	for _, o := range lv.orders {
		if o.ID == order.ID {
			o.RemainingQuantity = preFillRemaining
			return
		}
	}

	lo := &liveOrder{
		ID:                order.ID,
		UserID:            order.UserID,
		AccountID:         order.AccountID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		Price:             *order.Price,
		RemainingQuantity: preFillRemaining,
	}
	lv.orders = append([]*liveOrder{lo}, lv.orders...)
	ob.byID[order.ID] = lv
}

// RemoveByID removes a live order by id regardless of its position within
// its price level, for explicit cancellation of a resting order. Reports
// whether an order was removed.
func (ob *OrderBook) RemoveByID(orderID int64, side models.Side) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	lv, ok := ob.byID[orderID]
	if !ok {
		return false
	}
	for i, o := range lv.orders {
		if o.ID == orderID {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			delete(ob.byID, orderID)
			if len(lv.orders) == 0 {
				ob.sideLevels(side).Delete(lv)
			}
			return true
		}
	}
	return false
}

// SnapshotGrouped returns the aggregated (side, price, total_qty, count)
// rows for this symbol's book: bids first (descending), then asks
// (ascending) — spec §4.1's snapshot_grouped.
func (ob *OrderBook) SnapshotGrouped() []models.BookLevel {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var out []models.BookLevel
	ob.bids.Scan(func(lv *priceLevel) bool {
		out = append(out, groupedRow(models.SideBuy, lv))
		return true
	})
	ob.asks.Scan(func(lv *priceLevel) bool {
		out = append(out, groupedRow(models.SideSell, lv))
		return true
	})
	return out
}

func groupedRow(side models.Side, lv *priceLevel) models.BookLevel {
	total := decimal.Zero
	for _, o := range lv.orders {
		total = total.Add(o.RemainingQuantity)
	}
	return models.BookLevel{Side: side, Price: lv.price, Qty: total, Count: len(lv.orders)}
}

func toModelOrder(lo *liveOrder, side models.Side) *models.Order {
	price := lo.Price
	return &models.Order{
		ID:                lo.ID,
		UserID:            lo.UserID,
		AccountID:         lo.AccountID,
		Symbol:            lo.Symbol,
		Side:              side,
		Type:              models.TypeLimit,
		Price:             &price,
		RemainingQuantity: lo.RemainingQuantity,
	}
}
