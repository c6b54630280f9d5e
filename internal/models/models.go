// Package models holds the typed records that cross component boundaries:
// orders, trades, accounts, positions and the requests/responses built from
// them. No component reaches into another's internals through an untyped map.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the order type.
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

// Status is the lifecycle state of an order. Transitions are monotonic:
// FILLED and CANCELLED are terminal and are never left once reached.
type Status string

const (
	StatusWorking   Status = "WORKING"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether status cannot transition further.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is the durable order record (spec §3). Price is nil for MARKET
// orders and non-nil, strictly positive, for LIMIT orders.
type Order struct {
	ID                int64
	UserID            int64
	AccountID         int64
	Symbol            string
	Side              Side
	Type              Type
	Price             *decimal.Decimal
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Trade is an append-only fill record (spec §3). Never updated or deleted.
type Trade struct {
	ID          int64
	Symbol      string
	BuyOrderID  int64
	SellOrderID int64
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TradeTime   time.Time
}

// Account holds a user's cash balance.
type Account struct {
	ID        int64
	UserID    int64
	AccountNo string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Position is the (account_id, symbol) keyed holding. A position with Qty
// zero does not exist as a row; callers observe its absence, not a zero row.
type Position struct {
	AccountID int64
	Symbol    string
	Qty       decimal.Decimal
	AvgPrice  decimal.Decimal
	UpdatedAt time.Time
}

// AccountSummary bundles a balance with every open position for an account,
// the shape the /account/summary interface (spec §6) returns.
type AccountSummary struct {
	AccountID int64
	Balance   decimal.Decimal
	Positions []Position
}

// Fill is one match between an incoming order and a resting order, emitted
// in the order the matcher produced it. Price is the maker (resting order's)
// price per spec §9's Open Question resolution.
type Fill struct {
	Symbol      string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	BuyOrderID  int64
	SellOrderID int64
	TakerOrder  *Order // the incoming order as it stood at this fill
	MakerOrder  *Order // the resting order as it stood at this fill
}

// BookLevel is one aggregated (side, price) row from either the in-memory
// book or the durable store's grouped aggregation.
type BookLevel struct {
	Side  Side
	Price decimal.Decimal
	Qty   decimal.Decimal
	Count int
}

// DepthLevel is one price/qty pair from an external venue snapshot.
type DepthLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// DepthSnapshot is the external venue's depth response (spec §6), already
// parsed into decimals; bids descending, asks ascending.
type DepthSnapshot struct {
	Bids []DepthLevel
	Asks []DepthLevel
	Mid  decimal.Decimal
}

// MergedLevel is one external price level annotated with local liquidity.
type MergedLevel struct {
	Price      decimal.Decimal
	VenueQty   decimal.Decimal
	LocalQty   decimal.Decimal
	LocalCount int
}

// MergedBook is the DepthMerger's output (spec §4.5): external price grid,
// local liquidity overlay, external mid passed through unchanged.
type MergedBook struct {
	Symbol string
	Bids   []MergedLevel
	Asks   []MergedLevel
	Mid    decimal.Decimal
}

// PlaceOrderRequest is the input to OrderService.PlaceLimit/PlaceMarket.
type PlaceOrderRequest struct {
	UserID    int64 `validate:"required"`
	AccountID int64 `validate:"required"`
	Symbol    string `validate:"required"`
	Side      Side   `validate:"required,oneof=BUY SELL"`
	Price     decimal.Decimal
	Quantity  decimal.Decimal `validate:"required"`
}

// PlaceOrderResult is returned by OrderService.PlaceLimit/PlaceMarket.
type PlaceOrderResult struct {
	OrderID int64
	Fills   []Trade
}
