// Package settlement implements the fill-settlement sequence (spec §4.4):
// given a fill, it updates both sides' cash balances and maintains
// per-symbol positions under the buy-side VWAP rule, inside the caller's
// transaction so the whole sequence commits or rolls back as one unit
// (spec §5).
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
	"order-matching-engine/internal/tradeerr"
)

var (
	errInsufficientBalance = errors.New("settlement would drive buyer balance negative")
	errNoPosition          = errors.New("sell fill against account with no open position")
)

// accountStore is the slice of storage.AccountStore that settlement needs.
// Declaring it here (rather than depending on *storage.AccountStore
// directly) lets tests exercise ApplyFillTx's transaction-scoped read/write
// sequencing against an in-memory fake instead of a live database.
type accountStore interface {
	GetTx(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error)
	UpdateBalanceTx(ctx context.Context, tx *sql.Tx, accountID int64, balance decimal.Decimal) error
	GetPositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) (*models.Position, error)
	UpsertPositionTx(ctx context.Context, tx *sql.Tx, pos *models.Position) error
	DeletePositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) error
}

// Settler applies fills to accounts and positions.
type Settler struct {
	accounts accountStore
}

// New returns a Settler backed by accounts.
func New(accounts accountStore) *Settler {
	return &Settler{accounts: accounts}
}

// ApplyFillTx settles one fill for both the buy and sell side accounts,
// inside tx. buyerAccountID/sellerAccountID are the account_id each
// respective order was placed under.
//
// Buyer: balance -= notional; BUY-VWAP position upsert. A fill that would
// drive the buyer's balance negative is rejected (spec §4.4, §7's
// precondition kind). OrderService already rejects a LIMIT BUY whose
// price × quantity exceeds the balance; a MARKET BUY's balance is checked
// only here.
//
// Seller: balance += notional; qty -= fill.qty, avg_price held constant,
// position deleted once qty reaches zero. A SELL fill against an account
// with no existing position is rejected rather than silently ignored
// (spec §9's Open Question: short-selling is not supported here, unlike
// the Python original).
func (s *Settler) ApplyFillTx(ctx context.Context, tx *sql.Tx, fill models.Fill, buyerAccountID, sellerAccountID int64) error {
	notional := fill.Price.Mul(fill.Quantity)
	now := time.Now()

	if err := s.settleBuyer(ctx, tx, buyerAccountID, fill.Symbol, fill.Price, fill.Quantity, notional, now); err != nil {
		return err
	}
	if err := s.settleSeller(ctx, tx, sellerAccountID, fill.Symbol, fill.Quantity, notional, now); err != nil {
		return err
	}
	return nil
}

func (s *Settler) settleBuyer(ctx context.Context, tx *sql.Tx, accountID int64, symbol string, price, qty, notional decimal.Decimal, now time.Time) error {
	acct, err := s.accounts.GetTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	newBalance := acct.Balance.Sub(notional)
	if newBalance.IsNegative() {
		return tradeerr.New(tradeerr.KindPrecondition, "Settlement.ApplyFill", errInsufficientBalance)
	}
	if err := s.accounts.UpdateBalanceTx(ctx, tx, accountID, newBalance); err != nil {
		return err
	}

	pos, err := s.accounts.GetPositionTx(ctx, tx, accountID, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return s.accounts.UpsertPositionTx(ctx, tx, &models.Position{
			AccountID: accountID, Symbol: symbol, Qty: qty, AvgPrice: price, UpdatedAt: now,
		})
	}

	newQty := pos.Qty.Add(qty)
	newAvg := vwap(pos.Qty, pos.AvgPrice, qty, price, newQty)
	return s.accounts.UpsertPositionTx(ctx, tx, &models.Position{
		AccountID: accountID, Symbol: symbol, Qty: newQty, AvgPrice: newAvg, UpdatedAt: now,
	})
}

// vwap computes the new volume-weighted average cost after adding a buy of
// qty at price to an existing holding of oldQty at oldAvg. newQty is passed
// in rather than recomputed to avoid a second Add with a different rounding
// context.
func vwap(oldQty, oldAvg, qty, price, newQty decimal.Decimal) decimal.Decimal {
	return oldQty.Mul(oldAvg).Add(qty.Mul(price)).Div(newQty)
}

func (s *Settler) settleSeller(ctx context.Context, tx *sql.Tx, accountID int64, symbol string, qty, notional decimal.Decimal, now time.Time) error {
	acct, err := s.accounts.GetTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateBalanceTx(ctx, tx, accountID, acct.Balance.Add(notional)); err != nil {
		return err
	}

	pos, err := s.accounts.GetPositionTx(ctx, tx, accountID, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return tradeerr.New(tradeerr.KindPrecondition, "Settlement.ApplyFill", errNoPosition)
	}

	newQty := pos.Qty.Sub(qty)
	if newQty.Sign() <= 0 {
		return s.accounts.DeletePositionTx(ctx, tx, accountID, symbol)
	}
	return s.accounts.UpsertPositionTx(ctx, tx, &models.Position{
		AccountID: accountID, Symbol: symbol, Qty: newQty, AvgPrice: pos.AvgPrice, UpdatedAt: now,
	})
}
