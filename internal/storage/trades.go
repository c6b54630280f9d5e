package storage

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
	"order-matching-engine/internal/tradeerr"
)

// TradeStore is the append-only trade log (spec §4.3 sibling, §3). Trades
// are never updated or deleted once inserted.
type TradeStore struct {
	db *sql.DB

	insertStmt *sql.Stmt
	byUserStmt *sql.Stmt
}

// NewTradeStore prepares the statements TradeStore needs against db.
func NewTradeStore(db *sql.DB) (*TradeStore, error) {
	s := &TradeStore{db: db}
	var err error

	s.insertStmt, err = db.Prepare(`
		INSERT INTO trades (symbol, buy_order_id, sell_order_id, price, quantity, trade_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}

	s.byUserStmt, err = db.Prepare(`
		SELECT t.id, t.symbol, t.buy_order_id, t.sell_order_id, t.price, t.quantity, t.trade_time
		FROM trades t
		JOIN orders o ON o.id = t.buy_order_id OR o.id = t.sell_order_id
		WHERE o.user_id = ?
		ORDER BY t.trade_time DESC, t.id DESC
		LIMIT ?
	`)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the store's prepared statements.
func (s *TradeStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.byUserStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// InsertTx persists trade inside tx, assigning it an id.
func (s *TradeStore) InsertTx(ctx context.Context, tx *sql.Tx, trade *models.Trade) error {
	res, err := tx.StmtContext(ctx, s.insertStmt).ExecContext(ctx,
		trade.Symbol, trade.BuyOrderID, trade.SellOrderID,
		trade.Price.String(), trade.Quantity.String(), trade.TradeTime,
	)
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "TradeStore.Insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "TradeStore.Insert", err)
	}
	trade.ID = id
	return nil
}

// ForUser returns a user's trade history, most recent first, across every
// order that names them as buyer or seller (spec §6's /trades/my).
func (s *TradeStore) ForUser(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	rows, err := s.byUserStmt.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "TradeStore.ForUser", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var priceStr, qtyStr string
		if err := rows.Scan(&t.ID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID, &priceStr, &qtyStr, &t.TradeTime); err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "TradeStore.ForUser", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "TradeStore.ForUser", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "TradeStore.ForUser", err)
		}
		t.Price, t.Quantity = price, qty
		out = append(out, t)
	}
	return out, rows.Err()
}
