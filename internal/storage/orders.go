package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
	"order-matching-engine/internal/tradeerr"
)

// OrderStore is the durable index of orders by id (spec §4.3).
type OrderStore struct {
	db *sql.DB

	insertStmt          *sql.Stmt
	selectStmt          *sql.Stmt
	updateRemainingStmt *sql.Stmt
	groupedStmt         *sql.Stmt
	workingForUserStmt  *sql.Stmt
	distinctSymbolsStmt *sql.Stmt
	workingForSymbolStmt *sql.Stmt
}

// NewOrderStore prepares the statements OrderStore needs against db.
func NewOrderStore(db *sql.DB) (*OrderStore, error) {
	s := &OrderStore{db: db}
	var err error

	s.insertStmt, err = db.Prepare(`
		INSERT INTO orders (
			user_id, account_id, symbol, side, type, price,
			quantity, remaining_qty, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert order: %w", err)
	}

	s.selectStmt, err = db.Prepare(`
		SELECT id, user_id, account_id, symbol, side, type, price,
		       quantity, remaining_qty, status, created_at, updated_at
		FROM orders WHERE id = ?
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare select order: %w", err)
	}

	s.updateRemainingStmt, err = db.Prepare(`
		UPDATE orders SET remaining_qty = ?, status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('FILLED', 'CANCELLED')
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare update remaining: %w", err)
	}

	s.groupedStmt, err = db.Prepare(`
		SELECT side, price, SUM(remaining_qty) AS qty_sum, COUNT(*) AS cnt
		FROM orders
		WHERE symbol = ? AND status IN ('WORKING', 'PARTIAL') AND remaining_qty > 0
		GROUP BY side, price
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare grouped orderbook: %w", err)
	}

	s.workingForUserStmt, err = db.Prepare(`
		SELECT id, user_id, account_id, symbol, side, type, price,
		       quantity, remaining_qty, status, created_at, updated_at
		FROM orders
		WHERE user_id = ? AND status IN ('WORKING', 'PARTIAL')
		ORDER BY created_at DESC
		LIMIT ?
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare working for user: %w", err)
	}

	s.distinctSymbolsStmt, err = db.Prepare(`
		SELECT DISTINCT symbol FROM orders WHERE status IN ('WORKING', 'PARTIAL')
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare distinct symbols: %w", err)
	}

	s.workingForSymbolStmt, err = db.Prepare(`
		SELECT id, user_id, account_id, symbol, side, type, price,
		       quantity, remaining_qty, status, created_at, updated_at
		FROM orders
		WHERE symbol = ? AND status IN ('WORKING', 'PARTIAL') AND remaining_qty > 0 AND type = 'LIMIT'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare working for symbol: %w", err)
	}

	return s, nil
}

// Close releases the store's prepared statements.
func (s *OrderStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.selectStmt, s.updateRemainingStmt, s.groupedStmt, s.workingForUserStmt, s.distinctSymbolsStmt, s.workingForSymbolStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// Insert assigns a fresh id and persists order, which must already satisfy
// quantity>0, remaining_qty=quantity, status=WORKING — the caller (the
// OrderService validation step) is responsible for that invariant; Insert
// itself does not re-derive it beyond the DB insert.
func (s *OrderStore) Insert(ctx context.Context, order *models.Order) error {
	return withRetry(ctx, "OrderStore.Insert", func() error {
		return execInsert(ctx, s.insertStmt, order)
	})
}

// InsertTx is Insert run inside an already-open transaction, for callers
// that need the insert as part of a larger atomic unit (spec §5).
func (s *OrderStore) InsertTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	return execInsert(ctx, tx.StmtContext(ctx, s.insertStmt), order)
}

func execInsert(ctx context.Context, stmt *sql.Stmt, order *models.Order) error {
	var priceVal interface{}
	if order.Price != nil {
		priceVal = order.Price.String()
	}

	res, err := stmt.ExecContext(ctx,
		order.UserID, order.AccountID, order.Symbol, order.Side, order.Type, priceVal,
		order.Quantity.String(), order.RemainingQuantity.String(), order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "OrderStore.Insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "OrderStore.Insert", err)
	}
	order.ID = id
	return nil
}

// Get fetches an order by id.
func (s *OrderStore) Get(ctx context.Context, id int64) (*models.Order, error) {
	row := s.selectStmt.QueryRowContext(ctx, id)
	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, tradeerr.New(tradeerr.KindNotFound, "OrderStore.Get", err)
		}
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.Get", err)
	}
	return order, nil
}

// UpdateRemainingTx atomically sets remaining_qty and status for an order
// inside tx. The WHERE clause excludes terminal rows, so a mutation
// attempted against a FILLED/CANCELLED order silently affects zero rows
// (spec §7's "terminal-state mutation attempt") — the caller is not an
// error case, just a no-op, which UpdateRemainingTx reports via the bool.
func (s *OrderStore) UpdateRemainingTx(ctx context.Context, tx *sql.Tx, id int64, remaining decimal.Decimal, status models.Status) (bool, error) {
	res, err := tx.StmtContext(ctx, s.updateRemainingStmt).ExecContext(ctx, remaining.String(), status, time.Now(), id)
	if err != nil {
		return false, tradeerr.New(tradeerr.KindTransient, "OrderStore.UpdateRemaining", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, tradeerr.New(tradeerr.KindTransient, "OrderStore.UpdateRemaining", err)
	}
	return n > 0, nil
}

// CancelManyTx moves WORKING/PARTIAL rows among ids to CANCELLED with
// remaining=0, leaving terminal rows untouched, inside tx. Returns how many
// rows transitioned.
func (s *OrderStore) CancelManyTx(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE orders SET remaining_qty = 0, status = 'CANCELLED', updated_at = ? WHERE status IN ('WORKING', 'PARTIAL') AND id IN (`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, time.Now())
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, tradeerr.New(tradeerr.KindTransient, "OrderStore.CancelMany", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, tradeerr.New(tradeerr.KindTransient, "OrderStore.CancelMany", err)
	}
	return n, nil
}

// GroupedOrderBook aggregates live (WORKING or PARTIAL, remaining>0) rows
// for symbol by (side, price) — spec §4.3's grouped_orderbook.
func (s *OrderStore) GroupedOrderBook(ctx context.Context, symbol string) ([]models.BookLevel, error) {
	rows, err := s.groupedStmt.QueryContext(ctx, symbol)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.GroupedOrderBook", err)
	}
	defer rows.Close()

	var levels []models.BookLevel
	for rows.Next() {
		var side string
		var priceStr, qtyStr string
		var cnt int
		if err := rows.Scan(&side, &priceStr, &qtyStr, &cnt); err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.GroupedOrderBook", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.GroupedOrderBook", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.GroupedOrderBook", err)
		}
		levels = append(levels, models.BookLevel{Side: models.Side(side), Price: price, Qty: qty, Count: cnt})
	}
	return levels, rows.Err()
}

// WorkingForUser returns the user's open orders, time-descending, capped
// at limit — spec §4.3's working_for_user.
func (s *OrderStore) WorkingForUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	rows, err := s.workingForUserStmt.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.WorkingForUser", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.WorkingForUser", err)
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

// WorkingForSymbol returns symbol's live LIMIT orders oldest-first, the
// shape needed to rebuild a FIFO in-memory book at startup.
func (s *OrderStore) WorkingForSymbol(ctx context.Context, symbol string) ([]models.Order, error) {
	rows, err := s.workingForSymbolStmt.QueryContext(ctx, symbol)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.WorkingForSymbol", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.WorkingForSymbol", err)
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

// DistinctSymbols lists every symbol with at least one WORKING/PARTIAL
// order, used to rebuild in-memory books at startup.
func (s *OrderStore) DistinctSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.distinctSymbolsStmt.QueryContext(ctx)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.DistinctSymbols", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, tradeerr.New(tradeerr.KindTransient, "OrderStore.DistinctSymbols", err)
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var priceStr sql.NullString
	var quantityStr, remainingStr string

	if err := row.Scan(
		&o.ID, &o.UserID, &o.AccountID, &o.Symbol, &o.Side, &o.Type, &priceStr,
		&quantityStr, &remainingStr, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if priceStr.Valid {
		p, err := decimal.NewFromString(priceStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		o.Price = &p
	}
	qty, err := decimal.NewFromString(quantityStr)
	if err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	o.Quantity = qty
	remaining, err := decimal.NewFromString(remainingStr)
	if err != nil {
		return nil, fmt.Errorf("parse remaining_qty: %w", err)
	}
	o.RemainingQuantity = remaining

	return &o, nil
}
