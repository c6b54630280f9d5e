package settlement

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"order-matching-engine/internal/models"
)

// nopDriver/nopConn/nopTx back a *sql.Tx with no real database behind it —
// ApplyFillTx never issues SQL of its own (fakeAccounts below intercepts
// every call), it only needs a transaction handle whose identity fakeAccounts
// can key its tx-local state on, the same way a real *sql.Tx scopes writes
// to the connection that opened it.
type nopDriver struct{}

func (nopDriver) Open(name string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(query string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (nopConn) Close() error                              { return nil }
func (nopConn) Begin() (driver.Tx, error)                 { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

var registerNopDriverOnce sync.Once

func openNopTx(t *testing.T) *sql.Tx {
	t.Helper()
	registerNopDriverOnce.Do(func() { sql.Register("settlement-nop", nopDriver{}) })
	db, err := sql.Open("settlement-nop", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	return tx
}

// fakeAccounts is an in-memory accountStore that models exactly the
// isolation a pooled connection gives two different transactions:
// UpdateBalanceTx writes are only visible through GetTx on the same *sql.Tx
// until committed is advanced by committing. This is what lets
// TestApplyFillTx_TwoFillsSameBuyerAccumulate catch a regression back to
// reading balances off a connection that can't see the open transaction's
// own uncommitted writes.
type fakeAccounts struct {
	mu        sync.Mutex
	committed map[int64]decimal.Decimal
	pending   map[*sql.Tx]map[int64]decimal.Decimal
	positions map[int64]map[string]models.Position
}

func newFakeAccounts(balances map[int64]decimal.Decimal) *fakeAccounts {
	return &fakeAccounts{
		committed: balances,
		pending:   make(map[*sql.Tx]map[int64]decimal.Decimal),
		positions: make(map[int64]map[string]models.Position),
	}
}

func (f *fakeAccounts) GetTx(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if byAcct, ok := f.pending[tx]; ok {
		if bal, ok := byAcct[accountID]; ok {
			return &models.Account{ID: accountID, Balance: bal}, nil
		}
	}
	return &models.Account{ID: accountID, Balance: f.committed[accountID]}, nil
}

func (f *fakeAccounts) UpdateBalanceTx(ctx context.Context, tx *sql.Tx, accountID int64, balance decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[tx] == nil {
		f.pending[tx] = make(map[int64]decimal.Decimal)
	}
	f.pending[tx][accountID] = balance
	return nil
}

// commit folds a transaction's pending balance writes into committed state,
// the way tx.Commit() would make them visible to every future connection.
func (f *fakeAccounts) commit(tx *sql.Tx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, bal := range f.pending[tx] {
		f.committed[id] = bal
	}
	delete(f.pending, tx)
}

func (f *fakeAccounts) GetPositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byAcct, ok := f.positions[accountID]
	if !ok {
		return nil, nil
	}
	pos, ok := byAcct[symbol]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (f *fakeAccounts) UpsertPositionTx(ctx context.Context, tx *sql.Tx, pos *models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positions[pos.AccountID] == nil {
		f.positions[pos.AccountID] = make(map[string]models.Position)
	}
	f.positions[pos.AccountID][pos.Symbol] = *pos
	return nil
}

func (f *fakeAccounts) DeletePositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions[accountID], symbol)
	return nil
}

// TestApplyFillTx_TwoFillsSameBuyerAccumulate drives spec §8 scenario 2
// (BUY 8@101 filling against two resting asks) through Settler.ApplyFillTx
// twice on one open transaction, as OrderService.placeLocked does per
// incoming order, and asserts both debits land in the final committed
// balance rather than the second write clobbering the first.
func TestApplyFillTx_TwoFillsSameBuyerAccumulate(t *testing.T) {
	const buyerAcct, sellerAcct int64 = 1, 2
	accounts := newFakeAccounts(map[int64]decimal.Decimal{
		buyerAcct:  decimal.NewFromInt(10_000),
		sellerAcct: decimal.Zero,
	})
	accounts.positions[sellerAcct] = map[string]models.Position{
		"BTCUSD": {AccountID: sellerAcct, Symbol: "BTCUSD", Qty: decimal.NewFromInt(8), AvgPrice: decimal.NewFromInt(90)},
	}
	settler := New(accounts)
	tx := openNopTx(t)

	fill1 := models.Fill{Symbol: "BTCUSD", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(5)}
	fill2 := models.Fill{Symbol: "BTCUSD", Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(3)}

	require.NoError(t, settler.ApplyFillTx(context.Background(), tx, fill1, buyerAcct, sellerAcct))
	require.NoError(t, settler.ApplyFillTx(context.Background(), tx, fill2, buyerAcct, sellerAcct))

	require.NoError(t, tx.Commit())
	accounts.commit(tx)

	wantBuyerBalance := decimal.NewFromInt(10_000).
		Sub(decimal.NewFromInt(100).Mul(decimal.NewFromInt(5))).
		Sub(decimal.NewFromInt(101).Mul(decimal.NewFromInt(3)))
	require.True(t, accounts.committed[buyerAcct].Equal(wantBuyerBalance),
		"expected buyer balance %s after both fills, got %s", wantBuyerBalance, accounts.committed[buyerAcct])

	wantSellerBalance := decimal.NewFromInt(100).Mul(decimal.NewFromInt(5)).Add(decimal.NewFromInt(101).Mul(decimal.NewFromInt(3)))
	require.True(t, accounts.committed[sellerAcct].Equal(wantSellerBalance),
		"expected seller balance %s after both fills, got %s", wantSellerBalance, accounts.committed[sellerAcct])

	buyerPos := accounts.positions[buyerAcct]["BTCUSD"]
	require.True(t, buyerPos.Qty.Equal(decimal.NewFromInt(8)))
}
