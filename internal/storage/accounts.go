package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"order-matching-engine/internal/models"
	"order-matching-engine/internal/tradeerr"
)

// AccountStore holds accounts (cash balance) and positions (spec §4.3
// sibling, §3). Only the Settlement component touches balances and
// positions, under the matcher's per-symbol critical section (spec §5).
type AccountStore struct {
	db *sql.DB

	insertAccountStmt    *sql.Stmt
	getAccountStmt       *sql.Stmt
	updateBalanceStmt    *sql.Stmt
	getPositionStmt      *sql.Stmt
	upsertPositionStmt   *sql.Stmt
	deletePositionStmt   *sql.Stmt
	positionsForAcctStmt *sql.Stmt
	accountsForUserStmt  *sql.Stmt
	primaryAccountStmt   *sql.Stmt
}

// NewAccountStore prepares the statements AccountStore needs against db.
func NewAccountStore(db *sql.DB) (*AccountStore, error) {
	s := &AccountStore{db: db}
	var err error

	s.insertAccountStmt, err = db.Prepare(`
		INSERT INTO accounts (user_id, account_no, balance, created_at) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}

	s.getAccountStmt, err = db.Prepare(`
		SELECT id, user_id, account_no, balance, created_at FROM accounts WHERE id = ?
	`)
	if err != nil {
		return nil, err
	}

	s.updateBalanceStmt, err = db.Prepare(`UPDATE accounts SET balance = ? WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	s.getPositionStmt, err = db.Prepare(`
		SELECT account_id, symbol, qty, avg_price, updated_at FROM positions WHERE account_id = ? AND symbol = ?
	`)
	if err != nil {
		return nil, err
	}

	s.upsertPositionStmt, err = db.Prepare(`
		INSERT INTO positions (account_id, symbol, qty, avg_price, updated_at) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE qty = VALUES(qty), avg_price = VALUES(avg_price), updated_at = VALUES(updated_at)
	`)
	if err != nil {
		return nil, err
	}

	s.deletePositionStmt, err = db.Prepare(`DELETE FROM positions WHERE account_id = ? AND symbol = ?`)
	if err != nil {
		return nil, err
	}

	s.positionsForAcctStmt, err = db.Prepare(`
		SELECT account_id, symbol, qty, avg_price, updated_at FROM positions WHERE account_id = ?
	`)
	if err != nil {
		return nil, err
	}

	s.accountsForUserStmt, err = db.Prepare(`
		SELECT id, user_id, account_no, balance, created_at FROM accounts WHERE user_id = ? ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}

	s.primaryAccountStmt, err = db.Prepare(`
		SELECT id, user_id, account_no, balance, created_at FROM accounts WHERE user_id = ? ORDER BY id ASC LIMIT 1
	`)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the store's prepared statements.
func (s *AccountStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.insertAccountStmt, s.getAccountStmt, s.updateBalanceStmt, s.getPositionStmt,
		s.upsertPositionStmt, s.deletePositionStmt, s.positionsForAcctStmt,
		s.accountsForUserStmt, s.primaryAccountStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// CreateAccount opens a new account for userID with an opening balance,
// assigning a unique account_no via uuid (spec §3's UNIQUE constraint).
func (s *AccountStore) CreateAccount(ctx context.Context, userID int64, openingBalance decimal.Decimal) (*models.Account, error) {
	acct := &models.Account{
		UserID:    userID,
		AccountNo: uuid.NewString(),
		Balance:   openingBalance,
		CreatedAt: time.Now(),
	}
	err := withRetry(ctx, "AccountStore.CreateAccount", func() error {
		res, err := s.insertAccountStmt.ExecContext(ctx, acct.UserID, acct.AccountNo, acct.Balance.String(), acct.CreatedAt)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		acct.ID = id
		return nil
	})
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.CreateAccount", err)
	}
	return acct, nil
}

// Get fetches an account by id.
func (s *AccountStore) Get(ctx context.Context, accountID int64) (*models.Account, error) {
	row := s.getAccountStmt.QueryRowContext(ctx, accountID)
	return scanAccount(row)
}

// GetTx fetches an account by id inside tx, so a balance read reflects
// writes the same transaction already made (e.g. an earlier fill's
// UpdateBalanceTx) rather than the pooled connection's last-committed view.
func (s *AccountStore) GetTx(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	row := tx.StmtContext(ctx, s.getAccountStmt).QueryRowContext(ctx, accountID)
	return scanAccount(row)
}

// AccountsForUser lists a user's accounts, ascending by id — spec §6's
// /account/list.
func (s *AccountStore) AccountsForUser(ctx context.Context, userID int64) ([]models.Account, error) {
	rows, err := s.accountsForUserStmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.AccountsForUser", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acct)
	}
	return out, rows.Err()
}

// PrimaryAccountForUser returns the user's first-opened account (lowest
// id), after original_source's AccountService.get_primary_account.
// OrderService does not call it: its ownership check reads the named
// account_id directly.
func (s *AccountStore) PrimaryAccountForUser(ctx context.Context, userID int64) (*models.Account, error) {
	row := s.primaryAccountStmt.QueryRowContext(ctx, userID)
	return scanAccount(row)
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var balanceStr string
	if err := row.Scan(&a.ID, &a.UserID, &a.AccountNo, &balanceStr, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, tradeerr.New(tradeerr.KindNotFound, "AccountStore.Get", err)
		}
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.Get", err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.Get", err)
	}
	a.Balance = balance
	return &a, nil
}

// UpdateBalanceTx sets account balance inside tx.
func (s *AccountStore) UpdateBalanceTx(ctx context.Context, tx *sql.Tx, accountID int64, balance decimal.Decimal) error {
	_, err := tx.StmtContext(ctx, s.updateBalanceStmt).ExecContext(ctx, balance.String(), accountID)
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "AccountStore.UpdateBalance", err)
	}
	return nil
}

// GetPositionTx fetches a position inside tx, returning (nil, nil) if it
// does not exist — positions with qty=0 are deleted rows, not zero rows
// (spec §3).
func (s *AccountStore) GetPositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) (*models.Position, error) {
	row := tx.StmtContext(ctx, s.getPositionStmt).QueryRowContext(ctx, accountID, symbol)
	pos, err := scanPosition(row)
	if err != nil {
		if te, ok := err.(*tradeerr.Error); ok && te.Kind == tradeerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return pos, nil
}

// UpsertPositionTx creates or overwrites a position's qty/avg_price inside
// tx.
func (s *AccountStore) UpsertPositionTx(ctx context.Context, tx *sql.Tx, pos *models.Position) error {
	_, err := tx.StmtContext(ctx, s.upsertPositionStmt).ExecContext(ctx,
		pos.AccountID, pos.Symbol, pos.Qty.String(), pos.AvgPrice.String(), pos.UpdatedAt,
	)
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "AccountStore.UpsertPosition", err)
	}
	return nil
}

// DeletePositionTx removes a position row inside tx (qty reached zero).
func (s *AccountStore) DeletePositionTx(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) error {
	_, err := tx.StmtContext(ctx, s.deletePositionStmt).ExecContext(ctx, accountID, symbol)
	if err != nil {
		return tradeerr.New(tradeerr.KindTransient, "AccountStore.DeletePosition", err)
	}
	return nil
}

// PositionsForAccount lists every open position for an account.
func (s *AccountStore) PositionsForAccount(ctx context.Context, accountID int64) ([]models.Position, error) {
	rows, err := s.positionsForAcctStmt.QueryContext(ctx, accountID)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.PositionsForAccount", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

// Summary returns balance plus every open position for an account — spec
// §6's /account/summary, and original_source's account_service.py
// get_account_summary path.
func (s *AccountStore) Summary(ctx context.Context, accountID int64) (*models.AccountSummary, error) {
	acct, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.PositionsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &models.AccountSummary{AccountID: acct.ID, Balance: acct.Balance, Positions: positions}, nil
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var qtyStr, avgStr string
	if err := row.Scan(&p.AccountID, &p.Symbol, &qtyStr, &avgStr, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, tradeerr.New(tradeerr.KindNotFound, "AccountStore.GetPosition", err)
		}
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.GetPosition", err)
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.GetPosition", err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "AccountStore.GetPosition", err)
	}
	p.Qty, p.AvgPrice = qty, avg
	return &p, nil
}
