// Package service wires the matching core to persistence: it is the only
// component that holds a per-symbol critical section (spec §5) spanning an
// in-memory book mutation, the matching pass, and the fill-settlement
// sequence as one transaction.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"order-matching-engine/internal/book"
	"order-matching-engine/internal/matching"
	"order-matching-engine/internal/metrics"
	"order-matching-engine/internal/models"
	"order-matching-engine/internal/settlement"
	"order-matching-engine/internal/storage"
	"order-matching-engine/internal/tradeerr"
)

var validate = validator.New()

// OrderService is the façade spec §4.6 describes: validate, persist,
// match, settle, as one unit per incoming order.
type OrderService struct {
	db        *sql.DB
	orders    *storage.OrderStore
	trades    *storage.TradeStore
	accounts  *storage.AccountStore
	settler   *settlement.Settler
	matcher   *matching.Engine
	metrics   *metrics.Recorder
	log       zerolog.Logger

	booksMu sync.RWMutex
	books   map[string]*book.OrderBook

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an OrderService. Callers should follow with LoadWorking to
// rebuild in-memory books from durable state before accepting traffic.
func New(db *sql.DB, orders *storage.OrderStore, trades *storage.TradeStore, accounts *storage.AccountStore, settler *settlement.Settler, rec *metrics.Recorder, log zerolog.Logger) *OrderService {
	return &OrderService{
		db:       db,
		orders:   orders,
		trades:   trades,
		accounts: accounts,
		settler:  settler,
		matcher:  matching.New(),
		metrics:  rec,
		log:      log,
		books:    make(map[string]*book.OrderBook),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *OrderService) bookFor(symbol string) *book.OrderBook {
	s.booksMu.RLock()
	ob, ok := s.books[symbol]
	s.booksMu.RUnlock()
	if ok {
		return ob
	}

	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	if ob, ok = s.books[symbol]; ok {
		return ob
	}
	ob = book.New(symbol)
	s.books[symbol] = ob
	return ob
}

func (s *OrderService) lockFor(symbol string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	return l
}

// LoadWorking rebuilds every symbol's in-memory book from WORKING/PARTIAL
// rows in the store, run once at startup before PlaceLimit/PlaceMarket are
// reachable (spec §4.1's book-is-purely-in-memory note implies it does not
// survive a restart on its own).
func (s *OrderService) LoadWorking(ctx context.Context) error {
	symbols, err := s.orders.DistinctSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list symbols with working orders: %w", err)
	}

	restored := 0
	for _, symbol := range symbols {
		orders, err := s.orders.WorkingForSymbol(ctx, symbol)
		if err != nil {
			return fmt.Errorf("load working orders for %s: %w", symbol, err)
		}
		ob := s.bookFor(symbol)
		for i := range orders {
			ob.Push(&orders[i])
			restored++
		}
	}
	s.log.Info().Int("symbols", len(symbols)).Int("orders", restored).Msg("order books restored from store")
	return nil
}

// PlaceLimit validates, persists and matches a LIMIT order for req, then
// settles every fill produced, all under symbol's critical section.
func (s *OrderService) PlaceLimit(ctx context.Context, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	return s.place(ctx, req, models.TypeLimit)
}

// PlaceMarket validates, persists and matches a MARKET order for req.
func (s *OrderService) PlaceMarket(ctx context.Context, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	return s.place(ctx, req, models.TypeMarket)
}

func (s *OrderService) place(ctx context.Context, req models.PlaceOrderRequest, orderType models.Type) (*models.PlaceOrderResult, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	if err := s.validateRequest(ctx, req, orderType); err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	symbolLock := s.lockFor(req.Symbol)
	symbolLock.Lock()
	defer symbolLock.Unlock()

	start := time.Now()
	result, err := s.placeLocked(ctx, req, orderType)
	s.metrics.ObserveMatchLatency(req.Symbol, time.Since(start))
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}
	s.metrics.RecordOrderPlaced(req.Symbol, string(req.Side))
	s.metrics.RecordFills(req.Symbol, len(result.Fills))
	return result, nil
}

func (s *OrderService) placeLocked(ctx context.Context, req models.PlaceOrderRequest, orderType models.Type) (*models.PlaceOrderResult, error) {
	ob := s.bookFor(req.Symbol)
	now := time.Now()

	var price *decimal.Decimal
	if orderType == models.TypeLimit {
		p := req.Price
		price = &p
	}

	order := &models.Order{
		UserID:            req.UserID,
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              orderType,
		Price:             price,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Status:            models.StatusWorking,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderService.Place", err)
	}
	rollback := true
	defer func() {
		if rollback {
			tx.Rollback()
		}
	}()

	if err := s.orders.InsertTx(ctx, tx, order); err != nil {
		return nil, err
	}

	var matchResult matching.Result
	if orderType == models.TypeLimit {
		matchResult = s.matcher.ProcessLimit(order, ob)
	} else {
		matchResult = s.matcher.ProcessMarket(order, ob)
	}

	buyerAccountFor := func(fill models.Fill) (int64, int64) {
		if order.Side == models.SideBuy {
			return order.AccountID, fill.MakerOrder.AccountID
		}
		return fill.MakerOrder.AccountID, order.AccountID
	}

	result := &models.PlaceOrderResult{OrderID: order.ID}
	for _, fill := range matchResult.Fills {
		trade := &models.Trade{
			Symbol:      fill.Symbol,
			BuyOrderID:  fill.BuyOrderID,
			SellOrderID: fill.SellOrderID,
			Price:       fill.Price,
			Quantity:    fill.Quantity,
			TradeTime:   now,
		}
		if err := s.trades.InsertTx(ctx, tx, trade); err != nil {
			undoBookMutations(ob, order, matchResult)
			return nil, err
		}

		if _, err := s.orders.UpdateRemainingTx(ctx, tx, fill.TakerOrder.ID, fill.TakerOrder.RemainingQuantity, fill.TakerOrder.Status); err != nil {
			undoBookMutations(ob, order, matchResult)
			return nil, err
		}
		if fill.MakerOrder != nil {
			if _, err := s.orders.UpdateRemainingTx(ctx, tx, fill.MakerOrder.ID, fill.MakerOrder.RemainingQuantity, fill.MakerOrder.Status); err != nil {
				undoBookMutations(ob, order, matchResult)
				return nil, err
			}
		}

		buyerAcct, sellerAcct := buyerAccountFor(fill)
		if err := s.settler.ApplyFillTx(ctx, tx, fill, buyerAcct, sellerAcct); err != nil {
			undoBookMutations(ob, order, matchResult)
			return nil, err
		}

		result.Fills = append(result.Fills, *trade)
	}

	finalStatus := matchResult.FinalStatus
	finalRemaining := decimal.Zero
	if matchResult.RestingLeft != nil {
		finalRemaining = matchResult.RestingLeft.RemainingQuantity
	}
	if _, err := s.orders.UpdateRemainingTx(ctx, tx, order.ID, finalRemaining, finalStatus); err != nil {
		undoBookMutations(ob, order, matchResult)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		undoBookMutations(ob, order, matchResult)
		return nil, tradeerr.New(tradeerr.KindTransient, "OrderService.Place", err)
	}
	rollback = false

	return result, nil
}

// undoBookMutations reverses every in-memory book change ProcessLimit/
// ProcessMarket made for order: each matched maker order is restored to its
// pre-fill remaining quantity (re-inserted at the front of its price level
// if it had been fully consumed), and order's own resting residual, if any
// was pushed, is removed. Makers are restored in reverse fill order so that
// several fully consumed makers at one price level regain their original
// FIFO order. The matcher mutates the book eagerly, before any
// store write — a store failure partway through settlement must roll back
// those mutations too, not just the database transaction (spec §5).
func undoBookMutations(ob *book.OrderBook, order *models.Order, result matching.Result) {
	for i := len(result.Fills) - 1; i >= 0; i-- {
		fill := result.Fills[i]
		if fill.MakerOrder == nil {
			continue
		}
		preFillRemaining := fill.MakerOrder.RemainingQuantity.Add(fill.Quantity)
		ob.RestoreFront(fill.MakerOrder, preFillRemaining)
	}
	ob.RemoveByID(order.ID, order.Side)
}

// Cancel cancels every order in orderIDs owned by callerUserID, leaving
// orders owned by anyone else untouched and orders already terminal
// untouched (spec §4.2's cancellation semantics).
func (s *OrderService) Cancel(ctx context.Context, callerUserID int64, orderIDs []int64) (int64, error) {
	owned := make([]int64, 0, len(orderIDs))
	bySymbolSide := make(map[string][]int64)
	sides := make(map[int64]models.Side)

	for _, id := range orderIDs {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			continue
		}
		if order.UserID != callerUserID || order.Status.Terminal() {
			continue
		}
		owned = append(owned, id)
		bySymbolSide[order.Symbol] = append(bySymbolSide[order.Symbol], id)
		sides[id] = order.Side
	}
	if len(owned) == 0 {
		return 0, nil
	}

	var total int64
	for symbol, ids := range bySymbolSide {
		lock := s.lockFor(symbol)
		lock.Lock()
		n, err := s.cancelLocked(ctx, symbol, ids, sides)
		lock.Unlock()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *OrderService) cancelLocked(ctx context.Context, symbol string, ids []int64, sides map[int64]models.Side) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, tradeerr.New(tradeerr.KindTransient, "OrderService.Cancel", err)
	}

	n, err := s.orders.CancelManyTx(ctx, tx, ids)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, tradeerr.New(tradeerr.KindTransient, "OrderService.Cancel", err)
	}

	ob := s.bookFor(symbol)
	for _, id := range ids {
		ob.RemoveByID(id, sides[id])
	}
	return n, nil
}

func (s *OrderService) validateRequest(ctx context.Context, req models.PlaceOrderRequest, orderType models.Type) error {
	if err := validate.Struct(req); err != nil {
		return tradeerr.New(tradeerr.KindValidation, "OrderService.Validate", err)
	}
	if req.Quantity.Sign() <= 0 {
		return tradeerr.New(tradeerr.KindValidation, "OrderService.Validate", fmt.Errorf("quantity must be positive"))
	}
	if orderType == models.TypeLimit && req.Price.Sign() <= 0 {
		return tradeerr.New(tradeerr.KindValidation, "OrderService.Validate", fmt.Errorf("limit price must be positive"))
	}

	acct, err := s.accounts.Get(ctx, req.AccountID)
	if err != nil {
		return err
	}
	if acct.UserID != req.UserID {
		return tradeerr.New(tradeerr.KindValidation, "OrderService.Validate", fmt.Errorf("account does not belong to caller"))
	}

	if req.Side == models.SideBuy && orderType == models.TypeLimit && acct.Balance.LessThan(req.Price.Mul(req.Quantity)) {
		return tradeerr.New(tradeerr.KindPrecondition, "OrderService.Validate", fmt.Errorf("insufficient balance to buy %s of %s at %s", req.Quantity, req.Symbol, req.Price))
	}

	if req.Side == models.SideSell {
		pos, err := s.accounts.PositionsForAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		held := decimal.Zero
		for _, p := range pos {
			if p.Symbol == req.Symbol {
				held = p.Qty
				break
			}
		}
		if held.LessThan(req.Quantity) {
			return tradeerr.New(tradeerr.KindPrecondition, "OrderService.Validate", fmt.Errorf("insufficient position to sell %s of %s", req.Quantity, req.Symbol))
		}
	}

	return nil
}
