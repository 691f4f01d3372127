package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"toy-exchange/internal/book"
	"toy-exchange/internal/ledger"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"

	"github.com/google/uuid"
)

// Submit admits a new order: instrument check, reservation, persistence
// in state NEW, then matching, all in one transaction under the ticker
// lock. Returns the new order id.
func (e *Engine) Submit(ctx context.Context, userID string, body types.OrderBody) (string, error) {
	// The API layer enforces the same bounds at validation; the engine
	// re-checks so a direct caller cannot overflow qty*price below.
	if body.Qty < 1 || body.Qty > types.MaxQty {
		return "", fmt.Errorf("%w: qty %d", ErrOrderTooLarge, body.Qty)
	}
	if body.Price != nil && (*body.Price < 1 || *body.Price > types.MaxPrice) {
		return "", fmt.Errorf("%w: price %d", ErrOrderTooLarge, *body.Price)
	}

	mtx := e.tickerLock(body.Ticker)
	mtx.Lock()
	defer mtx.Unlock()

	var (
		orderID string
		trades  []types.Transaction
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.InstrumentByTicker(ctx, body.Ticker); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrInstrumentUnknown, body.Ticker)
			}
			return err
		}

		if err := e.reserve(ctx, tx, userID, body); err != nil {
			return err
		}

		ord := store.Order{
			ID:        uuid.NewString(),
			UserID:    userID,
			Ticker:    body.Ticker,
			Direction: body.Direction,
			Qty:       body.Qty,
			Status:    types.StatusNew,
			TS:        time.Now().UTC().UnixNano(),
		}
		if body.Price != nil {
			ord.Price = sql.NullInt64{Int64: *body.Price, Valid: true}
		}
		if err := tx.InsertOrder(ctx, ord); err != nil {
			return err
		}

		matched, err := e.match(ctx, tx, &ord)
		if err != nil {
			return err
		}

		orderID = ord.ID
		trades = matched
		return nil
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("order admitted",
		"order_id", orderID,
		"user_id", userID,
		"ticker", body.Ticker,
		"direction", body.Direction,
		"qty", body.Qty,
		"market", body.IsMarket(),
		"fills", len(trades),
	)
	e.publish(trades)
	return orderID, nil
}

// reserve performs the admission pre-check and deducts the reservation.
//
// Market orders are priced by walking the book first; a book too thin to
// fill the full quantity rejects the submission before any balance is
// touched. The ledger turns a short free balance into
// ErrInsufficientBalance, rolling the transaction back.
func (e *Engine) reserve(ctx context.Context, tx *store.Tx, userID string, body types.OrderBody) error {
	switch {
	case body.Direction == types.Buy && !body.IsMarket():
		return ledger.Adjust(ctx, tx, userID, types.QuoteTicker, -body.Qty**body.Price)

	case body.Direction == types.Buy:
		cost, err := book.WalkCost(ctx, tx, body.Ticker, types.Buy, body.Qty)
		if err != nil {
			return err
		}
		return ledger.Adjust(ctx, tx, userID, types.QuoteTicker, -cost)

	default: // SELL, limit or market
		if body.IsMarket() {
			if _, err := book.WalkCost(ctx, tx, body.Ticker, types.Sell, body.Qty); err != nil {
				return err
			}
		}
		return ledger.Adjust(ctx, tx, userID, body.Ticker, -body.Qty)
	}
}

// Cancel withdraws a resting limit order and refunds its reservation.
// Only the owner may cancel, only from NEW with nothing filled; market
// orders are never cancellable.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) error {
	// Resolve the ticker first so the right lock serializes the refund
	// against matching; ownership and state are re-read inside the tx.
	peek, err := e.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if peek.UserID != userID {
		return store.ErrNotFound
	}

	mtx := e.tickerLock(peek.Ticker)
	mtx.Lock()
	defer mtx.Unlock()

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ord, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if ord.UserID != userID {
			return store.ErrNotFound
		}
		if ord.IsMarket() {
			return ErrCannotCancelMarket
		}
		if ord.Status != types.StatusNew || ord.Filled > 0 {
			return ErrCannotCancelExecuted
		}

		outstanding := ord.Remaining()
		if ord.Direction == types.Buy {
			err = ledger.Adjust(ctx, tx, userID, types.QuoteTicker, ord.Price.Int64*outstanding)
		} else {
			err = ledger.Adjust(ctx, tx, userID, ord.Ticker, outstanding)
		}
		if err != nil {
			return err
		}

		return tx.UpdateOrderExec(ctx, ord.ID, ord.Filled, types.StatusCancelled)
	})
	if err != nil {
		return err
	}

	e.logger.Info("order cancelled", "order_id", orderID, "user_id", userID, "ticker", peek.Ticker)
	return nil
}

// Orders lists all orders owned by one user.
func (e *Engine) Orders(ctx context.Context, userID string) ([]store.Order, error) {
	return e.store.OrdersByUser(ctx, userID)
}

// Order fetches a single order; foreign or missing ids both report
// store.ErrNotFound so order ids do not leak across users.
func (e *Engine) Order(ctx context.Context, userID, orderID string) (store.Order, error) {
	ord, err := e.store.OrderByID(ctx, orderID)
	if err != nil {
		return store.Order{}, err
	}
	if ord.UserID != userID {
		return store.Order{}, store.ErrNotFound
	}
	return ord, nil
}

// Deposit credits a user's balance (admin operation). The ticker lock
// keeps the credit serial with matching on that instrument.
func (e *Engine) Deposit(ctx context.Context, userID, ticker string, amount int64) error {
	return e.adminAdjust(ctx, userID, ticker, amount)
}

// Withdraw debits a user's free balance (admin operation). Reserved
// amounts are not free and cannot be withdrawn.
func (e *Engine) Withdraw(ctx context.Context, userID, ticker string, amount int64) error {
	return e.adminAdjust(ctx, userID, ticker, -amount)
}

func (e *Engine) adminAdjust(ctx context.Context, userID, ticker string, delta int64) error {
	mtx := e.tickerLock(ticker)
	mtx.Lock()
	defer mtx.Unlock()

	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.UserByID(ctx, userID); err != nil {
			return err
		}
		return ledger.Adjust(ctx, tx, userID, ticker, delta)
	})
}
