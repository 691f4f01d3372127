// Package engine owns the order lifecycle and the matching algorithm.
//
// Submission, cancellation and admin balance adjustments for one
// instrument serialize through a per-ticker mutex taken before the store
// transaction, so the matching path is linear per instrument and
// deadlock-free. Inside the transaction the engine performs the
// reservation arithmetic, walks the opposing side of the book in
// price-time priority, and settles every fill through the ledger; any
// failure rolls the whole transaction back.
//
// Reservation model: admitting an order deducts the full reservation from
// the submitter's free balance: qty times price in RUB for a limit buy, the
// walk cost for a market buy, qty units of the base asset for sells. A
// fill therefore only credits the two counterparties (plus a refund to a
// limit buyer crossing below its limit); the consumed reservations were
// already taken at admission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"toy-exchange/internal/book"
	"toy-exchange/internal/ledger"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"

	"github.com/google/uuid"
)

var (
	// ErrInstrumentUnknown rejects orders against tickers missing from
	// the catalogue.
	ErrInstrumentUnknown = errors.New("unknown instrument")
	// ErrCannotCancelMarket rejects cancellation of market orders, which
	// never rest.
	ErrCannotCancelMarket = errors.New("market orders cannot be cancelled")
	// ErrCannotCancelExecuted rejects cancellation of orders that have
	// already (partially) executed or are otherwise terminal.
	ErrCannotCancelExecuted = errors.New("order already executed or cancelled")
	// ErrOrderTooLarge rejects quantities or prices past the bounds that
	// keep reservation arithmetic within int64.
	ErrOrderTooLarge = errors.New("order qty or price out of range")
)

// TradeSink receives executed trades after their transaction commits.
// The API layer plugs its WebSocket hub in here.
type TradeSink interface {
	PublishTrade(t types.Transaction)
}

// Engine is the venue core: admission, matching, settlement.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	sink   TradeSink

	mu      sync.Mutex
	tickers map[string]*sync.Mutex
}

// New creates an engine over the given store.
func New(st *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		logger:  logger.With("component", "engine"),
		tickers: make(map[string]*sync.Mutex),
	}
}

// SetTradeSink registers the post-commit trade publisher. Optional.
func (e *Engine) SetTradeSink(sink TradeSink) {
	e.sink = sink
}

// tickerLock returns the serialization mutex for one instrument,
// creating it on first use.
func (e *Engine) tickerLock(ticker string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mtx, ok := e.tickers[ticker]
	if !ok {
		mtx = &sync.Mutex{}
		e.tickers[ticker] = mtx
	}
	return mtx
}

func (e *Engine) publish(trades []types.Transaction) {
	if e.sink == nil {
		return
	}
	for _, t := range trades {
		e.sink.PublishTrade(t)
	}
}

// statusFor derives the order status from fill progress. A cancelled
// order never re-enters matching, so only the fill states appear here.
func statusFor(filled, qty int64) types.OrderStatus {
	switch {
	case filled == qty:
		return types.StatusExecuted
	case filled > 0:
		return types.StatusPartiallyExecuted
	default:
		return types.StatusNew
	}
}

// match walks the opposing side of the book for a freshly admitted order
// and produces its fills. Runs inside the submission transaction.
//
// The trade price is always the resting order's price (maker price); for
// a limit aggressor the scan is bounded so every candidate crosses, and a
// market aggressor takes any price. Returns the emitted trades for
// post-commit publication.
func (e *Engine) match(ctx context.Context, tx *store.Tx, ord *store.Order) ([]types.Transaction, error) {
	side := types.Sell
	if ord.Direction == types.Sell {
		side = types.Buy
	}
	var bound *int64
	if !ord.IsMarket() {
		bound = &ord.Price.Int64
	}

	resting, err := tx.RestingOrders(ctx, ord.Ticker, side, bound)
	if err != nil {
		return nil, err
	}

	var out []types.Transaction
	for i := range resting {
		if ord.Remaining() == 0 {
			break
		}
		m := &resting[i]
		if !m.Price.Valid {
			// Market orders never rest; a priceless row here means
			// corrupted book state. Abort the transaction.
			return nil, fmt.Errorf("resting order %s has no price", m.ID)
		}

		price := m.Price.Int64
		fill := min(ord.Remaining(), m.Remaining())

		ord.Filled += fill
		m.Filled += fill
		if err := tx.UpdateOrderExec(ctx, ord.ID, ord.Filled, statusFor(ord.Filled, ord.Qty)); err != nil {
			return nil, err
		}
		if err := tx.UpdateOrderExec(ctx, m.ID, m.Filled, statusFor(m.Filled, m.Qty)); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		trade := store.Trade{
			ID:     uuid.NewString(),
			Ticker: ord.Ticker,
			Amount: fill,
			Price:  price,
			TS:     now.UnixNano(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return nil, err
		}

		if err := e.settle(ctx, tx, ord, m, fill, price); err != nil {
			return nil, err
		}

		out = append(out, types.Transaction{
			Ticker:    trade.Ticker,
			Amount:    trade.Amount,
			Price:     trade.Price,
			Timestamp: now,
		})
	}

	// The admission pre-check walks the same book under the same ticker
	// lock, so an unfilled market order past this point is a bug, not a
	// liquidity condition.
	if ord.IsMarket() && ord.Remaining() > 0 {
		return nil, fmt.Errorf("market order %s unfilled after matching: %d of %d", ord.ID, ord.Filled, ord.Qty)
	}
	return out, nil
}

// settle moves balances for one fill. Both reservations were deducted at
// admission, so only credits flow here, plus the refund to a limit
// buyer whose order crossed below its limit price. When the aggressor is
// a sell, the resting buyer reserved at exactly the trade price, so its
// refund term is structurally zero and is not written.
func (e *Engine) settle(ctx context.Context, tx *store.Tx, taker, maker *store.Order, fill, price int64) error {
	buyer, seller := taker, maker
	if taker.Direction == types.Sell {
		buyer, seller = maker, taker
	}

	if err := ledger.Adjust(ctx, tx, buyer.UserID, taker.Ticker, fill); err != nil {
		return err
	}
	if err := ledger.Adjust(ctx, tx, seller.UserID, types.QuoteTicker, fill*price); err != nil {
		return err
	}

	if taker.Direction == types.Buy && !taker.IsMarket() && price < taker.Price.Int64 {
		refund := (taker.Price.Int64 - price) * fill
		if err := ledger.Adjust(ctx, tx, buyer.UserID, types.QuoteTicker, refund); err != nil {
			return err
		}
	}
	return nil
}

// The liquidity walk runs against the open transaction.
var _ book.Querier = (*store.Tx)(nil)
