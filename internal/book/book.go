// Package book provides the order book projections: L2 depth, recent
// trade history, and the liquidity walk used to admit market orders.
// It only reads; all book state lives in the store as resting orders.
package book

import (
	"context"
	"errors"
	"fmt"

	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"
)

// ErrInsufficientLiquidity is returned when the resting book cannot fill
// a market order in full.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

const (
	// MaxDepth caps the number of levels per side in the L2 projection.
	MaxDepth = 25
	// MaxTrades caps the recent-trades page size.
	MaxTrades = 100
	// DefaultLimit applies when the caller does not specify one.
	DefaultLimit = 10
)

// Querier is the read surface the projections need.
type Querier interface {
	RestingOrders(ctx context.Context, ticker string, side types.Direction, bound *int64) ([]store.Order, error)
	RecentTrades(ctx context.Context, ticker string, limit int) ([]store.Trade, error)
}

// L2 aggregates residual quantity per price across resting limit orders.
// Bids come back sorted by price descending, asks ascending, each side
// truncated to limit levels. Rows without a price never rest (market
// orders are matched or rejected on admission) and the scan excludes
// them.
func L2(ctx context.Context, q Querier, ticker string, limit int) (types.L2OrderBook, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxDepth {
		limit = MaxDepth
	}

	bids, err := q.RestingOrders(ctx, ticker, types.Buy, nil)
	if err != nil {
		return types.L2OrderBook{}, err
	}
	asks, err := q.RestingOrders(ctx, ticker, types.Sell, nil)
	if err != nil {
		return types.L2OrderBook{}, err
	}

	return types.L2OrderBook{
		BidLevels: aggregate(bids, limit),
		AskLevels: aggregate(asks, limit),
	}, nil
}

// aggregate folds price-ordered resting orders into levels, merging equal
// prices and dropping empty residuals. The scan already orders rows by
// price, so equal prices are adjacent.
func aggregate(orders []store.Order, limit int) []types.Level {
	levels := make([]types.Level, 0, limit)
	for _, o := range orders {
		qty := o.Remaining()
		if qty <= 0 || !o.Price.Valid {
			continue
		}
		price := o.Price.Int64
		if n := len(levels); n > 0 && levels[n-1].Price == price {
			levels[n-1].Qty += qty
			continue
		}
		if len(levels) == limit {
			break
		}
		levels = append(levels, types.Level{Price: price, Qty: qty})
	}
	return levels
}

// RecentTrades returns the newest trades for a ticker, newest first, with
// UTC-aware timestamps.
func RecentTrades(ctx context.Context, q Querier, ticker string, limit int) ([]types.Transaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxTrades {
		limit = MaxTrades
	}

	rows, err := q.RecentTrades(ctx, ticker, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Transaction, len(rows))
	for i := range rows {
		out[i] = types.Transaction{
			Ticker:    rows[i].Ticker,
			Amount:    rows[i].Amount,
			Price:     rows[i].Price,
			Timestamp: rows[i].Time(),
		}
	}
	return out, nil
}

// WalkCost prices a hypothetical market order of size qty against the
// current book: asks in ascending price order for a BUY, bids descending
// for a SELL, taking the residual of each resting order until qty is
// covered. It returns the summed cost (take times price per step) or
// ErrInsufficientLiquidity when the book is too thin, in which case the
// caller must reject before touching any state.
func WalkCost(ctx context.Context, q Querier, ticker string, dir types.Direction, qty int64) (int64, error) {
	side := types.Sell
	if dir == types.Sell {
		side = types.Buy
	}

	resting, err := q.RestingOrders(ctx, ticker, side, nil)
	if err != nil {
		return 0, err
	}

	remaining := qty
	var cost int64
	for _, o := range resting {
		if remaining == 0 {
			break
		}
		take := min(remaining, o.Remaining())
		cost += take * o.Price.Int64
		remaining -= take
	}
	if remaining > 0 {
		return 0, fmt.Errorf("%w: %s book covers %d of %d", ErrInsufficientLiquidity, ticker, qty-remaining, qty)
	}
	return cost, nil
}
