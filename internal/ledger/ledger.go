// Package ledger is the single mutator of balance rows. Every credit,
// debit, reservation and refund funnels through Adjust, which enforces
// the non-negativity invariant before any write; the schema's check
// constraint is the backstop, not the primary guard.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"toy-exchange/internal/store"
)

// ErrInsufficientBalance is returned when an adjustment would drive a
// balance below zero. No write happens in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Querier is the slice of the store the ledger needs. Both *store.Store
// (committed reads) and *store.Tx satisfy it; mutations must come in on
// a transaction.
type Querier interface {
	BalanceAmount(ctx context.Context, userID, ticker string) (int64, bool, error)
	SetBalance(ctx context.Context, userID, ticker string, amount int64) error
	Balances(ctx context.Context, userID string) ([]store.Balance, error)
}

// Adjust applies delta to the (userID, ticker) balance, creating the row
// on first credit. A result below zero, including any debit against a
// missing row, fails with ErrInsufficientBalance.
func Adjust(ctx context.Context, q Querier, userID, ticker string, delta int64) error {
	amount, ok, err := q.BalanceAmount(ctx, userID, ticker)
	if err != nil {
		return err
	}
	if !ok && delta < 0 {
		return fmt.Errorf("%w: no %s balance for user %s", ErrInsufficientBalance, ticker, userID)
	}
	if delta > 0 && amount > math.MaxInt64-delta {
		return fmt.Errorf("%s balance for user %s would overflow", ticker, userID)
	}

	next := amount + delta
	if next < 0 {
		return fmt.Errorf("%w: %s balance %d, need %d", ErrInsufficientBalance, ticker, amount, -delta)
	}
	return q.SetBalance(ctx, userID, ticker, next)
}

// Snapshot returns the full ticker → amount mapping for one user. It is
// only consistent with subsequent writes when called on the same
// transaction as those writes.
func Snapshot(ctx context.Context, q Querier, userID string) (map[string]int64, error) {
	rows, err := q.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, b := range rows {
		out[b.Ticker] = b.Amount
	}
	return out, nil
}
