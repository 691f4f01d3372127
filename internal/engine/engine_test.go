package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"toy-exchange/internal/book"
	"toy-exchange/internal/ledger"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"
)

const (
	alice = "u-alice"
	bob   = "u-bob"
	carol = "u-carol"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, u := range []struct{ id, name string }{
		{alice, "alice"}, {bob, "bob"}, {carol, "carol"},
	} {
		user := store.User{ID: u.id, Name: u.name, Role: types.RoleUser, APIKey: "key-" + u.id}
		if err := st.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", u.name, err)
		}
	}
	if err := st.CreateInstrument(ctx, store.Instrument{Ticker: "MEMCOIN", Name: "Meme Coin"}); err != nil {
		t.Fatalf("CreateInstrument failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, logger), st
}

func fund(t *testing.T, eng *Engine, userID, ticker string, amount int64) {
	t.Helper()
	if err := eng.Deposit(context.Background(), userID, ticker, amount); err != nil {
		t.Fatalf("Deposit(%s, %s, %d) failed: %v", userID, ticker, amount, err)
	}
}

func balance(t *testing.T, st *store.Store, userID, ticker string) int64 {
	t.Helper()
	amount, _, err := st.BalanceAmount(context.Background(), userID, ticker)
	if err != nil {
		t.Fatalf("BalanceAmount failed: %v", err)
	}
	return amount
}

func ptr(v int64) *int64 { return &v }

func submit(t *testing.T, eng *Engine, userID string, dir types.Direction, qty int64, price *int64) string {
	t.Helper()
	id, err := eng.Submit(context.Background(), userID, types.OrderBody{
		Direction: dir, Ticker: "MEMCOIN", Qty: qty, Price: price,
	})
	if err != nil {
		t.Fatalf("Submit(%s %s %d) failed: %v", userID, dir, qty, err)
	}
	return id
}

func orderByID(t *testing.T, st *store.Store, id string) store.Order {
	t.Helper()
	ord, err := st.OrderByID(context.Background(), id)
	if err != nil {
		t.Fatalf("OrderByID(%s) failed: %v", id, err)
	}
	return ord
}

func allTrades(t *testing.T, st *store.Store) []store.Trade {
	t.Helper()
	trades, err := st.RecentTrades(context.Background(), "MEMCOIN", 100)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	return trades
}

// Crossing at the seller's price: the resting order sets the trade
// price and the aggressive buyer is refunded the difference.
func TestCrossingAtSellerPrice(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	sellID := submit(t, eng, bob, types.Sell, 5, ptr(80))
	buyID := submit(t, eng, alice, types.Buy, 5, ptr(100))

	trades := allTrades(t, st)
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Amount != 5 || trades[0].Price != 80 {
		t.Errorf("trade = %d @ %d, want 5 @ 80", trades[0].Amount, trades[0].Price)
	}

	if got := balance(t, st, alice, "RUB"); got != 600 {
		t.Errorf("alice RUB = %d, want 600", got)
	}
	if got := balance(t, st, alice, "MEMCOIN"); got != 5 {
		t.Errorf("alice MEMCOIN = %d, want 5", got)
	}
	if got := balance(t, st, bob, "RUB"); got != 400 {
		t.Errorf("bob RUB = %d, want 400", got)
	}
	if got := balance(t, st, bob, "MEMCOIN"); got != 5 {
		t.Errorf("bob MEMCOIN = %d, want 5", got)
	}

	for _, id := range []string{sellID, buyID} {
		if ord := orderByID(t, st, id); ord.Status != types.StatusExecuted {
			t.Errorf("order %s status = %s, want EXECUTED", id, ord.Status)
		}
	}
}

// An aggressive limit buy crossing a cheaper ask trades at the ask's
// price and is refunded the difference within the same transaction.
func TestLimitBuyRefund(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	submit(t, eng, bob, types.Sell, 4, ptr(70))
	buyID := submit(t, eng, alice, types.Buy, 10, ptr(100))

	ord := orderByID(t, st, buyID)
	if ord.Status != types.StatusPartiallyExecuted || ord.Filled != 4 {
		t.Errorf("buy order = %s filled %d, want PARTIALLY_EXECUTED filled 4", ord.Status, ord.Filled)
	}
	// Reserved 1000, refunded (100-70)*4 = 120; 600 stays reserved for
	// the resting remainder.
	if got := balance(t, st, alice, "RUB"); got != 120 {
		t.Errorf("alice RUB = %d, want 120", got)
	}
	if got := balance(t, st, alice, "MEMCOIN"); got != 4 {
		t.Errorf("alice MEMCOIN = %d, want 4", got)
	}
	if got := balance(t, st, bob, "RUB"); got != 280 {
		t.Errorf("bob RUB = %d, want 280", got)
	}
}

// A market buy that the book cannot fill is rejected before any state
// change: no trade, no order row, no balance movement.
func TestMarketBuyLiquidityFailure(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	submit(t, eng, bob, types.Sell, 2, ptr(50))
	submit(t, eng, bob, types.Sell, 2, ptr(60))

	_, err := eng.Submit(context.Background(), alice, types.OrderBody{
		Direction: types.Buy, Ticker: "MEMCOIN", Qty: 5,
	})
	if !errors.Is(err, book.ErrInsufficientLiquidity) {
		t.Fatalf("Submit = %v, want ErrInsufficientLiquidity", err)
	}

	if trades := allTrades(t, st); len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
	if got := balance(t, st, alice, "RUB"); got != 1000 {
		t.Errorf("alice RUB = %d, want 1000 (untouched)", got)
	}
	orders, err := st.OrdersByUser(context.Background(), alice)
	if err != nil {
		t.Fatalf("OrdersByUser failed: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("alice has %d orders, want 0", len(orders))
	}
}

// The market-sell liquidity check runs before the base reservation; a
// rejection leaves the seller's holdings untouched.
func TestMarketSellLiquidityFailure(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, bob, "MEMCOIN", 10)

	_, err := eng.Submit(context.Background(), bob, types.OrderBody{
		Direction: types.Sell, Ticker: "MEMCOIN", Qty: 5,
	})
	if !errors.Is(err, book.ErrInsufficientLiquidity) {
		t.Fatalf("Submit = %v, want ErrInsufficientLiquidity", err)
	}
	if got := balance(t, st, bob, "MEMCOIN"); got != 10 {
		t.Errorf("bob MEMCOIN = %d, want 10 (untouched)", got)
	}
}

// A market buy reserves exactly the walk cost, so no refund applies even
// when fills span price levels.
func TestMarketBuySpansLevels(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	submit(t, eng, bob, types.Sell, 2, ptr(50))
	submit(t, eng, bob, types.Sell, 2, ptr(60))

	mktID := submit(t, eng, alice, types.Buy, 4, nil)

	ord := orderByID(t, st, mktID)
	if ord.Status != types.StatusExecuted || ord.Filled != 4 {
		t.Fatalf("market order = %s filled %d, want EXECUTED filled 4", ord.Status, ord.Filled)
	}
	// 2*50 + 2*60 = 220.
	if got := balance(t, st, alice, "RUB"); got != 780 {
		t.Errorf("alice RUB = %d, want 780", got)
	}
	if got := balance(t, st, bob, "RUB"); got != 220 {
		t.Errorf("bob RUB = %d, want 220", got)
	}
	if trades := allTrades(t, st); len(trades) != 2 {
		t.Errorf("got %d trades, want 2", len(trades))
	}
}

// Cancellation refunds exactly the outstanding reservation and removes
// the order from depth.
func TestCancelRefund(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	buyID := submit(t, eng, alice, types.Buy, 3, ptr(50))

	if got := balance(t, st, alice, "RUB"); got != 850 {
		t.Fatalf("alice RUB after reservation = %d, want 850", got)
	}

	if err := eng.Cancel(context.Background(), alice, buyID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if got := balance(t, st, alice, "RUB"); got != 1000 {
		t.Errorf("alice RUB = %d, want 1000", got)
	}
	if ord := orderByID(t, st, buyID); ord.Status != types.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", ord.Status)
	}

	l2, err := book.L2(context.Background(), st, "MEMCOIN", 10)
	if err != nil {
		t.Fatalf("L2 failed: %v", err)
	}
	if len(l2.BidLevels) != 0 {
		t.Errorf("cancelled order still in depth: %+v", l2.BidLevels)
	}
}

// Equal-price resting orders match first-in, first-matched.
func TestPriceTimePriority(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 2)
	fund(t, eng, carol, "MEMCOIN", 3)

	firstID := submit(t, eng, bob, types.Sell, 2, ptr(10))
	secondID := submit(t, eng, carol, types.Sell, 3, ptr(10))

	submit(t, eng, alice, types.Buy, 4, ptr(10))

	first := orderByID(t, st, firstID)
	if first.Status != types.StatusExecuted || first.Filled != 2 {
		t.Errorf("first ask = %s filled %d, want EXECUTED filled 2", first.Status, first.Filled)
	}
	second := orderByID(t, st, secondID)
	if second.Status != types.StatusPartiallyExecuted || second.Filled != 2 {
		t.Errorf("second ask = %s filled %d, want PARTIALLY_EXECUTED filled 2", second.Status, second.Filled)
	}
}

// Market orders are never cancellable, even after full execution.
func TestCannotCancelMarket(t *testing.T) {
	eng, _ := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	submit(t, eng, bob, types.Sell, 5, ptr(50))
	mktID := submit(t, eng, alice, types.Buy, 5, nil)

	err := eng.Cancel(context.Background(), alice, mktID)
	if !errors.Is(err, ErrCannotCancelMarket) {
		t.Fatalf("Cancel(market) = %v, want ErrCannotCancelMarket", err)
	}
}

// Partially executed orders cannot be cancelled.
func TestCannotCancelPartiallyExecuted(t *testing.T) {
	eng, _ := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, bob, "MEMCOIN", 10)

	buyID := submit(t, eng, alice, types.Buy, 10, ptr(50))
	submit(t, eng, bob, types.Sell, 4, ptr(50))

	err := eng.Cancel(context.Background(), alice, buyID)
	if !errors.Is(err, ErrCannotCancelExecuted) {
		t.Fatalf("Cancel(partial) = %v, want ErrCannotCancelExecuted", err)
	}
}

func TestCancelForeignOrderNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	buyID := submit(t, eng, alice, types.Buy, 3, ptr(50))

	if err := eng.Cancel(context.Background(), bob, buyID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Cancel(foreign) = %v, want ErrNotFound", err)
	}
}

func TestSubmitUnknownInstrument(t *testing.T) {
	eng, _ := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	_, err := eng.Submit(context.Background(), alice, types.OrderBody{
		Direction: types.Buy, Ticker: "NOPE", Qty: 1, Price: ptr(10),
	})
	if !errors.Is(err, ErrInstrumentUnknown) {
		t.Fatalf("Submit = %v, want ErrInstrumentUnknown", err)
	}
}

// Quantities and prices large enough to overflow qty*price must be
// rejected outright; an overflowed reservation would debit a negative
// amount and credit the submitter out of nothing.
func TestSubmitRejectsOversizedOrders(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		body types.OrderBody
	}{
		{"huge qty", types.OrderBody{Direction: types.Buy, Ticker: "MEMCOIN", Qty: 3074457345618258603, Price: ptr(3)}},
		{"huge price", types.OrderBody{Direction: types.Buy, Ticker: "MEMCOIN", Qty: 3, Price: ptr(3074457345618258603)}},
		{"qty just past cap", types.OrderBody{Direction: types.Sell, Ticker: "MEMCOIN", Qty: types.MaxQty + 1, Price: ptr(1)}},
	}
	for _, tc := range cases {
		_, err := eng.Submit(ctx, alice, tc.body)
		if !errors.Is(err, ErrOrderTooLarge) {
			t.Errorf("%s: Submit = %v, want ErrOrderTooLarge", tc.name, err)
		}
	}

	// Nothing was admitted and no balance was minted.
	if got := balance(t, st, alice, "RUB"); got != 0 {
		t.Errorf("alice RUB = %d, want 0", got)
	}
	orders, err := st.OrdersByUser(ctx, alice)
	if err != nil {
		t.Fatalf("OrdersByUser failed: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("alice has %d orders, want 0", len(orders))
	}
}

func TestSubmitInsufficientBalance(t *testing.T) {
	eng, st := newTestEngine(t)

	fund(t, eng, alice, "RUB", 100)
	_, err := eng.Submit(context.Background(), alice, types.OrderBody{
		Direction: types.Buy, Ticker: "MEMCOIN", Qty: 3, Price: ptr(50),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("Submit = %v, want ErrInsufficientBalance", err)
	}
	// Rejection leaves no order behind.
	orders, err := st.OrdersByUser(context.Background(), alice)
	if err != nil {
		t.Fatalf("OrdersByUser failed: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("alice has %d orders after rejection, want 0", len(orders))
	}
}

func TestWithdrawCannotTouchReservation(t *testing.T) {
	eng, _ := newTestEngine(t)

	fund(t, eng, alice, "RUB", 1000)
	submit(t, eng, alice, types.Buy, 10, ptr(100)) // reserves everything

	err := eng.Withdraw(context.Background(), alice, "RUB", 1)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("Withdraw = %v, want ErrInsufficientBalance", err)
	}
}

// Conservation: matching moves value between users but never creates or
// destroys it; per currency, totals equal the net admin deposits.
func TestConservation(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	fund(t, eng, alice, "RUB", 1000)
	fund(t, eng, carol, "RUB", 500)
	fund(t, eng, bob, "MEMCOIN", 20)

	submit(t, eng, bob, types.Sell, 5, ptr(80))
	submit(t, eng, alice, types.Buy, 3, ptr(90))
	submit(t, eng, carol, types.Buy, 4, ptr(100))
	submit(t, eng, bob, types.Sell, 6, ptr(85))
	mustFailOrOk := func(dir types.Direction, user string, qty int64) {
		_, _ = eng.Submit(ctx, user, types.OrderBody{Direction: dir, Ticker: "MEMCOIN", Qty: qty})
	}
	mustFailOrOk(types.Buy, carol, 2)
	mustFailOrOk(types.Sell, bob, 1)

	totals := map[string]int64{}
	for _, u := range []string{alice, bob, carol} {
		snap, err := ledger.Snapshot(ctx, st, u)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		for ticker, amount := range snap {
			totals[ticker] += amount
		}
	}
	// Resting reservations are deducted from free balances; add them
	// back so the totals cover the full float.
	for _, u := range []string{alice, bob, carol} {
		orders, err := st.OrdersByUser(ctx, u)
		if err != nil {
			t.Fatalf("OrdersByUser failed: %v", err)
		}
		for _, o := range orders {
			if !o.Resting() {
				continue
			}
			if o.Direction == types.Buy {
				totals["RUB"] += o.Price.Int64 * o.Remaining()
			} else {
				totals[o.Ticker] += o.Remaining()
			}
		}
	}

	if totals["RUB"] != 1500 {
		t.Errorf("total RUB = %d, want 1500", totals["RUB"])
	}
	if totals["MEMCOIN"] != 20 {
		t.Errorf("total MEMCOIN = %d, want 20", totals["MEMCOIN"])
	}
}
