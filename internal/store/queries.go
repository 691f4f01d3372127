package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"toy-exchange/pkg/types"
)

// Queries holds the typed accessors. It runs against either the plain
// database handle (last committed state) or an open transaction.
type Queries struct {
	ext sqlx.ExtContext
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// CreateUser inserts a new user row.
func (q Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO users (id, name, role, api_key) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Role, u.APIKey)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByKey resolves the bearer credential to a user.
func (q Queries) UserByKey(ctx context.Context, apiKey string) (User, error) {
	var u User
	err := sqlx.GetContext(ctx, q.ext, &u, `SELECT * FROM users WHERE api_key = ?`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by key: %w", err)
	}
	return u, nil
}

// UserByID fetches a user by id.
func (q Queries) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := sqlx.GetContext(ctx, q.ext, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

// UserByName fetches a user by name. Used by startup seeding only.
func (q Queries) UserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := sqlx.GetContext(ctx, q.ext, &u, `SELECT * FROM users WHERE name = ? LIMIT 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by name: %w", err)
	}
	return u, nil
}

// DeleteUser removes a user; orders and balances cascade.
func (q Queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInstrument lists a new asset. An existing ticker yields ErrDuplicate.
func (q Queries) CreateInstrument(ctx context.Context, ins Instrument) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO instruments (ticker, name) VALUES (?, ?)`, ins.Ticker, ins.Name)
	if isConstraint(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create instrument: %w", err)
	}
	return nil
}

// Instruments lists the catalogue ordered by ticker.
func (q Queries) Instruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	if err := sqlx.SelectContext(ctx, q.ext, &out, `SELECT * FROM instruments ORDER BY ticker`); err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	return out, nil
}

// InstrumentByTicker fetches one catalogue entry.
func (q Queries) InstrumentByTicker(ctx context.Context, ticker string) (Instrument, error) {
	var ins Instrument
	err := sqlx.GetContext(ctx, q.ext, &ins, `SELECT * FROM instruments WHERE ticker = ?`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return Instrument{}, ErrNotFound
	}
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument by ticker: %w", err)
	}
	return ins, nil
}

// DeleteInstrument removes a catalogue entry.
func (q Queries) DeleteInstrument(ctx context.Context, ticker string) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM instruments WHERE ticker = ?`, ticker)
	if err != nil {
		return fmt.Errorf("delete instrument: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BalanceAmount reads one balance row. The second return reports whether
// the row exists.
func (q Queries) BalanceAmount(ctx context.Context, userID, ticker string) (int64, bool, error) {
	var amount int64
	err := sqlx.GetContext(ctx, q.ext, &amount,
		`SELECT amount FROM balances WHERE user_id = ? AND ticker = ?`, userID, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("balance amount: %w", err)
	}
	return amount, true, nil
}

// SetBalance writes one balance row, creating it if missing.
func (q Queries) SetBalance(ctx context.Context, userID, ticker string, amount int64) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO balances (user_id, ticker, amount) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, ticker) DO UPDATE SET amount = excluded.amount`,
		userID, ticker, amount)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// Balances lists all holdings of one user.
func (q Queries) Balances(ctx context.Context, userID string) ([]Balance, error) {
	var out []Balance
	err := sqlx.SelectContext(ctx, q.ext, &out,
		`SELECT * FROM balances WHERE user_id = ? ORDER BY ticker`, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return out, nil
}

// InsertOrder persists a freshly admitted order.
func (q Queries) InsertOrder(ctx context.Context, o Order) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, ticker, direction, qty, price, status, filled, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Ticker, o.Direction, o.Qty, o.Price, o.Status, o.Filled, o.TS)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// OrderByID fetches one order.
func (q Queries) OrderByID(ctx context.Context, id string) (Order, error) {
	var o Order
	err := sqlx.GetContext(ctx, q.ext, &o, `SELECT * FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("order by id: %w", err)
	}
	return o, nil
}

// OrdersByUser lists a user's orders, oldest first.
func (q Queries) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	var out []Order
	err := sqlx.SelectContext(ctx, q.ext, &out,
		`SELECT * FROM orders WHERE user_id = ? ORDER BY ts, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// UpdateOrderExec writes back fill progress and status after matching or
// cancellation. Orders are mutated nowhere else.
func (q Queries) UpdateOrderExec(ctx context.Context, id string, filled int64, status types.OrderStatus) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE orders SET filled = ?, status = ? WHERE id = ?`, filled, status, id)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RestingOrders scans one side of the book in price-time priority:
// status NEW or PARTIALLY_EXECUTED, residual quantity, limit price set.
// side is the side being scanned: SELL returns asks ordered by price
// ascending, BUY returns bids descending; ties resolve by timestamp then
// insertion order. bound, when non-nil, keeps only asks priced at or
// below it / bids priced at or above it.
func (q Queries) RestingOrders(ctx context.Context, ticker string, side types.Direction, bound *int64) ([]Order, error) {
	query := `SELECT * FROM orders
		WHERE ticker = ? AND direction = ?
		  AND status IN ('NEW', 'PARTIALLY_EXECUTED')
		  AND qty > filled AND price IS NOT NULL`
	args := []any{ticker, side}

	cmp, ord := "<=", "ASC"
	if side == types.Buy {
		cmp, ord = ">=", "DESC"
	}
	if bound != nil {
		query += fmt.Sprintf(" AND price %s ?", cmp)
		args = append(args, *bound)
	}
	query += fmt.Sprintf(" ORDER BY price %s, ts ASC, rowid ASC", ord)

	var out []Order
	if err := sqlx.SelectContext(ctx, q.ext, &out, query, args...); err != nil {
		return nil, fmt.Errorf("scan resting orders: %w", err)
	}
	return out, nil
}

// InsertTrade appends one fill to the trade history.
func (q Queries) InsertTrade(ctx context.Context, t Trade) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO trades (id, ticker, amount, price, ts) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Ticker, t.Amount, t.Price, t.TS)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentTrades lists the newest trades for a ticker, newest first.
func (q Queries) RecentTrades(ctx context.Context, ticker string, limit int) ([]Trade, error) {
	var out []Trade
	err := sqlx.SelectContext(ctx, q.ext, &out,
		`SELECT * FROM trades WHERE ticker = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	return out, nil
}
