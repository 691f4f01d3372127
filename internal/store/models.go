package store

import (
	"database/sql"
	"time"

	"toy-exchange/pkg/types"
)

// User is one registered participant.
type User struct {
	ID     string         `db:"id"`
	Name   string         `db:"name"`
	Role   types.UserRole `db:"role"`
	APIKey string         `db:"api_key"`
}

// Instrument is one listed asset.
type Instrument struct {
	Ticker string `db:"ticker"`
	Name   string `db:"name"`
}

// Order is the persisted order record. Price is NULL for market orders.
// TS is UTC unix nanoseconds.
type Order struct {
	ID        string            `db:"id"`
	UserID    string            `db:"user_id"`
	Ticker    string            `db:"ticker"`
	Direction types.Direction   `db:"direction"`
	Qty       int64             `db:"qty"`
	Price     sql.NullInt64     `db:"price"`
	Status    types.OrderStatus `db:"status"`
	Filled    int64             `db:"filled"`
	TS        int64             `db:"ts"`
}

// IsMarket reports whether the order has no limit price.
func (o *Order) IsMarket() bool {
	return !o.Price.Valid
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Time returns the submission timestamp as a UTC-aware time.
func (o *Order) Time() time.Time {
	return time.Unix(0, o.TS).UTC()
}

// Resting reports whether the order still sits on the book.
func (o *Order) Resting() bool {
	return (o.Status == types.StatusNew || o.Status == types.StatusPartiallyExecuted) && o.Remaining() > 0
}

// Balance is one (user, ticker) holding. Amount never goes negative; the
// schema carries the matching check constraint.
type Balance struct {
	UserID string `db:"user_id"`
	Ticker string `db:"ticker"`
	Amount int64  `db:"amount"`
}

// Trade is one executed fill. TS is UTC unix nanoseconds.
type Trade struct {
	ID     string `db:"id"`
	Ticker string `db:"ticker"`
	Amount int64  `db:"amount"`
	Price  int64  `db:"price"`
	TS     int64  `db:"ts"`
}

// Time returns the execution timestamp as a UTC-aware time.
func (t *Trade) Time() time.Time {
	return time.Unix(0, t.TS).UTC()
}
