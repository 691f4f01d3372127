// Package types defines the wire-level documents of the exchange API.
// Both the server handlers and the exctl client marshal these, so they
// live outside internal/.
//
// Order bodies form a tagged union distinguished by the presence of
// price: a limit order carries price > 0, a market order omits it.
// Internally both map to a single record with a nullable price.
package types

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// QuoteTicker is the fixed quote currency. All prices are denominated in
// it and every buy-side reservation is taken from it.
const QuoteTicker = "RUB"

// MaxQty and MaxPrice cap order sizes and prices so every reservation,
// refund and settlement product (qty times price) stays within int64.
// The validate tags on the request bodies carry the same literal bound.
const (
	MaxQty   = math.MaxInt32
	MaxPrice = math.MaxInt32
)

// UserRole separates regular participants from venue administrators.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// Direction is the side of an order.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// OrderStatus is the lifecycle state of an order.
//
// NEW and PARTIALLY_EXECUTED orders rest on the book (limit orders only);
// EXECUTED and CANCELLED are terminal.
type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted          OrderStatus = "EXECUTED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

// NewUser is the registration request body.
type NewUser struct {
	Name string `json:"name" validate:"required,min=3"`
}

// User is the full user document, including the bearer credential.
type User struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Role   UserRole  `json:"role"`
	APIKey string    `json:"api_key"`
}

// Instrument is a tradeable asset. The ticker doubles as the balance and
// order key.
type Instrument struct {
	Name   string `json:"name" validate:"required"`
	Ticker string `json:"ticker" validate:"required,alpha,uppercase,min=2,max=10"`
}

// Level is one aggregated price level of the L2 book.
type Level struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// L2OrderBook is the depth projection: bids sorted by price descending,
// asks ascending.
type L2OrderBook struct {
	BidLevels []Level `json:"bid_levels"`
	AskLevels []Level `json:"ask_levels"`
}

// Transaction is one executed trade.
type Transaction struct {
	Ticker    string    `json:"ticker"`
	Amount    int64     `json:"amount"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderBody is the submission payload. Price is nil for market orders.
type OrderBody struct {
	Direction Direction `json:"direction" validate:"required,oneof=BUY SELL"`
	Ticker    string    `json:"ticker" validate:"required,alpha,uppercase,min=2,max=10"`
	Qty       int64     `json:"qty" validate:"required,gte=1,lte=2147483647"`
	Price     *int64    `json:"price,omitempty" validate:"omitempty,gt=0,lte=2147483647"`
}

// IsMarket reports whether the body describes a market order.
func (b OrderBody) IsMarket() bool {
	return b.Price == nil
}

// Order is the full order document returned to its owner. Filled is
// omitted for market orders, which never rest and report no partial
// progress.
type Order struct {
	ID        uuid.UUID   `json:"id"`
	Status    OrderStatus `json:"status"`
	UserID    uuid.UUID   `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Body      OrderBody   `json:"body"`
	Filled    *int64      `json:"filled,omitempty"`
}

// CreateOrderResponse acknowledges an accepted submission.
type CreateOrderResponse struct {
	Success bool      `json:"success"`
	OrderID uuid.UUID `json:"order_id"`
}

// Ok is the generic success envelope.
type Ok struct {
	Success bool `json:"success"`
}

// BalanceChange is the admin deposit/withdraw request body.
type BalanceChange struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Ticker string    `json:"ticker" validate:"required,alpha,uppercase,min=2,max=10"`
	Amount int64     `json:"amount" validate:"required,gt=0,lte=2147483647"`
}

// ValidationError is one entry of the error envelope.
type ValidationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// HTTPValidationError is the envelope carried by every non-200 response.
type HTTPValidationError struct {
	Detail []ValidationError `json:"detail"`
}
