// Package schema defines the normalized order and balance types exposed by the connector.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action identifies the order side.
type Action string

const (
	// ActionBuy buys the base asset.
	ActionBuy Action = "BUY"
	// ActionSell sells the base asset.
	ActionSell Action = "SELL"
)

// Valid reports whether the action is recognised.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// OrderType identifies the execution style.
type OrderType string

const (
	// OrderTypeLimit rests on the book at a price.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeMarket executes immediately against the book.
	OrderTypeMarket OrderType = "MARKET"
)

// Status is the normalized order status.
type Status string

const (
	StatusSubmitted     Status = "SUBMITTED"
	StatusPartialFilled Status = "PARTIAL_FILLED"
	StatusFilled        Status = "FILLED"
	StatusCanceled      Status = "CANCELED"
	StatusFailed        Status = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// Order is one exchange order as seen by the reconciler.
type Order struct {
	Platform      string          `json:"platform"`
	Account       string          `json:"account"`
	Strategy      string          `json:"strategy"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Action        Action          `json:"action"`
	OrderType     OrderType       `json:"order_type"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Remain        decimal.Decimal `json:"remain"`
	Status        Status          `json:"status"`
	CreatedTime   time.Time       `json:"created_time"`
	UpdatedTime   time.Time       `json:"updated_time"`
}

// Clone returns an independent copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// Executed returns the filled quantity implied by quantity and remain.
func (o *Order) Executed() decimal.Decimal {
	return o.Quantity.Sub(o.Remain)
}

// Millis converts an exchange millisecond timestamp into UTC time. Zero maps to the zero time.
func Millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
