package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderMetadata carries the known per-order annotations. Extra holds
// strategy-specific keys that have no schema.
type OrderMetadata struct {
	Source        string            `json:"source,omitempty"`
	SignalID      string            `json:"signalId,omitempty"`
	ExpectedPrice decimal.Decimal   `json:"expectedPrice,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Order is a request to buy or sell a quantity of a symbol at a venue.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Venue         string
	VenueOrderID  string
	Type          OrderType
	Side          OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Status        OrderStatus

	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal

	StrategyID   string
	ErrorMessage string
	Metadata     OrderMetadata

	CreatedAt   time.Time
	UpdatedAt   time.Time
	FirstFillAt time.Time
	CompletedAt time.Time
}

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsComplete reports whether the order reached a terminal status.
func (o *Order) IsComplete() bool {
	return o.Status.IsTerminal()
}

// Clone returns a shallow copy safe to hand to subscribers.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Fill is a partial or complete execution of an order.
type Fill struct {
	OrderID      string
	VenueOrderID string

	Symbol    string
	Venue     string
	Side      OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}
