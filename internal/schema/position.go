package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net holding of a symbol at a venue. Quantity carries the
// sign: positive is long, negative is short.
type Position struct {
	Symbol            string
	Venue             string
	StrategyID        string
	Quantity          decimal.Decimal
	AverageEntryPrice decimal.Decimal
	RealizedPnL       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	MarkPrice         decimal.Decimal

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort reports whether the position is short.
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// IsFlat reports whether the position has no open quantity.
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Notional values the open quantity at the mark price, falling back to the
// average entry price when no mark is known.
func (p *Position) Notional() decimal.Decimal {
	mark := p.MarkPrice
	if mark.IsZero() {
		mark = p.AverageEntryPrice
	}
	return p.Quantity.Mul(mark).Abs()
}

// Clone returns a shallow copy safe to hand to subscribers.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// PositionKey identifies a position by symbol and venue.
func PositionKey(symbol, venue string) string {
	return symbol + "_" + venue
}
