package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the best bid/ask for a symbol at a venue. Quotes are transient,
// last write wins per (symbol, venue).
type Quote struct {
	Symbol    string
	Venue     string
	BidPrice  decimal.Decimal
	BidSize   decimal.Decimal
	AskPrice  decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Spread returns ask minus bid.
func (q Quote) Spread() decimal.Decimal {
	return q.AskPrice.Sub(q.BidPrice)
}

// MidPrice returns the bid/ask midpoint.
func (q Quote) MidPrice() decimal.Decimal {
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the spread in basis points of the midpoint, or zero
// when the midpoint is not positive.
func (q Quote) SpreadBps() decimal.Decimal {
	mid := q.MidPrice()
	if !mid.IsPositive() {
		return decimal.Zero
	}
	return q.Spread().Mul(decimal.NewFromInt(10000)).Div(mid)
}
