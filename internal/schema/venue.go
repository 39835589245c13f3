package schema

import "github.com/shopspring/decimal"

// VenueProfile is the static capability record for a trading venue. The
// live health flag is managed separately by the router.
type VenueProfile struct {
	Name         string
	Enabled      bool
	Priority     int
	MinOrderSize decimal.Decimal
	MaxOrderSize decimal.Decimal
	MakerFee     decimal.Decimal
	TakerFee     decimal.Decimal
}

// AcceptsQuantity reports whether qty fits the venue's order size window.
func (v VenueProfile) AcceptsQuantity(qty decimal.Decimal) bool {
	if qty.Cmp(v.MinOrderSize) < 0 {
		return false
	}
	if v.MaxOrderSize.IsPositive() && qty.Cmp(v.MaxOrderSize) > 0 {
		return false
	}
	return true
}
