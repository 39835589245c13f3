package connector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
	"overlord/pkg/exception"
)

// QuoteFunc returns the latest quote for a symbol at a venue.
type QuoteFunc func(symbol, venue string) (schema.Quote, bool)

// FillFunc receives simulated fills.
type FillFunc func(fill schema.Fill)

// Paper simulates a venue. Market orders fill immediately at the touch
// price from the supplied quote source; other orders rest until
// cancelled. No partial fills are simulated.
type Paper struct {
	venue  string
	quote  QuoteFunc
	onFill FillFunc

	mu      sync.Mutex
	resting map[string]*schema.Order
}

// NewPaper creates a paper connector for one venue.
func NewPaper(venue string, quote QuoteFunc, onFill FillFunc) *Paper {
	return &Paper{
		venue:   venue,
		quote:   quote,
		onFill:  onFill,
		resting: make(map[string]*schema.Order),
	}
}

// OnFill installs the fill sink. Must be set before the first Submit.
func (p *Paper) OnFill(fn FillFunc) {
	p.onFill = fn
}

// Submit acknowledges the order with a generated venue identifier.
// Market orders fill asynchronously right after acknowledgement.
func (p *Paper) Submit(ctx context.Context, order *schema.Order) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	venueOrderID := p.venue + "-" + strings.ToUpper(uuid.NewString()[:8])

	if order.Type == schema.OrderTypeMarket {
		quote, ok := p.quote(order.Symbol, p.venue)
		if !ok {
			return "", exception.ErrVenueUnavailable
		}
		price := quote.AskPrice
		if order.Side == schema.OrderSideSell {
			price = quote.BidPrice
		}
		fill := schema.Fill{
			OrderID:      order.ID,
			VenueOrderID: venueOrderID,
			Symbol:       order.Symbol,
			Venue:        p.venue,
			Side:         order.Side,
			Quantity:     order.RemainingQuantity(),
			Price:        price,
			Timestamp:    time.Now().UTC(),
		}
		// Delivered on a separate goroutine like a real venue stream.
		// The fill may reach the sink before Submit returns, so the
		// sink must tolerate fills that outrun the acknowledgement.
		go func() {
			if p.onFill != nil {
				p.onFill(fill)
			}
		}()
		logs.Infof("paper fill scheduled: order=%s venue=%s price=%s", order.ID, p.venue, price)
		return venueOrderID, nil
	}

	p.mu.Lock()
	p.resting[venueOrderID] = order.Clone()
	p.mu.Unlock()
	logs.Infof("paper order resting: order=%s venue_order=%s", order.ID, venueOrderID)
	return venueOrderID, nil
}

// Cancel removes a resting order. Unknown identifiers are accepted, a
// market order may already have filled.
func (p *Paper) Cancel(ctx context.Context, venueOrderID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resting, venueOrderID)
	return nil
}

// Resting returns the count and notional of resting orders, for tests
// and diagnostics.
func (p *Paper) Resting() (int, decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	notional := decimal.Zero
	for _, order := range p.resting {
		notional = notional.Add(order.Quantity.Mul(order.Price))
	}
	return len(p.resting), notional
}
