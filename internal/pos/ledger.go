package pos

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
	"overlord/internal/storage"
	"overlord/pkg/exception"
)

// Ledger is the sole authority over position identity and P&L accounting.
// A single lock guards all mutating operations and the quote cache.
type Ledger struct {
	storage storage.PositionStorage

	mu         sync.Mutex
	positions  map[string]*schema.Position
	byStrategy map[string]map[string]struct{}
	quotes     map[string]schema.Quote
}

// Summary aggregates P&L and exposure across open positions.
type Summary struct {
	TotalPositions int
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalPnL       decimal.Decimal
	LongExposure   decimal.Decimal
	ShortExposure  decimal.Decimal
	NetExposure    decimal.Decimal
	GrossExposure  decimal.Decimal
}

// NewLedger creates a position ledger backed by the given storage.
func NewLedger(store storage.PositionStorage) *Ledger {
	return &Ledger{
		storage:    store,
		positions:  make(map[string]*schema.Position),
		byStrategy: make(map[string]map[string]struct{}),
		quotes:     make(map[string]schema.Quote),
	}
}

// Load restores positions from storage into the in-memory cache.
func (l *Ledger) Load(ctx context.Context) error {
	positions, err := l.storage.GetAllPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "load positions")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, position := range positions {
		l.indexLocked(position)
	}
	logs.Infof("loaded %d positions from storage", len(positions))
	return nil
}

// UpdateQuote stores the latest quote for mark-to-market P&L.
func (l *Ledger) UpdateQuote(quote schema.Quote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quotes[schema.PositionKey(quote.Symbol, quote.Venue)] = quote
}

// HandleFill applies a fill to the (symbol, venue) position, creating it
// from flat when absent, and persists the result.
func (l *Ledger) HandleFill(ctx context.Context, fill schema.Fill, strategyID string) (*schema.Position, error) {
	if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return nil, exception.ErrOrderInvalidFill
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := schema.PositionKey(fill.Symbol, fill.Venue)
	position, ok := l.positions[key]
	if !ok {
		position = &schema.Position{
			Symbol:            fill.Symbol,
			Venue:             fill.Venue,
			StrategyID:        strategyID,
			Quantity:          decimal.Zero,
			AverageEntryPrice: decimal.Zero,
			RealizedPnL:       decimal.Zero,
			UnrealizedPnL:     decimal.Zero,
			OpenedAt:          time.Now().UTC(),
		}
		l.indexLocked(position)
	}

	applyFill(position, fill.Side, fill.Quantity, fill.Price)

	if err := l.storage.SavePosition(ctx, position); err != nil {
		return nil, errors.Wrap(err, "persist position")
	}
	return position.Clone(), nil
}

// applyFill mutates the position for one fill. Weighted-average entry on
// same-direction growth, realized P&L on reduction, re-open at the fill
// price on a flip.
func applyFill(position *schema.Position, side schema.OrderSide, quantity, price decimal.Decimal) {
	now := time.Now().UTC()

	switch side {
	case schema.OrderSideBuy:
		switch {
		case !position.Quantity.IsNegative():
			grow(position, quantity, price)
		case quantity.GreaterThan(position.Quantity.Abs()):
			flip(position, quantity, price)
		default:
			// Partial short cover. Average entry is untouched.
			position.RealizedPnL = position.RealizedPnL.Add(
				quantity.Mul(position.AverageEntryPrice.Sub(price)))
			position.Quantity = position.Quantity.Add(quantity)
		}
	case schema.OrderSideSell:
		switch {
		case !position.Quantity.IsPositive():
			grow(position, quantity.Neg(), price)
		case quantity.GreaterThan(position.Quantity):
			flip(position, quantity.Neg(), price)
		default:
			position.RealizedPnL = position.RealizedPnL.Add(
				quantity.Mul(price.Sub(position.AverageEntryPrice)))
			position.Quantity = position.Quantity.Sub(quantity)
		}
	}

	position.UpdatedAt = now
	if position.Quantity.IsZero() {
		position.ClosedAt = now
		logs.Infof("position closed: %s@%s realized=%s",
			position.Symbol, position.Venue, position.RealizedPnL)
	}
}

// grow adds signedQuantity in the position's current direction and
// reweights the average entry price.
func grow(position *schema.Position, signedQuantity, price decimal.Decimal) {
	newQuantity := position.Quantity.Add(signedQuantity)
	cost := position.Quantity.Abs().Mul(position.AverageEntryPrice).
		Add(signedQuantity.Abs().Mul(price))
	position.AverageEntryPrice = cost.Div(newQuantity.Abs())
	position.Quantity = newQuantity
}

// flip realizes the entire existing quantity and opens the excess in the
// opposite direction at the fill price.
func flip(position *schema.Position, signedQuantity, price decimal.Decimal) {
	realized := position.Quantity.Mul(price.Sub(position.AverageEntryPrice))
	position.RealizedPnL = position.RealizedPnL.Add(realized)
	position.Quantity = position.Quantity.Add(signedQuantity)
	position.AverageEntryPrice = price
}

// UpdateUnrealized recomputes unrealized P&L against a mark price. The
// computation is pure in (quantity, mark, average entry).
func (l *Ledger) UpdateUnrealized(symbol, venue string, markPrice decimal.Decimal) (*schema.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.markLocked(symbol, venue, markPrice)
}

func (l *Ledger) markLocked(symbol, venue string, markPrice decimal.Decimal) (*schema.Position, error) {
	position, ok := l.positions[schema.PositionKey(symbol, venue)]
	if !ok {
		return nil, exception.ErrPositionNotFound
	}
	if position.Quantity.IsZero() {
		return nil, exception.ErrPositionFlat
	}

	position.UnrealizedPnL = position.Quantity.Mul(markPrice.Sub(position.AverageEntryPrice))
	position.MarkPrice = markPrice
	position.UpdatedAt = time.Now().UTC()
	return position.Clone(), nil
}

// Get returns the position, marked to the latest cached quote midpoint
// when one exists.
func (l *Ledger) Get(symbol, venue string) (*schema.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := schema.PositionKey(symbol, venue)
	position, ok := l.positions[key]
	if !ok {
		return nil, exception.ErrPositionNotFound
	}

	if quote, ok := l.quotes[key]; ok && !position.Quantity.IsZero() {
		return l.markLocked(symbol, venue, quote.MidPrice())
	}
	return position.Clone(), nil
}

// All returns positions, optionally filtered by strategy. Closed
// positions are skipped unless includeClosed is set. Open positions are
// marked to the latest cached quote first.
func (l *Ledger) All(strategyID string, includeClosed bool) []*schema.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.positions))
	if strategyID != "" {
		for key := range l.byStrategy[strategyID] {
			keys = append(keys, key)
		}
	} else {
		for key := range l.positions {
			keys = append(keys, key)
		}
	}

	out := make([]*schema.Position, 0, len(keys))
	for _, key := range keys {
		position, ok := l.positions[key]
		if !ok {
			continue
		}
		if position.Quantity.IsZero() && !includeClosed {
			continue
		}
		if quote, ok := l.quotes[key]; ok && !position.Quantity.IsZero() {
			marked, err := l.markLocked(position.Symbol, position.Venue, quote.MidPrice())
			if err == nil {
				out = append(out, marked)
				continue
			}
		}
		out = append(out, position.Clone())
	}
	return out
}

// Close force-closes a position at the supplied price, realizing all
// remaining P&L.
func (l *Ledger) Close(ctx context.Context, symbol, venue string, closePrice decimal.Decimal) (*schema.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, ok := l.positions[schema.PositionKey(symbol, venue)]
	if !ok {
		return nil, exception.ErrPositionNotFound
	}
	if position.Quantity.IsZero() {
		return nil, exception.ErrPositionFlat
	}

	final := position.Quantity.Mul(closePrice.Sub(position.AverageEntryPrice))
	position.RealizedPnL = position.RealizedPnL.Add(final)
	position.Quantity = decimal.Zero
	position.UnrealizedPnL = decimal.Zero
	position.ClosedAt = time.Now().UTC()
	position.UpdatedAt = position.ClosedAt

	if err := l.storage.ClosePosition(ctx, symbol, venue, position.RealizedPnL); err != nil {
		return nil, errors.Wrap(err, "persist closed position")
	}

	logs.Warnf("position force closed: %s@%s realized=%s", symbol, venue, position.RealizedPnL)
	return position.Clone(), nil
}

// PortfolioValue sums realized plus unrealized P&L over open positions.
func (l *Ledger) PortfolioValue(strategyID string) decimal.Decimal {
	total := decimal.Zero
	for _, position := range l.All(strategyID, false) {
		total = total.Add(position.RealizedPnL).Add(position.UnrealizedPnL)
	}
	return total
}

// Exposure returns the absolute notional per symbol across open positions.
func (l *Ledger) Exposure(strategyID string) map[string]decimal.Decimal {
	exposure := make(map[string]decimal.Decimal)
	for _, position := range l.All(strategyID, false) {
		notional := position.Notional()
		if notional.IsZero() {
			continue
		}
		current, ok := exposure[position.Symbol]
		if !ok {
			current = decimal.Zero
		}
		exposure[position.Symbol] = current.Add(notional)
	}
	return exposure
}

// Summarize aggregates P&L and long/short exposure over open positions.
func (l *Ledger) Summarize(strategyID string) Summary {
	summary := Summary{
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		LongExposure:  decimal.Zero,
		ShortExposure: decimal.Zero,
	}

	for _, position := range l.All(strategyID, false) {
		summary.TotalPositions++
		summary.RealizedPnL = summary.RealizedPnL.Add(position.RealizedPnL)
		summary.UnrealizedPnL = summary.UnrealizedPnL.Add(position.UnrealizedPnL)

		notional := position.Notional()
		if position.IsLong() {
			summary.LongExposure = summary.LongExposure.Add(notional)
		} else if position.IsShort() {
			summary.ShortExposure = summary.ShortExposure.Add(notional)
		}
	}

	summary.TotalPnL = summary.RealizedPnL.Add(summary.UnrealizedPnL)
	summary.NetExposure = summary.LongExposure.Sub(summary.ShortExposure)
	summary.GrossExposure = summary.LongExposure.Add(summary.ShortExposure)
	return summary
}

func (l *Ledger) indexLocked(position *schema.Position) {
	key := schema.PositionKey(position.Symbol, position.Venue)
	l.positions[key] = position
	if position.StrategyID != "" {
		keys, ok := l.byStrategy[position.StrategyID]
		if !ok {
			keys = make(map[string]struct{})
			l.byStrategy[position.StrategyID] = keys
		}
		keys[key] = struct{}{}
	}
}
