package om

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
	"overlord/internal/storage"
	"overlord/pkg/exception"
)

const defaultMaxConcurrentOrders = 100

// Ledger is the sole authority over order identity, validation and state
// transitions. A single lock guards all mutating operations.
type Ledger struct {
	storage   storage.OrderStorage
	maxActive int

	mu         sync.Mutex
	active     map[string]*schema.Order
	byStrategy map[string]map[string]struct{}
}

// StatusUpdate carries the optional fields of a status transition.
type StatusUpdate struct {
	FilledQuantity   *decimal.Decimal
	AverageFillPrice *decimal.Decimal
	VenueOrderID     string
	ErrorMessage     string
}

// NewLedger creates an order ledger backed by the given storage.
func NewLedger(store storage.OrderStorage, maxActive int) *Ledger {
	if maxActive <= 0 {
		maxActive = defaultMaxConcurrentOrders
	}
	return &Ledger{
		storage:    store,
		maxActive:  maxActive,
		active:     make(map[string]*schema.Order),
		byStrategy: make(map[string]map[string]struct{}),
	}
}

// Create validates and persists a new order in pending status.
func (l *Ledger) Create(ctx context.Context, order *schema.Order) (*schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.active) >= l.maxActive {
		return nil, exception.ErrOrderCapacityExceeded
	}

	if order.ID == "" {
		order.ID = generateOrderID()
	}
	now := time.Now().UTC()
	order.Status = schema.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.FilledQuantity.IsZero() {
		order.FilledQuantity = decimal.Zero
	}

	if err := validate(order); err != nil {
		return nil, err
	}

	if err := l.storage.SaveOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err, "persist created order")
	}

	l.active[order.ID] = order
	if order.StrategyID != "" {
		ids, ok := l.byStrategy[order.StrategyID]
		if !ok {
			ids = make(map[string]struct{})
			l.byStrategy[order.StrategyID] = ids
		}
		ids[order.ID] = struct{}{}
	}

	logs.Infof("order created: id=%s symbol=%s venue=%s side=%s qty=%s",
		order.ID, order.Symbol, order.Venue, order.Side, order.Quantity)
	return order.Clone(), nil
}

// UpdateStatus applies a lifecycle transition and persists the result.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status schema.OrderStatus, update StatusUpdate) (*schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateStatusLocked(ctx, id, status, update)
}

func (l *Ledger) updateStatusLocked(ctx context.Context, id string, status schema.OrderStatus, update StatusUpdate) (*schema.Order, error) {
	order, err := l.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status.IsTerminal() {
		return nil, exception.ErrOrderTerminal
	}
	if !order.Status.CanTransitionTo(status) {
		return nil, errors.Wrap(exception.ErrOrderInvalidTransition,
			string(order.Status)+" -> "+string(status))
	}

	now := time.Now().UTC()
	if update.FilledQuantity != nil {
		filled := *update.FilledQuantity
		if filled.IsNegative() || filled.Cmp(order.Quantity) > 0 {
			return nil, exception.ErrOrderFillExceedsQty
		}
		order.FilledQuantity = filled
	}
	if update.AverageFillPrice != nil {
		order.AverageFillPrice = *update.AverageFillPrice
	}
	if update.VenueOrderID != "" {
		order.VenueOrderID = update.VenueOrderID
	}
	if update.ErrorMessage != "" {
		order.ErrorMessage = update.ErrorMessage
	}

	oldStatus := order.Status
	order.Status = status
	order.UpdatedAt = now

	switch {
	case status == schema.OrderStatusFilled, status == schema.OrderStatusPartiallyFilled:
		if order.FirstFillAt.IsZero() {
			order.FirstFillAt = now
		}
		if status == schema.OrderStatusFilled {
			order.CompletedAt = now
		}
	case status.IsTerminal():
		order.CompletedAt = now
	}

	if err := l.storage.SaveOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err, "persist order status")
	}

	if status.IsTerminal() {
		delete(l.active, id)
		if ids, ok := l.byStrategy[order.StrategyID]; ok {
			delete(ids, id)
		}
	} else {
		l.active[id] = order
	}

	logs.Infof("order status updated: id=%s %s -> %s", id, oldStatus, status)
	return order.Clone(), nil
}

// AttachVenueOrderID records the venue identifier without a lifecycle
// transition. Fills can advance an order past accepted before the
// submit acknowledgement carrying the identifier is recorded.
func (l *Ledger) AttachVenueOrderID(ctx context.Context, id, venueOrderID string) (*schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, err := l.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	order.VenueOrderID = venueOrderID
	order.UpdatedAt = time.Now().UTC()

	if err := l.storage.SaveOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err, "persist venue order id")
	}
	return order.Clone(), nil
}

// Cancel requests cancellation, moving the order toward pending_cancel.
func (l *Ledger) Cancel(ctx context.Context, id string) (*schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, err := l.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, exception.ErrOrderTerminal
	}
	if order.Status == schema.OrderStatusPendingCancel {
		return order.Clone(), nil
	}
	return l.updateStatusLocked(ctx, id, schema.OrderStatusPendingCancel, StatusUpdate{})
}

// Get returns the order by id, from the active set or storage.
func (l *Ledger) Get(ctx context.Context, id string) (*schema.Order, error) {
	l.mu.Lock()
	order, ok := l.active[id]
	if ok {
		cp := order.Clone()
		l.mu.Unlock()
		return cp, nil
	}
	l.mu.Unlock()
	return l.storage.GetOrder(ctx, id)
}

// ActiveOrders returns active orders, optionally filtered by strategy.
func (l *Ledger) ActiveOrders(strategyID string) []*schema.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	if strategyID != "" {
		ids := l.byStrategy[strategyID]
		out := make([]*schema.Order, 0, len(ids))
		for id := range ids {
			if order, ok := l.active[id]; ok {
				out = append(out, order.Clone())
			}
		}
		return out
	}

	out := make([]*schema.Order, 0, len(l.active))
	for _, order := range l.active {
		out = append(out, order.Clone())
	}
	return out
}

// OrdersBySymbol returns active orders for a symbol, optionally narrowed
// to a venue.
func (l *Ledger) OrdersBySymbol(symbol, venue string) []*schema.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*schema.Order
	for _, order := range l.active {
		if order.Symbol != symbol {
			continue
		}
		if venue != "" && order.Venue != venue {
			continue
		}
		out = append(out, order.Clone())
	}
	return out
}

// CancelAll requests cancellation of every active order matching the
// filters. Individual failures are logged and skipped.
func (l *Ledger) CancelAll(ctx context.Context, strategyID, symbol string) []*schema.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for id, order := range l.active {
		if strategyID != "" && order.StrategyID != strategyID {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		ids = append(ids, id)
	}

	cancelled := make([]*schema.Order, 0, len(ids))
	for _, id := range ids {
		order, err := l.updateStatusLocked(ctx, id, schema.OrderStatusPendingCancel, StatusUpdate{})
		if err != nil {
			logs.Errorf("cancel all: order %s, err: %+v", id, err)
			continue
		}
		cancelled = append(cancelled, order)
	}

	logs.Warnf("cancelled %d orders: strategy=%q symbol=%q", len(cancelled), strategyID, symbol)
	return cancelled
}

// Statistics aggregates active order counts for observability.
type Statistics struct {
	TotalActive int
	ByStatus    map[schema.OrderStatus]int
	ByType      map[schema.OrderType]int
	BySide      map[schema.OrderSide]int
}

// Stats returns counts of active orders by status, type and side.
func (l *Ledger) Stats(strategyID string) Statistics {
	orders := l.ActiveOrders(strategyID)
	stats := Statistics{
		TotalActive: len(orders),
		ByStatus:    make(map[schema.OrderStatus]int),
		ByType:      make(map[schema.OrderType]int),
		BySide:      make(map[schema.OrderSide]int),
	}
	for _, order := range orders {
		stats.ByStatus[order.Status]++
		stats.ByType[order.Type]++
		stats.BySide[order.Side]++
	}
	return stats
}

func (l *Ledger) lookupLocked(ctx context.Context, id string) (*schema.Order, error) {
	if order, ok := l.active[id]; ok {
		return order, nil
	}
	order, err := l.storage.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func validate(order *schema.Order) error {
	if !order.Quantity.IsPositive() {
		return exception.ErrOrderInvalidQuantity
	}
	if order.Type.RequiresPrice() && !order.Price.IsPositive() {
		return exception.ErrOrderMissingPrice
	}
	if order.Type.RequiresStopPrice() && !order.StopPrice.IsPositive() {
		return exception.ErrOrderMissingStopPrice
	}
	if order.Symbol == "" || order.Venue == "" {
		return exception.ErrOrderMissingSymbolVenue
	}
	return nil
}

func generateOrderID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:16])
}
