package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"overlord/internal/bus"
	"overlord/internal/connector"
	"overlord/internal/obs"
	"overlord/internal/om"
	"overlord/internal/pos"
	"overlord/internal/risk"
	"overlord/internal/router"
	"overlord/internal/schema"
	"overlord/internal/slippage"
	"overlord/pkg/exception"
)

const (
	defaultMonitorInterval = 10 * time.Second
	defaultStaleTimeout    = time.Hour
)

// Options tunes the engine's background monitor. Zero values fall back
// to the defaults.
type Options struct {
	MonitorInterval time.Duration
	StaleTimeout    time.Duration
}

// Engine orchestrates the full order path: route, cost check, submit,
// ingest fills, and expire stale orders. It owns the only background
// task in this core.
type Engine struct {
	orders    *om.Ledger
	router    *router.Router
	slippage  *slippage.Estimator
	positions *pos.Ledger
	gate      *risk.Gate
	events    *bus.Bus
	metrics   *obs.Metrics

	monitorInterval time.Duration
	staleTimeout    time.Duration

	mu         sync.RWMutex
	connectors map[string]connector.Connector
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New wires an engine. The gate and metrics may be nil to disable them.
func New(orders *om.Ledger, rt *router.Router, est *slippage.Estimator,
	positions *pos.Ledger, gate *risk.Gate, events *bus.Bus,
	metrics *obs.Metrics, opt Options) *Engine {
	if opt.MonitorInterval <= 0 {
		opt.MonitorInterval = defaultMonitorInterval
	}
	if opt.StaleTimeout <= 0 {
		opt.StaleTimeout = defaultStaleTimeout
	}
	return &Engine{
		orders:          orders,
		router:          rt,
		slippage:        est,
		positions:       positions,
		gate:            gate,
		events:          events,
		metrics:         metrics,
		monitorInterval: opt.MonitorInterval,
		staleTimeout:    opt.StaleTimeout,
		connectors:      make(map[string]connector.Connector),
	}
}

// RegisterConnector installs the execution connector for a venue.
func (e *Engine) RegisterConnector(venue string, conn connector.Connector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectors[venue] = conn
	logs.Infof("venue connector registered: %s", venue)
}

// Start launches the staleness monitor. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.monitor(ctx)

	venues := make([]string, 0, len(e.connectors))
	for venue := range e.connectors {
		venues = append(venues, venue)
	}
	logs.Infof("execution engine started: venues=%v interval=%s stale_after=%s",
		venues, e.monitorInterval, e.staleTimeout)
}

// Stop cancels the monitor and waits for it to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	logs.Info("execution engine stopped")
}

// Execute runs the full submission path. Routing, risk and slippage
// failures persist the rejection before returning; connector failures
// leave the order in its last recorded status and propagate.
func (e *Engine) Execute(ctx context.Context, order *schema.Order) (*schema.Order, error) {
	if !e.isRunning() {
		return nil, exception.ErrEngineNotRunning
	}

	started := time.Now()
	defer func() { e.metrics.ObserveExecute(time.Since(started)) }()

	order, err := e.orders.Create(ctx, order)
	if err != nil {
		return nil, err
	}
	e.metrics.IncCreated()

	if decision := e.gate.Evaluate(order, e.currentPosition(order)); !decision.Allowed {
		e.metrics.IncRiskDenial(decision.Reason)
		return e.reject(ctx, order, "risk check failed: "+string(decision.Reason),
			errors.Wrap(exception.ErrRiskRejected, string(decision.Reason)))
	}

	venue := e.router.Route(order)
	if venue == "" {
		return e.reject(ctx, order, "no suitable venue found", exception.ErrVenueUnavailable)
	}
	order.Venue = venue

	if !e.slippage.Check(order.Symbol, order.Side, order.Quantity, order.Price) {
		return e.reject(ctx, order, "slippage tolerance exceeded", exception.ErrSlippageExceeded)
	}

	return e.submit(ctx, order, venue)
}

func (e *Engine) submit(ctx context.Context, order *schema.Order, venue string) (*schema.Order, error) {
	e.mu.RLock()
	conn, ok := e.connectors[venue]
	e.mu.RUnlock()
	if !ok {
		return e.reject(ctx, order, "no connector for venue: "+venue, exception.ErrConnectorMissing)
	}

	order, err := e.orders.UpdateStatus(ctx, order.ID, schema.OrderStatusSubmitted, om.StatusUpdate{})
	if err != nil {
		return nil, err
	}
	e.metrics.IncSubmitted()
	e.metrics.ObserveStatus(schema.OrderStatusSubmitted)

	venueOrderID, err := conn.Submit(ctx, order)
	if err != nil {
		// No automatic retry. The order stays submitted and the caller
		// owns the retry policy.
		logs.Errorf("venue submission failed: order=%s venue=%s err=%+v", order.ID, venue, err)
		return order, errors.Wrap(exception.ErrConnectorRejected, err.Error())
	}

	accepted, err := e.orders.UpdateStatus(ctx, order.ID, schema.OrderStatusAccepted, om.StatusUpdate{
		VenueOrderID: venueOrderID,
	})
	if err != nil {
		// A fill can outrun the acknowledgement and advance the order
		// past accepted. Attach the venue identifier to whatever state
		// the order reached; anything else propagates.
		current, attachErr := e.orders.AttachVenueOrderID(ctx, order.ID, venueOrderID)
		if attachErr != nil || !current.FilledQuantity.IsPositive() {
			return nil, err
		}
		order = current
	} else {
		order = accepted
		e.metrics.ObserveStatus(schema.OrderStatusAccepted)
	}

	logs.Infof("order submitted to venue: order=%s venue=%s venue_order=%s",
		order.ID, venue, venueOrderID)
	return order, nil
}

// reject persists the terminal rejection before surfacing the cause, so
// storage state always matches the return value.
func (e *Engine) reject(ctx context.Context, order *schema.Order, message string, cause error) (*schema.Order, error) {
	rejected, err := e.orders.UpdateStatus(ctx, order.ID, schema.OrderStatusRejected, om.StatusUpdate{
		ErrorMessage: message,
	})
	if err != nil {
		logs.Errorf("persist rejection failed: order=%s err=%+v", order.ID, err)
		return order, cause
	}
	e.metrics.IncRejected()
	e.metrics.ObserveStatus(schema.OrderStatusRejected)
	return rejected, cause
}

// HandleFill ingests one fill: recompute the cumulative average fill
// price, advance order status, update the position, and fan out events.
// Fills are applied in arrival order and are not deduplicated.
func (e *Engine) HandleFill(ctx context.Context, orderID string, filledQuantity, fillPrice decimal.Decimal) error {
	if !e.isRunning() {
		return exception.ErrEngineNotRunning
	}

	started := time.Now()
	defer func() { e.metrics.ObserveFill(time.Since(started)) }()

	if !filledQuantity.IsPositive() || !fillPrice.IsPositive() {
		return exception.ErrOrderInvalidFill
	}

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "fill for unknown order "+orderID)
	}

	// A venue fill can arrive before the submit acknowledgement is
	// recorded. Apply the implied acceptance first so the fill
	// transition stays legal.
	if order.Status == schema.OrderStatusSubmitted {
		promoted, promoteErr := e.orders.UpdateStatus(ctx, orderID, schema.OrderStatusAccepted, om.StatusUpdate{})
		if promoteErr == nil {
			e.metrics.ObserveStatus(schema.OrderStatusAccepted)
			order = promoted
		} else if order, err = e.orders.Get(ctx, orderID); err != nil {
			return errors.Wrap(err, "reload order after acceptance race")
		}
	}

	totalFilled := order.FilledQuantity.Add(filledQuantity)
	avgPrice := order.FilledQuantity.Mul(order.AverageFillPrice).
		Add(filledQuantity.Mul(fillPrice)).
		Div(totalFilled)

	status := schema.OrderStatusPartiallyFilled
	if totalFilled.GreaterThanOrEqual(order.Quantity) {
		status = schema.OrderStatusFilled
	}

	order, err = e.orders.UpdateStatus(ctx, orderID, status, om.StatusUpdate{
		FilledQuantity:   &totalFilled,
		AverageFillPrice: &avgPrice,
	})
	if err != nil {
		return err
	}
	e.metrics.IncFill()
	e.metrics.ObserveStatus(status)

	position, err := e.positions.HandleFill(ctx, schema.Fill{
		OrderID:   orderID,
		Symbol:    order.Symbol,
		Venue:     order.Venue,
		Side:      order.Side,
		Quantity:  filledQuantity,
		Price:     fillPrice,
		Timestamp: time.Now().UTC(),
	}, order.StrategyID)
	if err != nil {
		return errors.Wrap(err, "apply fill to position")
	}

	now := time.Now().UTC()
	e.events.PublishExecution(bus.ExecutionEvent{
		Order:          order,
		FilledQuantity: filledQuantity,
		FillPrice:      fillPrice,
		Timestamp:      now,
	})
	e.events.PublishPosition(bus.PositionEvent{Position: position, Timestamp: now})

	logs.Infof("fill applied: order=%s qty=%s price=%s status=%s",
		orderID, filledQuantity, fillPrice, status)
	return nil
}

// Cancel requests venue cancellation best-effort and transitions the
// local order to cancelled regardless of the venue outcome. The local
// ledger is authoritative.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*schema.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, exception.ErrOrderTerminal
	}

	e.mu.RLock()
	conn, ok := e.connectors[order.Venue]
	e.mu.RUnlock()
	if ok && order.VenueOrderID != "" {
		if err := conn.Cancel(ctx, order.VenueOrderID); err != nil {
			logs.Errorf("venue cancel failed: order=%s venue=%s err=%+v",
				orderID, order.Venue, err)
		}
	}

	if _, err := e.orders.Cancel(ctx, orderID); err != nil {
		return nil, err
	}
	order, err = e.orders.UpdateStatus(ctx, orderID, schema.OrderStatusCancelled, om.StatusUpdate{})
	if err != nil {
		return nil, err
	}
	e.metrics.IncCancelled()
	e.metrics.ObserveStatus(schema.OrderStatusCancelled)
	return order, nil
}

// UpdateQuote feeds one quote to the router, the cost model and the
// position mark-to-market cache.
func (e *Engine) UpdateQuote(quote schema.Quote) {
	e.router.UpdateQuote(quote)
	e.slippage.UpdateQuote(quote)
	e.positions.UpdateQuote(quote)
}

// Stats returns active order counts from the order ledger.
func (e *Engine) Stats() om.Statistics {
	return e.orders.Stats("")
}

// Metrics returns the current metrics snapshot.
func (e *Engine) Metrics() obs.Snapshot {
	return e.metrics.Snapshot()
}

// monitor expires orders older than the staleness threshold. Transient
// errors are logged and retried after a short backoff, the loop only
// exits on context cancellation.
func (e *Engine) monitor(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.expireStale(ctx)
		}
	}
}

func (e *Engine) expireStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.staleTimeout)
	for _, order := range e.orders.ActiveOrders("") {
		if order.CreatedAt.IsZero() || order.CreatedAt.After(cutoff) {
			continue
		}
		logs.Warnf("order timeout detected: order=%s age=%s",
			order.ID, time.Since(order.CreatedAt).Truncate(time.Second))
		_, err := e.orders.UpdateStatus(ctx, order.ID, schema.OrderStatusExpired, om.StatusUpdate{
			ErrorMessage: "order timeout",
		})
		if err != nil {
			logs.Errorf("expire order failed: order=%s err=%+v", order.ID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.monitorInterval / 10):
			}
			continue
		}
		e.metrics.IncExpired()
		e.metrics.ObserveStatus(schema.OrderStatusExpired)
	}
}

func (e *Engine) isRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) currentPosition(order *schema.Order) decimal.Decimal {
	if order.Venue == "" {
		return decimal.Zero
	}
	position, err := e.positions.Get(order.Symbol, order.Venue)
	if err != nil {
		return decimal.Zero
	}
	return position.Quantity
}
