package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"overlord/internal/bus"
	"overlord/internal/obs"
	"overlord/internal/om"
	"overlord/internal/pos"
	"overlord/internal/risk"
	"overlord/internal/router"
	"overlord/internal/schema"
	"overlord/internal/slippage"
	"overlord/internal/storage"
	"overlord/pkg/exception"
)

type stubConnector struct {
	mu        sync.Mutex
	submitErr error
	cancelErr error
	submits   int
	cancels   []string
}

func (s *stubConnector) Submit(_ context.Context, _ *schema.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submits++
	return "VEN-1", nil
}

func (s *stubConnector) Cancel(_ context.Context, venueOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, venueOrderID)
	return s.cancelErr
}

type fixture struct {
	engine    *Engine
	orders    *om.Ledger
	orderSt   *storage.MemoryOrderStorage
	connector *stubConnector
	events    *bus.Bus
}

func newFixture(t *testing.T, gate *risk.Gate, opt Options) *fixture {
	t.Helper()

	orderSt := storage.NewMemoryOrderStorage()
	orders := om.NewLedger(orderSt, 100)
	rt := router.New([]schema.VenueProfile{{
		Name:         "binance",
		Enabled:      true,
		Priority:     1,
		MaxOrderSize: decimal.NewFromInt(1000),
	}})
	est := slippage.NewEstimator(decimal.NewFromInt(50), 0)
	positions := pos.NewLedger(storage.NewMemoryPositionStorage())
	events := bus.New(16)
	t.Cleanup(events.Close)

	e := New(orders, rt, est, positions, gate, events, obs.NewMetrics(), opt)
	conn := &stubConnector{}
	e.RegisterConnector("binance", conn)
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	return &fixture{engine: e, orders: orders, orderSt: orderSt, connector: conn, events: events}
}

func testOrder() *schema.Order {
	return &schema.Order{
		Symbol:   "BTC-USD",
		Venue:    "binance",
		Type:     schema.OrderTypeLimit,
		Side:     schema.OrderSideBuy,
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewFromInt(50000),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, nil, Options{})

	order, err := f.engine.Execute(context.Background(), testOrder())
	require.NoError(t, err)

	assert.Equal(t, schema.OrderStatusAccepted, order.Status)
	assert.Equal(t, "VEN-1", order.VenueOrderID)
	assert.Equal(t, 1, f.connector.submits)

	snapshot := f.engine.Metrics()
	assert.Equal(t, uint64(1), snapshot.OrdersCreated)
	assert.Equal(t, uint64(1), snapshot.OrdersSubmitted)
}

func TestExecuteRejectsWhenNoVenue(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	order := testOrder()
	order.Venue = "unknown"
	rejected, err := f.engine.Execute(ctx, order)
	assert.ErrorIs(t, err, exception.ErrVenueUnavailable)
	assert.Equal(t, schema.OrderStatusRejected, rejected.Status)

	stored, err := f.orderSt.GetOrder(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusRejected, stored.Status)
	assert.Equal(t, "no suitable venue found", stored.ErrorMessage)
}

func TestExecuteRejectsOnSlippage(t *testing.T) {
	f := newFixture(t, nil, Options{})

	// The only quote sits far above the limit price.
	f.engine.UpdateQuote(schema.Quote{
		Symbol:   "BTC-USD",
		Venue:    "binance",
		BidPrice: decimal.NewFromInt(55000),
		AskPrice: decimal.NewFromInt(55010),
		BidSize:  decimal.NewFromInt(100),
		AskSize:  decimal.NewFromInt(100),
	})

	rejected, err := f.engine.Execute(context.Background(), testOrder())
	assert.ErrorIs(t, err, exception.ErrSlippageExceeded)
	assert.Equal(t, schema.OrderStatusRejected, rejected.Status)
	assert.Equal(t, "slippage tolerance exceeded", rejected.ErrorMessage)
	assert.Equal(t, 0, f.connector.submits)
}

func TestExecuteRiskDenied(t *testing.T) {
	gate := risk.NewGate(risk.Config{KillSwitch: true})
	f := newFixture(t, gate, Options{})

	rejected, err := f.engine.Execute(context.Background(), testOrder())
	assert.ErrorIs(t, err, exception.ErrRiskRejected)
	assert.Equal(t, schema.OrderStatusRejected, rejected.Status)
	assert.Contains(t, rejected.ErrorMessage, "kill_switch")
}

func TestConnectorErrorLeavesLastGoodStatus(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.connector.submitErr = errors.New("venue unreachable")
	ctx := context.Background()

	order, err := f.engine.Execute(ctx, testOrder())
	assert.ErrorIs(t, err, exception.ErrConnectorRejected)
	assert.Equal(t, schema.OrderStatusSubmitted, order.Status)

	stored, err := f.orderSt.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, stored.Status)
}

func TestHandleFillAveragesAndPublishes(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	executions := f.events.SubscribeExecutions()
	positions := f.events.SubscribePositions()

	order, err := f.engine.Execute(ctx, testOrder())
	require.NoError(t, err)

	require.NoError(t, f.engine.HandleFill(ctx, order.ID, decimal.NewFromInt(1), decimal.NewFromInt(50000)))
	require.NoError(t, f.engine.HandleFill(ctx, order.ID, decimal.NewFromInt(1), decimal.NewFromInt(51000)))

	final, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, final.Status)
	assert.True(t, final.FilledQuantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, final.AverageFillPrice.Equal(decimal.NewFromInt(50500)),
		"got %s", final.AverageFillPrice)

	assert.Len(t, executions, 2)
	event := <-positions
	assert.True(t, event.Position.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestHandleFillUnknownOrder(t *testing.T) {
	f := newFixture(t, nil, Options{})
	err := f.engine.HandleFill(context.Background(), "ORD-MISSING",
		decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, exception.ErrOrderNotFound)
}

func TestCancelIsLocallyAuthoritative(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.connector.cancelErr = errors.New("venue down")
	ctx := context.Background()

	order, err := f.engine.Execute(ctx, testOrder())
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"VEN-1"}, f.connector.cancels)

	_, err = f.engine.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, exception.ErrOrderTerminal)
}

func TestMonitorExpiresStaleOrders(t *testing.T) {
	f := newFixture(t, nil, Options{
		MonitorInterval: 10 * time.Millisecond,
		StaleTimeout:    20 * time.Millisecond,
	})
	ctx := context.Background()

	order, err := f.engine.Execute(ctx, testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := f.orders.Get(ctx, order.ID)
		return err == nil && current.Status == schema.OrderStatusExpired
	}, time.Second, 10*time.Millisecond)

	current, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "order timeout", current.ErrorMessage)
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{MonitorInterval: 5 * time.Millisecond})
	ctx := context.Background()

	f.engine.Start(ctx)
	f.engine.Start(ctx)
	f.engine.Stop()
	f.engine.Stop()
}

func TestStoppedEngineRejectsWork(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.engine.Stop()

	_, err := f.engine.Execute(context.Background(), testOrder())
	assert.ErrorIs(t, err, exception.ErrEngineNotRunning)

	err = f.engine.HandleFill(context.Background(), "ORD-ANY",
		decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, exception.ErrEngineNotRunning)
}

// eagerFillConnector delivers the full fill synchronously inside Submit,
// the fastest interleaving a streaming venue permits.
type eagerFillConnector struct {
	engine *Engine
	price  decimal.Decimal
}

func (c *eagerFillConnector) Submit(ctx context.Context, order *schema.Order) (string, error) {
	if err := c.engine.HandleFill(ctx, order.ID, order.Quantity, c.price); err != nil {
		return "", err
	}
	return "VEN-EAGER", nil
}

func (c *eagerFillConnector) Cancel(context.Context, string) error { return nil }

func TestFillOutrunsAcknowledgement(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	f.engine.RegisterConnector("binance", &eagerFillConnector{
		engine: f.engine,
		price:  decimal.NewFromInt(50000),
	})

	order, err := f.engine.Execute(ctx, testOrder())
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "VEN-EAGER", order.VenueOrderID)

	stored, err := f.orderSt.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, stored.Status)
	assert.Equal(t, "VEN-EAGER", stored.VenueOrderID)
	assert.True(t, stored.AverageFillPrice.Equal(decimal.NewFromInt(50000)))

	position, err := f.engine.positions.Get("BTC-USD", "binance")
	require.NoError(t, err)
	assert.True(t, position.Quantity.Equal(decimal.NewFromInt(2)))
}
