package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
)

const defaultSubscriberBuffer = 256

// ExecutionEvent is published for every fill applied to an order.
type ExecutionEvent struct {
	Order          *schema.Order
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Timestamp      time.Time
}

// PositionEvent is published for every position mutation.
type PositionEvent struct {
	Position  *schema.Position
	Timestamp time.Time
}

// Bus fans execution and position events out to subscribers. Each
// subscriber owns a bounded channel; a slow subscriber drops events
// instead of blocking the publisher or its peers.
type Bus struct {
	mu         sync.RWMutex
	closed     bool
	buffer     int
	executions []chan ExecutionEvent
	positions  []chan PositionEvent

	droppedExecutions atomic.Uint64
	droppedPositions  atomic.Uint64
}

// New creates a bus. A buffer of zero or less falls back to the default
// per-subscriber capacity.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{buffer: buffer}
}

// SubscribeExecutions returns a channel receiving execution events. The
// channel is closed when the bus closes.
func (b *Bus) SubscribeExecutions() <-chan ExecutionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan ExecutionEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.executions = append(b.executions, ch)
	return ch
}

// SubscribePositions returns a channel receiving position events. The
// channel is closed when the bus closes.
func (b *Bus) SubscribePositions() <-chan PositionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan PositionEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.positions = append(b.positions, ch)
	return ch
}

// PublishExecution delivers the event to every subscriber without
// blocking. Full subscriber channels drop the event.
func (b *Bus) PublishExecution(event ExecutionEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.executions {
		select {
		case ch <- event:
		default:
			b.droppedExecutions.Add(1)
			logs.Warnf("execution event dropped: order=%s subscribers=%d",
				event.Order.ID, len(b.executions))
		}
	}
}

// PublishPosition delivers the event to every subscriber without
// blocking. Full subscriber channels drop the event.
func (b *Bus) PublishPosition(event PositionEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.positions {
		select {
		case ch <- event:
		default:
			b.droppedPositions.Add(1)
			logs.Warnf("position event dropped: %s@%s subscribers=%d",
				event.Position.Symbol, event.Position.Venue, len(b.positions))
		}
	}
}

// Dropped returns the counts of dropped execution and position events.
func (b *Bus) Dropped() (executions, positions uint64) {
	return b.droppedExecutions.Load(), b.droppedPositions.Load()
}

// Close closes every subscriber channel. Publishing after Close is a
// no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.executions {
		close(ch)
	}
	for _, ch := range b.positions {
		close(ch)
	}
	b.executions = nil
	b.positions = nil
}
