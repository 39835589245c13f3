package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"overlord/internal/schema"
	"overlord/pkg/exception"
)

// MemoryOrderStorage is an in-memory OrderStorage used by tests and paper
// trading.
type MemoryOrderStorage struct {
	mu     sync.RWMutex
	orders map[string]*schema.Order
}

// NewMemoryOrderStorage creates an empty order store.
func NewMemoryOrderStorage() *MemoryOrderStorage {
	return &MemoryOrderStorage{orders: make(map[string]*schema.Order)}
}

func (s *MemoryOrderStorage) SaveOrder(_ context.Context, order *schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryOrderStorage) GetOrder(_ context.Context, id string) (*schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, exception.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *MemoryOrderStorage) GetOrdersByStatus(_ context.Context, status schema.OrderStatus, limit int) ([]*schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Order, 0, limit)
	for _, order := range s.orders {
		if order.Status != status {
			continue
		}
		out = append(out, order.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryOrderStorage) GetOrdersByStrategy(_ context.Context, strategyID string) ([]*schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Order
	for _, order := range s.orders {
		if order.StrategyID == strategyID {
			out = append(out, order.Clone())
		}
	}
	return out, nil
}

// MemoryPositionStorage is an in-memory PositionStorage.
type MemoryPositionStorage struct {
	mu        sync.RWMutex
	positions map[string]*schema.Position
}

// NewMemoryPositionStorage creates an empty position store.
func NewMemoryPositionStorage() *MemoryPositionStorage {
	return &MemoryPositionStorage{positions: make(map[string]*schema.Position)}
}

func (s *MemoryPositionStorage) SavePosition(_ context.Context, position *schema.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[schema.PositionKey(position.Symbol, position.Venue)] = position.Clone()
	return nil
}

func (s *MemoryPositionStorage) GetPosition(_ context.Context, symbol, venue string) (*schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[schema.PositionKey(symbol, venue)]
	if !ok {
		return nil, exception.ErrPositionNotFound
	}
	return position.Clone(), nil
}

func (s *MemoryPositionStorage) GetAllPositions(_ context.Context) ([]*schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Position, 0, len(s.positions))
	for _, position := range s.positions {
		out = append(out, position.Clone())
	}
	return out, nil
}

func (s *MemoryPositionStorage) GetPositionsByStrategy(_ context.Context, strategyID string) ([]*schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Position
	for _, position := range s.positions {
		if position.StrategyID == strategyID {
			out = append(out, position.Clone())
		}
	}
	return out, nil
}

func (s *MemoryPositionStorage) ClosePosition(_ context.Context, symbol, venue string, realizedPnL decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.positions[schema.PositionKey(symbol, venue)]
	if !ok {
		return exception.ErrPositionNotFound
	}
	position.Quantity = decimal.Zero
	position.UnrealizedPnL = decimal.Zero
	position.RealizedPnL = realizedPnL
	position.ClosedAt = time.Now().UTC()
	return nil
}
