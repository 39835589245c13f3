package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"overlord/internal/schema"
)

// OrderStorage persists orders. The core is agnostic to the backing
// technology; implementations must be safe for concurrent use.
type OrderStorage interface {
	SaveOrder(ctx context.Context, order *schema.Order) error
	GetOrder(ctx context.Context, id string) (*schema.Order, error)
	GetOrdersByStatus(ctx context.Context, status schema.OrderStatus, limit int) ([]*schema.Order, error)
	GetOrdersByStrategy(ctx context.Context, strategyID string) ([]*schema.Order, error)
}

// PositionStorage persists positions keyed by (symbol, venue).
type PositionStorage interface {
	SavePosition(ctx context.Context, position *schema.Position) error
	GetPosition(ctx context.Context, symbol, venue string) (*schema.Position, error)
	GetAllPositions(ctx context.Context) ([]*schema.Position, error)
	GetPositionsByStrategy(ctx context.Context, strategyID string) ([]*schema.Position, error)
	ClosePosition(ctx context.Context, symbol, venue string, realizedPnL decimal.Decimal) error
}
