package pg

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"overlord/internal/schema"
	"overlord/internal/storage"
	"overlord/pkg/conn"
	"overlord/pkg/exception"
)

var (
	_ storage.OrderStorage    = (*Store)(nil)
	_ storage.PositionStorage = (*Store)(nil)
)

// Store implements the order and position storage contracts on PostgreSQL.
type Store struct {
	client *conn.Client
}

// NewStore creates a store and migrates its tables.
func NewStore(client *conn.Client) (*Store, error) {
	if err := client.Migrate(&OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate execution tables")
	}
	return &Store{client: client}, nil
}

func (s *Store) SaveOrder(ctx context.Context, order *schema.Order) error {
	rec := newOrderRecord(order)
	err := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	return errors.Wrap(err, "save order")
}

func (s *Store) GetOrder(ctx context.Context, id string) (*schema.Order, error) {
	var rec OrderRecord
	err := s.client.DB().WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return rec.toOrder(), nil
}

func (s *Store) GetOrdersByStatus(ctx context.Context, status schema.OrderStatus, limit int) ([]*schema.Order, error) {
	var recs []OrderRecord
	query := s.client.DB().WithContext(ctx).Where("status = ?", string(status))
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "get orders by status")
	}
	return toOrders(recs), nil
}

func (s *Store) GetOrdersByStrategy(ctx context.Context, strategyID string) ([]*schema.Order, error) {
	var recs []OrderRecord
	err := s.client.DB().WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "get orders by strategy")
	}
	return toOrders(recs), nil
}

func (s *Store) SavePosition(ctx context.Context, position *schema.Position) error {
	rec := newPositionRecord(position)
	err := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "venue"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	return errors.Wrap(err, "save position")
}

func (s *Store) GetPosition(ctx context.Context, symbol, venue string) (*schema.Position, error) {
	var rec PositionRecord
	err := s.client.DB().WithContext(ctx).
		First(&rec, "symbol = ? AND venue = ?", symbol, venue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrPositionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get position")
	}
	return rec.toPosition(), nil
}

func (s *Store) GetAllPositions(ctx context.Context) ([]*schema.Position, error) {
	var recs []PositionRecord
	if err := s.client.DB().WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "get all positions")
	}
	return toPositions(recs), nil
}

func (s *Store) GetPositionsByStrategy(ctx context.Context, strategyID string) ([]*schema.Position, error) {
	var recs []PositionRecord
	err := s.client.DB().WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "get positions by strategy")
	}
	return toPositions(recs), nil
}

func (s *Store) ClosePosition(ctx context.Context, symbol, venue string, realizedPnL decimal.Decimal) error {
	now := time.Now().UTC()
	err := s.client.DB().WithContext(ctx).
		Model(&PositionRecord{}).
		Where("symbol = ? AND venue = ?", symbol, venue).
		Updates(map[string]any{
			"quantity":       decimal.Zero,
			"unrealized_pnl": decimal.Zero,
			"realized_pnl":   realizedPnL,
			"closed_at":      now,
			"updated_at":     now,
		}).Error
	return errors.Wrap(err, "close position")
}

func toOrders(recs []OrderRecord) []*schema.Order {
	out := make([]*schema.Order, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toOrder())
	}
	return out
}

func toPositions(recs []PositionRecord) []*schema.Position {
	out := make([]*schema.Position, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toPosition())
	}
	return out
}
