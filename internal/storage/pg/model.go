package pg

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"overlord/internal/schema"
)

// OrderRecord is the persisted form of schema.Order.
type OrderRecord struct {
	ID               string          `gorm:"primaryKey;size:64"`
	ClientOrderID    string          `gorm:"size:64"`
	Symbol           string          `gorm:"size:32;index:idx_orders_symbol_venue"`
	Venue            string          `gorm:"size:32;index:idx_orders_symbol_venue"`
	VenueOrderID     string          `gorm:"size:64"`
	Type             string          `gorm:"size:32"`
	Side             string          `gorm:"size:8"`
	Status           string          `gorm:"size:32;index"`
	Quantity         decimal.Decimal `gorm:"type:numeric"`
	Price            decimal.Decimal `gorm:"type:numeric"`
	StopPrice        decimal.Decimal `gorm:"type:numeric"`
	FilledQuantity   decimal.Decimal `gorm:"type:numeric"`
	AverageFillPrice decimal.Decimal `gorm:"type:numeric"`
	StrategyID       string          `gorm:"size:64;index"`
	ErrorMessage     string
	Metadata         string `gorm:"type:jsonb"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FirstFillAt      *time.Time
	CompletedAt      *time.Time
}

// TableName sets the orders table name.
func (OrderRecord) TableName() string { return "orders" }

// PositionRecord is the persisted form of schema.Position.
type PositionRecord struct {
	Symbol            string          `gorm:"primaryKey;size:32"`
	Venue             string          `gorm:"primaryKey;size:32"`
	StrategyID        string          `gorm:"size:64;index"`
	Quantity          decimal.Decimal `gorm:"type:numeric"`
	AverageEntryPrice decimal.Decimal `gorm:"type:numeric"`
	RealizedPnL       decimal.Decimal `gorm:"column:realized_pnl;type:numeric"`
	UnrealizedPnL     decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric"`
	MarkPrice         decimal.Decimal `gorm:"type:numeric"`
	OpenedAt          time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time
}

// TableName sets the positions table name.
func (PositionRecord) TableName() string { return "positions" }

func newOrderRecord(order *schema.Order) OrderRecord {
	rec := OrderRecord{
		ID:               order.ID,
		ClientOrderID:    order.ClientOrderID,
		Symbol:           order.Symbol,
		Venue:            order.Venue,
		VenueOrderID:     order.VenueOrderID,
		Type:             string(order.Type),
		Side:             string(order.Side),
		Status:           string(order.Status),
		Quantity:         order.Quantity,
		Price:            order.Price,
		StopPrice:        order.StopPrice,
		FilledQuantity:   order.FilledQuantity,
		AverageFillPrice: order.AverageFillPrice,
		StrategyID:       order.StrategyID,
		ErrorMessage:     order.ErrorMessage,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
		FirstFillAt:      timePtr(order.FirstFillAt),
		CompletedAt:      timePtr(order.CompletedAt),
	}
	if meta, err := json.Marshal(order.Metadata); err == nil {
		rec.Metadata = string(meta)
	}
	return rec
}

func (rec OrderRecord) toOrder() *schema.Order {
	order := &schema.Order{
		ID:               rec.ID,
		ClientOrderID:    rec.ClientOrderID,
		Symbol:           rec.Symbol,
		Venue:            rec.Venue,
		VenueOrderID:     rec.VenueOrderID,
		Type:             schema.OrderType(rec.Type),
		Side:             schema.OrderSide(rec.Side),
		Status:           schema.OrderStatus(rec.Status),
		Quantity:         rec.Quantity,
		Price:            rec.Price,
		StopPrice:        rec.StopPrice,
		FilledQuantity:   rec.FilledQuantity,
		AverageFillPrice: rec.AverageFillPrice,
		StrategyID:       rec.StrategyID,
		ErrorMessage:     rec.ErrorMessage,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		FirstFillAt:      timeValue(rec.FirstFillAt),
		CompletedAt:      timeValue(rec.CompletedAt),
	}
	if rec.Metadata != "" {
		_ = json.Unmarshal([]byte(rec.Metadata), &order.Metadata)
	}
	return order
}

func newPositionRecord(position *schema.Position) PositionRecord {
	return PositionRecord{
		Symbol:            position.Symbol,
		Venue:             position.Venue,
		StrategyID:        position.StrategyID,
		Quantity:          position.Quantity,
		AverageEntryPrice: position.AverageEntryPrice,
		RealizedPnL:       position.RealizedPnL,
		UnrealizedPnL:     position.UnrealizedPnL,
		MarkPrice:         position.MarkPrice,
		OpenedAt:          position.OpenedAt,
		UpdatedAt:         position.UpdatedAt,
		ClosedAt:          timePtr(position.ClosedAt),
	}
}

func (rec PositionRecord) toPosition() *schema.Position {
	return &schema.Position{
		Symbol:            rec.Symbol,
		Venue:             rec.Venue,
		StrategyID:        rec.StrategyID,
		Quantity:          rec.Quantity,
		AverageEntryPrice: rec.AverageEntryPrice,
		RealizedPnL:       rec.RealizedPnL,
		UnrealizedPnL:     rec.UnrealizedPnL,
		MarkPrice:         rec.MarkPrice,
		OpenedAt:          rec.OpenedAt,
		UpdatedAt:         rec.UpdatedAt,
		ClosedAt:          timeValue(rec.ClosedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
