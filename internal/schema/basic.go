package schema

// OrderSide describes order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType describes order execution type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStopLoss  OrderType = "stop_loss"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// RequiresPrice reports whether the type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit:
		return true
	default:
		return false
	}
}

// RequiresStopPrice reports whether the type needs a stop price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLimit:
		return true
	default:
		return false
	}
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
)

// IsTerminal reports whether the status ends the lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// transitions holds the allowed lifecycle moves. Cancellation requests and
// staleness expiry are reachable from every non-terminal state except
// pending_cancel, which can only resolve to cancelled.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusSubmitted, OrderStatusRejected, OrderStatusPendingCancel, OrderStatusExpired},
	OrderStatusSubmitted:       {OrderStatusAccepted, OrderStatusRejected, OrderStatusPendingCancel, OrderStatusExpired},
	OrderStatusAccepted:        {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusPendingCancel, OrderStatusExpired},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusPendingCancel, OrderStatusExpired},
	OrderStatusPendingCancel:   {OrderStatusCancelled},
}

// CanTransitionTo reports whether the move to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
