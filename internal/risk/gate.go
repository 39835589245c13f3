package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"overlord/internal/schema"
)

// Reason classifies why a gate denied an order.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonMaxQty        Reason = "max_order_qty"
	ReasonMaxNotional   Reason = "max_order_notional"
	ReasonPositionLimit Reason = "position_limit"
)

// Decision is the outcome of a gate evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

var allow = Decision{Allowed: true}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Config defines static risk limits. Zero-valued limits are disabled.
type Config struct {
	KillSwitch       bool            `json:"killSwitch"`
	MaxOrderQty      decimal.Decimal `json:"maxOrderQty"`
	MaxOrderNotional decimal.Decimal `json:"maxOrderNotional"`
	MaxPosition      decimal.Decimal `json:"maxPosition"`
	OrderRateLimit   int             `json:"orderRateLimit"`
	OrderRateWindow  time.Duration   `json:"orderRateWindow"`
}

// Gate evaluates orders against static limits and the current position.
// A nil gate allows everything, callers may leave it unwired.
type Gate struct {
	cfg Config

	mu              sync.Mutex
	rateWindowStart time.Time
	rateCount       int
}

// NewGate creates a gate with static limits.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate applies the configured checks to an order given the current
// signed position for its (symbol, venue).
func (g *Gate) Evaluate(order *schema.Order, position decimal.Decimal) Decision {
	if g == nil {
		return allow
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if g.cfg.OrderRateLimit > 0 && g.cfg.OrderRateWindow > 0 {
		now := time.Now().UTC()
		if g.rateWindowStart.IsZero() || now.Sub(g.rateWindowStart) >= g.cfg.OrderRateWindow {
			g.rateWindowStart = now
			g.rateCount = 0
		}
		g.rateCount++
		if g.rateCount > g.cfg.OrderRateLimit {
			return deny(ReasonRateLimit)
		}
	}

	if g.cfg.MaxOrderQty.IsPositive() && order.Quantity.GreaterThan(g.cfg.MaxOrderQty) {
		return deny(ReasonMaxQty)
	}

	if g.cfg.MaxOrderNotional.IsPositive() && order.Price.IsPositive() {
		notional := order.Quantity.Mul(order.Price)
		if notional.GreaterThan(g.cfg.MaxOrderNotional) {
			return deny(ReasonMaxNotional)
		}
	}

	if g.cfg.MaxPosition.IsPositive() {
		next := position.Add(order.Quantity)
		if order.Side == schema.OrderSideSell {
			next = position.Sub(order.Quantity)
		}
		if next.Abs().GreaterThan(g.cfg.MaxPosition) {
			return deny(ReasonPositionLimit)
		}
	}

	return allow
}
