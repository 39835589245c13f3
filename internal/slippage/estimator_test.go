package slippage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlord/internal/schema"
)

func quote(venue string, bid, ask, size float64) schema.Quote {
	return schema.Quote{
		Symbol:    "BTC-USD",
		Venue:     venue,
		BidPrice:  decimal.NewFromFloat(bid),
		BidSize:   decimal.NewFromFloat(size),
		AskPrice:  decimal.NewFromFloat(ask),
		AskSize:   decimal.NewFromFloat(size),
		Timestamp: time.Now().UTC(),
	}
}

func TestCheckFailsOpenWithoutQuote(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)

	allowed := e.Check("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1), decimal.Zero)
	assert.True(t, allowed)
}

func TestNegligibleImpactReturnsTouchPrice(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)
	e.UpdateQuote(quote("binance", 50000, 50010, 100))

	// 1 / 100 is well under the negligible-impact ratio.
	price, ok := e.EstimatePrice("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1))
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(50010)), "got %s", price)

	// Midpoint reference, tight spread, any positive tolerance passes.
	assert.True(t, e.Check("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1), decimal.Zero))
}

func TestImpactTiers(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)
	e.UpdateQuote(quote("binance", 50000, 50000, 100))

	tests := []struct {
		name string
		qty  int64
		want string
	}{
		{"negligible", 5, "50000"},
		{"light", 20, "50025"},
		{"moderate", 60, "50050"},
		{"heavy", 150, "50100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, ok := e.EstimatePrice("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(tt.qty))
			require.True(t, ok)
			assert.True(t, price.Equal(decimal.RequireFromString(tt.want)), "got %s", price)
		})
	}
}

func TestSellImpactSubtracts(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)
	e.UpdateQuote(quote("binance", 50000, 50010, 100))

	price, ok := e.EstimatePrice("BTC-USD", schema.OrderSideSell, decimal.NewFromInt(150))
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(49900)), "got %s", price)
}

func TestCheckRejectsBeyondTolerance(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(5), 0)
	// Wide spread: buying at the ask sits far above the midpoint.
	e.UpdateQuote(quote("binance", 50000, 50500, 100))

	assert.False(t, e.Check("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1), decimal.Zero))
}

func TestCheckUsesLimitPriceAsReference(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(5), 0)
	e.UpdateQuote(quote("binance", 50000, 50010, 100))

	// Limit equal to the touch price: zero slippage.
	assert.True(t, e.Check("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(50010)))

	// Limit far below the estimated execution price: rejected.
	assert.False(t, e.Check("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(49000)))
}

func TestBestQuoteIsTightestSpread(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)
	e.UpdateQuote(quote("coinbase", 49990, 50200, 100))
	e.UpdateQuote(quote("binance", 50000, 50010, 100))

	price, ok := e.EstimatePrice("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(1))
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(50010)), "got %s", price)
}

func TestRecordRealizedTrimsHistory(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 5)

	for i := 0; i < 8; i++ {
		e.RecordRealized("BTC-USD", schema.OrderSideBuy,
			decimal.NewFromInt(50000), decimal.NewFromInt(50000+int64(i)))
	}

	stats := e.Stats("BTC-USD")
	assert.Equal(t, 5, stats.Count)
	// Oldest three observations (0, 1, 2 ticks of slippage) were trimmed.
	assert.True(t, stats.MinBps.GreaterThan(decimal.Zero))
}

func TestStatsAcrossSymbols(t *testing.T) {
	e := NewEstimator(decimal.NewFromInt(10), 0)
	e.RecordRealized("BTC-USD", schema.OrderSideBuy, decimal.NewFromInt(50000), decimal.NewFromInt(50050))
	e.RecordRealized("ETH-USD", schema.OrderSideSell, decimal.NewFromInt(3000), decimal.NewFromInt(3003))

	stats := e.Stats("")
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, stats.Symbols)
	assert.True(t, stats.MaxBps.Equal(decimal.NewFromInt(10)), "got %s", stats.MaxBps)

	avg, ok := e.AverageBps("BTC-USD", time.Hour)
	require.True(t, ok)
	assert.True(t, avg.Equal(decimal.NewFromInt(10)), "got %s", avg)

	_, ok = e.AverageBps("SOL-USD", time.Hour)
	assert.False(t, ok)
}
