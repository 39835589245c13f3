package pos

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlord/internal/schema"
	"overlord/internal/storage"
	"overlord/pkg/exception"
)

func fill(side schema.OrderSide, qty, price int64) schema.Fill {
	return schema.Fill{
		OrderID:   "ORD-TEST",
		Symbol:    "BTC-USD",
		Venue:     "binance",
		Side:      side,
		Quantity:  decimal.NewFromInt(qty),
		Price:     decimal.NewFromInt(price),
		Timestamp: time.Now().UTC(),
	}
}

func decEqual(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got)
}

func TestHandleFillOpensLong(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "alpha")
	require.NoError(t, err)

	decEqual(t, 10, position.Quantity)
	decEqual(t, 100, position.AverageEntryPrice)
	decEqual(t, 0, position.RealizedPnL)
	assert.True(t, position.IsLong())
	assert.False(t, position.OpenedAt.IsZero())
}

func TestWeightedAverageOnSameDirection(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)
	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 110), "")
	require.NoError(t, err)

	decEqual(t, 20, position.Quantity)
	decEqual(t, 105, position.AverageEntryPrice)
	decEqual(t, 0, position.RealizedPnL)
}

func TestPartialReduceRealizesWithoutMovingAverage(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)
	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideSell, 4, 110), "")
	require.NoError(t, err)

	decEqual(t, 6, position.Quantity)
	decEqual(t, 100, position.AverageEntryPrice)
	decEqual(t, 40, position.RealizedPnL)
}

func TestFlipLongToShort(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)
	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideSell, 15, 110), "")
	require.NoError(t, err)

	decEqual(t, -5, position.Quantity)
	decEqual(t, 110, position.AverageEntryPrice)
	decEqual(t, 100, position.RealizedPnL)
	assert.True(t, position.IsShort())
}

func TestShortCoverRealizesCorrectSign(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideSell, 10, 100), "")
	require.NoError(t, err)

	// Partial cover below entry is a profit.
	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 4, 90), "")
	require.NoError(t, err)
	decEqual(t, -6, position.Quantity)
	decEqual(t, 40, position.RealizedPnL)

	// Full cover and flip long at 90: the remaining 6 realize another 60.
	position, err = ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 8, 90), "")
	require.NoError(t, err)
	decEqual(t, 2, position.Quantity)
	decEqual(t, 90, position.AverageEntryPrice)
	decEqual(t, 100, position.RealizedPnL)
}

func TestExactCloseStampsClosedAt(t *testing.T) {
	store := storage.NewMemoryPositionStorage()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)
	position, err := ledger.HandleFill(ctx, fill(schema.OrderSideSell, 10, 105), "")
	require.NoError(t, err)

	assert.True(t, position.IsFlat())
	decEqual(t, 50, position.RealizedPnL)
	assert.False(t, position.ClosedAt.IsZero())

	stored, err := store.GetPosition(ctx, "BTC-USD", "binance")
	require.NoError(t, err)
	assert.True(t, stored.IsFlat())
}

func TestUnrealizedIsPureInMarkPrice(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)

	mark := decimal.NewFromInt(120)
	first, err := ledger.UpdateUnrealized("BTC-USD", "binance", mark)
	require.NoError(t, err)
	second, err := ledger.UpdateUnrealized("BTC-USD", "binance", mark)
	require.NoError(t, err)

	decEqual(t, 200, first.UnrealizedPnL)
	assert.True(t, first.UnrealizedPnL.Equal(second.UnrealizedPnL))
}

func TestUnrealizedForShortPosition(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideSell, 10, 100), "")
	require.NoError(t, err)

	position, err := ledger.UpdateUnrealized("BTC-USD", "binance", decimal.NewFromInt(90))
	require.NoError(t, err)
	decEqual(t, 100, position.UnrealizedPnL)
}

func TestUpdateUnrealizedMissingAndFlat(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.UpdateUnrealized("BTC-USD", "binance", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, exception.ErrPositionNotFound)

	_, err = ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 1, 100), "")
	require.NoError(t, err)
	_, err = ledger.HandleFill(ctx, fill(schema.OrderSideSell, 1, 100), "")
	require.NoError(t, err)

	_, err = ledger.UpdateUnrealized("BTC-USD", "binance", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, exception.ErrPositionFlat)
}

func TestForceClose(t *testing.T) {
	store := storage.NewMemoryPositionStorage()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)

	position, err := ledger.Close(ctx, "BTC-USD", "binance", decimal.NewFromInt(130))
	require.NoError(t, err)

	assert.True(t, position.IsFlat())
	decEqual(t, 300, position.RealizedPnL)
	decEqual(t, 0, position.UnrealizedPnL)
	assert.False(t, position.ClosedAt.IsZero())

	_, err = ledger.Close(ctx, "BTC-USD", "binance", decimal.NewFromInt(130))
	assert.ErrorIs(t, err, exception.ErrPositionFlat)
}

func TestSummaryAndExposure(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "alpha")
	require.NoError(t, err)

	eth := fill(schema.OrderSideSell, 5, 200)
	eth.Symbol = "ETH-USD"
	_, err = ledger.HandleFill(ctx, eth, "alpha")
	require.NoError(t, err)

	summary := ledger.Summarize("alpha")
	assert.Equal(t, 2, summary.TotalPositions)
	decEqual(t, 1000, summary.LongExposure)
	decEqual(t, 1000, summary.ShortExposure)
	decEqual(t, 0, summary.NetExposure)
	decEqual(t, 2000, summary.GrossExposure)

	exposure := ledger.Exposure("")
	decEqual(t, 1000, exposure["BTC-USD"])
	decEqual(t, 1000, exposure["ETH-USD"])

	assert.Empty(t, ledger.All("beta", false))
}

func TestMarkToCachedQuoteOnGet(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryPositionStorage())
	ctx := context.Background()

	_, err := ledger.HandleFill(ctx, fill(schema.OrderSideBuy, 10, 100), "")
	require.NoError(t, err)

	ledger.UpdateQuote(schema.Quote{
		Symbol:   "BTC-USD",
		Venue:    "binance",
		BidPrice: decimal.NewFromInt(118),
		AskPrice: decimal.NewFromInt(122),
		BidSize:  decimal.NewFromInt(1),
		AskSize:  decimal.NewFromInt(1),
	})

	position, err := ledger.Get("BTC-USD", "binance")
	require.NoError(t, err)
	decEqual(t, 200, position.UnrealizedPnL)
	decEqual(t, 120, position.MarkPrice)
}
