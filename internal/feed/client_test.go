package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuote(t *testing.T) {
	quote, err := parseQuote(quoteFrame{
		Type:      "quote",
		Symbol:    "BTC-USD",
		Venue:     "binance",
		BidPrice:  "50000.5",
		BidSize:   "12.5",
		AskPrice:  "50001",
		AskSize:   "8",
		Timestamp: 1700000000000,
	})
	require.NoError(t, err)

	assert.Equal(t, "BTC-USD", quote.Symbol)
	assert.Equal(t, "binance", quote.Venue)
	assert.True(t, quote.BidPrice.Equal(decimal.RequireFromString("50000.5")))
	assert.True(t, quote.AskSize.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, int64(1700000000000), quote.Timestamp.UnixMilli())
}

func TestParseQuoteRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame quoteFrame
	}{
		{"missing symbol", quoteFrame{Venue: "binance", BidPrice: "1", BidSize: "1", AskPrice: "1", AskSize: "1"}},
		{"missing venue", quoteFrame{Symbol: "BTC-USD", BidPrice: "1", BidSize: "1", AskPrice: "1", AskSize: "1"}},
		{"bad price", quoteFrame{Symbol: "BTC-USD", Venue: "binance", BidPrice: "abc", BidSize: "1", AskPrice: "1", AskSize: "1"}},
		{"empty size", quoteFrame{Symbol: "BTC-USD", Venue: "binance", BidPrice: "1", BidSize: "", AskPrice: "1", AskSize: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuote(tt.frame)
			assert.Error(t, err)
		})
	}
}
