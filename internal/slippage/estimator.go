package slippage

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
)

const defaultHistoryCap = 1000

var (
	bpsFactor = decimal.NewFromInt(10000)

	impactNone  = decimal.Zero
	impactLight = decimal.RequireFromString("0.0005")
	impactMid   = decimal.RequireFromString("0.001")
	impactHeavy = decimal.RequireFromString("0.002")

	ratioNegligible = decimal.RequireFromString("0.1")
	ratioModerate   = decimal.RequireFromString("0.5")
	ratioFull       = decimal.NewFromInt(1)
)

// Record is one realized slippage observation.
type Record struct {
	Timestamp     time.Time
	Side          schema.OrderSide
	ExpectedPrice decimal.Decimal
	ActualPrice   decimal.Decimal
	SlippageBps   decimal.Decimal
}

// Statistics summarizes realized slippage in basis points.
type Statistics struct {
	Count      int
	Symbols    []string
	AverageBps decimal.Decimal
	MinBps     decimal.Decimal
	MaxBps     decimal.Decimal
	MedianBps  decimal.Decimal
}

// Estimator approves or rejects orders against a slippage tolerance and
// keeps a bounded per-symbol history of realized slippage.
type Estimator struct {
	mu           sync.RWMutex
	toleranceBps decimal.Decimal
	historyCap   int
	quotes       map[string]map[string]schema.Quote
	history      map[string][]Record
}

// NewEstimator creates an estimator with the given tolerance in basis
// points. A historyCap of zero or less falls back to the default.
func NewEstimator(toleranceBps decimal.Decimal, historyCap int) *Estimator {
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	return &Estimator{
		toleranceBps: toleranceBps,
		historyCap:   historyCap,
		quotes:       make(map[string]map[string]schema.Quote),
		history:      make(map[string][]Record),
	}
}

// SetTolerance replaces the tolerance at runtime.
func (e *Estimator) SetTolerance(toleranceBps decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toleranceBps = toleranceBps
	logs.Infof("slippage tolerance updated to %s bps", toleranceBps)
}

// UpdateQuote stores the latest quote, last-write-wins per (symbol, venue).
func (e *Estimator) UpdateQuote(quote schema.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byVenue, ok := e.quotes[quote.Symbol]
	if !ok {
		byVenue = make(map[string]schema.Quote)
		e.quotes[quote.Symbol] = byVenue
	}
	byVenue[quote.Venue] = quote
}

// Check reports whether the estimated execution cost is within tolerance.
// With no quote available it fails open: execution is allowed so that a
// market-data outage cannot halt trading.
func (e *Estimator) Check(symbol string, side schema.OrderSide, quantity, limitPrice decimal.Decimal) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	quote, ok := e.bestQuoteLocked(symbol)
	if !ok {
		logs.Warnf("no quote available for slippage check: %s", symbol)
		return true
	}

	estimated := estimateExecutionPrice(quote, side, quantity)

	reference := limitPrice
	if !reference.IsPositive() {
		reference = quote.MidPrice()
	}
	if !reference.IsPositive() {
		return false
	}

	slippageBps := estimated.Sub(reference).Abs().Div(reference).Mul(bpsFactor)
	if slippageBps.GreaterThan(e.toleranceBps) {
		logs.Warnf("slippage tolerance exceeded: symbol=%s side=%s qty=%s estimated=%s reference=%s slippage=%sbps tolerance=%sbps",
			symbol, side, quantity, estimated, reference, slippageBps.Round(2), e.toleranceBps)
		return false
	}
	return true
}

// EstimatePrice returns the modeled execution price for the best quote,
// or false when no quote exists.
func (e *Estimator) EstimatePrice(symbol string, side schema.OrderSide, quantity decimal.Decimal) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	quote, ok := e.bestQuoteLocked(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return estimateExecutionPrice(quote, side, quantity), true
}

// RecordRealized stores a realized slippage observation, trimming the
// per-symbol history to the configured cap.
func (e *Estimator) RecordRealized(symbol string, side schema.OrderSide, expected, actual decimal.Decimal) {
	if !expected.IsPositive() {
		return
	}
	slippageBps := actual.Sub(expected).Abs().Div(expected).Mul(bpsFactor)

	e.mu.Lock()
	defer e.mu.Unlock()

	records := append(e.history[symbol], Record{
		Timestamp:     time.Now().UTC(),
		Side:          side,
		ExpectedPrice: expected,
		ActualPrice:   actual,
		SlippageBps:   slippageBps,
	})
	if len(records) > e.historyCap {
		records = records[len(records)-e.historyCap:]
	}
	e.history[symbol] = records

	logs.Infof("realized slippage recorded: symbol=%s side=%s slippage=%sbps",
		symbol, side, slippageBps.Round(2))
}

// AverageBps returns the mean realized slippage for a symbol within the
// lookback window, or false when no records qualify.
func (e *Estimator) AverageBps(symbol string, lookback time.Duration) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-lookback)
	sum := decimal.Zero
	count := 0
	for _, record := range e.history[symbol] {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		sum = sum.Add(record.SlippageBps)
		count++
	}
	if count == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(count))), true
}

// Stats aggregates realized slippage, for one symbol or across all when
// symbol is empty.
func (e *Estimator) Stats(symbol string) Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var records []Record
	var symbols []string
	if symbol != "" {
		records = e.history[symbol]
		symbols = []string{symbol}
	} else {
		for sym, recs := range e.history {
			symbols = append(symbols, sym)
			records = append(records, recs...)
		}
		sort.Strings(symbols)
	}

	stats := Statistics{Count: len(records), Symbols: symbols}
	if len(records) == 0 {
		return stats
	}

	values := make([]decimal.Decimal, 0, len(records))
	sum := decimal.Zero
	for _, record := range records {
		values = append(values, record.SlippageBps)
		sum = sum.Add(record.SlippageBps)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })

	stats.AverageBps = sum.Div(decimal.NewFromInt(int64(len(values))))
	stats.MinBps = values[0]
	stats.MaxBps = values[len(values)-1]
	stats.MedianBps = values[len(values)/2]
	return stats
}

func (e *Estimator) bestQuoteLocked(symbol string) (schema.Quote, bool) {
	byVenue, ok := e.quotes[symbol]
	if !ok || len(byVenue) == 0 {
		return schema.Quote{}, false
	}

	var best schema.Quote
	found := false
	for _, quote := range byVenue {
		if !found || quote.Spread().LessThan(best.Spread()) {
			best = quote
			found = true
		}
	}
	return best, found
}

// estimateExecutionPrice applies a tiered market-impact premium to the
// touch price on the order's side.
func estimateExecutionPrice(quote schema.Quote, side schema.OrderSide, quantity decimal.Decimal) decimal.Decimal {
	base := quote.AskPrice
	liquidity := quote.AskSize
	if side == schema.OrderSideSell {
		base = quote.BidPrice
		liquidity = quote.BidSize
	}

	if !liquidity.IsPositive() {
		return base
	}

	ratio := quantity.Div(liquidity)
	var premium decimal.Decimal
	switch {
	case ratio.LessThan(ratioNegligible):
		premium = impactNone
	case ratio.LessThan(ratioModerate):
		premium = impactLight
	case ratio.LessThan(ratioFull):
		premium = impactMid
	default:
		premium = impactHeavy
	}

	impact := base.Mul(premium)
	if side == schema.OrderSideBuy {
		return base.Add(impact)
	}
	return base.Sub(impact)
}
