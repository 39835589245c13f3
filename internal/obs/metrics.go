package obs

import (
	"sync/atomic"
	"time"

	"overlord/internal/risk"
	"overlord/internal/schema"
)

// Metrics collects lightweight execution counters and latency stats.
type Metrics struct {
	created   uint64
	submitted uint64
	rejected  uint64
	cancelled uint64
	expired   uint64
	fills     uint64

	statusCounts map[schema.OrderStatus]*uint64
	riskDenials  map[risk.Reason]*uint64

	executeLatency LatencyStats
	fillLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	OrdersCreated   uint64
	OrdersSubmitted uint64
	OrdersRejected  uint64
	OrdersCancelled uint64
	OrdersExpired   uint64
	Fills           uint64
	StatusCounts    map[schema.OrderStatus]uint64
	RiskDenials     map[risk.Reason]uint64
	ExecuteLatency  LatencySnapshot
	FillLatency     LatencySnapshot
}

var trackedStatuses = []schema.OrderStatus{
	schema.OrderStatusPending,
	schema.OrderStatusSubmitted,
	schema.OrderStatusAccepted,
	schema.OrderStatusPartiallyFilled,
	schema.OrderStatusFilled,
	schema.OrderStatusCancelled,
	schema.OrderStatusRejected,
	schema.OrderStatusExpired,
	schema.OrderStatusPendingCancel,
}

var trackedReasons = []risk.Reason{
	risk.ReasonKillSwitch,
	risk.ReasonRateLimit,
	risk.ReasonMaxQty,
	risk.ReasonMaxNotional,
	risk.ReasonPositionLimit,
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	m := &Metrics{
		statusCounts: make(map[schema.OrderStatus]*uint64, len(trackedStatuses)),
		riskDenials:  make(map[risk.Reason]*uint64, len(trackedReasons)),
	}
	for _, status := range trackedStatuses {
		m.statusCounts[status] = new(uint64)
	}
	for _, reason := range trackedReasons {
		m.riskDenials[reason] = new(uint64)
	}
	return m
}

// IncCreated records an accepted create call.
func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.created, 1)
}

// IncSubmitted records a venue submission.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitted, 1)
}

// IncRejected records a rejection from routing, slippage or risk.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejected, 1)
}

// IncCancelled records a local cancellation.
func (m *Metrics) IncCancelled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.cancelled, 1)
}

// IncExpired records a staleness expiry.
func (m *Metrics) IncExpired() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.expired, 1)
}

// IncFill records an ingested fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// ObserveStatus counts a status transition target.
func (m *Metrics) ObserveStatus(status schema.OrderStatus) {
	if m == nil {
		return
	}
	if counter, ok := m.statusCounts[status]; ok {
		atomic.AddUint64(counter, 1)
	}
}

// IncRiskDenial counts a risk gate denial by reason.
func (m *Metrics) IncRiskDenial(reason risk.Reason) {
	if m == nil {
		return
	}
	if counter, ok := m.riskDenials[reason]; ok {
		atomic.AddUint64(counter, 1)
	}
}

// ObserveExecute measures end-to-end execute latency.
func (m *Metrics) ObserveExecute(d time.Duration) {
	if m == nil {
		return
	}
	m.executeLatency.Observe(d)
}

// ObserveFill measures fill handling latency.
func (m *Metrics) ObserveFill(d time.Duration) {
	if m == nil {
		return
	}
	m.fillLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	statuses := make(map[schema.OrderStatus]uint64)
	for status, counter := range m.statusCounts {
		if v := atomic.LoadUint64(counter); v > 0 {
			statuses[status] = v
		}
	}
	denials := make(map[risk.Reason]uint64)
	for reason, counter := range m.riskDenials {
		if v := atomic.LoadUint64(counter); v > 0 {
			denials[reason] = v
		}
	}
	return Snapshot{
		OrdersCreated:   atomic.LoadUint64(&m.created),
		OrdersSubmitted: atomic.LoadUint64(&m.submitted),
		OrdersRejected:  atomic.LoadUint64(&m.rejected),
		OrdersCancelled: atomic.LoadUint64(&m.cancelled),
		OrdersExpired:   atomic.LoadUint64(&m.expired),
		Fills:           atomic.LoadUint64(&m.fills),
		StatusCounts:    statuses,
		RiskDenials:     denials,
		ExecuteLatency:  m.executeLatency.Snapshot(),
		FillLatency:     m.fillLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
