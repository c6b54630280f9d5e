// Package metrics exposes the engine's Prometheus instrumentation,
// grounded on the pack's prometheus usage (client_golang's CounterVec,
// HistogramVec and GaugeVec) rather than hand-rolled counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"order-matching-engine/internal/tradeerr"
)

// Recorder bundles the engine's metrics, registered against a single
// prometheus.Registerer at construction.
type Recorder struct {
	ordersPlaced  *prometheus.CounterVec
	fillsExecuted *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	matchLatency  *prometheus.HistogramVec
	bookDepth     *prometheus.GaugeVec
}

// New registers and returns a Recorder against reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "orders_placed_total",
			Help:      "Orders accepted by the matching engine, by symbol and side.",
		}, []string{"symbol", "side"}),

		fillsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "fills_executed_total",
			Help:      "Fills produced by the matching engine, by symbol.",
		}, []string{"symbol"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "order_rejections_total",
			Help:      "Orders rejected, by reason kind.",
		}, []string{"kind"}),

		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "match_latency_seconds",
			Help:      "Time spent inside the per-symbol critical section processing one order.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),

		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "book_depth_levels",
			Help:      "Number of distinct price levels currently resting, by symbol and side.",
		}, []string{"symbol", "side"}),
	}

	reg.MustRegister(r.ordersPlaced, r.fillsExecuted, r.rejections, r.matchLatency, r.bookDepth)
	return r
}

// RecordOrderPlaced increments the accepted-order counter.
func (r *Recorder) RecordOrderPlaced(symbol, side string) {
	r.ordersPlaced.WithLabelValues(symbol, side).Inc()
}

// RecordFills adds n fills to the executed-fills counter for symbol.
func (r *Recorder) RecordFills(symbol string, n int) {
	if n == 0 {
		return
	}
	r.fillsExecuted.WithLabelValues(symbol).Add(float64(n))
}

// RecordRejection classifies err by tradeerr.Kind and increments the
// matching rejection counter. Errors that aren't a *tradeerr.Error are
// counted under "unknown".
func (r *Recorder) RecordRejection(err error) {
	kind := "unknown"
	if te, ok := err.(*tradeerr.Error); ok {
		kind = te.Kind.String()
	}
	r.rejections.WithLabelValues(kind).Inc()
}

// ObserveMatchLatency records how long one order took to process.
func (r *Recorder) ObserveMatchLatency(symbol string, d time.Duration) {
	r.matchLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

// SetBookDepth publishes the current number of resting price levels for
// symbol/side.
func (r *Recorder) SetBookDepth(symbol, side string, levels int) {
	r.bookDepth.WithLabelValues(symbol, side).Set(float64(levels))
}
