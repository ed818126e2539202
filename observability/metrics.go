package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records deposit and redemption activity on the trade-up chain.
type EscrowMetrics struct {
	DepositsAccepted prometheus.Counter
	DepositsRejected *prometheus.CounterVec
	Redemptions      *prometheus.CounterVec
	Mints            prometheus.Counter
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			DepositsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tradeup",
				Subsystem: "escrow",
				Name:      "deposits_accepted_total",
				Help:      "Total deposits accepted into the custody ledger.",
			}),
			DepositsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradeup",
				Subsystem: "escrow",
				Name:      "deposits_rejected_total",
				Help:      "Total rejected deposit notifications segmented by reason.",
			}, []string{"reason"}),
			Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradeup",
				Subsystem: "escrow",
				Name:      "redemptions_total",
				Help:      "Total redeemed ledger entries segmented by mode.",
			}, []string{"mode"}),
			Mints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tradeup",
				Subsystem: "escrow",
				Name:      "mints_total",
				Help:      "Total mint credits issued on successful redemption.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.DepositsAccepted,
			escrowRegistry.DepositsRejected,
			escrowRegistry.Redemptions,
			escrowRegistry.Mints,
		)
	})
	return escrowRegistry
}

// RPC returns the lazily-initialised RPC metrics registry used to record
// JSON-RPC handler activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradeup",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tradeup",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one handled RPC request.
func (m *rpcMetrics) Observe(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(seconds)
}
