// metrics.go - Prometheus metrics for the ledger daemon.
package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts validation, application, and swap outcomes.
type Metrics struct {
	TxAccepted     prometheus.Counter
	TxRejected     *prometheus.CounterVec
	BatchesApplied prometheus.Counter
	BatchRejected  prometheus.Counter
	SwapsByStatus  *prometheus.CounterVec
	RateLimited    prometheus.Counter
}

// NewMetrics registers the daemon's metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TxAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_tx_accepted_total",
			Help: "Transactions that passed conservation validation.",
		}),
		TxRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_tx_rejected_total",
			Help: "Transactions rejected, by reason.",
		}, []string{"reason"}),
		BatchesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_batches_applied_total",
			Help: "Batches committed by the state applier.",
		}),
		BatchRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_batch_tx_rejected_total",
			Help: "Transactions dropped during batch application.",
		}),
		SwapsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_swap_transitions_total",
			Help: "Swap state transitions, by resulting status.",
		}, []string{"status"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_rate_limited_total",
			Help: "Requests refused by the ingest rate limiter.",
		}),
	}
}
