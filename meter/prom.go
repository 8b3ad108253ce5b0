package meter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proofflow/proofflow"
)

// PromMeter exports preflight, transaction and watchdog metrics to
// Prometheus.
type PromMeter struct {
	// Counts of preflight runs, partitioned by outcome.
	Preflights *prometheus.CounterVec

	// Counts of transactions, partitioned by kind and status.
	Transactions *prometheus.CounterVec

	// Time from submission to confirmation, partitioned by kind.
	TxLatencies *prometheus.HistogramVec

	// Counts of confirmation watches, partitioned by outcome.
	Watches *prometheus.CounterVec
}

var _ proofflow.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter with metric names prefixed by pkg and
// registers it with reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewPromMeter(pkg string, reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PromMeter{
		Preflights: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_preflights", pkg),
				Help: "How many preflight runs finished, partitioned by outcome (sufficient, topped_up, error).",
			},
			[]string{"outcome"},
		),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_transactions", pkg),
				Help: "How many transactions were issued, partitioned by kind and status.",
			},
			[]string{"kind", "status"},
		),
		TxLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_transaction_latencies", pkg),
				Help:    "How long transactions take from submission to confirmation, partitioned by kind.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"kind"},
		),
		Watches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_watches", pkg),
				Help: "How many confirmation watches finished, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.Preflights, m.Transactions, m.TxLatencies, m.Watches)
	return m
}

func (m *PromMeter) OnPreflight(e proofflow.PreflightEvent) {
	outcome := "sufficient"
	switch {
	case e.Error != nil:
		outcome = "error"
	case !e.Sufficient:
		outcome = "topped_up"
	}
	m.Preflights.WithLabelValues(outcome).Inc()
}

func (m *PromMeter) OnTransaction(e proofflow.TransactionEvent) {
	status := "ok"
	if e.Error != nil {
		status = "error"
	}
	m.Transactions.WithLabelValues(e.Kind, status).Inc()
	if e.Error == nil {
		m.TxLatencies.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
	}
}

func (m *PromMeter) OnWatch(e proofflow.WatchEvent) {
	m.Watches.WithLabelValues(e.Outcome.String()).Inc()
}
