package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the application's prometheus instruments.
type Metrics struct {
	LedgerTransactions *prometheus.CounterVec
	LedgerIdempotent   prometheus.Counter
	UsageEvents        *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowline",
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions posted, by command type.",
		}, []string{"type"}),
		LedgerIdempotent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowline",
			Name:      "ledger_idempotent_replays_total",
			Help:      "Ledger commands absorbed as idempotent replays.",
		}),
		UsageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowline",
			Name:      "usage_events_ingested_total",
			Help:      "Usage events accepted for processing, by meter code.",
		}, []string{"meter"}),
	}

	registry.MustRegister(m.LedgerTransactions, m.LedgerIdempotent, m.UsageEvents)
	return m
}

// RecordLedgerTransaction counts one freshly posted ledger transaction.
func (m *Metrics) RecordLedgerTransaction(txType string) {
	if m == nil {
		return
	}
	m.LedgerTransactions.WithLabelValues(txType).Inc()
}

// RecordIdempotentReplay counts a duplicate command absorbed as a no-op.
func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.LedgerIdempotent.Inc()
}

// RecordUsageEvent counts one accepted usage event.
func (m *Metrics) RecordUsageEvent(meterCode string) {
	if m == nil {
		return
	}
	m.UsageEvents.WithLabelValues(meterCode).Inc()
}

// NewRegistry holds application instruments only. The go and process
// collectors, and the gorm pool stats, live on the default registry and are
// gathered alongside this one at /metrics.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
