package metrics

import (
	"time"

	"github.com/go-saas/reqtx"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records request transaction outcomes. It implements reqtx.Observer.
type Metrics struct {
	// Finalized transactions by outcome (committed, rolled_back, commit_failed, leaked)
	TransactionsTotal *prometheus.CounterVec

	// Time from begin to finalization by outcome
	TransactionDuration *prometheus.HistogramVec

	BeginsTotal        prometheus.Counter
	BeginFailuresTotal prometheus.Counter
}

var _ reqtx.Observer = (*Metrics)(nil)

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqtx_transactions_total",
				Help: "Total number of finalized request transactions",
			},
			[]string{"outcome"},
		),
		TransactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqtx_transaction_duration_seconds",
				Help:    "Request transaction lifetime in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		BeginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqtx_begins_total",
			Help: "Total number of transaction begin attempts",
		}),
		BeginFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqtx_begin_failures_total",
			Help: "Total number of failed transaction begins",
		}),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.TransactionDuration,
		m.BeginsTotal,
		m.BeginFailuresTotal,
	)
	return m
}

func (m *Metrics) ObserveBegin(err error) {
	m.BeginsTotal.Inc()
	if err != nil {
		m.BeginFailuresTotal.Inc()
	}
}

func (m *Metrics) ObserveResolve(state reqtx.State, age time.Duration, err error) {
	outcome := state.String()
	m.TransactionsTotal.WithLabelValues(outcome).Inc()
	m.TransactionDuration.WithLabelValues(outcome).Observe(age.Seconds())
}
