// Package metrics exposes Prometheus collectors for admission flow and HTTP
// traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adt"

// Metrics holds all prometheus metrics
type Metrics struct {
	Admissions   prometheus.Counter
	Discharges   *prometheus.CounterVec
	Transfers    prometheus.Counter
	BedConflicts prometheus.Counter
	TxRetries    prometheus.Counter
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Admissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "The total number of successful admissions",
		}),
		Discharges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discharges_total",
			Help:      "The total number of bed releases by reason",
		}, []string{"reason"}),
		Transfers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "The total number of bed transfers",
		}),
		BedConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bed_conflicts_total",
			Help:      "Admissions or transfers refused because the bed was taken",
		}),
		TxRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a serialization failure or deadlock",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken to serve HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Discharge reasons.
const (
	ReasonDischarge = "discharge"
	ReasonUpdate    = "update"
	ReasonDelete    = "delete"
	ReasonTransfer  = "transfer"
)

// Nil-safe recorders so services can run without metrics in tests.

func (m *Metrics) Admitted() {
	if m != nil {
		m.Admissions.Inc()
	}
}

func (m *Metrics) Released(reason string) {
	if m != nil {
		m.Discharges.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transferred() {
	if m != nil {
		m.Transfers.Inc()
	}
}

func (m *Metrics) BedConflict() {
	if m != nil {
		m.BedConflicts.Inc()
	}
}

func (m *Metrics) TxRetried() {
	if m != nil {
		m.TxRetries.Inc()
	}
}
