// Package metrics exposes Prometheus collectors for the reconciliation
// pipeline and the storage engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry and every roomledger collector registered on it.
type Metrics struct {
	reg *prometheus.Registry

	ReconcileDuration *prometheus.HistogramVec
	Conflicts         prometheus.Counter
	DaysSkipped       prometheus.Counter
	Decisions         *prometheus.CounterVec
	PollErrors        prometheus.Counter
	BookingsCreated   prometheus.Counter
	SweptRecords      *prometheus.CounterVec
	StorageReads      prometheus.Histogram
	StorageCommits    prometheus.Histogram
	StorageBytes      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ReconcileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomledger_reconcile_duration_seconds",
			Help:    "Time spent reconciling one message, labelled by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"outcome"}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "roomledger_version_conflicts_total",
			Help: "Conditional writes rejected because a concurrent writer advanced the version.",
		}),
		DaysSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "roomledger_days_already_applied_total",
			Help: "Days skipped on redelivery because the message had already been applied to them.",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomledger_consumer_decisions_total",
			Help: "Deliveries handled by the consumer, labelled by decision.",
		}, []string{"decision"}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "roomledger_consumer_poll_errors_total",
			Help: "Failed polls against the event log.",
		}),
		BookingsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "roomledger_bookings_created_total",
			Help: "Bookings accepted by the write API.",
		}),
		SweptRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomledger_retention_swept_total",
			Help: "Records removed by retention sweeps, labelled by kind.",
		}, []string{"kind"}),
		StorageReads: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomledger_storage_read_seconds",
			Help:    "Latency of point reads against the storage engine.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		StorageCommits: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomledger_storage_commit_seconds",
			Help:    "Latency of batch commits against the storage engine.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		StorageBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomledger_storage_bytes_total",
			Help: "Bytes read and committed, labelled by op.",
		}, []string{"op"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveReconcile(outcome string, elapsed time.Duration) {
	m.ReconcileDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) IncConflict()   { m.Conflicts.Inc() }
func (m *Metrics) IncDaySkipped() { m.DaysSkipped.Inc() }

func (m *Metrics) IncDecision(decision string) { m.Decisions.WithLabelValues(decision).Inc() }
func (m *Metrics) IncPollError()               { m.PollErrors.Inc() }

func (m *Metrics) IncBookingCreated() { m.BookingsCreated.Inc() }

func (m *Metrics) AddSwept(kind string, n int) { m.SweptRecords.WithLabelValues(kind).Add(float64(n)) }

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.StorageReads.Observe(elapsed.Seconds())
	m.StorageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	m.StorageCommits.Observe(elapsed.Seconds())
	m.StorageBytes.WithLabelValues("commit").Add(float64(bytes))
}
