// Package telemetry exposes dispatcher activity as Prometheus metrics and
// configures OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/ledger"
)

const namespace = "divsync"

// Metrics records dispatcher events on a private registry. It implements
// dispatch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	processed   *prometheus.CounterVec
	applied     *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	inFlight    *prometheus.GaugeVec
	leaseLost   *prometheus.CounterVec
}

var _ dispatch.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ledger rows written, by job and final status.",
		}, []string{"job", "status"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records reconciled against the local store.",
		}, []string{"job"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Records whose upsert changed the local store.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped because they failed to parse.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of executed runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last succeeded run seen by this node.",
		}, []string{"job"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently executing on this node.",
		}, []string{"job"}),
		leaseLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_lost_total",
			Help:      "Runs whose lease expired or was taken while executing.",
		}, []string{"job"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.processed, m.applied, m.skipped, m.duration, m.lastSuccess, m.inFlight, m.leaseLost,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnSkip counts a skip row.
func (m *Metrics) OnSkip(job string, status ledger.Status, _ string) {
	m.runs.WithLabelValues(job, string(status)).Inc()
}

// OnStart marks a run in flight.
func (m *Metrics) OnStart(job, _, _ string) {
	m.inFlight.WithLabelValues(job).Inc()
}

// OnFinish records the outcome of an executed run.
func (m *Metrics) OnFinish(r dispatch.RunReport) {
	m.inFlight.WithLabelValues(r.Job).Dec()
	m.runs.WithLabelValues(r.Job, string(r.Status)).Inc()
	m.processed.WithLabelValues(r.Job).Add(float64(r.Result.Records))
	m.applied.WithLabelValues(r.Job).Add(float64(r.Result.Applied))
	m.skipped.WithLabelValues(r.Job).Add(float64(r.Result.Skipped))
	m.duration.WithLabelValues(r.Job).Observe(r.Duration().Seconds())
	if r.Status == ledger.StatusSucceeded {
		m.lastSuccess.WithLabelValues(r.Job).Set(float64(r.FinishedAt.Unix()))
	}
}

// OnLeaseLost counts a lost lease.
func (m *Metrics) OnLeaseLost(job, _ string) {
	m.leaseLost.WithLabelValues(job).Inc()
}
