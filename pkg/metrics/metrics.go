// Package metrics exposes Prometheus instrumentation for the intake service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Intake records classification outcomes, reference resolutions and session counts.
// A nil *Intake is valid and records nothing.
type Intake struct {
	files    *prometheus.CounterVec
	batches  *prometheus.CounterVec
	resolves *prometheus.HistogramVec
	sessions prometheus.Gauge
}

// New creates the intake collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Intake {
	m := &Intake{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "files_total",
			Help:      "Candidate files classified, by input source, outcome and rejection reason.",
		}, []string{"source", "outcome", "reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "batches_total",
			Help:      "Ingestion batches, by input source and result.",
		}, []string{"source", "result"}),
		resolves: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "fetch_duration_seconds",
			Help:      "Remote reference fetch latency, by URI scheme and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scheme", "result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "open_sessions",
			Help:      "Intake sessions currently open.",
		}),
	}
	reg.MustRegister(m.files, m.batches, m.resolves, m.sessions)
	return m
}

// ObserveFile counts a single classified file. Reason is empty for accepted files.
func (m *Intake) ObserveFile(source, outcome, reason string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(source, outcome, reason).Inc()
}

// ObserveBatch counts a completed, discarded or empty ingestion batch.
func (m *Intake) ObserveBatch(source, result string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(source, result).Inc()
}

// ObserveResolve records the latency of one remote fetch.
func (m *Intake) ObserveResolve(scheme string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.resolves.WithLabelValues(scheme, result).Observe(d.Seconds())
}

// SessionOpened increments the open session gauge.
func (m *Intake) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (m *Intake) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
