// Package metrics exposes run counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	events         *prometheus.CounterVec
	statements     *prometheus.CounterVec
	reconstruction prometheus.Counter
	lastPosition   prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "binlog2sql_events_total",
			Help: "Decoded events by window verdict",
		}, []string{"verdict"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "binlog2sql_statements_total",
			Help: "Reconstructed statements by kind",
		}, []string{"kind"}),
		reconstruction: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "binlog2sql_reconstruction_errors_total",
			Help: "Row events skipped because they could not be turned into SQL",
		}),
		lastPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "binlog2sql_last_position",
			Help: "Log offset of the last processed event",
		}),
	}
	m.registry.MustRegister(m.events, m.statements, m.reconstruction, m.lastPosition)
	return m
}

// Event counts one classified event.
func (m *Metrics) Event(verdict string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(verdict).Inc()
}

// Statement counts one generated statement; kind is INSERT, UPDATE, DELETE or QUERY.
func (m *Metrics) Statement(kind string) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(kind).Inc()
}

// ReconstructionError counts one skipped event.
func (m *Metrics) ReconstructionError() {
	if m == nil {
		return
	}
	m.reconstruction.Inc()
}

// Position records the last processed offset.
func (m *Metrics) Position(pos uint32) {
	if m == nil {
		return
	}
	m.lastPosition.Set(float64(pos))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
