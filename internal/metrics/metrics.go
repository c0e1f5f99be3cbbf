// Package metrics exposes the watch engine's counters and gauges on a private
// prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const namespace = "cepwatch"

// Metrics holds every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	complexEvents    *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	recordsReleased  prometheus.Counter
	recordsDropped   prometheus.Counter
	connectionErrors prometheus.Counter
	pollErrors       *prometheus.CounterVec
	openConnections  prometheus.Gauge
	pendingDepth     prometheus.Gauge
	throttleInterval prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Result frames received, one hit each",
		}, []string{"qid"}),
		complexEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "complex_events_total",
			Help:      "Complex events received",
		}, []string{"qid"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "failures_total",
			Help:      "Complex events skipped because they could not be decoded",
		}, []string{"qid"}),
		recordsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "released_total",
			Help:      "Records released to the visible feed",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Pending records discarded because their query was deselected",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_errors_total",
			Help:      "Result stream connections that ended with an error",
		}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "poll_errors_total",
			Help:      "Failed directory polls",
		}, []string{"endpoint"}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "open_connections",
			Help:      "Result stream connections currently open",
		}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "pending_records",
			Help:      "Records waiting in the throttle queue",
		}),
		throttleInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "throttle_interval_seconds",
			Help:      "Release interval, 0 in real-time mode",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.complexEvents,
		m.decodeFailures,
		m.recordsReleased,
		m.recordsDropped,
		m.connectionErrors,
		m.pollErrors,
		m.openConnections,
		m.pendingDepth,
		m.throttleInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func label(qid model.QueryID) string {
	return strconv.FormatInt(int64(qid), 10)
}

// Frame records one inbound frame carrying complexEvents complex events.
func (m *Metrics) Frame(qid model.QueryID, complexEvents int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(label(qid)).Inc()
	m.complexEvents.WithLabelValues(label(qid)).Add(float64(complexEvents))
}

// DecodeFailures records skipped complex events.
func (m *Metrics) DecodeFailures(qid model.QueryID, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.decodeFailures.WithLabelValues(label(qid)).Add(float64(n))
}

// Released records records made visible.
func (m *Metrics) Released(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsReleased.Add(float64(n))
}

// Dropped records pending records discarded for deselected queries.
func (m *Metrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDropped.Add(float64(n))
}

// ConnectionError records a connection that ended with an error.
func (m *Metrics) ConnectionError() {
	if m == nil {
		return
	}
	m.connectionErrors.Inc()
}

// PollError records a failed directory request.
func (m *Metrics) PollError(endpoint string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(endpoint).Inc()
}

// SetOpenConnections sets the open connection gauge.
func (m *Metrics) SetOpenConnections(n int) {
	if m == nil {
		return
	}
	m.openConnections.Set(float64(n))
}

// SetPending sets the throttle queue depth gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingDepth.Set(float64(n))
}

// SetThrottle sets the release interval gauge.
func (m *Metrics) SetThrottle(intervalMS int) {
	if m == nil {
		return
	}
	m.throttleInterval.Set(float64(intervalMS) / 1000)
}

// Forget drops the per-query series of qid.
func (m *Metrics) Forget(qid model.QueryID) {
	if m == nil {
		return
	}
	l := label(qid)
	m.framesReceived.DeleteLabelValues(l)
	m.complexEvents.DeleteLabelValues(l)
	m.decodeFailures.DeleteLabelValues(l)
}
