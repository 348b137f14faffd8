// Package metrics exposes Prometheus collectors for the reactor and queue
// manager.
//
// # Design rationale
//
// All collectors live on a single Metrics struct rather than package-level
// globals, so a test can construct a private registry instead of fighting
// over prometheus.DefaultRegisterer. Queue depth/leased-count gauges are
// sampled by the queue manager itself (it already touches every Queue on
// every mutating command) rather than by a separate polling goroutine —
// there is no cheaper place to observe them.
//
// Metrics are pure instrumentation: disabling them changes no wire
// behavior.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oriys/quest/internal/protocol"
)

// Metrics wraps the Prometheus collectors for a running server.
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsActive   prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	queueDepth  *prometheus.GaugeVec
	queueLeased *prometheus.GaugeVec
}

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 25, 50, 100}

// New creates a Metrics instance registered under namespace (e.g.
// "questd"). Pass nil buckets to use defaultBuckets.
func New(namespace string, buckets []float64) *Metrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total TCP connections accepted.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total TCP connections closed or dropped.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open TCP connections.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests processed, by command and reply status class.",
		}, []string{"command", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_milliseconds",
			Help:      "Time the queue manager spends handling a request, in milliseconds.",
			Buckets:   buckets,
		}, []string{"command"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current job count by queue.",
		}, []string{"queue"}),
		queueLeased: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_leased",
			Help:      "Current leased job count by queue.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.connectionsAccepted,
		m.connectionsClosed,
		m.connectionsActive,
		m.requestsTotal,
		m.requestDuration,
		m.queueDepth,
		m.queueLeased,
	)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionAccepted records a newly accepted connection.
func (m *Metrics) ConnectionAccepted() {
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a connection leaving the table on peer close,
// a read or write error, or QUIT. Oversized input does not close the
// connection.
func (m *Metrics) ConnectionClosed() {
	m.connectionsClosed.Inc()
	m.connectionsActive.Dec()
}

// statusClass buckets a reply status into "error" (-1), "empty" (0), or
// "ok" (>0), keeping the status label's cardinality bounded regardless of
// ACKJOB's count-as-status convention.
func statusClass(status int) string {
	switch {
	case status < 0:
		return "error"
	case status == 0:
		return "empty"
	default:
		return "ok"
	}
}

// RequestHandled implements queue.Recorder.
func (m *Metrics) RequestHandled(cmd protocol.Command, status int, elapsed time.Duration) {
	name := cmd.String()
	if name == "" {
		name = "unknown"
	}
	m.requestsTotal.WithLabelValues(name, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(name).Observe(float64(elapsed.Microseconds()) / 1000)
}

// QueueDepth implements queue.Recorder.
func (m *Metrics) QueueDepth(name string, depth, leased int) {
	m.queueDepth.WithLabelValues(name).Set(float64(depth))
	m.queueLeased.WithLabelValues(name).Set(float64(leased))
}
