// ABOUTME: Prometheus collectors for sessions, namespace builds and capability calls.
// ABOUTME: Uses a private registry; every method is safe to call on a nil *Metrics.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datagate"

// Close reasons recorded on sessions_closed_total.
const (
	ReasonClient   = "client"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	NamespaceBuilds *prometheus.CounterVec
	BuildDuration   prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of live stateful sessions",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Total stateful sessions created",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total sessions released, by reason",
		}, []string{"reason"}),
		NamespaceBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "namespace",
			Name:      "builds_total",
			Help:      "Total capability namespace builds, by status",
		}, []string{"status"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "namespace",
			Name:      "build_duration_seconds",
			Help:      "Time spent registering every source into a namespace",
			Buckets:   prometheus.DefBuckets,
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total capability invocations, by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Capability invocation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsOpened,
		m.SessionsClosed,
		m.NamespaceBuilds,
		m.BuildDuration,
		m.ToolCalls,
		m.ToolDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionOpened records a new stateful session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a released session.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// ObserveBuild records one namespace build.
func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.NamespaceBuilds.WithLabelValues(status(err != nil)).Inc()
	m.BuildDuration.Observe(d.Seconds())
}

// ObserveCall records one capability invocation.
func (m *Metrics) ObserveCall(tool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status(failed)).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
