package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "blogchat"

// hubMetrics owns a private registry so every hub, including the ones
// created by tests, exposes its own counters.
type hubMetrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	onlineUsers prometheus.Gauge
	events      *prometheus.CounterVec
	persisted   *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

func newHubMetrics() *hubMetrics {
	m := &hubMetrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by event name.",
		}, []string{"event"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_persisted_total",
			Help:      "Messages written to the store, by source.",
		}, []string{"source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_fallback_total",
			Help:      "Messages delivered without being stored, by source.",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "direct_dropped_total",
			Help:      "Direct events dropped because the target was offline.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.onlineUsers,
		m.events,
		m.persisted,
		m.fallbacks,
		m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *hubMetrics) eventReceived(event string) {
	m.events.WithLabelValues(event).Inc()
}

func (m *hubMetrics) stored(source string) {
	m.persisted.WithLabelValues(source).Inc()
}

func (m *hubMetrics) fellBack(source string) {
	m.fallbacks.WithLabelValues(source).Inc()
}

func (m *hubMetrics) directDropped(event string) {
	m.dropped.WithLabelValues(event).Inc()
}

func (m *hubMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsHandler serves the hub's metrics in the Prometheus text format.
func (h *Hub) MetricsHandler() http.Handler {
	return h.metrics.handler()
}
