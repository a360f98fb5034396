package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics owned by the HTTP serving layer.
// Component-level metrics live in internal/observability; this registry
// covers the transport surface.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// JSON-RPC metrics
	RPCCallsTotal *prometheus.CounterVec

	// Streaming metrics
	StreamsActive prometheus.Gauge
	StreamsTotal  prometheus.Counter

	// Admin metrics
	AdminOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all serving-layer metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by route, method, and status code",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),

		RPCCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_calls_total",
				Help: "Total JSON-RPC calls by method and status",
			},
			[]string{"method", "status"},
		),

		StreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "streams_active",
				Help: "WebSocket streams currently open",
			},
		),
		StreamsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "streams_total",
				Help: "Total WebSocket streams opened",
			},
		),

		AdminOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_operations_total",
				Help: "Total admin API operations by operation and status",
			},
			[]string{"operation", "status"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RequestsTotal)
	m.registry.MustRegister(m.RequestDuration)
	m.registry.MustRegister(m.RequestsInFlight)
	m.registry.MustRegister(m.RPCCallsTotal)
	m.registry.MustRegister(m.StreamsActive)
	m.registry.MustRegister(m.StreamsTotal)
	m.registry.MustRegister(m.AdminOperationsTotal)
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRPC records one JSON-RPC call result.
func (m *Metrics) ObserveRPC(method, status string) {
	m.RPCCallsTotal.WithLabelValues(method, status).Inc()
}

// ObserveAdmin records one admin API operation.
func (m *Metrics) ObserveAdmin(operation, status string) {
	m.AdminOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Handler serves this registry together with the default registry, so
// one scrape endpoint covers both the transport and component metrics.
func (m *Metrics) Handler() http.Handler {
	gatherers := prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
