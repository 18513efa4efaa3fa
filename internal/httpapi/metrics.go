package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the HTTP API.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseBytes   *prometheus.CounterVec
	sseClients      prometheus.Gauge
	broadcastDrops  *prometheus.CounterVec
	rateLimited     prometheus.Counter
	messagesSent    *prometheus.CounterVec
}

// newMetrics registers the HTTP collectors with registry. A nil registry gets
// a private one.
func newMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzpuri",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chzpuri",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzpuri",
			Name:      "http_response_bytes_total",
			Help:      "Bytes written in HTTP responses",
		}, []string{"route"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chzpuri",
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzpuri",
			Name:      "broadcast_drops_total",
			Help:      "Number of messages dropped due to slow clients",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chzpuri",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzpuri",
			Name:      "messages_sent_total",
			Help:      "Number of display messages delivered to stream clients",
		}, []string{"transport"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.responseBytes,
		m.sseClients,
		m.broadcastDrops,
		m.rateLimited,
		m.messagesSent,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
	m.responseBytes.WithLabelValues(route).Add(float64(bytes))
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncMessagesSent(transport string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(transport).Inc()
}
