package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the registry recording API activity: JSON-RPC calls,
// throttled requests and open event streams.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "localmoney",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC calls by module, method and error code (0 on success).",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "localmoney",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Handler latency for JSON-RPC calls.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "localmoney",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected before dispatch, by module and reason.",
			}, []string{"module", "reason"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "localmoney",
				Subsystem: "rpc",
				Name:      "event_streams",
				Help:      "Websocket event streams currently open.",
			}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.latency,
			moduleRegistry.throttles,
			moduleRegistry.streams,
		)
	})
	return moduleRegistry
}

func labelOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Observe records one call. code is the JSON-RPC error code, or 0 when the
// call succeeded.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOr(module, "unknown")
	method = labelOr(method, "unknown")
	m.requests.WithLabelValues(module, method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a request turned away before dispatch.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(module, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// StreamOpened tracks a new event stream and returns the func that releases
// it.
func (m *moduleMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	var once sync.Once
	return func() { once.Do(m.streams.Dec) }
}
