package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports operation outcomes, alert counts and the offline
// buffer depth on a dedicated registry.
type PrometheusRecorder struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	alerts      *prometheus.CounterVec
	bufferDepth prometheus.Gauge
}

// NewPrometheusRecorder registers the aquawatch collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquawatch",
			Name:      "operations_total",
			Help:      "Operations by name and outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aquawatch",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquawatch",
			Name:      "alerts_total",
			Help:      "Alert events by metric, severity and delivery outcome.",
		}, []string{"metric", "severity", "delivered"}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquawatch",
			Name:      "offline_buffer_depth",
			Help:      "Readings waiting for an owner and tank.",
		}),
	}
	reg.MustRegister(r.operations, r.durations, r.alerts, r.bufferDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAlert counts one alert event.
func (r *PrometheusRecorder) ObserveAlert(metric, severity string, delivered bool) {
	d := "false"
	if delivered {
		d = "true"
	}
	r.alerts.WithLabelValues(metric, severity, d).Inc()
}

// SetBufferDepth records the current offline buffer length.
func (r *PrometheusRecorder) SetBufferDepth(n int) {
	r.bufferDepth.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
