package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector owns the custom registry shared by every component and
// the HTTP-level metrics. Orchestrator, sandbox and scheduler metrics
// register themselves on Registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	EventSubscribers    prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector on a fresh registry with
// Go runtime and process collectors attached.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bosco",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bosco",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),

		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bosco",
			Subsystem: "events",
			Name:      "stream_subscribers",
			Help:      "Connected event stream clients.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.EventSubscribers,
	)
	return m
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
