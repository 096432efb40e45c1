package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector holds all Prometheus metrics of the executor.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Run metrics.
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	PhaseDuration   *prometheus.HistogramVec
	RecordsProduced prometheus.Histogram
	ActiveRuns      prometheus.Gauge

	// Result cache metrics.
	CacheLookupsTotal *prometheus.CounterVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// Rate limiting.
	RateLimitedTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket metrics.
	WSConnections prometheus.Gauge

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry, together with the Go runtime and process
// collectors.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Subsystem: "run",
			Name:      "total",
			Help:      "Total program runs by outcome and error code.",
		}, []string{"outcome", "code"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "executor",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Program run duration in seconds, cache hits included.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),

		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "executor",
			Subsystem: "run",
			Name:      "phase_duration_seconds",
			Help:      "Controller phase duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"phase"}),

		RecordsProduced: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "executor",
			Subsystem: "run",
			Name:      "records",
			Help:      "Number of change records returned per run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "executor",
			Name:      "active_runs",
			Help:      "Number of runs currently in progress.",
		}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "executor",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Submissions rejected by the rate limiter.",
		}, []string{"transport"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "executor",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "executor",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of open websocket connections.",
		}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "executor",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RunsTotal,
		m.RunDuration,
		m.PhaseDuration,
		m.RecordsProduced,
		m.ActiveRuns,
		m.CacheLookupsTotal,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.RateLimitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WSConnections,
		m.ActiveRequests,
	)

	return m
}
