package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operational instrumentation.
//
// One Metrics value owns its own Prometheus registry so tests can build
// isolated instances. All observe methods are nil-safe: components accept
// an optional *Metrics and call it unconditionally.

type Metrics struct {
	registry *prometheus.Registry

	investigations        *prometheus.CounterVec
	investigationDuration *prometheus.HistogramVec
	sourceFindings        *prometheus.CounterVec
	taskRuns              *prometheus.CounterVec
	taskDuration          *prometheus.HistogramVec
	alerts                *prometheus.CounterVec
	httpRequests          *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
}

// New builds the full collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		investigations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainintel_investigations_total",
			Help: "Investigations finished, by target type and outcome.",
		}, []string{"type", "status"}),
		investigationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainintel_investigation_duration_seconds",
			Help:    "End-to-end investigation time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		sourceFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainintel_source_findings_total",
			Help: "Findings produced per source, by kind (error and rate_limited kinds expose provider outcomes).",
		}, []string{"source", "kind"}),
		taskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainintel_scheduler_task_runs_total",
			Help: "Scheduled task executions, by task and result.",
		}, []string{"task", "result"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainintel_scheduler_task_duration_seconds",
			Help:    "Scheduled task run time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"task"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainintel_alerts_total",
			Help: "Alerts emitted, by severity.",
		}, []string{"severity"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainintel_http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainintel_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveInvestigation records one finished investigation.
func (m *Metrics) ObserveInvestigation(targetType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.investigations.WithLabelValues(targetType, status).Inc()
	m.investigationDuration.WithLabelValues(targetType).Observe(took.Seconds())
}

// ObserveSourceFinding records one finding attributed to a source.
func (m *Metrics) ObserveSourceFinding(source, kind string) {
	if m == nil {
		return
	}
	m.sourceFindings.WithLabelValues(source, kind).Inc()
}

// ObserveTaskRun records one scheduled task execution.
func (m *Metrics) ObserveTaskRun(task string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.taskRuns.WithLabelValues(task, result).Inc()
	m.taskDuration.WithLabelValues(task).Observe(took.Seconds())
}

// ObserveAlert records one emitted alert.
func (m *Metrics) ObserveAlert(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}

// GinMiddleware instruments every request on the router it is installed
// on. Unmatched routes collapse into a single "unmatched" label to keep
// cardinality bounded.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}
