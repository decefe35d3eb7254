package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 服务指标，由 main 创建后注入各组件
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitChecks  *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "builder_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		rateLimitChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_rate_limit_checks_total",
				Help: "Rate limiter decisions",
			},
			[]string{"limiter", "result"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_state_transitions_total",
				Help: "Website and domain state transitions",
			},
			[]string{"entity", "to"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_tasks_total",
				Help: "Provisioning task outcomes",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "builder_task_duration_seconds",
				Help:    "Provisioning task handler latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitChecks,
		c.transitionsTotal,
		c.tasksTotal,
		c.taskDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus text format. A nil
// collector answers 404.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRequest 记录 HTTP 请求
func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimit 记录限流结果, result is "allowed", "denied" or "error"
func (c *Collector) RecordRateLimit(limiter, result string) {
	if c == nil {
		return
	}
	c.rateLimitChecks.WithLabelValues(limiter, result).Inc()
}

// RecordTransition 记录状态变更
func (c *Collector) RecordTransition(entity, to string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(entity, to).Inc()
}

// RecordTask 记录任务执行结果, outcome is "done", "retry" or "failed"
func (c *Collector) RecordTask(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(kind, outcome).Inc()
	c.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}
