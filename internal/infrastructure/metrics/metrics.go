// Package metrics exposes Prometheus collectors for the API server and the
// worker. A Metrics value satisfies the observer interfaces of the submission
// handler, the code executor, the event bus and the scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codekids"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	submissions  *prometheus.CounterVec
	achievements prometheus.Counter

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	wsConnections prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),

		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "submissions_total",
			Help:      "Lesson submissions by outcome.",
		}, []string{"outcome"}),
		achievements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "achievements_awarded_total",
			Help:      "Achievements awarded through submissions.",
		}),

		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "Code runs by language and result.",
		}, []string{"language", "success"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "Duration of code runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"language"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Domain event deliveries by type and result.",
		}, []string{"event", "success"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Duration of event handler chains.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"event"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"job"}),

		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.submissions,
		m.achievements,
		m.executions,
		m.executionDuration,
		m.events,
		m.eventDuration,
		m.jobRuns,
		m.jobDuration,
		m.wsConnections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request. route is the matched pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// InFlight tracks a request until the returned func is called.
func (m *Metrics) InFlight() func() {
	m.httpInFlight.Inc()
	return m.httpInFlight.Dec
}

// ObserveSubmission counts a graded submission.
func (m *Metrics) ObserveSubmission(valid bool, newAchievements int) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.submissions.WithLabelValues(outcome).Inc()
	if newAchievements > 0 {
		m.achievements.Add(float64(newAchievements))
	}
}

// ObserveRejection counts a submission refused by prerequisites.
func (m *Metrics) ObserveRejection() {
	m.submissions.WithLabelValues("rejected").Inc()
}

// ObserveExecution counts a code run.
func (m *Metrics) ObserveExecution(lang string, success bool, d time.Duration) {
	m.executions.WithLabelValues(lang, strconv.FormatBool(success)).Inc()
	m.executionDuration.WithLabelValues(lang).Observe(d.Seconds())
}

// ObserveEvent counts a domain event delivery.
func (m *Metrics) ObserveEvent(eventType string, success bool, d time.Duration) {
	m.events.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// ObserveJob counts a scheduled job run.
func (m *Metrics) ObserveJob(job string, success bool, d time.Duration) {
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ConnectionOpened increments the websocket gauge.
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

// ConnectionClosed decrements the websocket gauge.
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }
