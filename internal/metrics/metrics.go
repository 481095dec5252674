// Package metrics provides Prometheus metrics collection for the scheduling
// and event distribution engine.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics collectors exposed by the engine.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Task lifecycle (C5 dispatcher)
	TasksSubmittedTotal *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	TasksFailedTotal    *prometheus.CounterVec
	TasksRetriedTotal   *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	TasksPending        *prometheus.GaugeVec
	DLQSize             prometheus.Gauge

	// Worker runtime (C4)
	WorkersActive    prometheus.Gauge
	WorkerLoad       *prometheus.GaugeVec
	HeartbeatsTotal  *prometheus.CounterVec
	WorkerStepErrors *prometheus.CounterVec

	// Event bus / aggregator (C2, C3)
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	AggregatorBatchSize  *prometheus.HistogramVec
	RingBufferLength     *prometheus.GaugeVec

	// Fan-out (C6)
	FanoutSubscriptions  prometheus.Gauge
	FanoutQueueDepth     *prometheus.GaugeVec
	FanoutDroppedTotal   *prometheus.CounterVec
	FanoutBytesSentTotal prometheus.Counter

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered against
// the default Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance against a custom registerer,
// useful in tests where the default registry would collide across cases.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by category",
			},
			[]string{"service", "category", "operation"},
		),

		TasksSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tasks_submitted_total", Help: "Total tasks submitted to the dispatcher"},
			[]string{"priority", "type"},
		),
		TasksCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tasks_completed_total", Help: "Total tasks reaching the completed state"},
			[]string{"type"},
		),
		TasksFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tasks_failed_total", Help: "Total tasks reaching the failed state"},
			[]string{"type", "cause"},
		),
		TasksRetriedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tasks_retried_total", Help: "Total task retry attempts"},
			[]string{"type"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Task end-to-end execution duration in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"type", "status"},
		),
		TasksPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "tasks_pending", Help: "Current number of tasks pending per lane"},
			[]string{"lane"},
		),
		DLQSize: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "dead_letter_queue_size", Help: "Current number of entries in the dead-letter queue"},
		),

		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "workers_active", Help: "Current number of registered workers"},
		),
		WorkerLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "worker_current_load", Help: "Current load (assignment count) per worker"},
			[]string{"worker_id"},
		),
		HeartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "worker_heartbeats_total", Help: "Total heartbeats emitted per worker"},
			[]string{"worker_id"},
		),
		WorkerStepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "worker_step_errors_total", Help: "Total step errors observed per worker"},
			[]string{"worker_id", "kind"},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "events_published_total", Help: "Total events published on the bus"},
			[]string{"channel"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "events_dropped_total", Help: "Total events dropped before reaching a subscriber"},
			[]string{"reason"},
		),
		AggregatorBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aggregator_batch_size",
				Help:    "Number of raw events folded into each aggregated event",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"event_type"},
		),
		RingBufferLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "channel_ring_buffer_length", Help: "Current length of a channel's replay ring buffer"},
			[]string{"channel"},
		),

		FanoutSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fanout_subscriptions", Help: "Current number of connected client subscriptions"},
		),
		FanoutQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "fanout_queue_depth", Help: "Current outbound queue depth per subscription"},
			[]string{"connection_id"},
		),
		FanoutDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fanout_dropped_total", Help: "Total events dropped by fan-out backpressure"},
			[]string{"connection_id"},
		),
		FanoutBytesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "fanout_bytes_sent_total", Help: "Total bytes written to client connections"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service build information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.TasksSubmittedTotal,
			m.TasksCompletedTotal,
			m.TasksFailedTotal,
			m.TasksRetriedTotal,
			m.TaskDuration,
			m.TasksPending,
			m.DLQSize,
			m.WorkersActive,
			m.WorkerLoad,
			m.HeartbeatsTotal,
			m.WorkerStepErrors,
			m.EventsPublishedTotal,
			m.EventsDroppedTotal,
			m.AggregatorBatchSize,
			m.RingBufferLength,
			m.FanoutSubscriptions,
			m.FanoutQueueDepth,
			m.FanoutDroppedTotal,
			m.FanoutBytesSentTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error by category and operation.
func (m *Metrics) RecordError(service, category, operation string) {
	m.ErrorsTotal.WithLabelValues(service, category, operation).Inc()
}

// RecordTaskSubmitted increments the submission counter.
func (m *Metrics) RecordTaskSubmitted(priority, taskType string) {
	m.TasksSubmittedTotal.WithLabelValues(priority, taskType).Inc()
}

// RecordTaskTerminal records a terminal transition's duration and, for the
// "completed" status only, increments the completed counter; failures are
// counted by RecordTaskFailed.
func (m *Metrics) RecordTaskTerminal(taskType, status string, dur time.Duration) {
	m.TaskDuration.WithLabelValues(taskType, status).Observe(dur.Seconds())
	if strings.EqualFold(status, "completed") {
		m.TasksCompletedTotal.WithLabelValues(taskType).Inc()
	}
}

// RecordTaskFailed increments the failure counter with a cause label.
func (m *Metrics) RecordTaskFailed(taskType, cause string) {
	m.TasksFailedTotal.WithLabelValues(taskType, cause).Inc()
}

// RecordTaskRetried increments the retry counter.
func (m *Metrics) RecordTaskRetried(taskType string) {
	m.TasksRetriedTotal.WithLabelValues(taskType).Inc()
}

// SetPending sets the pending gauge for a queue lane.
func (m *Metrics) SetPending(lane string, n int) {
	m.TasksPending.WithLabelValues(lane).Set(float64(n))
}

// SetDLQSize sets the current dead-letter queue cardinality.
func (m *Metrics) SetDLQSize(n int) {
	m.DLQSize.Set(float64(n))
}

// SetWorkersActive sets the active worker count gauge.
func (m *Metrics) SetWorkersActive(n int) {
	m.WorkersActive.Set(float64(n))
}

// RecordHeartbeat increments the heartbeat counter for a worker.
func (m *Metrics) RecordHeartbeat(workerID string) {
	m.HeartbeatsTotal.WithLabelValues(workerID).Inc()
}

// SetWorkerLoad sets the current load gauge for a worker.
func (m *Metrics) SetWorkerLoad(workerID string, load int) {
	m.WorkerLoad.WithLabelValues(workerID).Set(float64(load))
}

// RecordStepError increments the step-error counter for a worker.
func (m *Metrics) RecordStepError(workerID, kind string) {
	m.WorkerStepErrors.WithLabelValues(workerID, kind).Inc()
}

// RecordPublish increments the publish counter for a channel.
func (m *Metrics) RecordPublish(channel string) {
	m.EventsPublishedTotal.WithLabelValues(channel).Inc()
}

// RecordDrop increments the drop counter for a reason.
func (m *Metrics) RecordDrop(reason string) {
	m.EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveBatchSize records an aggregator flush's batch size.
func (m *Metrics) ObserveBatchSize(eventType string, size int) {
	m.AggregatorBatchSize.WithLabelValues(eventType).Observe(float64(size))
}

// SetRingBufferLength sets the replay buffer length gauge for a channel.
func (m *Metrics) SetRingBufferLength(channel string, n int) {
	m.RingBufferLength.WithLabelValues(channel).Set(float64(n))
}

// SetFanoutSubscriptions sets the current subscription count.
func (m *Metrics) SetFanoutSubscriptions(n int) {
	m.FanoutSubscriptions.Set(float64(n))
}

// SetFanoutQueueDepth sets the queue-depth gauge for a connection.
func (m *Metrics) SetFanoutQueueDepth(connID string, depth int) {
	m.FanoutQueueDepth.WithLabelValues(connID).Set(float64(depth))
}

// RecordFanoutDrop increments the drop counter for a connection.
func (m *Metrics) RecordFanoutDrop(connID string) {
	m.FanoutDroppedTotal.WithLabelValues(connID).Inc()
}

// AddBytesSent adds to the bytes-sent counter.
func (m *Metrics) AddBytesSent(n int) {
	m.FanoutBytesSentTotal.Add(float64(n))
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// UpdateUptime updates the service uptime gauge relative to a start time.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return environment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes (once) and returns the global Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global Metrics instance, initializing a default one if needed.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("ai-agent-dashboard")
	}
	return globalMetrics
}
