// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing the broker, runtime executor, and controller record against.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized interface for collecting application metrics,
// built on Prometheus. NewMetrics registers its collectors with the default
// registry and must be called at most once per process; callers that need
// metrics wire the resulting *Metrics into broker.WithMetrics and
// runtime.Config.Metrics.
type Metrics struct {
	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// MessageQueueDepth tracks current per-topic subscriber queue depth.
	// Labels: topic
	MessageQueueDepth *prometheus.GaugeVec

	// MessageQueueWait measures time a message spent queued before dispatch.
	// Labels: topic
	MessageQueueWait *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// application startup; all metrics are registered with Prometheus's default
// registry and served by the standard promhttp handler.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiflow_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiflow_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		MessageQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archiflow_message_queue_depth",
				Help: "Current subscriber queue depth by topic",
			},
			[]string{"topic"},
		),

		MessageQueueWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiflow_message_queue_wait_seconds",
				Help:    "Time a message spent queued before dispatch",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"topic"},
		),
	}
}

// RecordToolExecution records metrics for one tool execution attempt.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// SetMessageQueueDepth sets a topic's current subscriber queue depth.
func (m *Metrics) SetMessageQueueDepth(topic string, depth int) {
	m.MessageQueueDepth.WithLabelValues(topic).Set(float64(depth))
}

// RecordMessageDequeued records a message being pulled off a subscriber's
// queue for dispatch, along with how long it waited there.
func (m *Metrics) RecordMessageDequeued(topic string, waitSeconds float64) {
	m.MessageQueueWait.WithLabelValues(topic).Observe(waitSeconds)
}
