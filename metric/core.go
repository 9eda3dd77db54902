package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics for the monitoring pipeline
type Metrics struct {
	// Component metrics
	ComponentStatus    *prometheus.GaugeVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec
	ProcessingDuration *prometheus.HistogramVec

	// Pipeline metrics
	ReadingsTotal   *prometheus.CounterVec
	FramesTotal     *prometheus.CounterVec
	WindowsTotal    *prometheus.CounterVec
	InferencesTotal *prometheus.CounterVec
	PublishesTotal  *prometheus.CounterVec
	OutboxDepth     prometheus.Gauge
	OutboxEvictions prometheus.Counter

	// Bus metrics
	BusConnected  prometheus.Gauge
	BusRTT        prometheus.Gauge
	BusReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vitaband",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vitaband",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vitaband",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Stage processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ReadingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "sensors",
				Name:      "readings_total",
				Help:      "Total number of sensor readings",
			},
			[]string{"sensor", "status"},
		),

		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "synchro",
				Name:      "frames_total",
				Help:      "Total number of aligned frames emitted",
			},
			[]string{"status"},
		),

		WindowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "window",
				Name:      "windows_total",
				Help:      "Total number of feature windows closed",
			},
			[]string{"status"},
		),

		InferencesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "inference",
				Name:      "results_total",
				Help:      "Total number of inference results",
			},
			[]string{"status"},
		),

		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "publisher",
				Name:      "publishes_total",
				Help:      "Total number of publish attempts",
			},
			[]string{"topic", "status"},
		),

		OutboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vitaband",
				Subsystem: "outbox",
				Name:      "depth",
				Help:      "Current number of pending outbox entries",
			},
		),

		OutboxEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "outbox",
				Name:      "evictions_total",
				Help:      "Total number of entries evicted at capacity",
			},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vitaband",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Bus connection status (0=disconnected, 1=connected)",
			},
		),

		BusRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vitaband",
				Subsystem: "bus",
				Name:      "rtt_milliseconds",
				Help:      "Bus round-trip time in milliseconds",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vitaband",
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total number of bus reconnections",
			},
		),
	}
}

// RecordComponentStatus updates the component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordReading increments the sensor reading counter
func (c *Metrics) RecordReading(sensor, status string) {
	c.ReadingsTotal.WithLabelValues(sensor, status).Inc()
}

// RecordFrame increments the aligned frame counter
func (c *Metrics) RecordFrame(status string) {
	c.FramesTotal.WithLabelValues(status).Inc()
}

// RecordWindow increments the closed window counter
func (c *Metrics) RecordWindow(status string) {
	c.WindowsTotal.WithLabelValues(status).Inc()
}

// RecordInference increments the inference result counter
func (c *Metrics) RecordInference(status string) {
	c.InferencesTotal.WithLabelValues(status).Inc()
}

// RecordPublish increments the publish counter for a topic
func (c *Metrics) RecordPublish(topic, status string) {
	c.PublishesTotal.WithLabelValues(topic, status).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHealthCheck updates the health check status metric
func (c *Metrics) RecordHealthCheck(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordProcessingDuration observes a stage processing duration
func (c *Metrics) RecordProcessingDuration(component, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}
