package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/errors"
)

func TestNewMetricsRegistry_CoreMetricsRegistered(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics must be usable immediately
	registry.Metrics.RecordReading("ds18b20", "ok")
	registry.Metrics.RecordPublish("health.alerts", "delivered")
	registry.Metrics.OutboxDepth.Set(3)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vitaband_sensors_readings_total"])
	assert.True(t, names["vitaband_publisher_publishes_total"])
	assert.True(t, names["vitaband_outbox_depth"])
}

func TestRegisterCounter_Duplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})
	require.NoError(t, registry.RegisterCounter("sensor", "test_counter_total", counter))

	err := registry.RegisterCounter("sensor", "test_counter_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "test",
	})
	require.NoError(t, registry.RegisterGauge("publisher", "test_gauge", gauge))

	assert.True(t, registry.Unregister("publisher", "test_gauge"))
	assert.False(t, registry.Unregister("publisher", "test_gauge"))

	// Re-registration after unregister must succeed
	require.NoError(t, registry.RegisterGauge("publisher", "test_gauge", gauge))
}
