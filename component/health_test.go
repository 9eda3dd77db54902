package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.Update("sensor", NewHealthy("sensor", "all sources reporting"))

	status, ok := m.Get("sensor")
	require.True(t, ok)
	assert.True(t, status.Healthy)
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitor_Aggregate(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, "healthy", m.Aggregate())

	m.Update("sensor", NewHealthy("sensor", ""))
	m.Update("publisher", NewHealthy("publisher", ""))
	assert.Equal(t, "healthy", m.Aggregate())

	m.Update("publisher", NewDegraded("publisher", "bus disconnected, buffering"))
	assert.Equal(t, "degraded", m.Aggregate())

	m.Update("outbox", NewUnhealthy("outbox", "storage corrupted"))
	assert.Equal(t, "unhealthy", m.Aggregate())
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	m := NewMonitor()
	m.Update("sensor", NewHealthy("sensor", ""))

	all := m.GetAll()
	all["sensor"] = NewUnhealthy("sensor", "mutated")

	status, _ := m.Get("sensor")
	assert.True(t, status.Healthy)
}
