package component

import (
	"sync"
	"time"
)

// HealthStatus describes the health of a single component
type HealthStatus struct {
	Component string         `json:"component"`
	Healthy   bool           `json:"healthy"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) HealthStatus {
	return HealthStatus{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) HealthStatus {
	return HealthStatus{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) HealthStatus {
	return HealthStatus{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Monitor tracks health of multiple components in a thread-safe manner.
// The controller aggregates it into the periodic status message.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]HealthStatus
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]HealthStatus),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status HealthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (HealthStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]HealthStatus, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Aggregate returns the system-wide status: unhealthy if any component is
// unhealthy, degraded if any component is degraded, healthy otherwise.
func (m *Monitor) Aggregate() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := "healthy"
	for _, status := range m.statuses {
		switch status.Status {
		case "unhealthy":
			return "unhealthy"
		case "degraded":
			overall = "degraded"
		}
	}
	return overall
}
