// Package component defines the lifecycle contract shared by every stage of
// the monitoring pipeline, plus health status reporting for the status topic.
package component

import (
	"context"
	"time"
)

// Component is the minimal contract every pipeline stage satisfies
type Component interface {
	// Name returns the component's unique name for logging and status
	Name() string
}

// LifecycleComponent defines components that support full lifecycle management:
//   - Initialize() error                  // Setup/create only, NO context
//   - Start(ctx context.Context) error    // Start with context passed through
//   - Stop(timeout time.Duration) error   // Stop with timeout for graceful shutdown
//
// Components never store the context; the controller creates a child context
// per component and cancels it during shutdown.
type LifecycleComponent interface {
	Component
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthReporter is implemented by components that expose health status
type HealthReporter interface {
	Health() HealthStatus
}
