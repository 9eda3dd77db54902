package worker

import "errors"

// Sentinel errors returned by pool lifecycle and submission methods
var (
	// ErrPoolNotStarted is returned when submitting to a pool before Start
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned when submitting to a stopped pool
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned when Start is called twice
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned when the work queue is at capacity
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor is returned when the pool is created without a processor
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout is returned when workers do not drain within the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
