package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/pkg/buffer"
	"github.com/ola-oye/VitaBand/pkg/retry"
	"github.com/ola-oye/VitaBand/telemetry"
)

// persistentFailureThreshold is the consecutive failure count after which a
// source is reported as failed in health status
const persistentFailureThreshold = 5

// PollerConfig holds configuration for the acquisition poller
type PollerConfig struct {
	ReadTimeout time.Duration `json:"read_timeout"`
	BufferSize  int           `json:"buffer_size"`
}

// PollerDeps holds runtime dependencies for the poller component
type PollerDeps struct {
	Name            string
	Config          PollerConfig
	Sources         []Source
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Poller reads every sensor source once per fast tick into a bounded buffer.
// The synchronizer drains the buffer on its own schedule, so a slow stage
// never blocks acquisition.
type Poller struct {
	name        string
	sources     []Source
	readTimeout time.Duration
	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	retryConfig retry.Config

	buffer buffer.Buffer[telemetry.Reading]

	// Consecutive failures per source ID
	failMu   sync.Mutex
	failures map[string]int

	running   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup

	// Statistics (atomic)
	readings atomic.Int64
	errCount atomic.Int64
	lastPoll atomic.Value // stores time.Time
}

var _ component.LifecycleComponent = (*Poller)(nil)
var _ component.HealthReporter = (*Poller)(nil)

// NewPoller creates the acquisition poller
func NewPoller(deps PollerDeps) *Poller {
	cfg := deps.Config
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sensor-poller")
	}

	name := deps.Name
	if name == "" {
		name = "sensor-poller"
	}

	p := &Poller{
		name:        name,
		sources:     deps.Sources,
		readTimeout: cfg.ReadTimeout,
		logger:      logger,
		registry:    deps.MetricsRegistry,
		retryConfig: retry.Quick(),
		failures:    make(map[string]int),
		buffer: buffer.NewCircular[telemetry.Reading](cfg.BufferSize,
			buffer.WithOverflowPolicy[telemetry.Reading](buffer.DropOldest)),
	}
	p.lastPoll.Store(time.Time{})
	return p
}

// Name returns the component name
func (p *Poller) Name() string { return p.name }

// Initialize validates the poller configuration
func (p *Poller) Initialize() error {
	if len(p.sources) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no sensor sources configured"),
			"Poller", "Initialize", "source validation")
	}
	seen := make(map[string]bool, len(p.sources))
	for _, src := range p.sources {
		if seen[src.ID()] {
			return errors.WrapInvalid(fmt.Errorf("duplicate source id %s", src.ID()),
				"Poller", "Initialize", "source validation")
		}
		seen[src.ID()] = true
	}
	return nil
}

// Start marks the poller running. Polling itself is tick-driven via PollOnce.
func (p *Poller) Start(_ context.Context) error {
	if p.running.Load() {
		return nil // Already running, idempotent
	}
	p.running.Store(true)
	p.startTime = time.Now()
	p.logger.Info("Sensor poller started", "sources", len(p.sources))
	return nil
}

// Stop waits for any in-flight poll to finish
func (p *Poller) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("poll still in flight after %v", timeout),
			"Poller", "Stop", "wait for in-flight poll")
	}

	p.buffer.Close()
	p.logger.Info("Sensor poller stopped",
		"readings", p.readings.Load(),
		"errors", p.errCount.Load())
	return nil
}

// PollOnce reads every source concurrently with the per-read timeout and
// buffers the successful readings. Called by the controller each fast tick.
func (p *Poller) PollOnce(ctx context.Context) {
	if !p.running.Load() {
		return
	}
	p.lastPoll.Store(time.Now())

	p.wg.Add(len(p.sources))
	for _, src := range p.sources {
		go func(src Source) {
			defer p.wg.Done()
			p.pollSource(ctx, src)
		}(src)
	}
	p.wg.Wait()
}

func (p *Poller) pollSource(ctx context.Context, src Source) {
	readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()

	reading, err := retry.DoWithResult(readCtx, p.retryConfig, func() (telemetry.Reading, error) {
		return src.Read(readCtx)
	})
	if err != nil {
		p.errCount.Add(1)
		p.recordFailure(src.ID())
		if p.registry != nil {
			p.registry.CoreMetrics().RecordReading(src.ID(), "error")
		}
		p.logger.Warn("Sensor read failed",
			"sensor", src.ID(),
			"kind", string(src.Kind()),
			"error", err)
		return
	}

	p.clearFailure(src.ID())
	p.readings.Add(1)
	if p.registry != nil {
		p.registry.CoreMetrics().RecordReading(src.ID(), "ok")
	}

	if err := p.buffer.Write(reading); err != nil {
		p.logger.Warn("Reading dropped, buffer closed", "sensor", src.ID())
	}
}

// Drain removes and returns up to max buffered readings in arrival order
func (p *Poller) Drain(max int) []telemetry.Reading {
	return p.buffer.ReadBatch(max)
}

// BufferedCount returns the number of readings waiting to be drained
func (p *Poller) BufferedCount() int {
	return p.buffer.Size()
}

func (p *Poller) recordFailure(sourceID string) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.failures[sourceID]++
	if p.failures[sourceID] == persistentFailureThreshold {
		p.logger.Error("Sensor in persistent failure", "sensor", sourceID)
	}
}

func (p *Poller) clearFailure(sourceID string) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.failures[sourceID] = 0
}

// FailedSources returns the IDs of sources in persistent failure
func (p *Poller) FailedSources() []string {
	p.failMu.Lock()
	defer p.failMu.Unlock()

	var failed []string
	for id, count := range p.failures {
		if count >= persistentFailureThreshold {
			failed = append(failed, id)
		}
	}
	return failed
}

// Health reports the poller's health: degraded when any source is in
// persistent failure, unhealthy when all of them are
func (p *Poller) Health() component.HealthStatus {
	if !p.running.Load() {
		return component.NewUnhealthy(p.name, "not running")
	}

	failed := p.FailedSources()
	switch {
	case len(failed) == 0:
		return component.NewHealthy(p.name, "all sources reporting")
	case len(failed) < len(p.sources):
		return component.NewDegraded(p.name,
			fmt.Sprintf("sources in persistent failure: %v", failed))
	default:
		return component.NewUnhealthy(p.name, "all sources in persistent failure")
	}
}

// Stats returns acquisition statistics
func (p *Poller) Stats() (readings, errCount int64, buffered int) {
	return p.readings.Load(), p.errCount.Load(), p.buffer.Size()
}
