package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/pkg/worker"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Config holds dispatch settings
type Config struct {
	// Timeout bounds one inference run before the fallback result is used
	Timeout time.Duration `json:"timeout"`
	// QueueSize bounds windows waiting for the inference lane
	QueueSize int `json:"queue_size"`
}

// Deps holds runtime dependencies for the dispatcher
type Deps struct {
	Name            string
	Config          Config
	Inferer         Inferer
	OnResult        func(telemetry.InferenceResult)
	Clock           clock.Clock
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Dispatcher feeds feature windows through a single worker lane so results
// arrive in window order, applying the inference timeout and substituting a
// degraded fallback result when the classifier fails or overruns.
type Dispatcher struct {
	name     string
	timeout  time.Duration
	inferer  Inferer
	onResult func(telemetry.InferenceResult)
	clk      clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	pool     *worker.Pool[telemetry.FeatureVector]

	mu           sync.Mutex
	lastDegraded bool
}

var _ component.LifecycleComponent = (*Dispatcher)(nil)
var _ component.HealthReporter = (*Dispatcher)(nil)

// NewDispatcher creates the inference dispatcher
func NewDispatcher(deps Deps) *Dispatcher {
	cfg := deps.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "inference-dispatcher")
	}

	name := deps.Name
	if name == "" {
		name = "inference-dispatcher"
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	d := &Dispatcher{
		name:     name,
		timeout:  cfg.Timeout,
		inferer:  deps.Inferer,
		onResult: deps.OnResult,
		clk:      clk,
		logger:   logger,
		registry: deps.MetricsRegistry,
	}
	// One worker keeps results in window order
	d.pool = worker.NewPool(1, cfg.QueueSize, d.process)
	return d
}

// Name returns the component name
func (d *Dispatcher) Name() string { return d.name }

// Initialize validates the dispatcher wiring
func (d *Dispatcher) Initialize() error {
	if d.inferer == nil {
		return errors.WrapInvalid(fmt.Errorf("no inferer configured"),
			"Dispatcher", "Initialize", "validation")
	}
	if d.onResult == nil {
		return errors.WrapInvalid(fmt.Errorf("no result handler configured"),
			"Dispatcher", "Initialize", "validation")
	}
	return nil
}

// Start launches the inference lane
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Dispatcher", "Start", "start worker lane")
	}
	d.logger.Info("Inference dispatcher started",
		"inferer", d.inferer.Name(),
		"timeout", d.timeout)
	return nil
}

// Stop drains the inference lane
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if err := d.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Dispatcher", "Stop", "stop worker lane")
	}
	return nil
}

// Submit queues one window for inference. A full queue sheds the window
// rather than blocking the caller.
func (d *Dispatcher) Submit(vector telemetry.FeatureVector) error {
	if err := d.pool.Submit(vector); err != nil {
		if d.registry != nil {
			d.registry.CoreMetrics().RecordInference("dropped")
		}
		return errors.WrapTransient(err, "Dispatcher", "Submit", "queue window")
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, vector telemetry.FeatureVector) error {
	inferCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result telemetry.InferenceResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := d.inferer.Infer(inferCtx, vector)
		done <- outcome{result, err}
	}()

	var result telemetry.InferenceResult
	status := "ok"
	select {
	case out := <-done:
		if out.err != nil {
			d.logger.Warn("Inference failed, using fallback",
				"window_id", vector.WindowID,
				"error", out.err)
			result = d.fallback(vector)
			status = "error"
		} else {
			result = out.result
		}
	case <-inferCtx.Done():
		d.logger.Warn("Inference deadline exceeded, using fallback",
			"window_id", vector.WindowID,
			"timeout", d.timeout)
		result = d.fallback(vector)
		status = "timeout"
	}

	result.ProducedAt = d.clk.Now()
	if result.ModelVersion == "" {
		result.ModelVersion = d.inferer.Name()
	}

	d.mu.Lock()
	d.lastDegraded = result.Degraded
	d.mu.Unlock()

	if d.registry != nil {
		d.registry.CoreMetrics().RecordInference(status)
	}
	d.onResult(result)
	return nil
}

// fallback builds a degraded result with no labels; downstream stages keep
// working from the feature vector alone
func (d *Dispatcher) fallback(vector telemetry.FeatureVector) telemetry.InferenceResult {
	flags := append([]telemetry.QualityFlag{}, vector.Flags...)
	flags = append(flags, telemetry.FlagDegraded)
	return telemetry.InferenceResult{
		WindowID:   vector.WindowID,
		Confidence: 0,
		Degraded:   true,
		Flags:      flags,
	}
}

// Health reports degraded when the most recent window used the fallback path
func (d *Dispatcher) Health() component.HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastDegraded {
		return component.NewDegraded(d.name, "last inference used fallback")
	}
	return component.NewHealthy(d.name, "inference lane nominal")
}
