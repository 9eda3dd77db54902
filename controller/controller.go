// Package controller owns the monitoring pipeline: it wires acquisition,
// alignment, windowing, inference, interpretation, the outbox and the
// publisher together and drives them from a small set of tickers. All
// scheduling goes through the injected clock so the whole pipeline can be
// stepped deterministically.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/config"
	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/outbox"
	"github.com/ola-oye/VitaBand/pipeline/inference"
	"github.com/ola-oye/VitaBand/pipeline/interpret"
	"github.com/ola-oye/VitaBand/pipeline/synchro"
	"github.com/ola-oye/VitaBand/pipeline/window"
	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/publisher"
	"github.com/ola-oye/VitaBand/sensor"
	"github.com/ola-oye/VitaBand/telemetry"
)

// BusConn is the slice of the bus client the controller manages
type BusConn interface {
	publisher.Bus
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	RTT() (time.Duration, error)
}

// Deps holds everything the controller composes
type Deps struct {
	Config          *config.Config
	Bus             BusConn
	Sources         []sensor.Source
	Inferer         inference.Inferer
	Clock           clock.Clock
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Controller runs the pipeline
type Controller struct {
	cfg      *config.Config
	bus      BusConn
	clk      clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	poller     *sensor.Poller
	synchro    *synchro.Synchronizer
	aggregator *window.Aggregator
	dispatcher *inference.Dispatcher
	engine     *interpret.Engine
	store      *outbox.Outbox
	pub        *publisher.Publisher
	monitor    *component.Monitor

	// Feature vectors waiting on an inference result, by window id
	vecMu   sync.Mutex
	pending map[string]telemetry.FeatureVector

	vitalsMu     sync.Mutex
	lastFrame    telemetry.Frame
	lastPriority string

	// Set when the outbox rejects a message it may not evict for; the
	// pipeline keeps running but reports unhealthy until restarted with a
	// workable capacity
	fatal atomic.Bool

	running      atomic.Bool
	startTime    time.Time
	heartbeatSeq atomic.Uint64
	errorCount   atomic.Int64
	cancel       context.CancelFunc
	loopDone     chan struct{}
}

// New builds the pipeline from configuration. Sources defaults to the
// synthetic sensor set and Inferer to the threshold classifier.
func New(deps Deps) *Controller {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	sources := deps.Sources
	if len(sources) == 0 {
		sources = sensor.DefaultSources(cfg.Sensors.Seed, clk)
	}

	inferer := deps.Inferer
	if inferer == nil {
		inferer = inference.NewThresholdInferer()
	}

	c := &Controller{
		cfg:      cfg,
		bus:      deps.Bus,
		clk:      clk,
		logger:   logger,
		registry: deps.MetricsRegistry,
		monitor:  component.NewMonitor(),
		pending:  make(map[string]telemetry.FeatureVector),
		loopDone: make(chan struct{}),
	}

	c.poller = sensor.NewPoller(sensor.PollerDeps{
		Config: sensor.PollerConfig{
			ReadTimeout: cfg.Sensors.ReadTimeout.Std(),
			BufferSize:  cfg.Sensors.BufferSize,
		},
		Sources:         sources,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "sensor-poller"),
	})

	c.synchro = synchro.NewSynchronizer(synchro.Deps{
		Config: synchro.Config{
			Tolerance:       cfg.Synchro.Tolerance.Std(),
			FrameDeadline:   cfg.Synchro.FrameDeadline.Std(),
			OutlierWindow:   cfg.Synchro.OutlierWindow,
			OutlierMADs:     cfg.Synchro.OutlierMADs,
			MotionThreshold: cfg.Synchro.MotionThreshold,
		},
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "synchronizer"),
	})

	c.aggregator = window.NewAggregator(window.Deps{
		Config: window.Config{
			Size:       cfg.Window.Size.Std(),
			Overlap:    cfg.Window.Overlap,
			MinSamples: cfg.Window.MinSamples,
		},
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "window-aggregator"),
	})

	c.dispatcher = inference.NewDispatcher(inference.Deps{
		Config: inference.Config{
			Timeout:   cfg.Inference.Timeout.Std(),
			QueueSize: cfg.Inference.QueueSize,
		},
		Inferer:         inferer,
		OnResult:        c.onInference,
		Clock:           clk,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "inference-dispatcher"),
	})

	c.engine = interpret.NewEngine(interpret.Deps{
		DeviceID:        cfg.Device.ID,
		Source:          cfg.Device.Name,
		Clock:           clk,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "interpreter"),
	})

	c.store = outbox.NewOutbox(outbox.Deps{
		Config: outbox.Config{
			Dir:              cfg.Outbox.Dir,
			Capacity:         cfg.Outbox.Capacity,
			DropOldest:       cfg.Outbox.DropOldest,
			CompactThreshold: cfg.Outbox.CompactThreshold,
		},
		Clock:           clk,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "outbox"),
	})

	c.pub = publisher.NewPublisher(publisher.Deps{
		Config: publisher.Config{
			PublishTimeout: cfg.Publisher.PublishTimeout.Std(),
			InitialBackoff: cfg.Publisher.InitialBackoff.Std(),
			MaxBackoff:     cfg.Publisher.MaxBackoff.Std(),
			Multiplier:     cfg.Publisher.Multiplier,
			BatchSize:      cfg.Publisher.BatchSize,
		},
		Bus:             deps.Bus,
		Outbox:          c.store,
		DeviceID:        cfg.Device.ID,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger.With("component", "publisher"),
	})

	return c
}

// Initialize prepares every component, storage first so nothing is lost if
// a later component fails
func (c *Controller) Initialize() error {
	if c.bus == nil {
		return errors.WrapInvalid(fmt.Errorf("no bus configured"),
			"Controller", "Initialize", "validation")
	}
	if err := c.store.Initialize(); err != nil {
		return err
	}
	if err := c.poller.Initialize(); err != nil {
		return err
	}
	if err := c.dispatcher.Initialize(); err != nil {
		return err
	}
	return c.pub.Initialize()
}

// Start connects the bus, starts the components and launches the tick loop.
// A bus that cannot be reached is not fatal; the outbox buffers everything
// until the publisher can drain.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Controller", "Start", "start")
	}
	c.startTime = c.clk.Now()

	if err := c.bus.Connect(ctx); err != nil {
		c.logger.Warn("Bus unreachable at startup, buffering until it comes up",
			"error", err,
			"retry_every", c.cfg.Bus.ReconnectWait.Std())
	}

	if err := c.poller.Start(ctx); err != nil {
		return err
	}
	if err := c.dispatcher.Start(ctx); err != nil {
		return err
	}
	if err := c.store.Start(ctx); err != nil {
		return err
	}
	if err := c.pub.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(loopCtx)

	c.recordComponentStatus(componentRunning)
	c.logger.Info("Pipeline started",
		"device_id", c.cfg.Device.ID,
		"fast_tick", c.cfg.Controller.FastTick.Std())
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.loopDone)

	fast := c.clk.NewTicker(c.cfg.Controller.FastTick.Std())
	heartbeat := c.clk.NewTicker(c.cfg.Controller.HeartbeatInterval.Std())
	status := c.clk.NewTicker(c.cfg.Controller.StatusInterval.Std())
	reconnect := c.clk.NewTicker(c.cfg.Bus.ReconnectWait.Std())
	defer fast.Stop()
	defer heartbeat.Stop()
	defer status.Stop()
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-fast.C():
			c.onFastTick(ctx, now)
		case now := <-heartbeat.C():
			c.onHeartbeat(now)
		case now := <-status.C():
			c.onStatus(now)
		case <-reconnect.C():
			c.onReconnectTick(ctx)
		}
	}
}

// onReconnectTick redials the bus while it is down. Once a connection
// holds, the client's own reconnect handling takes over and this becomes a
// no-op; the publisher then drains the backlog oldest first.
func (c *Controller) onReconnectTick(ctx context.Context) {
	if c.bus.IsHealthy() {
		return
	}
	if err := c.bus.Connect(ctx); err != nil {
		c.logger.Debug("Bus still unreachable", "error", err)
		return
	}
	c.logger.Info("Bus connection established, draining backlog")
	for topic := range message.Policies {
		c.pub.Wake(topic)
	}
}

// onFastTick advances acquisition, alignment and windowing by one step
func (c *Controller) onFastTick(ctx context.Context, now time.Time) {
	c.poller.PollOnce(ctx)
	c.synchro.Ingest(c.poller.Drain(c.cfg.Sensors.BufferSize))

	if frame, ok := c.synchro.Advance(now); ok {
		c.aggregator.Push(frame)
		c.vitalsMu.Lock()
		c.lastFrame = frame
		c.vitalsMu.Unlock()
	}

	for _, vector := range c.aggregator.Advance(now) {
		c.trackVector(vector)
		if err := c.dispatcher.Submit(vector); err != nil {
			c.recordError("dispatch")
			c.untrackVector(vector.WindowID)
			c.logger.Warn("Window shed at inference queue", "window_id", vector.WindowID)
		}
	}
}

// publishVitals emits one vitals snapshot per closed window, built from the
// most recent aligned frame
func (c *Controller) publishVitals(frame telemetry.Frame, windowID string) {
	missing := make([]string, 0, len(frame.Missing))
	for _, kind := range frame.Missing {
		missing = append(missing, string(kind))
	}
	flags := make([]string, 0, len(frame.Flags))
	for _, flag := range frame.Flags {
		flags = append(flags, string(flag))
	}

	c.enqueue(message.TopicSensors, message.VitalsSnapshot{
		Timestamp: frame.Timestamp,
		Source:    c.cfg.Device.Name,
		DeviceID:  c.cfg.Device.ID,
		Sequence:  frame.Sequence,
		WindowID:  windowID,
		Channels:  frame.Channels,
		Missing:   missing,
		Flags:     flags,
	})
}

// onInference runs on the dispatcher's worker goroutine, in window order.
// Vitals go out for every window; the recommendation and any alerts only
// when at least one interpretation rule fired.
func (c *Controller) onInference(result telemetry.InferenceResult) {
	vector, ok := c.untrackVector(result.WindowID)
	if !ok {
		c.logger.Warn("Result for unknown window", "window_id", result.WindowID)
		return
	}

	c.vitalsMu.Lock()
	frame := c.lastFrame
	c.vitalsMu.Unlock()

	c.publishVitals(frame, result.WindowID)

	out := c.engine.Interpret(result, vector, frame.Channels)
	if len(out.Findings) == 0 {
		return
	}

	c.vitalsMu.Lock()
	c.lastPriority = out.Recommendation.Priority
	c.vitalsMu.Unlock()
	c.enqueue(message.TopicRecommendation, out.Recommendation)
	for _, alert := range out.Alerts {
		c.enqueue(message.TopicAlerts, alert)
	}
}

func (c *Controller) onHeartbeat(now time.Time) {
	c.enqueue(message.TopicHeartbeat, message.HeartbeatMsg{
		Timestamp: now,
		Source:    c.cfg.Device.Name,
		DeviceID:  c.cfg.Device.ID,
		Sequence:  c.heartbeatSeq.Add(1),
	})
}

func (c *Controller) onStatus(now time.Time) {
	for _, reporter := range []component.HealthReporter{
		c.poller, c.synchro, c.aggregator, c.dispatcher, c.engine, c.store, c.pub,
	} {
		health := reporter.Health()
		c.monitor.Update(health.Component, health)
		if c.registry != nil {
			c.registry.CoreMetrics().RecordHealthCheck(health.Component, health.Healthy)
		}
	}

	all := c.monitor.GetAll()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make([]message.ComponentStatus, 0, len(names))
	degraded := false
	for _, name := range names {
		health := all[name]
		if !health.Healthy {
			degraded = true
		}
		components = append(components, message.ComponentStatus{
			Name:    name,
			Status:  health.Status,
			Message: health.Message,
		})
	}

	c.vitalsMu.Lock()
	lastPriority := c.lastPriority
	c.vitalsMu.Unlock()

	busUp := c.bus.IsHealthy()
	if c.registry != nil {
		connected := 0.0
		if busUp {
			connected = 1
		}
		c.registry.CoreMetrics().BusConnected.Set(connected)
		if rtt, err := c.bus.RTT(); err == nil {
			c.registry.CoreMetrics().BusRTT.Set(float64(rtt.Milliseconds()))
		}
	}

	overall := c.monitor.Aggregate()
	if c.fatal.Load() {
		overall = "unhealthy"
		degraded = true
	}

	c.enqueue(message.TopicStatus, message.StatusMsg{
		Timestamp:     now,
		Source:        c.cfg.Device.Name,
		DeviceID:      c.cfg.Device.ID,
		Overall:       overall,
		UptimeSeconds: int64(now.Sub(c.startTime).Seconds()),
		Components:    components,
		OutboxDepth:   c.store.Depth(),
		ErrorCount:    c.errorCount.Load(),
		Degraded:      degraded,
		LastPriority:  lastPriority,
		BusConnected:  busUp,
	})
}

// enqueue serializes a payload into the outbox under its topic policy and
// wakes the publisher
func (c *Controller) enqueue(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.recordError("encode")
		c.logger.Error("Payload encode failed", "topic", topic, "error", err)
		return
	}
	if _, err := c.store.Enqueue(topic, data, message.PolicyFor(topic).QoS); err != nil {
		c.recordError("enqueue")
		if errors.IsFatal(err) {
			if c.fatal.CompareAndSwap(false, true) {
				c.logger.Error("Outbox full of undroppable entries, capacity misconfigured",
					"topic", topic, "error", err)
			}
		} else {
			c.logger.Warn("Enqueue failed", "topic", topic, "error", err)
		}
		return
	}
	c.pub.Wake(topic)
}

func (c *Controller) trackVector(vector telemetry.FeatureVector) {
	c.vecMu.Lock()
	c.pending[vector.WindowID] = vector
	c.vecMu.Unlock()
}

func (c *Controller) untrackVector(windowID string) (telemetry.FeatureVector, bool) {
	c.vecMu.Lock()
	defer c.vecMu.Unlock()
	vector, ok := c.pending[windowID]
	if ok {
		delete(c.pending, windowID)
	}
	return vector, ok
}

// Stop shuts the pipeline down in stages: intake first, then a grace
// period for in-flight windows, then delivery and storage
func (c *Controller) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	grace := c.cfg.Controller.ShutdownGrace.Std()
	c.logger.Info("Pipeline stopping", "grace", grace)

	c.cancel()
	<-c.loopDone

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(c.poller.Stop(grace))

	// Close out whatever the trailing windows hold before stopping the
	// inference lane
	for _, vector := range c.aggregator.Flush() {
		c.trackVector(vector)
		if err := c.dispatcher.Submit(vector); err != nil {
			c.untrackVector(vector.WindowID)
		}
	}
	record(c.dispatcher.Stop(grace))

	record(c.pub.Stop(grace))
	record(c.bus.Close(ctx))
	record(c.store.Stop(grace))

	c.recordComponentStatus(componentStopped)
	c.logger.Info("Pipeline stopped", "outbox_depth", c.store.Depth())
	return firstErr
}

// Component status values for the vitaband_component_status gauge
const (
	componentStopped = 0
	componentRunning = 2
)

func (c *Controller) recordComponentStatus(status int) {
	if c.registry == nil {
		return
	}
	names := []string{
		c.poller.Name(), c.synchro.Name(), c.aggregator.Name(),
		c.dispatcher.Name(), c.engine.Name(), c.store.Name(), c.pub.Name(),
	}
	for _, name := range names {
		c.registry.CoreMetrics().RecordComponentStatus(name, status)
	}
}

func (c *Controller) recordError(errorType string) {
	c.errorCount.Add(1)
	if c.registry != nil {
		c.registry.CoreMetrics().RecordError("controller", errorType)
	}
}

// Health aggregates component health for external probes
func (c *Controller) Health() string {
	if c.fatal.Load() {
		return "unhealthy"
	}
	return c.monitor.Aggregate()
}
