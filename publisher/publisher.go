// Package publisher drains the durable outbox onto the message bus. Each
// topic gets its own drain loop so a stalled topic never blocks the others,
// and entries within a topic always leave in enqueue order. Delivery
// follows the topic's policy: best-effort publish, acknowledged publish, or
// deduplicated publish for exactly-once topics, with retained topics going
// through the key-value store so late subscribers see the latest value.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/outbox"
	"github.com/ola-oye/VitaBand/pkg/retry"
)

// Bus is the slice of the bus client the publisher needs
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishAck(ctx context.Context, subject, msgID string, data []byte) error
	PutRetained(ctx context.Context, topic string, data []byte) error
	IsHealthy() bool
}

// Config holds delivery settings
type Config struct {
	// PublishTimeout bounds one delivery attempt
	PublishTimeout time.Duration `json:"publish_timeout"`
	// InitialBackoff is the first retry delay after a failed attempt
	InitialBackoff time.Duration `json:"initial_backoff"`
	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration `json:"max_backoff"`
	// Multiplier grows the delay between consecutive failures
	Multiplier float64 `json:"multiplier"`
	// BatchSize bounds entries drained per wakeup
	BatchSize int `json:"batch_size"`
	// IdlePoll is how often a drain loop rechecks its queue unprompted
	IdlePoll time.Duration `json:"idle_poll"`
}

// Deps holds runtime dependencies for the publisher
type Deps struct {
	Name            string
	Config          Config
	Bus             Bus
	Outbox          *outbox.Outbox
	DeviceID        string
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Publisher owns the per-topic drain loops
type Publisher struct {
	name     string
	cfg      Config
	bus      Bus
	store    *outbox.Outbox
	deviceID string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	backoff  retry.Config

	wakes  map[string]chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running   atomic.Bool
	delivered atomic.Int64
	failed    atomic.Int64
}

var _ component.LifecycleComponent = (*Publisher)(nil)
var _ component.HealthReporter = (*Publisher)(nil)

// NewPublisher creates the publisher
func NewPublisher(deps Deps) *Publisher {
	cfg := deps.Config
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 3 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 500 * time.Millisecond
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "publisher")
	}

	name := deps.Name
	if name == "" {
		name = "publisher"
	}

	wakes := make(map[string]chan struct{}, len(message.Policies))
	for topic := range message.Policies {
		wakes[topic] = make(chan struct{}, 1)
	}

	return &Publisher{
		name:     name,
		cfg:      cfg,
		bus:      deps.Bus,
		store:    deps.Outbox,
		deviceID: deps.DeviceID,
		logger:   logger,
		registry: deps.MetricsRegistry,
		backoff: retry.Config{
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
			Multiplier:   cfg.Multiplier,
			AddJitter:    true,
		},
		wakes: wakes,
	}
}

// Name returns the component name
func (p *Publisher) Name() string { return p.name }

// Initialize validates the publisher wiring
func (p *Publisher) Initialize() error {
	if p.bus == nil {
		return errors.WrapInvalid(fmt.Errorf("no bus configured"),
			"Publisher", "Initialize", "validation")
	}
	if p.store == nil {
		return errors.WrapInvalid(fmt.Errorf("no outbox configured"),
			"Publisher", "Initialize", "validation")
	}
	return nil
}

// Start launches one drain loop per topic
func (p *Publisher) Start(_ context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Publisher", "Start", "start")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for topic := range p.wakes {
		p.wg.Add(1)
		go p.drainLoop(loopCtx, topic)
	}
	p.logger.Info("Publisher started", "topics", len(p.wakes))
	return nil
}

// Stop halts the drain loops. Undelivered entries stay in the outbox for
// the next run.
func (p *Publisher) Stop(timeout time.Duration) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("drain loops still running after %v", timeout),
			"Publisher", "Stop", "wait for drain loops")
	}
	p.logger.Info("Publisher stopped",
		"delivered", p.delivered.Load(),
		"failed_attempts", p.failed.Load())
	return nil
}

// Wake prompts the topic's drain loop instead of waiting for its idle poll
func (p *Publisher) Wake(topic string) {
	if ch, ok := p.wakes[topic]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Publisher) drainLoop(ctx context.Context, topic string) {
	defer p.wg.Done()

	policy := message.PolicyFor(topic)
	round := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wakes[topic]:
		case <-time.After(p.cfg.IdlePoll):
		}

		for {
			delivered, err := p.drainOne(ctx, policy)
			if err != nil {
				round++
				p.failed.Add(1)
				if p.registry != nil {
					p.registry.CoreMetrics().RecordPublish(topic, "error")
				}
				delay := p.backoff.Backoff(round)
				p.logger.Warn("Delivery failed, backing off",
					"topic", topic,
					"round", round,
					"delay", delay,
					"error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			round = 0
			if !delivered {
				break
			}
		}
	}
}

// drainOne delivers and settles the next entry for the topic. It reports
// whether an entry was delivered so the caller can keep draining.
func (p *Publisher) drainOne(ctx context.Context, policy message.Policy) (bool, error) {
	var entry outbox.Entry
	if policy.Retained {
		// Latest wins on retained topics: settle everything older first
		latest, ok := p.store.LatestPending(policy.Topic)
		if !ok {
			return false, nil
		}
		if _, err := p.store.SupersedeOlder(policy.Topic, latest.ID); err != nil {
			return false, err
		}
		entry = latest
	} else {
		batch := p.store.NextPending(policy.Topic, 1)
		if len(batch) == 0 {
			return false, nil
		}
		entry = batch[0]
	}

	if err := p.deliver(ctx, policy, entry); err != nil {
		return false, err
	}

	if err := p.store.MarkAcknowledged(entry.ID); err != nil {
		// Settling can race a supersede; the entry is gone either way
		if !errors.IsInvalid(err) {
			return false, err
		}
	}
	p.delivered.Add(1)
	if p.registry != nil {
		p.registry.CoreMetrics().RecordPublish(policy.Topic, "ok")
	}
	return true, nil
}

func (p *Publisher) deliver(ctx context.Context, policy message.Policy, entry outbox.Entry) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if policy.Retained {
		if err := p.bus.PutRetained(attemptCtx, policy.Topic, entry.Payload); err != nil {
			return err
		}
		// Retained topics also publish live for current subscribers
		return p.bus.Publish(attemptCtx, policy.Topic, entry.Payload)
	}

	switch entry.QoS {
	case message.QoSBestEffort:
		return p.bus.Publish(attemptCtx, policy.Topic, entry.Payload)
	case message.QoSAtLeastOnce:
		return p.bus.PublishAck(attemptCtx, policy.Topic, "", entry.Payload)
	case message.QoSExactlyOnce:
		// A stable id keyed on the entry sequence lets the broker drop
		// redelivered duplicates
		msgID := fmt.Sprintf("%s-%d", p.deviceID, entry.ID)
		return p.bus.PublishAck(attemptCtx, policy.Topic, msgID, entry.Payload)
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown qos %d", entry.QoS),
			"Publisher", "deliver", policy.Topic)
	}
}

// Stats returns delivery counters
func (p *Publisher) Stats() (delivered, failedAttempts int64) {
	return p.delivered.Load(), p.failed.Load()
}

// Health reports degraded while the bus is unhealthy with entries waiting
func (p *Publisher) Health() component.HealthStatus {
	if !p.running.Load() {
		return component.NewUnhealthy(p.name, "not running")
	}
	if !p.bus.IsHealthy() {
		depth := p.store.Depth()
		if depth > 0 {
			return component.NewDegraded(p.name,
				fmt.Sprintf("bus unavailable, %d entries buffered", depth))
		}
		return component.NewDegraded(p.name, "bus unavailable")
	}
	return component.NewHealthy(p.name, "draining")
}
