// Package outbox is the durable store-and-forward queue between the
// pipeline and the publisher. Every message is appended to a write-ahead
// log and synced before Enqueue returns, so accepted messages survive a
// crash; the publisher drains pending entries per topic in enqueue order
// and settles them once the delivery contract of their QoS level is met.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/pkg/clock"
)

// Entry is one queued message
type Entry struct {
	ID         uint64      `json:"id"`
	Topic      string      `json:"topic"`
	QoS        message.QoS `json:"qos"`
	Payload    []byte      `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// Config holds outbox settings
type Config struct {
	// Dir is the directory holding the write-ahead log
	Dir string `json:"dir"`
	// Capacity bounds the number of pending entries
	Capacity int `json:"capacity"`
	// DropOldest permits evicting the oldest pending entry of any QoS
	// level once best-effort entries are exhausted at capacity
	DropOldest bool `json:"drop_oldest"`
	// CompactThreshold triggers log compaction after this many settled
	// records
	CompactThreshold int `json:"compact_threshold"`
}

// Deps holds runtime dependencies for the outbox
type Deps struct {
	Name            string
	Config          Config
	Clock           clock.Clock
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Outbox is the durable queue. IDs are assigned from a strictly increasing
// sequence that never repeats across restarts.
type Outbox struct {
	name     string
	dir      string
	capacity int
	dropOld  bool
	compactN int
	clk      clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mu               sync.Mutex
	file             *os.File
	entries          map[uint64]*Entry
	queues           map[string][]*Entry
	nextID           uint64
	doneSinceCompact int
	evictions        uint64
	opened           bool
}

var _ component.LifecycleComponent = (*Outbox)(nil)
var _ component.HealthReporter = (*Outbox)(nil)

// NewOutbox creates the outbox. The log is not touched until Initialize.
func NewOutbox(deps Deps) *Outbox {
	cfg := deps.Config
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = 2000
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "outbox")
	}

	name := deps.Name
	if name == "" {
		name = "outbox"
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Outbox{
		name:     name,
		dir:      cfg.Dir,
		capacity: cfg.Capacity,
		dropOld:  cfg.DropOldest,
		compactN: cfg.CompactThreshold,
		clk:      clk,
		logger:   logger,
		registry: deps.MetricsRegistry,
		entries:  make(map[uint64]*Entry),
		queues:   make(map[string][]*Entry),
		nextID:   1,
	}
}

// Name returns the component name
func (o *Outbox) Name() string { return o.name }

// Initialize creates the store directory and replays the log
func (o *Outbox) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dir == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Outbox", "Initialize", "dir not set")
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return errors.WrapFatal(err, "Outbox", "Initialize", "create store dir")
	}

	if err := o.recover(filepath.Join(o.dir, walName)); err != nil {
		return err
	}
	o.opened = true
	o.updateDepthMetric()
	o.logger.Info("Outbox recovered",
		"pending", len(o.entries),
		"next_id", o.nextID)
	return nil
}

// Start is a no-op; the outbox is passive storage
func (o *Outbox) Start(_ context.Context) error { return nil }

// Stop syncs and closes the log
func (o *Outbox) Stop(_ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.opened {
		return nil
	}
	o.opened = false
	if err := o.file.Sync(); err != nil {
		o.file.Close()
		return errors.Wrap(err, "Outbox", "Stop", "final sync")
	}
	return o.file.Close()
}

// Enqueue appends one message. When it returns nil the entry has reached
// stable storage. At capacity, best-effort entries are evicted oldest
// first; higher QoS entries are only evicted when DropOldest is set.
func (o *Outbox) Enqueue(topic string, payload []byte, qos message.QoS) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.opened {
		return 0, errors.WrapInvalid(errors.ErrNotStarted, "Outbox", "Enqueue", "store not open")
	}

	if len(o.entries) >= o.capacity {
		if err := o.evictOne(); err != nil {
			return 0, err
		}
	}

	entry := &Entry{
		ID:         o.nextID,
		Topic:      topic,
		QoS:        qos,
		Payload:    payload,
		EnqueuedAt: o.clk.Now(),
	}
	if err := o.appendRecord(walRecord{
		Op:      opEnqueue,
		ID:      entry.ID,
		Topic:   entry.Topic,
		QoS:     entry.QoS,
		Payload: entry.Payload,
		TS:      entry.EnqueuedAt,
	}); err != nil {
		return 0, err
	}

	o.nextID++
	o.entries[entry.ID] = entry
	o.queues[topic] = append(o.queues[topic], entry)
	o.updateDepthMetric()
	return entry.ID, nil
}

// evictOne frees one slot: oldest best-effort entry first, then the oldest
// entry of any level when DropOldest allows it
func (o *Outbox) evictOne() error {
	victim := o.oldestWith(func(e *Entry) bool { return e.QoS == message.QoSBestEffort })
	if victim == nil && o.dropOld {
		victim = o.oldestWith(func(*Entry) bool { return true })
	}
	if victim == nil {
		// Every pending entry is qos1 or above and drop-oldest is off:
		// the capacity is misconfigured for the workload
		return errors.WrapFatal(errors.ErrStorageCapacity, "Outbox", "Enqueue",
			fmt.Sprintf("%d entries pending, none evictable", len(o.entries)))
	}

	if err := o.appendRecord(walRecord{Op: opDone, ID: victim.ID}); err != nil {
		return err
	}
	o.removeLocked(victim.ID)
	o.doneSinceCompact++
	o.evictions++
	if o.registry != nil {
		o.registry.CoreMetrics().OutboxEvictions.Inc()
	}
	o.logger.Warn("Evicted entry at capacity",
		"id", victim.ID,
		"topic", victim.Topic,
		"qos", int(victim.QoS))
	return nil
}

func (o *Outbox) oldestWith(match func(*Entry) bool) *Entry {
	var oldest *Entry
	for _, entry := range o.entries {
		if !match(entry) {
			continue
		}
		if oldest == nil || entry.ID < oldest.ID {
			oldest = entry
		}
	}
	return oldest
}

// NextPending returns copies of up to max pending entries for the topic in
// enqueue order
func (o *Outbox) NextPending(topic string, max int) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	queue := o.queues[topic]
	if max > len(queue) {
		max = len(queue)
	}
	out := make([]Entry, 0, max)
	for _, entry := range queue[:max] {
		out = append(out, *entry)
	}
	return out
}

// LatestPending returns a copy of the newest pending entry for the topic
func (o *Outbox) LatestPending(topic string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	queue := o.queues[topic]
	if len(queue) == 0 {
		return Entry{}, false
	}
	return *queue[len(queue)-1], true
}

// MarkAcknowledged settles an entry once its delivery contract is met
func (o *Outbox) MarkAcknowledged(id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.opened {
		return errors.WrapInvalid(errors.ErrNotStarted, "Outbox", "MarkAcknowledged", "store not open")
	}
	if _, ok := o.entries[id]; !ok {
		return errors.WrapInvalid(errors.ErrEntryNotFound, "Outbox", "MarkAcknowledged",
			fmt.Sprintf("id %d", id))
	}

	if err := o.appendRecord(walRecord{Op: opDone, ID: id}); err != nil {
		return err
	}
	o.removeLocked(id)
	o.doneSinceCompact++
	o.updateDepthMetric()

	if o.doneSinceCompact >= o.compactN {
		if err := o.compact(); err != nil {
			o.logger.Error("Outbox compaction failed", "error", err)
			return err
		}
	}
	return nil
}

// SupersedeOlder settles every pending entry on the topic older than
// keepID. Used for retained topics where only the newest value matters.
func (o *Outbox) SupersedeOlder(topic string, keepID uint64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var superseded int
	for _, entry := range append([]*Entry{}, o.queues[topic]...) {
		if entry.ID >= keepID {
			continue
		}
		if err := o.appendRecord(walRecord{Op: opDone, ID: entry.ID}); err != nil {
			return superseded, err
		}
		o.removeLocked(entry.ID)
		o.doneSinceCompact++
		superseded++
	}
	if superseded > 0 {
		o.updateDepthMetric()
	}
	return superseded, nil
}

// removeLocked drops an entry from the map and its topic queue
func (o *Outbox) removeLocked(id uint64) {
	entry, ok := o.entries[id]
	if !ok {
		return
	}
	delete(o.entries, id)

	queue := o.queues[entry.Topic]
	for i, e := range queue {
		if e.ID == id {
			o.queues[entry.Topic] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(o.queues[entry.Topic]) == 0 {
		delete(o.queues, entry.Topic)
	}
}

// Depth returns the number of pending entries across all topics
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// PendingTopics returns the topics that currently have pending entries,
// sorted for stable iteration
func (o *Outbox) PendingTopics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topicOrder()
}

func (o *Outbox) topicOrder() []string {
	topics := make([]string, 0, len(o.queues))
	for topic := range o.queues {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Evictions returns the number of entries dropped at capacity
func (o *Outbox) Evictions() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evictions
}

func (o *Outbox) updateDepthMetric() {
	if o.registry != nil {
		o.registry.CoreMetrics().OutboxDepth.Set(float64(len(o.entries)))
	}
}

// Health reports degraded when the store is over 80 percent full
func (o *Outbox) Health() component.HealthStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.opened {
		return component.NewUnhealthy(o.name, "store not open")
	}
	if len(o.entries)*5 >= o.capacity*4 {
		return component.NewDegraded(o.name,
			fmt.Sprintf("%d of %d entries pending", len(o.entries), o.capacity))
	}
	return component.NewHealthy(o.name, "store nominal")
}
