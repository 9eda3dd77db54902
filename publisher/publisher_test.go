package publisher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/outbox"
)

type sentMsg struct {
	Subject  string
	MsgID    string
	Payload  string
	Retained bool
}

type fakeBus struct {
	mu      sync.Mutex
	healthy bool
	sent    []sentMsg
}

func newFakeBus(healthy bool) *fakeBus {
	return &fakeBus{healthy: healthy}
}

func (b *fakeBus) setHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

func (b *fakeBus) record(msg sentMsg) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.healthy {
		return errors.ErrNotConnected
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	return b.record(sentMsg{Subject: subject, Payload: string(data)})
}

func (b *fakeBus) PublishAck(_ context.Context, subject, msgID string, data []byte) error {
	return b.record(sentMsg{Subject: subject, MsgID: msgID, Payload: string(data)})
}

func (b *fakeBus) PutRetained(_ context.Context, topic string, data []byte) error {
	return b.record(sentMsg{Subject: topic, Payload: string(data), Retained: true})
}

func (b *fakeBus) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *fakeBus) sentOn(subject string) []sentMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMsg
	for _, m := range b.sent {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func testPublisher(t *testing.T, bus Bus, store *outbox.Outbox) *Publisher {
	t.Helper()
	p := NewPublisher(Deps{
		Config: Config{
			PublishTimeout: time.Second,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Multiplier:     2.0,
			IdlePoll:       20 * time.Millisecond,
		},
		Bus:      bus,
		Outbox:   store,
		DeviceID: "band-01",
	})
	require.NoError(t, p.Initialize())
	return p
}

func testOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	o := outbox.NewOutbox(outbox.Deps{Config: outbox.Config{Dir: t.TempDir()}})
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { o.Stop(time.Second) })
	return o
}

func TestBufferedEntriesDrainOldestFirstAfterReconnect(t *testing.T) {
	store := testOutbox(t)
	bus := newFakeBus(false)

	for i := 0; i < 5; i++ {
		_, err := store.Enqueue(message.TopicRecommendation,
			[]byte(fmt.Sprintf("rec-%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
	}

	p := testPublisher(t, bus, store)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	// Nothing can leave while the bus is down
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, bus.sentOn(message.TopicRecommendation))
	assert.Equal(t, 5, store.Depth())

	bus.setHealthy(true)

	require.Eventually(t, func() bool {
		return store.Depth() == 0
	}, 3*time.Second, 10*time.Millisecond)

	sent := bus.sentOn(message.TopicRecommendation)
	require.Len(t, sent, 5)
	for i, msg := range sent {
		assert.Equal(t, fmt.Sprintf("rec-%d", i), msg.Payload)
	}
}

func TestExactlyOnceCarriesStableMessageID(t *testing.T) {
	store := testOutbox(t)
	bus := newFakeBus(true)

	id, err := store.Enqueue(message.TopicAlerts, []byte("alert"), message.QoSExactlyOnce)
	require.NoError(t, err)

	p := testPublisher(t, bus, store)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)
	p.Wake(message.TopicAlerts)

	require.Eventually(t, func() bool {
		return len(bus.sentOn(message.TopicAlerts)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := bus.sentOn(message.TopicAlerts)[0]
	assert.Equal(t, fmt.Sprintf("band-01-%d", id), msg.MsgID)
}

func TestBestEffortPublishesWithoutAck(t *testing.T) {
	store := testOutbox(t)
	bus := newFakeBus(true)

	_, err := store.Enqueue(message.TopicSensors, []byte("vitals"), message.QoSBestEffort)
	require.NoError(t, err)

	p := testPublisher(t, bus, store)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)
	p.Wake(message.TopicSensors)

	require.Eventually(t, func() bool {
		return len(bus.sentOn(message.TopicSensors)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, bus.sentOn(message.TopicSensors)[0].MsgID)
	assert.Equal(t, 0, store.Depth())
}

func TestRetainedTopicDeliversLatestOnly(t *testing.T) {
	store := testOutbox(t)
	bus := newFakeBus(true)

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(message.TopicStatus,
			[]byte(fmt.Sprintf("status-%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
	}

	p := testPublisher(t, bus, store)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)
	p.Wake(message.TopicStatus)

	require.Eventually(t, func() bool {
		return store.Depth() == 0
	}, 2*time.Second, 10*time.Millisecond)

	sent := bus.sentOn(message.TopicStatus)
	var retained []sentMsg
	for _, m := range sent {
		if m.Retained {
			retained = append(retained, m)
		}
	}
	require.Len(t, retained, 1, "older retained values are superseded, not sent")
	assert.Equal(t, "status-2", retained[0].Payload)
}

func TestHealthDegradedWhileBusDown(t *testing.T) {
	store := testOutbox(t)
	bus := newFakeBus(false)

	_, err := store.Enqueue(message.TopicRecommendation, []byte("x"), message.QoSAtLeastOnce)
	require.NoError(t, err)

	p := testPublisher(t, bus, store)
	assert.False(t, p.Health().Healthy, "not running yet")

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	health := p.Health()
	assert.Equal(t, "degraded", health.Status)
	assert.Contains(t, health.Message, "buffered")

	bus.setHealthy(true)
	require.Eventually(t, func() bool {
		return p.Health().Healthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDoubleStartRejected(t *testing.T) {
	store := testOutbox(t)
	p := testPublisher(t, newFakeBus(true), store)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)
	assert.Error(t, p.Start(context.Background()))
}
