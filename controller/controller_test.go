package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/config"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/sensor"
	"github.com/ola-oye/VitaBand/telemetry"
)

type fakeBus struct {
	mu           sync.Mutex
	healthy      bool
	connected    bool
	connectFails int
	connectCalls int
}

func (b *fakeBus) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectCalls++
	if b.connectFails > 0 {
		b.connectFails--
		return errFakeBusDown
	}
	b.connected = true
	b.healthy = true
	return nil
}

func (b *fakeBus) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectCalls
}

var errFakeBusDown = fmt.Errorf("bus down")

func (b *fakeBus) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.healthy = false
	return nil
}

func (b *fakeBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (b *fakeBus) PublishAck(_ context.Context, _, _ string, _ []byte) error { return nil }

func (b *fakeBus) PutRetained(_ context.Context, _ string, _ []byte) error { return nil }

func (b *fakeBus) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *fakeBus) RTT() (time.Duration, error) { return time.Millisecond, nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Device.ID = "band-test"
	cfg.Outbox.Dir = t.TempDir()
	cfg.Window.Size = config.Duration(2 * time.Second)
	cfg.Window.MinSamples = map[string]int{
		"pulse_ox":    2,
		"body_temp":   1,
		"environment": 1,
		"motion":      2,
	}
	cfg.Controller.FastTick = config.Duration(250 * time.Millisecond)
	cfg.Controller.HeartbeatInterval = config.Duration(time.Second)
	cfg.Controller.StatusInterval = config.Duration(2 * time.Second)
	cfg.Controller.ShutdownGrace = config.Duration(2 * time.Second)
	return cfg
}

func newTestController(t *testing.T) (*Controller, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	c := New(Deps{
		Config:  testConfig(t),
		Bus:     &fakeBus{},
		Sources: sensor.DefaultSources(42, fc),
		Clock:   fc,
	})
	require.NoError(t, c.Initialize())
	return c, fc
}

func decodePayloads[T any](t *testing.T, c *Controller, topic string) []T {
	t.Helper()
	var out []T
	for _, entry := range c.store.NextPending(topic, 100) {
		var payload T
		require.NoError(t, json.Unmarshal(entry.Payload, &payload))
		out = append(out, payload)
	}
	return out
}

func TestVitalsSnapshotOncePerClosedWindow(t *testing.T) {
	c, fc := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.poller.Start(ctx))
	require.NoError(t, c.dispatcher.Start(ctx))
	defer c.poller.Stop(time.Second)
	defer c.dispatcher.Stop(2 * time.Second)
	defer c.store.Stop(time.Second)

	// One second of frames: no window has closed, so no vitals yet
	for i := 0; i < 4; i++ {
		fc.Advance(250 * time.Millisecond)
		c.onFastTick(ctx, fc.Now())
	}
	assert.Empty(t, c.store.NextPending(message.TopicSensors, 10),
		"vitals wait for the first window to close")

	for i := 0; i < 16; i++ {
		fc.Advance(250 * time.Millisecond)
		c.onFastTick(ctx, fc.Now())
	}

	require.Eventually(t, func() bool {
		closed, _ := c.aggregator.Stats()
		return closed > 0 && len(c.store.NextPending(message.TopicSensors, 100)) == int(closed)
	}, 3*time.Second, 10*time.Millisecond, "exactly one snapshot per closed window")

	snapshots := decodePayloads[message.VitalsSnapshot](t, c, message.TopicSensors)
	require.NotEmpty(t, snapshots)
	first := snapshots[0]
	assert.Equal(t, "band-test", first.DeviceID)
	assert.NotEmpty(t, first.WindowID)
	assert.Contains(t, first.Channels, "heart_rate_bpm")
	assert.Contains(t, first.Channels, "body_temp_c")
	assert.Empty(t, first.Missing)

	// Later windows snapshot later frames
	for i := 1; i < len(snapshots); i++ {
		assert.Greater(t, snapshots[i].Sequence, snapshots[i-1].Sequence)
	}
}

func TestQuietWindowSkipsRecommendation(t *testing.T) {
	c, fc := newTestController(t)
	defer c.store.Stop(time.Second)

	// A degraded window with no labels matches no interpretation rule
	vector := telemetry.FeatureVector{WindowID: "w-quiet", Complete: true,
		Features: map[string]float64{}}
	c.trackVector(vector)
	c.onInference(telemetry.InferenceResult{
		WindowID:   "w-quiet",
		Degraded:   true,
		ProducedAt: fc.Now(),
	})

	assert.Empty(t, c.store.NextPending(message.TopicRecommendation, 10),
		"no recommendation when no rule fired")
	assert.Empty(t, c.store.NextPending(message.TopicAlerts, 10))

	snapshots := decodePayloads[message.VitalsSnapshot](t, c, message.TopicSensors)
	require.Len(t, snapshots, 1, "vitals still go out for the window")
	assert.Equal(t, "w-quiet", snapshots[0].WindowID)
}

func TestBusRedialedUntilConnected(t *testing.T) {
	bus := &fakeBus{connectFails: 3}
	fc := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig(t)
	c := New(Deps{
		Config:  cfg,
		Bus:     bus,
		Sources: sensor.DefaultSources(42, fc),
		Clock:   fc,
	})
	require.NoError(t, c.Initialize())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	assert.False(t, bus.IsHealthy(), "first attempt fails, pipeline keeps running")

	for i := 0; i < 10 && !bus.IsHealthy(); i++ {
		fc.Advance(cfg.Bus.ReconnectWait.Std())
		time.Sleep(20 * time.Millisecond)
	}

	assert.True(t, bus.IsHealthy(), "redial keeps going until the bus comes up")
	assert.GreaterOrEqual(t, bus.calls(), 4)
}

func TestUndroppableBacklogReportsUnhealthy(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig(t)
	cfg.Outbox.Capacity = 2
	cfg.Outbox.DropOldest = false
	c := New(Deps{
		Config:  cfg,
		Bus:     &fakeBus{},
		Sources: sensor.DefaultSources(42, fc),
		Clock:   fc,
	})
	require.NoError(t, c.Initialize())
	defer c.store.Stop(time.Second)

	// Alerts are acknowledged-delivery, so nothing may be evicted
	for i := 0; i < 3; i++ {
		c.enqueue(message.TopicAlerts, message.AlertMsg{WindowID: fmt.Sprintf("w%d", i)})
	}

	assert.Equal(t, 2, c.store.Depth(), "third alert rejected, first two kept")
	assert.Equal(t, "unhealthy", c.Health(),
		"a backlog the outbox may not shed is a configuration fault")
	assert.Equal(t, uint64(0), c.store.Evictions())
}

func TestWindowsFlowThroughToRecommendations(t *testing.T) {
	c, fc := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.poller.Start(ctx))
	require.NoError(t, c.dispatcher.Start(ctx))
	defer c.poller.Stop(time.Second)
	defer c.dispatcher.Stop(2 * time.Second)
	defer c.store.Stop(time.Second)

	// Step past two full windows
	for i := 0; i < 20; i++ {
		fc.Advance(250 * time.Millisecond)
		c.onFastTick(ctx, fc.Now())
	}

	require.Eventually(t, func() bool {
		return len(c.store.NextPending(message.TopicRecommendation, 10)) > 0
	}, 3*time.Second, 10*time.Millisecond)

	recs := decodePayloads[message.RecommendationMsg](t, c, message.TopicRecommendation)
	require.NotEmpty(t, recs)
	rec := recs[0]
	assert.Equal(t, "band-test", rec.DeviceID)
	assert.NotEmpty(t, rec.WindowID)
	assert.NotEmpty(t, rec.Labels)
	assert.NotEmpty(t, rec.Priority)
	assert.NotEmpty(t, rec.Actions)
	assert.Contains(t, rec.Vitals, "heart_rate_bpm")
}

func TestHeartbeatSequenceIncrements(t *testing.T) {
	c, fc := newTestController(t)
	defer c.store.Stop(time.Second)

	c.onHeartbeat(fc.Now())
	c.onHeartbeat(fc.Now().Add(30 * time.Second))

	beats := decodePayloads[message.HeartbeatMsg](t, c, message.TopicHeartbeat)
	require.Len(t, beats, 2)
	assert.Equal(t, uint64(1), beats[0].Sequence)
	assert.Equal(t, uint64(2), beats[1].Sequence)
}

func TestStatusReportsComponentHealth(t *testing.T) {
	c, fc := newTestController(t)
	defer c.store.Stop(time.Second)

	c.startTime = fc.Now()
	fc.Advance(90 * time.Second)
	c.onStatus(fc.Now())

	statuses := decodePayloads[message.StatusMsg](t, c, message.TopicStatus)
	require.Len(t, statuses, 1)
	status := statuses[0]

	assert.Equal(t, int64(90), status.UptimeSeconds)
	assert.NotEmpty(t, status.Components)
	// Poller and publisher are not running, so the device self-reports
	assert.Equal(t, "unhealthy", status.Overall)
	assert.True(t, status.Degraded)
	assert.False(t, status.BusConnected)
	assert.Empty(t, status.LastPriority)

	names := make(map[string]bool)
	for _, comp := range status.Components {
		names[comp.Name] = true
	}
	for _, want := range []string{"sensor-poller", "synchronizer", "window-aggregator",
		"inference-dispatcher", "interpreter", "outbox", "publisher"} {
		assert.True(t, names[want], "missing component %s", want)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	c, fc := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx), "second start rejected")

	// Let the loop see a few fast ticks
	for i := 0; i < 8; i++ {
		fc.Advance(250 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, c.Stop(ctx))
	assert.NoError(t, c.Stop(ctx), "second stop is a no-op")
}

// writeReplayCapture records one reading per sensor per fast tick, timestamps
// aligned to the fake clock's tick grid
func writeReplayCapture(t *testing.T, base time.Time, ticks int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := 1; i <= ticks; i++ {
		ts := base.Add(time.Duration(i) * 250 * time.Millisecond)
		readings := []telemetry.Reading{
			{SensorID: "max30102", Kind: telemetry.KindPulseOx, Timestamp: ts, Values: map[string]float64{
				telemetry.ChanHeartRate: 72, telemetry.ChanSpO2: 98,
			}},
			{SensorID: "ds18b20", Kind: telemetry.KindBodyTemp, Timestamp: ts, Values: map[string]float64{
				telemetry.ChanBodyTemp: 36.6,
			}},
			{SensorID: "bme280", Kind: telemetry.KindEnvironment, Timestamp: ts, Values: map[string]float64{
				telemetry.ChanAmbientTemp: 22, telemetry.ChanHumidity: 45, telemetry.ChanPressure: 1013,
			}},
			{SensorID: "mpu6050", Kind: telemetry.KindMotion, Timestamp: ts, Values: map[string]float64{
				telemetry.ChanAccelX: 0, telemetry.ChanAccelY: 0, telemetry.ChanAccelZ: 1,
			}},
		}
		for _, r := range readings {
			require.NoError(t, enc.Encode(r))
		}
	}
	return path
}

func TestReplayCaptureDrivesPipeline(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	path := writeReplayCapture(t, fc.Now(), 20)

	kinds := map[string]telemetry.SensorKind{
		"max30102": telemetry.KindPulseOx,
		"ds18b20":  telemetry.KindBodyTemp,
		"bme280":   telemetry.KindEnvironment,
		"mpu6050":  telemetry.KindMotion,
	}
	sources := make([]sensor.Source, 0, len(kinds))
	for id, kind := range kinds {
		src, err := sensor.NewReplay(id, kind, path, false)
		require.NoError(t, err)
		sources = append(sources, src)
	}

	c := New(Deps{
		Config:  testConfig(t),
		Bus:     &fakeBus{},
		Sources: sources,
		Clock:   fc,
	})
	require.NoError(t, c.Initialize())

	ctx := context.Background()
	require.NoError(t, c.poller.Start(ctx))
	require.NoError(t, c.dispatcher.Start(ctx))
	defer c.poller.Stop(time.Second)
	defer c.dispatcher.Stop(2 * time.Second)
	defer c.store.Stop(time.Second)

	for i := 0; i < 20; i++ {
		fc.Advance(250 * time.Millisecond)
		c.onFastTick(ctx, fc.Now())
	}

	require.Eventually(t, func() bool {
		return len(c.store.NextPending(message.TopicRecommendation, 10)) > 0
	}, 3*time.Second, 10*time.Millisecond)

	snapshots := decodePayloads[message.VitalsSnapshot](t, c, message.TopicSensors)
	require.NotEmpty(t, snapshots)
	assert.InDelta(t, 72, snapshots[0].Channels[telemetry.ChanHeartRate], 0.01)
	assert.Empty(t, snapshots[0].Missing)

	recs := decodePayloads[message.RecommendationMsg](t, c, message.TopicRecommendation)
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0].Labels, telemetry.LabelResting)
	assert.False(t, recs[0].Degraded)
}
