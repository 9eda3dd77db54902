package synchro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/telemetry"
)

func reading(kind telemetry.SensorKind, ts time.Time, values map[string]float64) telemetry.Reading {
	return telemetry.Reading{
		SensorID:  "test-" + string(kind),
		Kind:      kind,
		Timestamp: ts,
		Values:    values,
	}
}

func allKindsAt(ts time.Time) []telemetry.Reading {
	return []telemetry.Reading{
		reading(telemetry.KindPulseOx, ts, map[string]float64{
			telemetry.ChanHeartRate: 72, telemetry.ChanSpO2: 98,
		}),
		reading(telemetry.KindBodyTemp, ts, map[string]float64{
			telemetry.ChanBodyTemp: 36.8,
		}),
		reading(telemetry.KindEnvironment, ts, map[string]float64{
			telemetry.ChanAmbientTemp: 24, telemetry.ChanHumidity: 45, telemetry.ChanPressure: 1013,
		}),
		reading(telemetry.KindMotion, ts, map[string]float64{
			telemetry.ChanAccelX: 0.01, telemetry.ChanAccelY: 0.01, telemetry.ChanAccelZ: 1.0,
			telemetry.ChanGyroX: 0, telemetry.ChanGyroY: 0, telemetry.ChanGyroZ: 0,
		}),
	}
}

func TestAdvanceEmitsCompleteFrame(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Ingest(allKindsAt(now))
	frame, ok := s.Advance(now.Add(50 * time.Millisecond))

	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Sequence)
	assert.Empty(t, frame.Missing)
	assert.Empty(t, frame.Flags)
	assert.Equal(t, 72.0, frame.Channels[telemetry.ChanHeartRate])
	assert.Equal(t, 36.8, frame.Channels[telemetry.ChanBodyTemp])
	assert.Len(t, frame.Channels, 12)
}

func TestAdvanceWaitsWhenKindStale(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Everything except motion
	s.Ingest(allKindsAt(now)[:3])

	_, ok := s.Advance(now.Add(100 * time.Millisecond))
	assert.False(t, ok, "should hold the frame while a kind is missing")
}

func TestAdvanceForcesPartialFrameAtDeadline(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Prime lastEmit, then go quiet on motion
	s.Ingest(allKindsAt(now))
	_, ok := s.Advance(now)
	require.True(t, ok)

	later := now.Add(1100 * time.Millisecond)
	s.Ingest(allKindsAt(later)[:3])

	frame, ok := s.Advance(later)
	require.True(t, ok)
	assert.Equal(t, []telemetry.SensorKind{telemetry.KindMotion}, frame.Missing)
	assert.True(t, frame.HasFlag(telemetry.FlagMissing))
	assert.NotContains(t, frame.Channels, telemetry.ChanAccelX)
	assert.Contains(t, frame.Channels, telemetry.ChanHeartRate)
}

func TestSequenceAndTimestampMonotonic(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Ingest(allKindsAt(now))
	first, ok := s.Advance(now)
	require.True(t, ok)

	// Same instant again: timestamp must still move forward
	s.Ingest(allKindsAt(now))
	second, ok := s.Advance(now)
	require.True(t, ok)

	assert.Equal(t, first.Sequence+1, second.Sequence)
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestFrameCarriesMedianReadingTimestamp(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Sensors sampled at staggered instants inside the tolerance
	all := allKindsAt(now)
	for i := range all {
		all[i].Timestamp = now.Add(time.Duration(i*10) * time.Millisecond)
	}
	s.Ingest(all)

	frame, ok := s.Advance(now.Add(100 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, now.Add(15*time.Millisecond), frame.Timestamp,
		"frame timestamp is the median of the contributing readings, not the tick instant")
}

func TestOutlierRejection(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Build up filter history with stable heart rates
	for i := 0; i < 20; i++ {
		ts := now.Add(time.Duration(i) * 250 * time.Millisecond)
		s.Ingest([]telemetry.Reading{reading(telemetry.KindPulseOx, ts, map[string]float64{
			telemetry.ChanHeartRate: 72 + float64(i%3),
			telemetry.ChanSpO2:      98,
		})})
	}

	// A physically implausible spike
	spikeTime := now.Add(6 * time.Second)
	s.Ingest([]telemetry.Reading{reading(telemetry.KindPulseOx, spikeTime, map[string]float64{
		telemetry.ChanHeartRate: 300,
		telemetry.ChanSpO2:      98,
	})})

	_, _, rejected := s.Stats()
	assert.Equal(t, uint64(1), rejected)

	// The surviving SpO2 value still updates the pulse ox slot
	s.Ingest(allKindsAt(spikeTime)[1:])
	frame, ok := s.Advance(spikeTime.Add(50 * time.Millisecond))
	require.True(t, ok)
	assert.True(t, frame.HasFlag(telemetry.FlagOutlier))
	assert.NotEqual(t, 300.0, frame.Channels[telemetry.ChanHeartRate])
}

func TestMotionSuspectFlag(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	readings := allKindsAt(now)
	// Vigorous movement: nearly 1 g of acceleration beyond gravity
	readings[3].Values[telemetry.ChanAccelX] = 1.5
	readings[3].Values[telemetry.ChanAccelY] = 0.8

	s.Ingest(readings)
	frame, ok := s.Advance(now)
	require.True(t, ok)
	assert.True(t, frame.HasFlag(telemetry.FlagMotionSuspect))
}

func TestHealthDegradedAfterPartialFrame(t *testing.T) {
	s := NewSynchronizer(Deps{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Ingest(allKindsAt(now))
	_, ok := s.Advance(now)
	require.True(t, ok)
	assert.True(t, s.Health().Healthy)

	// All sensors go quiet past the deadline
	_, ok = s.Advance(now.Add(2 * time.Second))
	require.True(t, ok)

	health := s.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, "degraded", health.Status)
}
