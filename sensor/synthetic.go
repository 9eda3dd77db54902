package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Synthetic generates physiologically plausible readings for one sensor kind.
// It stands in for the hardware drivers (pulse oximeter, contact thermometer,
// environmental sensor, IMU) in development and testing.
type Synthetic struct {
	id    string
	kind  telemetry.SensorKind
	clock clock.Clock

	mu    sync.Mutex
	rng   *rand.Rand
	phase float64
	drift float64
}

// NewSynthetic creates a synthetic source. A zero seed derives one from the
// current time so independent sources do not emit identical noise.
func NewSynthetic(id string, kind telemetry.SensorKind, seed int64, clk clock.Clock) *Synthetic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Synthetic{
		id:    id,
		kind:  kind,
		clock: clk,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// ID returns the source identifier
func (s *Synthetic) ID() string { return s.id }

// Kind returns the sensor class
func (s *Synthetic) Kind() telemetry.SensorKind { return s.kind }

// Read produces one sample immediately
func (s *Synthetic) Read(ctx context.Context) (telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase += 0.05
	s.drift += s.rng.NormFloat64() * 0.01

	values := make(map[string]float64)
	switch s.kind {
	case telemetry.KindPulseOx:
		// Heart rate wanders around a resting baseline with respiratory variation
		values[telemetry.ChanHeartRate] = 72 + 4*math.Sin(s.phase) + s.rng.NormFloat64()*1.5 + s.drift
		values[telemetry.ChanSpO2] = clamp(98+s.rng.NormFloat64()*0.4, 90, 100)

	case telemetry.KindBodyTemp:
		values[telemetry.ChanBodyTemp] = 36.8 + 0.1*math.Sin(s.phase/20) + s.rng.NormFloat64()*0.05

	case telemetry.KindEnvironment:
		values[telemetry.ChanAmbientTemp] = 24 + 0.5*math.Sin(s.phase/50) + s.rng.NormFloat64()*0.1
		values[telemetry.ChanHumidity] = clamp(45+s.rng.NormFloat64()*2, 0, 100)
		values[telemetry.ChanPressure] = 1013 + s.rng.NormFloat64()*0.5

	case telemetry.KindMotion:
		// Gravity on Z plus small tremor noise, units of g and deg/s
		values[telemetry.ChanAccelX] = s.rng.NormFloat64() * 0.05
		values[telemetry.ChanAccelY] = s.rng.NormFloat64() * 0.05
		values[telemetry.ChanAccelZ] = 1 + s.rng.NormFloat64()*0.05
		values[telemetry.ChanGyroX] = s.rng.NormFloat64() * 2
		values[telemetry.ChanGyroY] = s.rng.NormFloat64() * 2
		values[telemetry.ChanGyroZ] = s.rng.NormFloat64() * 2
	}

	return telemetry.Reading{
		SensorID:  s.id,
		Kind:      s.kind,
		Timestamp: s.clock.Now(),
		Values:    values,
	}, nil
}

// DefaultSources returns one synthetic source per sensor kind, mirroring the
// physical device complement: pulse oximeter, skin thermometer, environment
// sensor and IMU.
func DefaultSources(seed int64, clk clock.Clock) []Source {
	next := func(offset int64) int64 {
		if seed == 0 {
			return 0
		}
		return seed + offset
	}
	return []Source{
		NewSynthetic("max30102", telemetry.KindPulseOx, next(1), clk),
		NewSynthetic("ds18b20", telemetry.KindBodyTemp, next(2), clk),
		NewSynthetic("bme280", telemetry.KindEnvironment, next(3), clk),
		NewSynthetic("mpu6050", telemetry.KindMotion, next(4), clk),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
