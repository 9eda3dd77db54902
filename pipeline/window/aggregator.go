// Package window accumulates aligned frames into overlapping fixed-size
// windows and reduces each closed window to a feature vector for inference.
package window

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Config holds windowing settings
type Config struct {
	// Size is the window length
	Size time.Duration `json:"size"`
	// Overlap is the fraction of Size shared between consecutive windows
	Overlap float64 `json:"overlap"`
	// MinSamples is the per-kind sample count below which a window is
	// marked incomplete, keyed by sensor kind
	MinSamples map[string]int `json:"min_samples"`
}

// Deps holds runtime dependencies for the aggregator
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

type openWindow struct {
	id     string
	index  int64
	start  time.Time
	end    time.Time
	frames []telemetry.Frame
}

// Aggregator assigns each frame to every window covering its timestamp and
// closes windows in start order once the clock passes their end.
type Aggregator struct {
	name     string
	cfg      Config
	hop      time.Duration
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mu        sync.Mutex
	origin    time.Time
	nextIndex int64
	open      []*openWindow

	closed     uint64
	incomplete uint64
}

var _ component.Component = (*Aggregator)(nil)
var _ component.HealthReporter = (*Aggregator)(nil)

// NewAggregator creates a window aggregator
func NewAggregator(deps Deps) *Aggregator {
	cfg := deps.Config
	if cfg.Size <= 0 {
		cfg.Size = 30 * time.Second
	}
	if cfg.Overlap < 0 || cfg.Overlap >= 1 {
		cfg.Overlap = 0.5
	}
	if cfg.MinSamples == nil {
		cfg.MinSamples = map[string]int{
			string(telemetry.KindPulseOx):     8,
			string(telemetry.KindBodyTemp):    2,
			string(telemetry.KindEnvironment): 2,
			string(telemetry.KindMotion):      8,
		}
	}

	hop := time.Duration(float64(cfg.Size) * (1 - cfg.Overlap))
	if hop <= 0 {
		hop = cfg.Size
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "window-aggregator")
	}

	name := deps.Name
	if name == "" {
		name = "window-aggregator"
	}

	return &Aggregator{
		name:     name,
		cfg:      cfg,
		hop:      hop,
		logger:   logger,
		registry: deps.MetricsRegistry,
	}
}

// Name returns the component name
func (a *Aggregator) Name() string { return a.name }

// Push assigns a frame to every open window that covers its timestamp,
// creating windows on the hop grid as the frame stream reaches them
func (a *Aggregator) Push(frame telemetry.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.origin.IsZero() {
		a.origin = frame.Timestamp
	}

	// Highest grid index whose window starts at or before this frame
	latest := int64(frame.Timestamp.Sub(a.origin) / a.hop)
	for idx := a.nextIndex; idx <= latest; idx++ {
		start := a.origin.Add(time.Duration(idx) * a.hop)
		a.open = append(a.open, &openWindow{
			id:    uuid.NewString(),
			index: idx,
			start: start,
			end:   start.Add(a.cfg.Size),
		})
	}
	if latest >= a.nextIndex {
		a.nextIndex = latest + 1
	}

	for _, w := range a.open {
		if !frame.Timestamp.Before(w.start) && frame.Timestamp.Before(w.end) {
			w.frames = append(w.frames, frame)
		}
	}
}

// Advance closes every window whose end has passed and returns their
// feature vectors in window start order. Empty windows are dropped.
func (a *Aggregator) Advance(now time.Time) []telemetry.FeatureVector {
	a.mu.Lock()
	defer a.mu.Unlock()

	var vectors []telemetry.FeatureVector
	remaining := a.open[:0]
	for _, w := range a.open {
		if w.end.After(now) {
			remaining = append(remaining, w)
			continue
		}
		if len(w.frames) == 0 {
			a.logger.Debug("Dropping empty window", "start", w.start)
			continue
		}

		vector := a.reduce(w)
		vectors = append(vectors, vector)
		a.closed++

		status := "ok"
		if !vector.Complete {
			a.incomplete++
			status = "incomplete"
		}
		if a.registry != nil {
			a.registry.CoreMetrics().RecordWindow(status)
		}
	}
	a.open = remaining
	return vectors
}

// PendingCount returns the number of windows still accumulating frames
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// Flush closes all open windows regardless of the clock, used during
// shutdown to avoid losing the trailing partial windows
func (a *Aggregator) Flush() []telemetry.FeatureVector {
	a.mu.Lock()
	end := a.origin
	for _, w := range a.open {
		if w.end.After(end) {
			end = w.end
		}
	}
	a.mu.Unlock()
	return a.Advance(end)
}

// reduce computes the feature vector of a closed window. Optical channels
// from motion suspect frames are excluded from heart rate and SpO2 features
// but still contribute to motion energy.
func (a *Aggregator) reduce(w *openWindow) telemetry.FeatureVector {
	var hr, spo2 []float64
	var tempTimes, temps []float64
	var ambient, humidity, pressure []float64
	var energies []float64
	var steadyFrames int
	counts := make(map[string]int)

	for i := range w.frames {
		frame := &w.frames[i]
		suspect := frame.HasFlag(telemetry.FlagMotionSuspect)

		if v, ok := frame.Channels[telemetry.ChanHeartRate]; ok {
			counts[string(telemetry.KindPulseOx)]++
			if !suspect {
				hr = append(hr, v)
				if s, ok := frame.Channels[telemetry.ChanSpO2]; ok {
					spo2 = append(spo2, s)
				}
			}
		}
		if v, ok := frame.Channels[telemetry.ChanBodyTemp]; ok {
			counts[string(telemetry.KindBodyTemp)]++
			tempTimes = append(tempTimes, frame.Timestamp.Sub(w.start).Seconds())
			temps = append(temps, v)
		}
		if v, ok := frame.Channels[telemetry.ChanAmbientTemp]; ok {
			counts[string(telemetry.KindEnvironment)]++
			ambient = append(ambient, v)
			humidity = append(humidity, frame.Channels[telemetry.ChanHumidity])
			pressure = append(pressure, frame.Channels[telemetry.ChanPressure])
		}
		if ax, ok := frame.Channels[telemetry.ChanAccelX]; ok {
			counts[string(telemetry.KindMotion)]++
			ay := frame.Channels[telemetry.ChanAccelY]
			az := frame.Channels[telemetry.ChanAccelZ]
			energies = append(energies, motionEnergy(ax, ay, az))
		}
		if !suspect {
			steadyFrames++
		}
	}

	features := map[string]float64{
		telemetry.FeatureHRMean:          mean(hr),
		telemetry.FeatureHRRMSSD:         rmssd(hr),
		telemetry.FeatureSpO2Mean:        mean(spo2),
		telemetry.FeatureBodyTempSlope:   slopePerMinute(tempTimes, temps),
		telemetry.FeatureMotionEnergy:    mean(energies),
		telemetry.FeatureAmbientTempMean: mean(ambient),
		telemetry.FeatureHumidityMean:    mean(humidity),
		telemetry.FeaturePressureMean:    mean(pressure),
		telemetry.FeatureSignalQuality:   float64(steadyFrames) / float64(len(w.frames)),
	}

	complete := true
	for kind, minCount := range a.cfg.MinSamples {
		if counts[kind] < minCount {
			complete = false
			break
		}
	}

	var flags []telemetry.QualityFlag
	if !complete {
		flags = append(flags, telemetry.FlagIncomplete)
	}
	for _, flag := range []telemetry.QualityFlag{
		telemetry.FlagMissing, telemetry.FlagOutlier, telemetry.FlagMotionSuspect,
	} {
		for i := range w.frames {
			if w.frames[i].HasFlag(flag) {
				flags = append(flags, flag)
				break
			}
		}
	}

	return telemetry.FeatureVector{
		WindowID:   w.id,
		Start:      w.start,
		End:        w.end,
		FrameCount: len(w.frames),
		Complete:   complete,
		Features:   features,
		Flags:      flags,
	}
}

// Stats returns window closure statistics
func (a *Aggregator) Stats() (closed, incomplete uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed, a.incomplete
}

// Health reports degraded when more than half of closed windows were
// incomplete
func (a *Aggregator) Health() component.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed > 0 && a.incomplete*2 > a.closed {
		return component.NewDegraded(a.name, "majority of windows incomplete")
	}
	return component.NewHealthy(a.name, "windows closing on schedule")
}

// motionEnergy is the squared deviation of acceleration magnitude from the
// 1 g gravity baseline, so a still wearer contributes near zero
func motionEnergy(ax, ay, az float64) float64 {
	d := math.Sqrt(ax*ax+ay*ay+az*az) - 1
	return d * d
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// rmssd is the root mean square of successive differences, a short-window
// heart rate variability estimate
func rmssd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// slopePerMinute fits a least squares line over (seconds, value) pairs and
// returns the slope scaled to units per minute
func slopePerMinute(times, values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumT, sumV, sumTV, sumTT float64
	for i := range values {
		sumT += times[i]
		sumV += values[i]
		sumTV += times[i] * values[i]
		sumTT += times[i] * times[i]
	}
	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		return 0
	}
	return (n*sumTV - sumT*sumV) / denom * 60
}
