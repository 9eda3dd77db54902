// Package synchro aligns raw sensor readings into time-coherent frames.
// Each sensor samples on its own schedule; the synchronizer holds the most
// recent reading per sensor kind and emits a frame when every kind has a
// sample inside the alignment tolerance, or when the frame deadline passes,
// in which case the stale kinds are marked missing.
package synchro

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Config holds alignment and data quality settings
type Config struct {
	// Tolerance is the maximum sample age for inclusion in a frame
	Tolerance time.Duration `json:"tolerance"`
	// FrameDeadline forces a partial frame after this long without one
	FrameDeadline time.Duration `json:"frame_deadline"`
	// OutlierWindow is the rolling sample count for the MAD filter
	OutlierWindow int `json:"outlier_window"`
	// OutlierMADs is the rejection threshold in multiples of MAD
	OutlierMADs float64 `json:"outlier_mads"`
	// MotionThreshold is the gravity-compensated acceleration energy above
	// which optical channels are flagged motion suspect, in g squared
	MotionThreshold float64 `json:"motion_threshold"`
}

// Deps holds runtime dependencies for the synchronizer
type Deps struct {
	Name            string
	Config          Config
	Kinds           []telemetry.SensorKind
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Synchronizer merges per-sensor readings into aligned frames. Ingest and
// Advance are driven by the controller on the fast tick.
type Synchronizer struct {
	name     string
	cfg      Config
	kinds    []telemetry.SensorKind
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mu           sync.Mutex
	latest       map[telemetry.SensorKind]telemetry.Reading
	filters      map[string]*rollingMAD
	seq          uint64
	lastEmit     time.Time // timestamp of the last emitted frame
	lastDeadline time.Time // tick instant of the last emission, for the deadline check
	lastMissing  int
	outlierHit   bool

	frames   uint64
	partials uint64
	rejected uint64
}

var _ component.Component = (*Synchronizer)(nil)
var _ component.HealthReporter = (*Synchronizer)(nil)

// NewSynchronizer creates a synchronizer for the given sensor kinds
func NewSynchronizer(deps Deps) *Synchronizer {
	cfg := deps.Config
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 250 * time.Millisecond
	}
	if cfg.FrameDeadline <= 0 {
		cfg.FrameDeadline = time.Second
	}
	if cfg.OutlierWindow <= 0 {
		cfg.OutlierWindow = 15
	}
	if cfg.OutlierMADs <= 0 {
		cfg.OutlierMADs = 4.0
	}
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = 0.2
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "synchronizer")
	}

	name := deps.Name
	if name == "" {
		name = "synchronizer"
	}

	kinds := deps.Kinds
	if len(kinds) == 0 {
		kinds = []telemetry.SensorKind{
			telemetry.KindPulseOx,
			telemetry.KindBodyTemp,
			telemetry.KindEnvironment,
			telemetry.KindMotion,
		}
	}

	return &Synchronizer{
		name:     name,
		cfg:      cfg,
		kinds:    kinds,
		logger:   logger,
		registry: deps.MetricsRegistry,
		latest:   make(map[telemetry.SensorKind]telemetry.Reading),
		filters:  make(map[string]*rollingMAD),
	}
}

// Name returns the component name
func (s *Synchronizer) Name() string { return s.name }

// Ingest screens readings through the per-channel outlier filter and keeps
// the most recent surviving reading per sensor kind
func (s *Synchronizer) Ingest(readings []telemetry.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, reading := range readings {
		accepted := make(map[string]float64, len(reading.Values))
		for channel, value := range reading.Values {
			filter := s.filters[channel]
			if filter == nil {
				filter = newRollingMAD(s.cfg.OutlierWindow, s.cfg.OutlierMADs)
				s.filters[channel] = filter
			}
			if filter.Check(value) {
				s.rejected++
				s.outlierHit = true
				s.logger.Debug("Sample rejected as outlier",
					"sensor", reading.SensorID,
					"channel", channel,
					"value", value)
				continue
			}
			accepted[channel] = value
		}
		if len(accepted) == 0 {
			continue
		}
		reading.Values = accepted

		// Keep only the newest reading per kind
		if prev, ok := s.latest[reading.Kind]; !ok || reading.Timestamp.After(prev.Timestamp) {
			s.latest[reading.Kind] = reading
		}
	}
}

// Advance evaluates frame emission at the given instant. It returns a frame
// when all kinds are fresh within tolerance, or a partial frame once the
// deadline has passed, and false otherwise. Frames are stamped with the
// median timestamp of their contributing readings; sequence numbers are
// strictly monotonic and timestamps never run backwards.
func (s *Synchronizer) Advance(now time.Time) (telemetry.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastDeadline.IsZero() {
		s.lastDeadline = now
	}

	var missing []telemetry.SensorKind
	for _, kind := range s.kinds {
		reading, ok := s.latest[kind]
		if !ok || now.Sub(reading.Timestamp) > s.cfg.Tolerance {
			missing = append(missing, kind)
		}
	}

	if len(missing) > 0 && now.Sub(s.lastDeadline) < s.cfg.FrameDeadline {
		return telemetry.Frame{}, false
	}

	missingSet := make(map[telemetry.SensorKind]bool, len(missing))
	for _, kind := range missing {
		missingSet[kind] = true
	}

	ts := s.frameTimestamp(missingSet, now)
	if !s.lastEmit.IsZero() && !ts.After(s.lastEmit) {
		ts = s.lastEmit.Add(time.Nanosecond)
	}

	s.seq++
	frame := telemetry.Frame{
		Sequence:  s.seq,
		Timestamp: ts,
		Channels:  make(map[string]float64),
		Missing:   missing,
	}
	for _, kind := range s.kinds {
		if missingSet[kind] {
			continue
		}
		for channel, value := range s.latest[kind].Values {
			frame.Channels[channel] = value
		}
	}

	if len(missing) > 0 {
		frame.Flags = append(frame.Flags, telemetry.FlagMissing)
	}
	if s.outlierHit {
		frame.Flags = append(frame.Flags, telemetry.FlagOutlier)
		s.outlierHit = false
	}
	if s.motionEnergy(frame.Channels) > s.cfg.MotionThreshold {
		frame.Flags = append(frame.Flags, telemetry.FlagMotionSuspect)
	}

	s.lastEmit = ts
	s.lastDeadline = now
	s.lastMissing = len(missing)
	s.frames++

	status := "ok"
	if len(missing) > 0 {
		s.partials++
		status = "partial"
	}
	if s.registry != nil {
		s.registry.CoreMetrics().RecordFrame(status)
	}
	return frame, true
}

// frameTimestamp is the median timestamp of the readings contributing to
// the frame, so the frame carries a representative sample time rather than
// the tick instant. Falls back to now when no kind contributed.
func (s *Synchronizer) frameTimestamp(missingSet map[telemetry.SensorKind]bool, now time.Time) time.Time {
	var times []time.Time
	for _, kind := range s.kinds {
		if missingSet[kind] {
			continue
		}
		times = append(times, s.latest[kind].Timestamp)
	}
	if len(times) == 0 {
		return now
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	mid := len(times) / 2
	if len(times)%2 == 1 {
		return times[mid]
	}
	lo, hi := times[mid-1], times[mid]
	return lo.Add(hi.Sub(lo) / 2)
}

// motionEnergy is the squared deviation of acceleration magnitude from the
// 1 g gravity baseline, so a device at rest reads near zero
func (s *Synchronizer) motionEnergy(channels map[string]float64) float64 {
	ax, okX := channels[telemetry.ChanAccelX]
	ay, okY := channels[telemetry.ChanAccelY]
	az, okZ := channels[telemetry.ChanAccelZ]
	if !okX || !okY || !okZ {
		return 0
	}
	d := math.Sqrt(ax*ax+ay*ay+az*az) - 1
	return d * d
}

// Stats returns frame emission statistics
func (s *Synchronizer) Stats() (frames, partials, rejected uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.partials, s.rejected
}

// Health reports degraded when the last frame was missing sensor kinds
func (s *Synchronizer) Health() component.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastMissing > 0 {
		return component.NewDegraded(s.name, "last frame had missing sensors")
	}
	return component.NewHealthy(s.name, "frames aligned")
}
