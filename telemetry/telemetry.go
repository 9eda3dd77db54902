// Package telemetry defines the data types that flow through the monitoring
// pipeline: raw sensor readings, time-aligned frames, windowed feature
// vectors, inference results and interpreted recommendations.
package telemetry

import "time"

// SensorKind identifies the class of a sensor source
type SensorKind string

const (
	// KindPulseOx is the optical pulse oximeter (heart rate, SpO2)
	KindPulseOx SensorKind = "pulse_ox"
	// KindBodyTemp is the skin contact thermometer
	KindBodyTemp SensorKind = "body_temp"
	// KindEnvironment is the ambient temperature/humidity/pressure sensor
	KindEnvironment SensorKind = "environment"
	// KindMotion is the inertial measurement unit
	KindMotion SensorKind = "motion"
)

// Channel names shared across readings, frames and windows
const (
	ChanHeartRate   = "heart_rate_bpm"
	ChanSpO2        = "spo2_pct"
	ChanBodyTemp    = "body_temp_c"
	ChanAmbientTemp = "ambient_temp_c"
	ChanHumidity    = "humidity_pct"
	ChanPressure    = "pressure_hpa"
	ChanAccelX      = "accel_x"
	ChanAccelY      = "accel_y"
	ChanAccelZ      = "accel_z"
	ChanGyroX       = "gyro_x"
	ChanGyroY       = "gyro_y"
	ChanGyroZ       = "gyro_z"
)

// Channels returns the channel names a sensor kind produces
func (k SensorKind) Channels() []string {
	switch k {
	case KindPulseOx:
		return []string{ChanHeartRate, ChanSpO2}
	case KindBodyTemp:
		return []string{ChanBodyTemp}
	case KindEnvironment:
		return []string{ChanAmbientTemp, ChanHumidity, ChanPressure}
	case KindMotion:
		return []string{ChanAccelX, ChanAccelY, ChanAccelZ, ChanGyroX, ChanGyroY, ChanGyroZ}
	default:
		return nil
	}
}

// QualityFlag marks a data quality condition attached to frames and windows
type QualityFlag string

const (
	// FlagOutlier marks a sample rejected by the outlier filter
	FlagOutlier QualityFlag = "outlier"
	// FlagMotionSuspect marks optical samples taken during heavy motion
	FlagMotionSuspect QualityFlag = "motion_suspect"
	// FlagMissing marks a frame slot that had no sample within tolerance
	FlagMissing QualityFlag = "missing"
	// FlagIncomplete marks a window that closed below its minimum sample counts
	FlagIncomplete QualityFlag = "incomplete"
	// FlagDegraded marks an inference result produced by the fallback path
	FlagDegraded QualityFlag = "degraded"
)

// Reading is a single raw sample from one sensor source
type Reading struct {
	SensorID  string             `json:"sensor_id"`
	Kind      SensorKind         `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Frame is a time-aligned snapshot across all sensor kinds at one tick.
// Channels from sensors with no sample inside the alignment tolerance are
// absent, and the kind is listed in Missing.
type Frame struct {
	Sequence  uint64             `json:"sequence"`
	Timestamp time.Time          `json:"timestamp"`
	Channels  map[string]float64 `json:"channels"`
	Missing   []SensorKind       `json:"missing,omitempty"`
	Flags     []QualityFlag      `json:"flags,omitempty"`
}

// HasFlag reports whether the frame carries the given quality flag
func (f *Frame) HasFlag(flag QualityFlag) bool {
	for _, have := range f.Flags {
		if have == flag {
			return true
		}
	}
	return false
}

// Feature names computed per window
const (
	FeatureHRMean          = "hr_mean"
	FeatureHRRMSSD         = "hr_rmssd"
	FeatureSpO2Mean        = "spo2_mean"
	FeatureBodyTempSlope   = "body_temp_slope"
	FeatureMotionEnergy    = "motion_energy"
	FeatureAmbientTempMean = "ambient_temp_mean"
	FeatureHumidityMean    = "humidity_mean"
	FeaturePressureMean    = "pressure_mean"
	FeatureSignalQuality   = "signal_quality"
)

// FeatureVector is the aggregate of one closed window, keyed by feature name
type FeatureVector struct {
	WindowID   string             `json:"window_id"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	FrameCount int                `json:"frame_count"`
	Complete   bool               `json:"complete"`
	Features   map[string]float64 `json:"features"`
	Flags      []QualityFlag      `json:"flags,omitempty"`
}

// InferenceResult carries the labels assigned to one feature window.
// Scores holds the per-label score the model computed, including labels
// that did not make the cut for Labels.
type InferenceResult struct {
	WindowID     string             `json:"window_id"`
	ModelVersion string             `json:"model_version"`
	Labels       []string           `json:"labels"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Confidence   float64            `json:"confidence"`
	Degraded     bool               `json:"degraded"`
	ProducedAt   time.Time          `json:"produced_at"`
	Flags        []QualityFlag      `json:"flags,omitempty"`
}

// Severity grades an interpreted finding
type Severity string

const (
	// SeverityInfo is routine information, no action needed
	SeverityInfo Severity = "info"
	// SeverityAdvisory suggests a corrective action
	SeverityAdvisory Severity = "advisory"
	// SeverityAlert requires prompt attention
	SeverityAlert Severity = "alert"
)

// Recommendation is one interpreted finding ready for publication
type Recommendation struct {
	WindowID  string    `json:"window_id"`
	Rule      string    `json:"rule"`
	Label     string    `json:"label"`
	Severity  Severity  `json:"severity"`
	Priority  int       `json:"priority"`
	Summary   string    `json:"summary"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
