// Package inference turns feature vectors into labeled results. Windows run
// through a single worker lane so results come out in window order, and a
// window that overruns its deadline yields a degraded fallback result
// instead of stalling the pipeline.
package inference

import (
	"context"

	"github.com/ola-oye/VitaBand/telemetry"
)

// Inferer classifies one feature window
type Inferer interface {
	Name() string
	Infer(ctx context.Context, vector telemetry.FeatureVector) (telemetry.InferenceResult, error)
}

// Threshold bounds used by the rule-based classifier
const (
	hrTachycardia  = 120.0
	hrElevated     = 100.0
	hrBradycardia  = 50.0
	hrRestingMax   = 85.0
	spo2Critical   = 90.0
	spo2Low        = 94.0
	feverSlope     = 0.05 // C per minute sustained rise
	lowVariability = 2.0  // rmssd under this with elevated HR suggests strain

	// Motion energy is net of the gravity baseline, so a still wearer
	// reads near zero
	energyRunning  = 2.0
	energyHigh     = 1.0
	energyModerate = 0.5
	energyWalking  = 0.25
	energyResting  = 0.05
	hotAmbient     = 32.0
	coldAmbient    = 10.0
	humidAmbient   = 80.0
	lowPressure    = 900.0
)

// ThresholdInferer assigns labels from fixed physiological and environmental
// thresholds. It stands in for an on-device model and shares its label
// vocabulary.
type ThresholdInferer struct{}

// NewThresholdInferer creates the rule-based classifier
func NewThresholdInferer() *ThresholdInferer { return &ThresholdInferer{} }

// Name returns the classifier name
func (t *ThresholdInferer) Name() string { return "threshold" }

// Infer derives condition, activity and environment labels from the window
// features. It always returns at least one label.
func (t *ThresholdInferer) Infer(_ context.Context, vector telemetry.FeatureVector) (telemetry.InferenceResult, error) {
	f := vector.Features
	hr := f[telemetry.FeatureHRMean]
	spo2 := f[telemetry.FeatureSpO2Mean]
	slope := f[telemetry.FeatureBodyTempSlope]
	energy := f[telemetry.FeatureMotionEnergy]

	var labels []string

	// Conditions, most severe first
	switch {
	case spo2 > 0 && spo2 < spo2Critical:
		labels = append(labels, telemetry.LabelCritical)
	case spo2 > 0 && spo2 < spo2Low:
		labels = append(labels, telemetry.LabelLowOxygen)
	}
	if t.feverish(f) {
		labels = append(labels, telemetry.LabelPossibleFever)
	} else if slope > feverSlope {
		labels = append(labels, telemetry.LabelEarlyIllness)
	}
	if hr > hrTachycardia && energy < energyWalking {
		// Tachycardia without the movement to explain it
		labels = append(labels, telemetry.LabelOverexertion)
	}
	if hr > hrElevated && f[telemetry.FeatureHRRMSSD] < lowVariability && energy < energyWalking {
		labels = append(labels, telemetry.LabelStressed)
	}
	if hr > 0 && hr < hrBradycardia {
		labels = append(labels, telemetry.LabelFatigued)
	}

	// Activity from motion energy, refined by heart rate
	switch {
	case energy >= energyRunning:
		labels = append(labels, telemetry.LabelRunning)
	case energy >= energyHigh:
		labels = append(labels, telemetry.LabelHighAct)
	case energy >= energyModerate:
		labels = append(labels, telemetry.LabelModerateAct)
	case energy >= energyWalking:
		labels = append(labels, telemetry.LabelWalking)
	case energy <= energyResting && hr > 0 && hr < hrRestingMax:
		labels = append(labels, telemetry.LabelResting)
	case hr > 0:
		labels = append(labels, telemetry.LabelLightAct)
	}

	// Environment
	if ambient := f[telemetry.FeatureAmbientTempMean]; ambient >= hotAmbient {
		labels = append(labels, telemetry.LabelHotEnv)
	} else if ambient > 0 && ambient <= coldAmbient {
		labels = append(labels, telemetry.LabelColdEnv)
	}
	if f[telemetry.FeatureHumidityMean] >= humidAmbient {
		labels = append(labels, telemetry.LabelHumidEnv)
	}
	if p := f[telemetry.FeaturePressureMean]; p > 0 && p < lowPressure {
		labels = append(labels, telemetry.LabelLowPressEnv)
	}

	if len(labels) == 0 {
		labels = append(labels, telemetry.LabelNormal)
	}

	confidence := 0.9 * f[telemetry.FeatureSignalQuality]
	if !vector.Complete {
		confidence *= 0.5
	}

	scores := make(map[string]float64, len(labels))
	for _, label := range labels {
		scores[label] = confidence
	}

	return telemetry.InferenceResult{
		WindowID:     vector.WindowID,
		ModelVersion: t.Name(),
		Labels:       labels,
		Scores:       scores,
		Confidence:   confidence,
		Flags:        vector.Flags,
	}, nil
}

// feverish reports a fever pattern: a sustained skin temperature rise
// combined with an elevated heart rate that movement does not explain
func (t *ThresholdInferer) feverish(f map[string]float64) bool {
	slope := f[telemetry.FeatureBodyTempSlope]
	hr := f[telemetry.FeatureHRMean]
	energy := f[telemetry.FeatureMotionEnergy]
	return slope > feverSlope && hr > hrElevated && energy < energyWalking
}
