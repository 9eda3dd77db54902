package interpret

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/telemetry"
)

func newTestEngine() *Engine {
	return NewEngine(Deps{
		DeviceID: "band-01",
		Clock:    clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func resultWith(labels ...string) telemetry.InferenceResult {
	return telemetry.InferenceResult{
		WindowID: "w1",
		Labels:   labels,
	}
}

func vectorWith(features map[string]float64) telemetry.FeatureVector {
	if features == nil {
		features = map[string]float64{}
	}
	return telemetry.FeatureVector{WindowID: "w1", Complete: true, Features: features}
}

func TestStableRestingWindowRaisesNoAlert(t *testing.T) {
	e := newTestEngine()

	out := e.Interpret(resultWith(telemetry.LabelResting), vectorWith(map[string]float64{
		telemetry.FeatureHRMean:       72,
		telemetry.FeatureMotionEnergy: 0.02,
	}), nil)

	assert.Empty(t, out.Alerts)
	assert.Equal(t, PriorityNormal, out.Recommendation.Priority)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "resting", out.Findings[0].Rule)
	assert.Equal(t, []string{"No action needed right now."}, out.Recommendation.Actions)
}

func TestFeverWindowRaisesExactlyOneAlert(t *testing.T) {
	e := newTestEngine()

	out := e.Interpret(
		resultWith(telemetry.LabelPossibleFever, telemetry.LabelLightAct),
		vectorWith(nil), nil)

	require.Len(t, out.Alerts, 1)
	alert := out.Alerts[0]
	assert.Equal(t, "possible-fever", alert.Rule)
	assert.Equal(t, telemetry.LabelPossibleFever, alert.Label)
	assert.Equal(t, telemetry.SeverityAlert, alert.Severity)
	assert.Equal(t, "band-01", alert.DeviceID)
	assert.NotEmpty(t, alert.Action)
	assert.Equal(t, PriorityWarning, out.Recommendation.Priority)
}

func TestHighestPriorityConditionWinsItsClass(t *testing.T) {
	e := newTestEngine()

	out := e.Interpret(
		resultWith(telemetry.LabelStressed, telemetry.LabelCritical, telemetry.LabelResting),
		vectorWith(nil), nil)

	// Critical outranks Stressed within the condition class
	var conditionRules []string
	for _, f := range out.Findings {
		if telemetry.ClassOf(f.Label) == telemetry.ClassCondition ||
			f.Label == telemetry.LabelCritical {
			conditionRules = append(conditionRules, f.Rule)
		}
	}
	assert.Equal(t, []string{"critical-vitals"}, conditionRules)
	assert.Equal(t, PriorityCritical, out.Recommendation.Priority)

	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "critical-vitals", out.Alerts[0].Rule)
}

func TestFindingsOrderedByPriority(t *testing.T) {
	e := newTestEngine()

	out := e.Interpret(
		resultWith(telemetry.LabelHotEnv, telemetry.LabelWalking, telemetry.LabelLowOxygen),
		vectorWith(nil), nil)

	require.Len(t, out.Findings, 3)
	assert.Equal(t, telemetry.LabelLowOxygen, out.Findings[0].Label)
	assert.Equal(t, telemetry.LabelWalking, out.Findings[1].Label)
	assert.Equal(t, telemetry.LabelHotEnv, out.Findings[2].Label)
}

func TestHydrationRiskFromFeaturesWithoutLabel(t *testing.T) {
	e := newTestEngine()

	out := e.Interpret(
		resultWith(telemetry.LabelHotEnv, telemetry.LabelHighAct),
		vectorWith(map[string]float64{
			telemetry.FeatureMotionEnergy: 0.8,
			telemetry.FeatureHRMean:       115,
		}), nil)

	var found bool
	for _, f := range out.Findings {
		if f.Rule == "hydration-risk" {
			found = true
			assert.Equal(t, telemetry.LabelDehydrated, f.Label)
		}
	}
	assert.True(t, found, "sustained effort in heat should trigger the hydration rule")
	assert.Equal(t, PriorityCaution, out.Recommendation.Priority)
	assert.Empty(t, out.Alerts)
}

func TestRecommendationCarriesVitalsAndDegradedFlag(t *testing.T) {
	e := newTestEngine()

	result := resultWith()
	result.Degraded = true
	vitals := map[string]float64{telemetry.ChanHeartRate: 71}

	out := e.Interpret(result, vectorWith(nil), vitals)

	assert.Empty(t, out.Findings, "no rule fires on an unlabeled degraded window")
	assert.True(t, out.Recommendation.Degraded)
	assert.Equal(t, vitals, out.Recommendation.Vitals)
	assert.Equal(t, []string{fallbackAction}, out.Recommendation.Actions)
	assert.Contains(t, out.Recommendation.Summary, "everything looks normal")
}

func TestInterpretCounts(t *testing.T) {
	e := newTestEngine()

	e.Interpret(resultWith(telemetry.LabelNormal), vectorWith(nil), nil)
	e.Interpret(resultWith(telemetry.LabelCritical), vectorWith(nil), nil)

	windows, alerts := e.Stats()
	assert.Equal(t, uint64(2), windows)
	assert.Equal(t, uint64(1), alerts)
}
