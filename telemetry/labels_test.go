package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopLabel(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"empty", nil, ""},
		{"single", []string{LabelResting}, LabelResting},
		{"critical wins", []string{LabelWalking, LabelCritical, LabelHotEnv}, LabelCritical},
		{"condition beats activity", []string{LabelRunning, LabelDehydrated}, LabelDehydrated},
		{"first of equal priority", []string{LabelHumidEnv, LabelSleeping}, LabelHumidEnv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopLabel(tt.labels))
		})
	}
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassCondition, ClassOf(LabelPossibleFever))
	assert.Equal(t, ClassActivity, ClassOf(LabelWalking))
	assert.Equal(t, ClassEnvironment, ClassOf(LabelColdEnv))
	assert.Equal(t, ClassStatus, ClassOf(LabelNormal))
	// Unknown labels fall back to condition
	assert.Equal(t, ClassCondition, ClassOf("Mystery state"))
}

func TestSensorKindChannels(t *testing.T) {
	assert.ElementsMatch(t, []string{ChanHeartRate, ChanSpO2}, KindPulseOx.Channels())
	assert.Len(t, KindMotion.Channels(), 6)
	assert.Nil(t, SensorKind("bogus").Channels())
}

func TestFrameHasFlag(t *testing.T) {
	f := &Frame{Flags: []QualityFlag{FlagMotionSuspect}}
	assert.True(t, f.HasFlag(FlagMotionSuspect))
	assert.False(t, f.HasFlag(FlagOutlier))
}
