package telemetry

// LabelClass groups inference labels for interpretation
type LabelClass string

const (
	// ClassCondition covers health conditions needing action
	ClassCondition LabelClass = "condition"
	// ClassActivity covers physical activity states
	ClassActivity LabelClass = "activity"
	// ClassEnvironment covers ambient conditions
	ClassEnvironment LabelClass = "environment"
	// ClassStatus covers overall health status labels
	ClassStatus LabelClass = "status"
)

// Inference label vocabulary
const (
	LabelCritical       = "Critical"
	LabelLowOxygen      = "Low oxygen state"
	LabelPossibleFever  = "Possible fever"
	LabelOverexertion   = "Overexertion"
	LabelDehydrated     = "Dehydrated"
	LabelFatigued       = "Fatigued"
	LabelStressed       = "Stressed"
	LabelEarlyIllness   = "Early illness indication"
	LabelWarning        = "Warning"
	LabelSlightAbnormal = "Slight abnormality"
	LabelNormal         = "Normal"
	LabelHealthy        = "Healthy"

	LabelRunning     = "Running"
	LabelHighAct     = "High activity"
	LabelModerateAct = "Moderate activity"
	LabelWalking     = "Walking"
	LabelLightAct    = "Light activity"
	LabelResting     = "Resting"
	LabelSedentary   = "Sedentary"
	LabelSleeping    = "Sleeping"

	LabelHotEnv      = "Hot environment"
	LabelColdEnv     = "Cold environment"
	LabelHumidEnv    = "Humid environment"
	LabelLowPressEnv = "Low-pressure environment"
)

// LabelPriority ranks labels; higher means more important
var LabelPriority = map[string]int{
	LabelCritical:      100,
	LabelLowOxygen:     90,
	LabelPossibleFever: 85,
	LabelOverexertion:  80,
	LabelDehydrated:    75,
	LabelFatigued:      70,
	LabelStressed:      65,

	LabelRunning:     40,
	LabelHighAct:     38,
	LabelModerateAct: 35,
	LabelWalking:     30,
	LabelLightAct:    25,
	LabelResting:     20,
	LabelSedentary:   15,
	LabelSleeping:    10,

	LabelHotEnv:      12,
	LabelColdEnv:     11,
	LabelHumidEnv:    10,
	LabelLowPressEnv: 9,
}

var labelClasses = map[string]LabelClass{
	LabelCritical:       ClassStatus,
	LabelWarning:        ClassStatus,
	LabelSlightAbnormal: ClassStatus,
	LabelNormal:         ClassStatus,
	LabelHealthy:        ClassStatus,

	LabelLowOxygen:     ClassCondition,
	LabelPossibleFever: ClassCondition,
	LabelOverexertion:  ClassCondition,
	LabelDehydrated:    ClassCondition,
	LabelFatigued:      ClassCondition,
	LabelStressed:      ClassCondition,
	LabelEarlyIllness:  ClassCondition,

	LabelRunning:     ClassActivity,
	LabelHighAct:     ClassActivity,
	LabelModerateAct: ClassActivity,
	LabelWalking:     ClassActivity,
	LabelLightAct:    ClassActivity,
	LabelResting:     ClassActivity,
	LabelSedentary:   ClassActivity,
	LabelSleeping:    ClassActivity,

	LabelHotEnv:      ClassEnvironment,
	LabelColdEnv:     ClassEnvironment,
	LabelHumidEnv:    ClassEnvironment,
	LabelLowPressEnv: ClassEnvironment,
}

// ClassOf returns the class a label belongs to. Unknown labels are treated
// as conditions so they are never silently dropped.
func ClassOf(label string) LabelClass {
	if class, ok := labelClasses[label]; ok {
		return class
	}
	return ClassCondition
}

// PriorityOf returns the priority rank of a label, 0 when unknown
func PriorityOf(label string) int {
	return LabelPriority[label]
}

// TopLabel returns the highest-priority label in the slice, ties resolved
// by position. Returns empty string for an empty slice.
func TopLabel(labels []string) string {
	top := ""
	best := -1
	for _, label := range labels {
		if p := PriorityOf(label); p > best {
			best = p
			top = label
		}
	}
	return top
}
