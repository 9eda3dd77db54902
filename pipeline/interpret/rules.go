package interpret

import (
	"github.com/ola-oye/VitaBand/telemetry"
)

// Context carries everything a rule predicate can examine
type Context struct {
	Result telemetry.InferenceResult
	Vector telemetry.FeatureVector
}

// HasLabel reports whether the inference result carries the label
func (c Context) HasLabel(label string) bool {
	for _, l := range c.Result.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Feature returns a window feature value, zero when absent
func (c Context) Feature(name string) float64 {
	return c.Vector.Features[name]
}

// Rule is one interpretation rule. Rules are evaluated in declaration order;
// among matching rules the highest label priority wins within each class,
// and earlier declaration breaks ties.
type Rule struct {
	Name      string
	Class     telemetry.LabelClass
	Label     string
	Severity  telemetry.Severity
	Predicate func(Context) bool
	Summary   string
	Action    string
}

func hasLabel(label string) func(Context) bool {
	return func(c Context) bool { return c.HasLabel(label) }
}

// DefaultRules returns the standard rule set. Most rules trigger on an
// inference label; a few also trigger directly on window features so the
// engine can surface states the classifier has no label path for.
func DefaultRules() []Rule {
	return []Rule{
		// Conditions
		{
			Name:      "critical-vitals",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelCritical,
			Severity:  telemetry.SeverityAlert,
			Predicate: hasLabel(telemetry.LabelCritical),
			Summary:   "Your readings suggest a serious condition that needs immediate care.",
			Action:    "Please get medical help immediately. It's not safe to ignore this.",
		},
		{
			Name:      "low-oxygen",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelLowOxygen,
			Severity:  telemetry.SeverityAlert,
			Predicate: hasLabel(telemetry.LabelLowOxygen),
			Summary:   "Your oxygen level is lower than it should be.",
			Action:    "Move to a place with better airflow. If it does not improve, seek medical support.",
		},
		{
			Name:      "possible-fever",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelPossibleFever,
			Severity:  telemetry.SeverityAlert,
			Predicate: hasLabel(telemetry.LabelPossibleFever),
			Summary:   "Your temperature is higher than normal.",
			Action:    "Try to rest and drink water. Check your temperature again later. If it stays high, consult a doctor.",
		},
		{
			Name:      "overexertion",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelOverexertion,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelOverexertion),
			Summary:   "Your body is working harder than normal.",
			Action:    "Stop and rest. Allow your body to recover before continuing.",
		},
		{
			Name:     "hydration-risk",
			Class:    telemetry.ClassCondition,
			Label:    telemetry.LabelDehydrated,
			Severity: telemetry.SeverityAdvisory,
			// No label path from the classifier; derived from sustained
			// effort in heat
			Predicate: func(c Context) bool {
				if c.HasLabel(telemetry.LabelDehydrated) {
					return true
				}
				return c.HasLabel(telemetry.LabelHotEnv) &&
					c.Feature(telemetry.FeatureMotionEnergy) >= 0.5 &&
					c.Feature(telemetry.FeatureHRMean) > 100
			},
			Summary: "Your hydration level may be low.",
			Action:  "Drink water and rest in a cool spot for a while.",
		},
		{
			Name:      "fatigue",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelFatigued,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelFatigued),
			Summary:   "You're showing signs of tiredness.",
			Action:    "Consider resting or taking a short nap if possible.",
		},
		{
			Name:      "stress",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelStressed,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelStressed),
			Summary:   "Your body is showing signs of stress.",
			Action:    "Pause for a moment, take slow breaths, and try to relax.",
		},
		{
			Name:      "early-illness",
			Class:     telemetry.ClassCondition,
			Label:     telemetry.LabelEarlyIllness,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelEarlyIllness),
			Summary:   "Some patterns suggest you might be coming down with something.",
			Action:    "Take it easy and keep an eye on how you feel.",
		},

		// Activity
		{
			Name:      "running",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelRunning,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelRunning),
			Summary:   "You're engaged in a high-effort activity like running.",
			Action:    "Slow down if needed and make sure you drink enough water.",
		},
		{
			Name:      "high-activity",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelHighAct,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelHighAct),
			Summary:   "Your body is working hard, similar to jogging or physical work.",
			Action:    "Be careful and hydrate; slow down if you feel strained.",
		},
		{
			Name:      "moderate-activity",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelModerateAct,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelModerateAct),
			Summary:   "You're fairly active, like walking fast or doing light exercise.",
			Action:    "You're doing okay; slow down if you feel tired.",
		},
		{
			Name:      "walking",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelWalking,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelWalking),
			Summary:   "You're moving at a steady walking pace.",
			Action:    "Keep a steady pace and stay hydrated if outdoors.",
		},
		{
			Name:      "light-activity",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelLightAct,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelLightAct),
			Summary:   "You're moving lightly, maybe walking around or doing something small.",
			Action:    "You can continue what you're doing.",
		},
		{
			Name:      "resting",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelResting,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelResting),
			Summary:   "Your body is calm and you're not doing any physical activity.",
			Action:    "No action needed right now.",
		},
		{
			Name:      "sedentary",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelSedentary,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelSedentary),
			Summary:   "You've been sitting or staying in one position for a while.",
			Action:    "Stand up, stretch, or go for a short walk.",
		},
		{
			Name:      "sleeping",
			Class:     telemetry.ClassActivity,
			Label:     telemetry.LabelSleeping,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelSleeping),
			Summary:   "You're currently in a relaxed sleep state.",
		},

		// Environment
		{
			Name:      "hot-environment",
			Class:     telemetry.ClassEnvironment,
			Label:     telemetry.LabelHotEnv,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelHotEnv),
			Summary:   "The temperature around you is higher than normal.",
			Action:    "Move somewhere cooler and hydrate if you can.",
		},
		{
			Name:      "cold-environment",
			Class:     telemetry.ClassEnvironment,
			Label:     telemetry.LabelColdEnv,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelColdEnv),
			Summary:   "The surrounding temperature is quite low.",
			Action:    "Try to warm up or move to a warmer place.",
		},
		{
			Name:      "humid-environment",
			Class:     telemetry.ClassEnvironment,
			Label:     telemetry.LabelHumidEnv,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelHumidEnv),
			Summary:   "The humidity level is high where you are.",
			Action:    "Ensure good ventilation and drink water.",
		},
		{
			Name:      "low-pressure-environment",
			Class:     telemetry.ClassEnvironment,
			Label:     telemetry.LabelLowPressEnv,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelLowPressEnv),
			Summary:   "The air pressure around you is lower than normal.",
			Action:    "If you feel dizzy, sit down and allow your body to adjust.",
		},

		// Status
		{
			Name:      "warning-status",
			Class:     telemetry.ClassStatus,
			Label:     telemetry.LabelWarning,
			Severity:  telemetry.SeverityAdvisory,
			Predicate: hasLabel(telemetry.LabelWarning),
			Summary:   "Some readings are outside the normal range and need attention.",
		},
		{
			Name:      "slight-abnormality",
			Class:     telemetry.ClassStatus,
			Label:     telemetry.LabelSlightAbnormal,
			Severity:  telemetry.SeverityInfo,
			Predicate: hasLabel(telemetry.LabelSlightAbnormal),
			Summary:   "Something looks a bit off, but not serious.",
		},
	}
}
