// Package interpret turns labeled inference results into human guidance.
// Every window is evaluated; the caller publishes the recommendation when
// at least one rule fired, plus alerts for findings that need prompt
// attention.
package interpret

import (
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ola-oye/VitaBand/component"
	"github.com/ola-oye/VitaBand/message"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Priority level strings carried on recommendation payloads
const (
	PriorityCritical = "critical"
	PriorityWarning  = "warning"
	PriorityCaution  = "caution"
	PriorityNormal   = "normal"
)

const fallbackAction = "Keep monitoring your readings and stay hydrated. Take rest if you feel unwell."

// Deps holds runtime dependencies for the interpretation engine
type Deps struct {
	Name            string
	DeviceID        string
	Source          string
	Rules           []Rule
	Clock           clock.Clock
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output is everything one window interprets to
type Output struct {
	Recommendation message.RecommendationMsg
	Alerts         []message.AlertMsg
	Findings       []telemetry.Recommendation
}

// Engine evaluates the rule set against each inference result. All rules
// are checked; within each label class the matching rule with the highest
// label priority wins, earlier declaration breaking ties.
type Engine struct {
	name     string
	deviceID string
	source   string
	rules    []Rule
	clk      clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	windows atomic.Uint64
	alerts  atomic.Uint64
}

var _ component.Component = (*Engine)(nil)
var _ component.HealthReporter = (*Engine)(nil)

// NewEngine creates the interpretation engine
func NewEngine(deps Deps) *Engine {
	rules := deps.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "interpreter")
	}

	name := deps.Name
	if name == "" {
		name = "interpreter"
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	source := deps.Source
	if source == "" {
		source = "vitaband"
	}

	return &Engine{
		name:     name,
		deviceID: deps.DeviceID,
		source:   source,
		rules:    rules,
		clk:      clk,
		logger:   logger,
		registry: deps.MetricsRegistry,
	}
}

// Name returns the component name
func (e *Engine) Name() string { return e.name }

// Interpret evaluates the rules against one window's inference result.
// The vitals map, typically the latest frame's channels, rides along on
// the recommendation payload for context.
func (e *Engine) Interpret(result telemetry.InferenceResult, vector telemetry.FeatureVector, vitals map[string]float64) Output {
	started := time.Now()
	ctx := Context{Result: result, Vector: vector}
	now := e.clk.Now()

	winners := e.evaluate(ctx)

	findings := make([]telemetry.Recommendation, 0, len(winners))
	var alerts []message.AlertMsg
	var summaries, actions []string
	seenActions := make(map[string]bool)

	for _, rule := range winners {
		findings = append(findings, telemetry.Recommendation{
			WindowID:  result.WindowID,
			Rule:      rule.Name,
			Label:     rule.Label,
			Severity:  rule.Severity,
			Priority:  telemetry.PriorityOf(rule.Label),
			Summary:   rule.Summary,
			Action:    rule.Action,
			CreatedAt: now,
		})
		summaries = append(summaries, rule.Summary)
		if rule.Action != "" && !seenActions[rule.Action] {
			seenActions[rule.Action] = true
			actions = append(actions, rule.Action)
		}
		if rule.Severity == telemetry.SeverityAlert {
			alerts = append(alerts, message.AlertMsg{
				Timestamp: now,
				Source:    e.source,
				DeviceID:  e.deviceID,
				WindowID:  result.WindowID,
				Rule:      rule.Name,
				Label:     rule.Label,
				Severity:  rule.Severity,
				Summary:   rule.Summary,
				Action:    rule.Action,
			})
		}
	}

	summary := "From your readings, everything looks normal."
	if len(summaries) > 0 {
		summary = "From your readings: " + strings.Join(summaries, " ")
	}
	if len(actions) == 0 {
		actions = []string{fallbackAction}
	}

	recommendation := message.RecommendationMsg{
		Timestamp: now,
		Source:    e.source,
		DeviceID:  e.deviceID,
		WindowID:  result.WindowID,
		Labels:    result.Labels,
		Priority:  e.priorityLevel(result, winners),
		Summary:   summary,
		Actions:   actions,
		Vitals:    vitals,
		Degraded:  result.Degraded,
	}

	e.windows.Add(1)
	e.alerts.Add(uint64(len(alerts)))
	if e.registry != nil {
		e.registry.CoreMetrics().RecordProcessingDuration(e.name, "interpret", time.Since(started))
	}
	if len(alerts) > 0 {
		e.logger.Warn("Alert conditions found",
			"window_id", result.WindowID,
			"alerts", len(alerts))
	}

	return Output{Recommendation: recommendation, Alerts: alerts, Findings: findings}
}

// evaluate returns the winning rule per label class, ordered by descending
// label priority
func (e *Engine) evaluate(ctx Context) []Rule {
	best := make(map[telemetry.LabelClass]Rule)
	for _, rule := range e.rules {
		if rule.Predicate == nil || !rule.Predicate(ctx) {
			continue
		}
		current, ok := best[rule.Class]
		if !ok || telemetry.PriorityOf(rule.Label) > telemetry.PriorityOf(current.Label) {
			best[rule.Class] = rule
		}
	}

	classOrder := []telemetry.LabelClass{
		telemetry.ClassCondition,
		telemetry.ClassActivity,
		telemetry.ClassEnvironment,
		telemetry.ClassStatus,
	}
	winners := make([]Rule, 0, len(best))
	for _, class := range classOrder {
		if rule, ok := best[class]; ok {
			winners = append(winners, rule)
		}
	}
	sort.SliceStable(winners, func(i, j int) bool {
		return telemetry.PriorityOf(winners[i].Label) > telemetry.PriorityOf(winners[j].Label)
	})
	return winners
}

// priorityLevel grades the overall urgency of the window
func (e *Engine) priorityLevel(result telemetry.InferenceResult, winners []Rule) string {
	hasLabel := func(label string) bool {
		for _, l := range result.Labels {
			if l == label {
				return true
			}
		}
		return false
	}

	if hasLabel(telemetry.LabelCritical) {
		return PriorityCritical
	}
	if hasLabel(telemetry.LabelLowOxygen) || hasLabel(telemetry.LabelPossibleFever) ||
		hasLabel(telemetry.LabelWarning) {
		return PriorityWarning
	}
	for _, rule := range winners {
		if rule.Class == telemetry.ClassCondition {
			return PriorityCaution
		}
	}
	for _, l := range result.Labels {
		if telemetry.ClassOf(l) == telemetry.ClassCondition {
			return PriorityCaution
		}
	}
	return PriorityNormal
}

// Stats returns interpretation counters
func (e *Engine) Stats() (windows, alerts uint64) {
	return e.windows.Load(), e.alerts.Load()
}

// Health reports the engine state
func (e *Engine) Health() component.HealthStatus {
	return component.NewHealthy(e.name, "rules loaded")
}
