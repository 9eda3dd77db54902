// Package message defines the wire payloads published on the health topics
// and the per-topic delivery contract (QoS level and retention).
package message

import (
	"time"

	"github.com/ola-oye/VitaBand/telemetry"
)

// Topic subjects
const (
	TopicSensors        = "health.sensors"
	TopicRecommendation = "health.recommendation"
	TopicAlerts         = "health.alerts"
	TopicStatus         = "health.status"
	TopicHeartbeat      = "health.heartbeat"
)

// QoS is the delivery guarantee level for a topic
type QoS int

const (
	// QoSBestEffort is fire-and-forget; losses are acceptable
	QoSBestEffort QoS = 0
	// QoSAtLeastOnce requires broker acknowledgement; duplicates possible
	QoSAtLeastOnce QoS = 1
	// QoSExactlyOnce requires acknowledgement plus broker-side deduplication
	QoSExactlyOnce QoS = 2
)

// Policy describes how messages on one topic are delivered
type Policy struct {
	Topic    string
	QoS      QoS
	Retained bool
}

// Policies lists the delivery contract for every topic
var Policies = map[string]Policy{
	TopicSensors:        {Topic: TopicSensors, QoS: QoSBestEffort, Retained: false},
	TopicRecommendation: {Topic: TopicRecommendation, QoS: QoSAtLeastOnce, Retained: false},
	TopicAlerts:         {Topic: TopicAlerts, QoS: QoSExactlyOnce, Retained: false},
	TopicStatus:         {Topic: TopicStatus, QoS: QoSAtLeastOnce, Retained: true},
	TopicHeartbeat:      {Topic: TopicHeartbeat, QoS: QoSBestEffort, Retained: true},
}

// PolicyFor returns the delivery policy for a topic, defaulting to
// best-effort unretained for unknown topics.
func PolicyFor(topic string) Policy {
	if p, ok := Policies[topic]; ok {
		return p
	}
	return Policy{Topic: topic, QoS: QoSBestEffort}
}

// VitalsSnapshot is the vitals payload on health.sensors, emitted once per
// closed window from the freshest aligned frame
type VitalsSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
	DeviceID  string             `json:"device_id"`
	Sequence  uint64             `json:"sequence"`
	WindowID  string             `json:"window_id,omitempty"`
	Channels  map[string]float64 `json:"channels"`
	Missing   []string           `json:"missing,omitempty"`
	Flags     []string           `json:"flags,omitempty"`
}

// RecommendationMsg is the interpreted guidance payload on health.recommendation
type RecommendationMsg struct {
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
	DeviceID  string             `json:"device_id"`
	WindowID  string             `json:"window_id"`
	Labels    []string           `json:"labels"`
	Priority  string             `json:"priority"`
	Summary   string             `json:"summary"`
	Actions   []string           `json:"actions,omitempty"`
	Vitals    map[string]float64 `json:"vitals,omitempty"`
	Degraded  bool               `json:"degraded,omitempty"`
}

// AlertMsg is the critical finding payload on health.alerts
type AlertMsg struct {
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
	DeviceID  string             `json:"device_id"`
	WindowID  string             `json:"window_id"`
	Rule      string             `json:"rule"`
	Label     string             `json:"label"`
	Severity  telemetry.Severity `json:"severity"`
	Summary   string             `json:"summary"`
	Action    string             `json:"action,omitempty"`
}

// ComponentStatus is one component's entry in the status payload
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusMsg is the periodic device status payload on health.status
type StatusMsg struct {
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	DeviceID      string            `json:"device_id"`
	Overall       string            `json:"overall"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    []ComponentStatus `json:"components"`
	OutboxDepth   int               `json:"outbox_depth"`
	ErrorCount    int64             `json:"error_count"`
	Degraded      bool              `json:"degraded"`
	LastPriority  string            `json:"last_priority,omitempty"`
	BusConnected  bool              `json:"bus_connected"`
}

// HeartbeatMsg is the liveness ping payload on health.heartbeat
type HeartbeatMsg struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	DeviceID  string    `json:"device_id"`
	Sequence  uint64    `json:"sequence"`
}
