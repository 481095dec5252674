package domain

import (
	"encoding/json"
	"time"
)

// EventType is a closed enumeration of event kinds flowing through the bus.
type EventType string

const (
	EventTypeAgentStatus      EventType = "agent-status"
	EventTypeTaskUpdate       EventType = "task-update"
	EventTypeMetrics          EventType = "metrics"
	EventTypeSystemAlert      EventType = "system-alert"
	EventTypeBroadcast        EventType = "broadcast"
	EventTypeHeartbeat        EventType = "heartbeat"
	EventTypePerformanceAlert EventType = "performance-alert"
	EventTypeLogMessage       EventType = "log-message"
	EventTypeCollaboration    EventType = "collaboration"
)

// EventPriority is a closed enumeration, four levels, distinct from task Priority.
type EventPriority string

const (
	EventPriorityLow      EventPriority = "low"
	EventPriorityNormal   EventPriority = "normal"
	EventPriorityHigh     EventPriority = "high"
	EventPriorityCritical EventPriority = "critical"
)

var eventPriorityRank = map[EventPriority]int{
	EventPriorityLow:      0,
	EventPriorityNormal:   1,
	EventPriorityHigh:     2,
	EventPriorityCritical: 3,
}

// Valid reports whether p is one of the closed set of event priorities.
func (p EventPriority) Valid() bool {
	_, ok := eventPriorityRank[p]
	return ok
}

// AtLeast reports whether p meets or exceeds floor in urgency.
func (p EventPriority) AtLeast(floor EventPriority) bool {
	return eventPriorityRank[p] >= eventPriorityRank[floor]
}

// Rank returns the numeric urgency rank of p.
func (p EventPriority) Rank() int {
	return eventPriorityRank[p]
}

// Event is the unit of information carried on the bus. Payload is a
// schemaless JSON blob; the strongly-typed header above it is the only part
// any component other than the originating producer needs to understand.
type Event struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	Priority     EventPriority   `json:"priority"`
	Timestamp    time.Time       `json:"timestamp"`
	Source       string          `json:"source"`
	Payload      json.RawMessage `json:"payload"`
	TargetClient []string        `json:"target_client,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`

	// Aggregated is set by the Event Aggregator on batch flush output:
	// such events retain the highest priority seen in the batch and carry
	// aggregation metadata in Payload.
	Aggregated bool `json:"aggregated,omitempty"`
}

// PayloadField extracts a single top-level field from Payload, returning its
// JSON-decoded value and whether it was present; used by the fan-out filter predicate's agent-id and data-equality checks.
func (e *Event) PayloadField(field string) (interface{}, bool) {
	if len(e.Payload) == 0 {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}

// Channel describes a named bus channel's bounded replay buffer.
type Channel struct {
	Name            string        `json:"name"`
	RingCapacity    int           `json:"ring_capacity"`
	RetentionWindow time.Duration `json:"retention_window"`
	Compress        bool          `json:"compress"`
}

// Stable channel names.
const (
	ChannelAgents        = "agents"
	ChannelTasks         = "tasks"
	ChannelMetrics       = "metrics"
	ChannelAlerts        = "alerts"
	ChannelCollaboration = "collaboration"
	ChannelBroadcast     = "broadcast"
	ChannelHeartbeat     = "heartbeat"
	ChannelPerformance   = "performance"
	ChannelLogs          = "logs"
)

// DefaultChannels returns the stable channel set with their configured ring
// capacities and a 1h default retention window.
func DefaultChannels() map[string]Channel {
	mk := func(name string, cap int) Channel {
		return Channel{Name: name, RingCapacity: cap, RetentionWindow: time.Hour, Compress: true}
	}
	return map[string]Channel{
		ChannelAgents:        mk(ChannelAgents, 500),
		ChannelTasks:         mk(ChannelTasks, 1000),
		ChannelMetrics:       mk(ChannelMetrics, 200),
		ChannelAlerts:        mk(ChannelAlerts, 100),
		ChannelCollaboration: mk(ChannelCollaboration, 300),
		ChannelBroadcast:     mk(ChannelBroadcast, 50),
		ChannelHeartbeat:     mk(ChannelHeartbeat, 10),
		ChannelPerformance:   mk(ChannelPerformance, 100),
		ChannelLogs:          mk(ChannelLogs, 2000),
	}
}

// EventTypeChannel maps an event type to the stable channel it is published
// on. agent-status routes to "agents" (status transitions) while
// "heartbeat" events route to the dedicated low-capacity heartbeat channel.
func EventTypeChannel(t EventType) string {
	switch t {
	case EventTypeAgentStatus:
		return ChannelAgents
	case EventTypeTaskUpdate:
		return ChannelTasks
	case EventTypeMetrics:
		return ChannelMetrics
	case EventTypeSystemAlert:
		return ChannelAlerts
	case EventTypeCollaboration:
		return ChannelCollaboration
	case EventTypeBroadcast:
		return ChannelBroadcast
	case EventTypeHeartbeat:
		return ChannelHeartbeat
	case EventTypePerformanceAlert:
		return ChannelPerformance
	case EventTypeLogMessage:
		return ChannelLogs
	default:
		return ChannelBroadcast
	}
}
