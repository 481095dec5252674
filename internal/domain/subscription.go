package domain

import "time"

// Filter is a client subscription's evaluation predicate over events.
// Evaluated in a fixed, short-circuiting order: type allow-set, priority
// floor, agent allow-set, then field-equality map.
type Filter struct {
	EventTypes  map[EventType]bool    `json:"event_types,omitempty"`
	MinPriority EventPriority         `json:"min_priority,omitempty"`
	AgentIDs    map[string]bool       `json:"agent_ids,omitempty"`
	FieldEquals map[string]interface{} `json:"field_equals,omitempty"`
}

// Matches evaluates the filter against an event using the fixed,
// short-circuiting evaluation order: type allow-set, then priority floor,
// then agent allow-set, then field-equality map.
func (f *Filter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 && !f.EventTypes[e.Type] {
		return false
	}
	if f.MinPriority != "" && !e.Priority.AtLeast(f.MinPriority) {
		return false
	}
	if len(f.AgentIDs) > 0 {
		if v, ok := e.PayloadField("agent_id"); ok {
			if id, ok := v.(string); ok && id != "" && !f.AgentIDs[id] {
				return false
			}
		}
	}
	for field, want := range f.FieldEquals {
		v, ok := e.PayloadField(field)
		if !ok || v != want {
			return false
		}
	}
	return true
}

// SubscriptionStats tracks per-connection delivery counters.
type SubscriptionStats struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Errors   int64 `json:"errors"`
}

// ClientSubscription is a connected dashboard client's delivery state.
type ClientSubscription struct {
	ID            string          `json:"id"`
	Channels      map[string]bool `json:"channels"`
	Filter        Filter          `json:"filter"`
	QueueCapacity int             `json:"queue_capacity"`
	Compress      bool            `json:"compress"`
	Stats         SubscriptionStats `json:"stats"`
	LastLiveness  time.Time       `json:"last_liveness"`
}

// DLQEntry is a durable record of a task whose retries were exhausted.
type DLQEntry struct {
	Task          Task      `json:"task"`
	FailureMsg    string    `json:"failure_message"`
	Attempts      int       `json:"attempts"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
}
