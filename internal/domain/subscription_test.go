package domain

import (
	"encoding/json"
	"testing"
)

func mustEvent(t *testing.T, typ EventType, priority EventPriority, payload map[string]interface{}) Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Event{Type: typ, Priority: priority, Payload: raw}
}

func TestFilterMatches(t *testing.T) {
	e := mustEvent(t, EventTypeAgentStatus, EventPriorityHigh, map[string]interface{}{"agent_id": "w1"})

	t.Run("nil filter matches everything", func(t *testing.T) {
		var f *Filter
		if !f.Matches(&e) {
			t.Error("nil filter should match")
		}
	})

	t.Run("type allow-set excludes other types", func(t *testing.T) {
		f := Filter{EventTypes: map[EventType]bool{EventTypeTaskUpdate: true}}
		if f.Matches(&e) {
			t.Error("should not match: wrong type")
		}
	})

	t.Run("priority floor", func(t *testing.T) {
		f := Filter{MinPriority: EventPriorityCritical}
		if f.Matches(&e) {
			t.Error("should not match: below priority floor")
		}
		f.MinPriority = EventPriorityLow
		if !f.Matches(&e) {
			t.Error("should match: above priority floor")
		}
	})

	t.Run("agent allow-set", func(t *testing.T) {
		f := Filter{AgentIDs: map[string]bool{"w2": true}}
		if f.Matches(&e) {
			t.Error("should not match: agent not in allow-set")
		}
		f.AgentIDs["w1"] = true
		if !f.Matches(&e) {
			t.Error("should match: agent in allow-set")
		}
	})

	t.Run("field equality", func(t *testing.T) {
		f := Filter{FieldEquals: map[string]interface{}{"agent_id": "w9"}}
		if f.Matches(&e) {
			t.Error("should not match: field value differs")
		}
	})

	t.Run("agent allow-set skips events with no agent_id field", func(t *testing.T) {
		noAgent := mustEvent(t, EventTypeAgentStatus, EventPriorityHigh, map[string]interface{}{"status": "idle"})
		f := Filter{AgentIDs: map[string]bool{"w1": true}}
		if !f.Matches(&noAgent) {
			t.Error("should match: agent_id absent from payload is not a rejection")
		}
	})
}

func TestEventTypeChannel(t *testing.T) {
	cases := map[EventType]string{
		EventTypeAgentStatus: ChannelAgents,
		EventTypeTaskUpdate:  ChannelTasks,
		EventTypeHeartbeat:   ChannelHeartbeat,
		EventType("unknown"): ChannelBroadcast,
	}
	for typ, want := range cases {
		if got := EventTypeChannel(typ); got != want {
			t.Errorf("EventTypeChannel(%s) = %s, want %s", typ, got, want)
		}
	}
}
