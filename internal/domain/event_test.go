package domain

import (
	"encoding/json"
	"testing"
)

func TestEventPriorityValidAndOrdering(t *testing.T) {
	if !EventPriorityHigh.Valid() {
		t.Error("expected EventPriorityHigh to be valid")
	}
	if EventPriority("urgent").Valid() {
		t.Error("expected an unknown priority to be invalid")
	}
	if !EventPriorityCritical.AtLeast(EventPriorityHigh) {
		t.Error("critical should be at least high")
	}
	if EventPriorityLow.AtLeast(EventPriorityNormal) {
		t.Error("low should not be at least normal")
	}
	if EventPriorityNormal.Rank() <= EventPriorityLow.Rank() {
		t.Error("normal rank should exceed low rank")
	}
}

func TestEventPayloadField(t *testing.T) {
	e := Event{Payload: json.RawMessage(`{"agent_id":"w1","load":3}`)}
	v, ok := e.PayloadField("agent_id")
	if !ok || v != "w1" {
		t.Errorf("PayloadField(agent_id) = %v, %v; want w1, true", v, ok)
	}
	if _, ok := e.PayloadField("missing"); ok {
		t.Error("expected missing field to report false")
	}

	empty := Event{}
	if _, ok := empty.PayloadField("agent_id"); ok {
		t.Error("expected empty payload to report false")
	}

	malformed := Event{Payload: json.RawMessage(`{not json`)}
	if _, ok := malformed.PayloadField("agent_id"); ok {
		t.Error("expected malformed payload to report false")
	}
}

func TestEventTypeChannelRoutesKnownTypes(t *testing.T) {
	cases := map[EventType]string{
		EventTypeAgentStatus:      ChannelAgents,
		EventTypeTaskUpdate:       ChannelTasks,
		EventTypeMetrics:          ChannelMetrics,
		EventTypeSystemAlert:      ChannelAlerts,
		EventTypeHeartbeat:        ChannelHeartbeat,
		EventTypePerformanceAlert: ChannelPerformance,
		EventTypeLogMessage:       ChannelLogs,
		EventTypeCollaboration:    ChannelCollaboration,
		EventTypeBroadcast:        ChannelBroadcast,
	}
	for et, want := range cases {
		if got := EventTypeChannel(et); got != want {
			t.Errorf("EventTypeChannel(%s) = %s, want %s", et, got, want)
		}
	}
	if got := EventTypeChannel("unknown"); got != ChannelBroadcast {
		t.Errorf("EventTypeChannel(unknown) = %s, want %s (default)", got, ChannelBroadcast)
	}
}

func TestDefaultChannelsCoversAllStableNames(t *testing.T) {
	channels := DefaultChannels()
	names := []string{
		ChannelAgents, ChannelTasks, ChannelMetrics, ChannelAlerts,
		ChannelCollaboration, ChannelBroadcast, ChannelHeartbeat,
		ChannelPerformance, ChannelLogs,
	}
	for _, name := range names {
		ch, ok := channels[name]
		if !ok {
			t.Fatalf("missing default channel %q", name)
		}
		if ch.RingCapacity <= 0 {
			t.Errorf("channel %q has non-positive ring capacity %d", name, ch.RingCapacity)
		}
	}
}
