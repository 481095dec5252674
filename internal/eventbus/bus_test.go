package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/store/memstore"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	m := metrics.NewWithRegistry(t.Name(), prometheus.NewRegistry())
	return New(memstore.New(), m, logger.NewDefault("test"))
}

func TestPublishDeliversToLocalSubscriber(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	events, cancel := b.Subscribe(domain.ChannelAgents)
	defer cancel()

	err := b.Publish(ctx, domain.Event{Type: domain.EventTypeAgentStatus, Priority: domain.EventPriorityNormal})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-events:
		if e.Type != domain.EventTypeAgentStatus {
			t.Errorf("got type %s, want %s", e.Type, domain.EventTypeAgentStatus)
		}
		if e.ID == "" {
			t.Error("expected Publish to assign an ID")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishRoutesByEventTypeChannel(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	agentEvents, cancel := b.Subscribe(domain.ChannelAgents)
	defer cancel()
	taskEvents, cancel2 := b.Subscribe(domain.ChannelTasks)
	defer cancel2()

	_ = b.Publish(ctx, domain.Event{Type: domain.EventTypeTaskUpdate})

	select {
	case <-agentEvents:
		t.Fatal("task-update event should not route to the agents channel")
	case e := <-taskEvents:
		if e.Type != domain.EventTypeTaskUpdate {
			t.Errorf("got %s, want task-update", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRecentReplaysBufferedEvents(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, domain.Event{Type: domain.EventTypeMetrics}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	recent, err := b.Recent(ctx, domain.ChannelMetrics, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(recent))
	}
}

func TestRecentSurvivesCompressionThreshold(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	big := make([]byte, compressionThreshold*2)
	for i := range big {
		big[i] = 'x'
	}
	payload, _ := jsonMarshalString(big)
	if err := b.Publish(ctx, domain.Event{Type: domain.EventTypeLogMessage, Payload: payload}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recent, err := b.Recent(ctx, domain.ChannelLogs, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent returned %d events, want 1", len(recent))
	}
	if len(recent[0].Payload) == 0 {
		t.Error("expected decompressed payload to survive the round trip")
	}
}

func jsonMarshalString(b []byte) ([]byte, error) {
	return []byte(`"` + string(b) + `"`), nil
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	events, cancel := b.Subscribe(domain.ChannelBroadcast)
	cancel()

	_ = b.Publish(ctx, domain.Event{Type: domain.EventTypeBroadcast})

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected no delivery after cancel")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
