package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

// fakeBus is a minimal EventSource: Subscribe returns a channel the test
// feeds directly, Recent returns a fixed canned slice per channel.
type fakeBus struct {
	mu      sync.Mutex
	subs    []chan domain.Event
	recent  map[string][]domain.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{recent: make(map[string][]domain.Event)}
}

func (b *fakeBus) Subscribe(channels ...string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, func() { close(ch) }
}

func (b *fakeBus) Recent(ctx context.Context, channel string, n int) ([]domain.Event, error) {
	events := b.recent[channel]
	if len(events) > n {
		events = events[:n]
	}
	return events, nil
}

func (b *fakeBus) publish(e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch <- e
	}
}

func TestAcceptRejectsEmptyChannelSet(t *testing.T) {
	m := New(newFakeBus(), nil)
	_, _, err := m.Accept(context.Background(), nil, domain.Filter{}, false, 0, 0)
	if err != domain.ErrValidation {
		t.Errorf("Accept with no channels = %v, want ErrValidation", err)
	}
}

func TestAcceptReplaysFilteredRecentEvents(t *testing.T) {
	bus := newFakeBus()
	payload, _ := json.Marshal(map[string]string{"agent_id": "w1"})
	bus.recent[domain.ChannelAgents] = []domain.Event{
		{ID: "e1", Type: domain.EventTypeAgentStatus, Payload: payload},
	}
	m := New(bus, nil)

	conn, replay, err := m.Accept(context.Background(), []string{domain.ChannelAgents}, domain.Filter{}, false, 5, 0)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer m.Close(conn)

	if len(replay) != 1 || replay[0].ID != "e1" {
		t.Errorf("replay = %v, want [e1]", replay)
	}
}

func TestListenDeliversMatchingEventsToQueue(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, nil)

	conn, _, err := m.Accept(context.Background(), []string{domain.ChannelTasks}, domain.Filter{}, false, 0, 10)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer m.Close(conn)

	bus.publish(domain.Event{ID: "t1", Type: domain.EventTypeTaskUpdate})

	select {
	case e := <-conn.queue:
		if e.ID != "t1" {
			t.Errorf("queued event id = %s, want t1", e.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the event to reach the connection's queue")
	}
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	conn := &Connection{queue: make(chan domain.Event, 2), closed: make(chan struct{})}

	conn.enqueue(domain.Event{ID: "a"}, nil)
	conn.enqueue(domain.Event{ID: "b"}, nil)
	conn.enqueue(domain.Event{ID: "c"}, nil)

	if conn.stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", conn.stats.Dropped)
	}

	first := <-conn.queue
	second := <-conn.queue
	if first.ID != "b" || second.ID != "c" {
		t.Errorf("got %s, %s; want b, c (a dropped as oldest)", first.ID, second.ID)
	}
}

func TestConfigureUpdatesFilterAndCompression(t *testing.T) {
	conn := &Connection{channels: map[string]bool{}, closed: make(chan struct{})}
	newFilter := domain.Filter{MinPriority: domain.EventPriorityHigh}
	compress := true

	conn.Configure(&newFilter, &compress)

	if conn.filter.MinPriority != domain.EventPriorityHigh {
		t.Error("expected the filter to be replaced")
	}
	if !conn.compress {
		t.Error("expected compress to be enabled")
	}
}

func TestUnsubscribeRemovesChannels(t *testing.T) {
	conn := &Connection{channels: map[string]bool{domain.ChannelTasks: true, domain.ChannelAgents: true}, closed: make(chan struct{})}
	conn.Unsubscribe([]string{domain.ChannelTasks})

	if conn.channels[domain.ChannelTasks] {
		t.Error("expected tasks channel to be removed")
	}
	if !conn.channels[domain.ChannelAgents] {
		t.Error("expected agents channel to remain")
	}
}

func TestTagSourceStampsClientPrefix(t *testing.T) {
	conn := &Connection{ID: "c1", closed: make(chan struct{})}
	e := domain.Event{}
	conn.TagSource(&e)
	if e.Source != "client:c1" {
		t.Errorf("Source = %s, want client:c1", e.Source)
	}
}

func TestSerializeCompressesAboveThresholdWhenEnabled(t *testing.T) {
	conn := &Connection{compress: true, closed: make(chan struct{})}
	big := make([]byte, compressionThreshold*2)
	for i := range big {
		big[i] = 'z'
	}
	payload, _ := json.Marshal(map[string]string{"blob": string(big)})

	msg := conn.serialize(domain.Event{Type: domain.EventTypeLogMessage, Payload: payload})
	if !msg.Compressed {
		t.Error("expected a large payload with compress enabled to be gzip-compressed")
	}
}

func TestSerializeSkipsCompressionBelowThreshold(t *testing.T) {
	conn := &Connection{compress: true, closed: make(chan struct{})}
	msg := conn.serialize(domain.Event{Type: domain.EventTypeHeartbeat, Payload: []byte(`{"x":1}`)})
	if msg.Compressed {
		t.Error("small payloads should not be compressed regardless of the compress flag")
	}
}

func TestNextReturnsContextCanceledAfterClose(t *testing.T) {
	conn := &Connection{queue: make(chan domain.Event, 1), closed: make(chan struct{})}
	close(conn.closed)

	_, err := conn.Next(context.Background())
	if err != context.Canceled {
		t.Errorf("Next after close = %v, want context.Canceled", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, nil)
	conn, _, err := m.Accept(context.Background(), []string{domain.ChannelBroadcast}, domain.Filter{}, false, 0, 0)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	m.Close(conn)
	m.Close(conn)
}
