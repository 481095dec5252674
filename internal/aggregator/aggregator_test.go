package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) last() domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func newTestAggregator(cfg map[domain.EventType]Config) (*Aggregator, *recordingSink) {
	sink := &recordingSink{}
	return New(sink, cfg, nil, nil), sink
}

func TestIngestNonePassesThrough(t *testing.T) {
	cfg := map[domain.EventType]Config{domain.EventTypeBroadcast: {Strategy: StrategyNone}}
	agg, sink := newTestAggregator(cfg)

	err := agg.Ingest(context.Background(), domain.Event{Type: domain.EventTypeBroadcast})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d events, want 1", sink.count())
	}
}

func TestIngestLatestOnlyReplacesPendingBatch(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeAgentStatus: {Strategy: StrategyLatestOnly, DedupFields: []string{"agent_id"}, MaxDelay: time.Minute},
	}
	agg, sink := newTestAggregator(cfg)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"agent_id": "w1"})
	first := domain.Event{Type: domain.EventTypeAgentStatus, Payload: payload}
	if err := agg.Ingest(ctx, first); err != nil {
		t.Fatalf("Ingest first: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("first latest-only event should not publish immediately, got %d", sink.count())
	}

	second := domain.Event{Type: domain.EventTypeAgentStatus, Payload: payload}
	if err := agg.Ingest(ctx, second); err != nil {
		t.Fatalf("Ingest second: %v", err)
	}

	agg.mu.Lock()
	b := agg.batches[domain.EventTypeAgentStatus]
	agg.mu.Unlock()
	if b == nil || b.size() != 1 {
		t.Fatalf("expected the batch to hold exactly the latest replacement")
	}
}

func TestIngestLatestOnlyZeroDelayFlushesImmediately(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeHeartbeat: {Strategy: StrategyLatestOnly, MaxDelay: 0},
	}
	agg, sink := newTestAggregator(cfg)

	if err := agg.Ingest(context.Background(), domain.Event{Type: domain.EventTypeHeartbeat}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected immediate flush with zero MaxDelay, got %d events", sink.count())
	}
}

func TestIngestLatestOnlyZeroDelaySecondEventWithinTTLReplacesFlushed(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeHeartbeat: {Strategy: StrategyLatestOnly, DedupFields: []string{"source"}, MaxDelay: 0},
	}
	agg, sink := newTestAggregator(cfg)
	ctx := context.Background()

	payload := func(v string) []byte {
		b, _ := json.Marshal(map[string]string{"source": "w1", "status": v})
		return b
	}

	if err := agg.Ingest(ctx, domain.Event{Type: domain.EventTypeHeartbeat, Payload: payload("idle")}); err != nil {
		t.Fatalf("Ingest first: %v", err)
	}
	if err := agg.Ingest(ctx, domain.Event{Type: domain.EventTypeHeartbeat, Payload: payload("working")}); err != nil {
		t.Fatalf("Ingest second: %v", err)
	}

	if sink.count() != 2 {
		t.Fatalf("expected both events to flush (zero delay), got %d", sink.count())
	}
	var got map[string]string
	if err := json.Unmarshal(sink.last().Payload, &got); err != nil {
		t.Fatalf("unmarshal last published payload: %v", err)
	}
	if got["status"] != "working" {
		t.Fatalf("last published payload = %v, want status=working (the replacement event, not dropped)", got)
	}
}

func TestIngestCountBasedFlushesAtBatchSize(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeTaskUpdate: {Strategy: StrategyCountBased, BatchSize: 3, MaxDelay: time.Minute},
	}
	agg, sink := newTestAggregator(cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := agg.Ingest(ctx, domain.Event{Type: domain.EventTypeTaskUpdate}); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	if sink.count() != 1 {
		t.Fatalf("expected one aggregated flush at batch size, got %d events", sink.count())
	}
	flushed := sink.last()
	if !flushed.Aggregated {
		t.Error("expected flushed event to be marked Aggregated")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(flushed.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["batch_size"].(float64) != 3 {
		t.Errorf("batch_size = %v, want 3", payload["batch_size"])
	}
}

func TestIngestCountBasedSingleEventFlushIsNotWrapped(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeCollaboration: {Strategy: StrategyCountBased, BatchSize: 1, MaxDelay: time.Minute},
	}
	agg, sink := newTestAggregator(cfg)

	if err := agg.Ingest(context.Background(), domain.Event{Type: domain.EventTypeCollaboration, ID: "e1"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 published event, got %d", sink.count())
	}
	if sink.last().Aggregated {
		t.Error("a single-event flush should pass through unaggregated")
	}
	if sink.last().ID != "e1" {
		t.Errorf("expected the original event id to survive, got %s", sink.last().ID)
	}
}

func TestIngestSlidingWindowAccumulatesUntilFlush(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeMetrics: {Strategy: StrategySlidingWindow, Window: time.Minute, MergeFields: []string{"cpu_percent"}},
	}
	agg, sink := newTestAggregator(cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		payload, _ := json.Marshal(map[string]float64{"cpu_percent": float64(10 * (i + 1))})
		if err := agg.Ingest(ctx, domain.Event{Type: domain.EventTypeMetrics, Payload: payload}); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
	if sink.count() != 0 {
		t.Fatalf("sliding window should not flush before the window elapses, got %d", sink.count())
	}

	agg.Start(ctx)
	agg.Stop(ctx)
	if sink.count() != 1 {
		t.Fatalf("expected Stop to flush the open window, got %d events", sink.count())
	}

	var payload map[string]interface{}
	_ = json.Unmarshal(sink.last().Payload, &payload)
	stats := payload["stats"].(map[string]interface{})["cpu_percent"].(map[string]interface{})
	if stats["count"].(float64) != 4 {
		t.Errorf("cpu_percent count = %v, want 4", stats["count"])
	}
	if stats["sum"].(float64) != 100 {
		t.Errorf("cpu_percent sum = %v, want 100", stats["sum"])
	}
}

func TestIngestPriorityQueueHighPriorityBypassesQueue(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeSystemAlert: {Strategy: StrategyPriorityQueue},
	}
	agg, sink := newTestAggregator(cfg)

	err := agg.Ingest(context.Background(), domain.Event{Type: domain.EventTypeSystemAlert, Priority: domain.EventPriorityCritical})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("critical priority should publish immediately, got %d events", sink.count())
	}
}

func TestIngestPriorityQueueLowPriorityAccumulatesAndDrains(t *testing.T) {
	cfg := map[domain.EventType]Config{
		domain.EventTypeSystemAlert: {Strategy: StrategyPriorityQueue},
	}
	agg, sink := newTestAggregator(cfg)
	ctx := context.Background()

	_ = agg.Ingest(ctx, domain.Event{Type: domain.EventTypeSystemAlert, Priority: domain.EventPriorityLow})
	_ = agg.Ingest(ctx, domain.Event{Type: domain.EventTypeSystemAlert, Priority: domain.EventPriorityNormal})
	if sink.count() != 0 {
		t.Fatalf("low/normal priority events should accumulate, got %d published", sink.count())
	}

	agg.Start(ctx)
	agg.Stop(ctx)
	if sink.count() != 1 {
		t.Fatalf("expected Stop to drain the priority queue into one aggregate, got %d", sink.count())
	}
	if sink.last().Priority != domain.EventPriorityNormal {
		t.Errorf("drained aggregate priority = %s, want the highest seen (normal)", sink.last().Priority)
	}
}

func TestDedupCacheExpiresAfterTTL(t *testing.T) {
	d := newDedupCache()
	d.mark("k")
	if !d.seenRecently("k", time.Hour) {
		t.Error("expected key to be seen recently")
	}
	if d.seenRecently("k", 0) {
		t.Error("expected a zero TTL to expire immediately")
	}
}

func TestPriorityHeapDrainsHighestFirst(t *testing.T) {
	p := newPriorityHeap()
	p.push(domain.Event{ID: "low", Priority: domain.EventPriorityLow})
	p.push(domain.Event{ID: "normal", Priority: domain.EventPriorityNormal})
	p.push(domain.Event{ID: "high", Priority: domain.EventPriorityHigh})

	drained := p.drainAll()
	if len(drained) != 3 {
		t.Fatalf("drainAll returned %d events, want 3", len(drained))
	}
	if drained[0].ID != "high" {
		t.Errorf("first drained = %s, want high", drained[0].ID)
	}
	if drained[2].ID != "low" {
		t.Errorf("last drained = %s, want low", drained[2].ID)
	}
}
