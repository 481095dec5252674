// Package aggregator implements the Event Aggregator (C3): a staged pipeline
// sitting between high-volume producers and the Event Bus, configured per
// event type with one of five strategies (none, latest-only, count-based,
// sliding-window, priority-queue), expressed as Go's cooperative
// single-owner concurrency idiom rather than a pool of async tasks.
package aggregator

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// Strategy is a closed enumeration of aggregation behaviors.
type Strategy string

const (
	StrategyNone          Strategy = "none"
	StrategyLatestOnly    Strategy = "latest-only"
	StrategyCountBased    Strategy = "count-based"
	StrategySlidingWindow Strategy = "sliding-window"
	StrategyPriorityQueue Strategy = "priority-queue"
)

// Config configures aggregation for one event type.
type Config struct {
	Strategy      Strategy
	DedupFields   []string      // payload fields combined with event type to form the dedup key
	BatchSize     int           // count-based: flush after this many events
	MaxDelay      time.Duration // latest-only/count-based: flush after this much time regardless of count
	Window        time.Duration // sliding-window: accumulation window
	MergeFields   []string      // sliding-window/count-based: numeric fields to sum/avg/min/max/count
}

// DefaultConfigs is the default per-event-type aggregation table, including
// collaboration, log-message, and performance-alert entries.
func DefaultConfigs() map[domain.EventType]Config {
	return map[domain.EventType]Config{
		domain.EventTypeAgentStatus: {
			Strategy:    StrategyLatestOnly,
			DedupFields: []string{"agent_id"},
			MaxDelay:    2 * time.Second,
		},
		domain.EventTypeTaskUpdate: {
			Strategy:    StrategyCountBased,
			BatchSize:   20,
			MaxDelay:    3 * time.Second,
			MergeFields: []string{"progress", "tokens_used", "cost_usd"},
		},
		domain.EventTypeMetrics: {
			Strategy:    StrategySlidingWindow,
			Window:      5 * time.Second,
			MergeFields: []string{"cpu_percent", "memory_mb", "tokens_per_second", "cost_per_second_usd"},
		},
		domain.EventTypeSystemAlert: {
			Strategy: StrategyPriorityQueue,
		},
		domain.EventTypeHeartbeat: {
			Strategy:    StrategyLatestOnly,
			DedupFields: []string{"source"},
			MaxDelay:    10 * time.Second,
		},
		domain.EventTypeBroadcast: {
			Strategy: StrategyNone,
		},
		domain.EventTypeCollaboration: {
			Strategy:  StrategyCountBased,
			BatchSize: 5,
			MaxDelay:  2 * time.Second,
		},
		domain.EventTypeLogMessage: {
			Strategy:  StrategyCountBased,
			BatchSize: 50,
			MaxDelay:  5 * time.Second,
		},
		domain.EventTypePerformanceAlert: {
			Strategy: StrategyPriorityQueue,
		},
	}
}

// flushCadence is the fixed tick at which open batches are scanned for
// expiry and the priority queue is drained.
const flushCadence = 1 * time.Second

// priorityQueueAccumulation is the short delay allowing same-tick
// coalescing of non-urgent events on the priority-queue strategy.
const priorityQueueAccumulation = 1 * time.Second

// Sink receives aggregator output, typically eventbus.Bus.Publish.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Aggregator runs the per-event-type pipeline and periodically flushes to Sink.
type Aggregator struct {
	sink    Sink
	metrics *metrics.Metrics
	log     *logger.Logger
	configs map[domain.EventType]Config

	mu      sync.Mutex
	batches map[domain.EventType]*batch
	dedup   *dedupCache
	pq      map[domain.EventType]*priorityHeap

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an Aggregator with the given per-event-type configuration
// (use DefaultConfigs() for the defaults, override/extend as needed).
func New(sink Sink, configs map[domain.EventType]Config, m *metrics.Metrics, log *logger.Logger) *Aggregator {
	return &Aggregator{
		sink:    sink,
		metrics: m,
		log:     log,
		configs: configs,
		batches: make(map[domain.EventType]*batch),
		dedup:   newDedupCache(),
		pq:      make(map[domain.EventType]*priorityHeap),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the periodic flush loop. Batch state is shared between the
// flush loop and Ingest and guarded by a.mu; the dedup cache uses its own
// lock since lookups happen inline with Ingest.
func (a *Aggregator) Start(ctx context.Context) {
	go a.flushLoop(ctx)
}

// Stop halts the flush loop and flushes all pending batches.
func (a *Aggregator) Stop(ctx context.Context) {
	close(a.stopCh)
	<-a.doneCh
	a.flushAll(ctx)
}

func (a *Aggregator) flushLoop(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(flushCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aggregator) tick(ctx context.Context) {
	now := time.Now()
	a.mu.Lock()
	var toFlush []*batch
	for t, b := range a.batches {
		if b.shouldFlush(now) {
			toFlush = append(toFlush, b)
			delete(a.batches, t)
		}
	}
	var pqFlush []domain.EventType
	for t, pq := range a.pq {
		if pq.Len() > 0 && now.Sub(pq.oldest) >= priorityQueueAccumulation {
			pqFlush = append(pqFlush, t)
		}
	}
	a.mu.Unlock()

	for _, b := range toFlush {
		a.flushBatch(ctx, b)
	}
	for _, t := range pqFlush {
		a.drainPriorityQueue(ctx, t)
	}
}

func (a *Aggregator) flushAll(ctx context.Context) {
	a.mu.Lock()
	all := make([]*batch, 0, len(a.batches))
	for t, b := range a.batches {
		all = append(all, b)
		delete(a.batches, t)
	}
	pqTypes := make([]domain.EventType, 0, len(a.pq))
	for t := range a.pq {
		pqTypes = append(pqTypes, t)
	}
	a.mu.Unlock()

	for _, b := range all {
		a.flushBatch(ctx, b)
	}
	for _, t := range pqTypes {
		a.drainPriorityQueue(ctx, t)
	}
}

// Ingest accepts a raw event and either passes it through, folds it into an
// open batch, or routes it to the priority queue, per the event type's
// configured strategy. Aggregator exceptions fall back to pass-through of
// the underlying event.
func (a *Aggregator) Ingest(ctx context.Context, event domain.Event) error {
	cfg, ok := a.configs[event.Type]
	if !ok {
		cfg = Config{Strategy: StrategyNone}
	}

	switch cfg.Strategy {
	case StrategyNone:
		return a.sink.Publish(ctx, event)
	case StrategyLatestOnly:
		return a.handleLatestOnly(ctx, event, cfg)
	case StrategyCountBased:
		return a.handleCountBased(ctx, event, cfg)
	case StrategySlidingWindow:
		return a.handleSlidingWindow(ctx, event, cfg)
	case StrategyPriorityQueue:
		return a.handlePriorityQueue(ctx, event)
	default:
		return a.sink.Publish(ctx, event)
	}
}

func (a *Aggregator) dedupKey(event domain.Event, fields []string) string {
	key := string(event.Type)
	for _, f := range fields {
		if v, ok := event.PayloadField(f); ok {
			if b, err := json.Marshal(v); err == nil {
				key += "|" + f + "=" + string(b)
			}
		}
	}
	return key
}

// handleLatestOnly dedups by key and keeps only the most recent event for
// that key in the pending batch. A batch flushed immediately (MaxDelay<=0)
// is removed from a.batches only after the replacement that triggered the
// flush has been captured in it, so a second event for the same key inside
// the dedup TTL window always replaces the live batch rather than racing
// an empty map entry.
func (a *Aggregator) handleLatestOnly(ctx context.Context, event domain.Event, cfg Config) error {
	key := a.dedupKey(event, cfg.DedupFields)
	ttl := cfg.MaxDelay * 2
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	seen := a.dedup.seenRecently(key, ttl)
	if !seen {
		a.dedup.mark(key)
	}

	a.mu.Lock()
	if b, ok := a.batches[event.Type]; ok {
		replaced := false
		if seen {
			for i, e := range b.items {
				if a.dedupKey(e, cfg.DedupFields) == key {
					b.items[i] = event
					replaced = true
					break
				}
			}
		}
		if !replaced {
			b.add(event)
		}
	} else {
		a.batches[event.Type] = newBatch(event, cfg)
	}
	var flush *batch
	if cfg.MaxDelay <= 0 {
		flush = a.batches[event.Type]
		delete(a.batches, event.Type)
	}
	a.mu.Unlock()

	if flush != nil {
		return a.flushBatch(ctx, flush)
	}
	return nil
}

func (a *Aggregator) handleCountBased(ctx context.Context, event domain.Event, cfg Config) error {
	a.mu.Lock()
	b, ok := a.batches[event.Type]
	if !ok {
		b = newBatch(event, cfg)
		a.batches[event.Type] = b
	} else {
		b.add(event)
	}
	full := cfg.BatchSize > 0 && b.size() >= cfg.BatchSize
	if full {
		delete(a.batches, event.Type)
	}
	a.mu.Unlock()
	if full {
		return a.flushBatch(ctx, b)
	}
	return nil
}

func (a *Aggregator) handleSlidingWindow(ctx context.Context, event domain.Event, cfg Config) error {
	a.mu.Lock()
	b, ok := a.batches[event.Type]
	if !ok {
		b = newBatch(event, cfg)
		a.batches[event.Type] = b
	} else {
		b.add(event)
	}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) handlePriorityQueue(ctx context.Context, event domain.Event) error {
	if event.Priority.AtLeast(domain.EventPriorityHigh) {
		return a.sink.Publish(ctx, event)
	}
	a.mu.Lock()
	pq, ok := a.pq[event.Type]
	if !ok {
		pq = newPriorityHeap()
		a.pq[event.Type] = pq
	}
	pq.push(event)
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) drainPriorityQueue(ctx context.Context, eventType domain.EventType) error {
	a.mu.Lock()
	pq, ok := a.pq[eventType]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	events := pq.drainAll()
	delete(a.pq, eventType)
	a.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		return a.sink.Publish(ctx, events[0])
	}
	agg := buildAggregate(events, nil)
	return a.sink.Publish(ctx, agg)
}

func (a *Aggregator) flushBatch(ctx context.Context, b *batch) error {
	events := b.events()
	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		if a.metrics != nil {
			a.metrics.ObserveBatchSize(string(events[0].Type), 1)
		}
		return a.sink.Publish(ctx, events[0])
	}
	agg := buildAggregate(events, b.cfg.MergeFields)
	if a.metrics != nil {
		a.metrics.ObserveBatchSize(string(events[0].Type), len(events))
	}
	return a.sink.Publish(ctx, agg)
}

// buildAggregate produces a single aggregated event from a batch of N
// events: batch size, time span, original event ids, per-mergeable-
// numeric-field statistics, and the most recent values for non-mergeable
// fields. The aggregated event retains the highest priority seen in the batch.
func buildAggregate(events []domain.Event, mergeFields []string) domain.Event {
	ids := make([]string, 0, len(events))
	minTS, maxTS := events[0].Timestamp, events[0].Timestamp
	highestPriority := events[0].Priority
	latestFields := make(map[string]interface{})
	stats := make(map[string]fieldStats)

	for _, e := range events {
		ids = append(ids, e.ID)
		if e.Timestamp.Before(minTS) {
			minTS = e.Timestamp
		}
		if e.Timestamp.After(maxTS) {
			maxTS = e.Timestamp
		}
		if e.Priority.Rank() > highestPriority.Rank() {
			highestPriority = e.Priority
		}
		var payload map[string]interface{}
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &payload)
		}
		for k, v := range payload {
			latestFields[k] = v
		}
		for _, field := range mergeFields {
			v, ok := payload[field]
			if !ok {
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			s := stats[field]
			s.accumulate(f)
			stats[field] = s
		}
	}

	mergedStats := make(map[string]interface{}, len(stats))
	for field, s := range stats {
		mergedStats[field] = map[string]float64{
			"sum": s.sum, "avg": s.avg(), "min": s.min, "max": s.max, "count": float64(s.count),
		}
	}

	payload := map[string]interface{}{
		"batch_size":  len(events),
		"event_ids":   ids,
		"time_span":   map[string]interface{}{"start": minTS, "end": maxTS},
		"stats":       mergedStats,
		"last_values": latestFields,
	}
	raw, _ := json.Marshal(payload)

	return domain.Event{
		ID:         uuid.NewString(),
		Type:       events[0].Type,
		Priority:   highestPriority,
		Timestamp:  maxTS,
		Source:     "aggregator",
		Payload:    raw,
		Aggregated: true,
	}
}

type fieldStats struct {
	sum   float64
	min   float64
	max   float64
	count int
}

func (s *fieldStats) accumulate(v float64) {
	if s.count == 0 {
		s.min, s.max = v, v
	} else {
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	s.sum += v
	s.count++
}

func (s *fieldStats) avg() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// batch accumulates events for count-based and sliding-window strategies,
// and one latest event per dedup key for latest-only.
type batch struct {
	cfg       Config
	createdAt time.Time
	items     []domain.Event
}

func newBatch(first domain.Event, cfg Config) *batch {
	return &batch{cfg: cfg, createdAt: time.Now(), items: []domain.Event{first}}
}

func (b *batch) add(e domain.Event)           { b.items = append(b.items, e) }
func (b *batch) size() int                    { return len(b.items) }
func (b *batch) events() []domain.Event       { return b.items }
func (b *batch) replaceLatest(e domain.Event) { b.items = []domain.Event{e} }

func (b *batch) shouldFlush(now time.Time) bool {
	if b.cfg.MaxDelay > 0 && now.Sub(b.createdAt) >= b.cfg.MaxDelay {
		return true
	}
	if b.cfg.Window > 0 && now.Sub(b.createdAt) >= b.cfg.Window {
		return true
	}
	return false
}

// dedupCache remembers seen keys for twice the configured max-delay;
// entries older than the TTL are evicted lazily on lookup.
type dedupCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[string]time.Time)}
}

func (d *dedupCache) seenRecently(key string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[key]
	if !ok {
		return false
	}
	if time.Since(at) > ttl {
		delete(d.seen, key)
		return false
	}
	return true
}

func (d *dedupCache) mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = time.Now()
}

// priorityHeap orders events by priority rank (highest first) for the
// priority-queue strategy's drain; events below the "high" floor accumulate
// here until the next flush tick.
type priorityHeap struct {
	items  []domain.Event
	oldest time.Time
}

func newPriorityHeap() *priorityHeap {
	return &priorityHeap{oldest: time.Now()}
}

func (p *priorityHeap) Len() int { return len(p.items) }

func (p *priorityHeap) push(e domain.Event) {
	if len(p.items) == 0 {
		p.oldest = time.Now()
	}
	h := (*eventHeap)(&p.items)
	heap.Push(h, e)
}

func (p *priorityHeap) drainAll() []domain.Event {
	h := (*eventHeap)(&p.items)
	out := make([]domain.Event, 0, h.Len())
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(domain.Event))
	}
	return out
}

// eventHeap implements container/heap.Interface over domain.Event by
// priority rank, highest first.
type eventHeap []domain.Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	return h[i].Priority.Rank() > h[j].Priority.Rank()
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(domain.Event))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
