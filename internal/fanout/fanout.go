// Package fanout implements the Stream Fan-Out (C6): one subscription object
// per connected client, filter predicate, bounded queue with drop-oldest
// backpressure, optional payload compression, and a periodic liveness tick.
// Transport-agnostic — internal/httpapi wires it to both SSE and WebSocket.
package fanout

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
)

// compressionThreshold matches the Event Bus's gzip threshold.
const compressionThreshold = 1024

// livenessInterval is the keep-alive tick cadence.
const livenessInterval = 30 * time.Second

// writeTimeout is the per-write deadline granularity interleaving liveness
// ticks with outbound delivery.
const writeTimeout = 1 * time.Second

// EventSource is the subset of eventbus.Bus the fan-out needs.
type EventSource interface {
	Subscribe(channels ...string) (<-chan domain.Event, func())
	Recent(ctx context.Context, channel string, n int) ([]domain.Event, error)
}

// OutboundMessage is one item the Connection's writer loop delivers to the
// client transport (SSE or WebSocket), already filtered and ready to
// serialize.
type OutboundMessage struct {
	Event      domain.Event
	Compressed bool
	Data       []byte
	Liveness   bool
}

// Connection is one client's subscription state and delivery queue.
type Connection struct {
	ID       string
	filterMu sync.RWMutex
	filter   domain.Filter
	channels map[string]bool
	compress bool

	queue chan domain.Event

	statsMu sync.Mutex
	stats   domain.SubscriptionStats

	cancelSub func()
	metrics   *metrics.Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

// Manager tracks every active Connection and its bus subscription.
type Manager struct {
	bus     EventSource
	metrics *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]*Connection
}

// New creates a fan-out Manager over the given event source.
func New(bus EventSource, m *metrics.Metrics) *Manager {
	return &Manager{bus: bus, metrics: m, conns: make(map[string]*Connection)}
}

// Accept registers a new connection: parses the
// caller-provided filter/channels, registers a bus subscription, and
// optionally replays up to replayN most-recent buffered events that pass
// the filter. queueCapacity defaults to max(100, 2*replayN) when 0 is
// passed.
func (m *Manager) Accept(ctx context.Context, channels []string, filter domain.Filter, compress bool, replayN, queueCapacity int) (*Connection, []domain.Event, error) {
	if len(channels) == 0 {
		return nil, nil, domain.ErrValidation
	}
	if queueCapacity <= 0 {
		queueCapacity = replayN * 2
		if queueCapacity < 100 {
			queueCapacity = 100
		}
	}

	chanSet := make(map[string]bool, len(channels))
	for _, c := range channels {
		chanSet[c] = true
	}

	conn := &Connection{
		ID:       uuid.NewString(),
		filter:   filter,
		channels: chanSet,
		compress: compress,
		queue:    make(chan domain.Event, queueCapacity),
		metrics:  m.metrics,
		closed:   make(chan struct{}),
	}

	events, cancel := m.bus.Subscribe(channels...)
	conn.cancelSub = cancel

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetFanoutSubscriptions(m.count())
	}

	go m.listen(conn, events)

	var replay []domain.Event
	if replayN > 0 {
		for channel := range chanSet {
			recent, err := m.bus.Recent(ctx, channel, replayN)
			if err != nil {
				continue
			}
			for _, e := range recent {
				if conn.Matches(&e) {
					replay = append(replay, e)
				}
			}
		}
	}

	return conn, replay, nil
}

func (m *Manager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// listen is the background listener placing each incoming bus event into
// the connection's bounded queue; on overflow the oldest element is
// dropped and the drop counter incremented. Events whose channel is no
// longer in the connection's channel set are skipped.
func (m *Manager) listen(conn *Connection, events <-chan domain.Event) {
	for {
		select {
		case <-conn.closed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.filterMu.RLock()
			subscribed := conn.channels[domain.EventTypeChannel(e.Type)]
			conn.filterMu.RUnlock()
			if !subscribed || !conn.Matches(&e) {
				continue
			}
			conn.enqueue(e, m.metrics)
		}
	}
}

func (c *Connection) enqueue(e domain.Event, m *metrics.Metrics) {
	select {
	case c.queue <- e:
		c.statsMu.Lock()
		c.stats.Received++
		c.statsMu.Unlock()
	default:
		// drop-oldest: make room by discarding one pending item, then retry.
		select {
		case <-c.queue:
			c.statsMu.Lock()
			c.stats.Dropped++
			c.statsMu.Unlock()
			if m != nil {
				m.RecordFanoutDrop(c.ID)
			}
		default:
		}
		select {
		case c.queue <- e:
		default:
		}
	}
	if m != nil {
		m.SetFanoutQueueDepth(c.ID, len(c.queue))
	}
}

// Matches evaluates the connection's filter against an event using the
// fixed, short-circuiting order domain.Filter.Matches defines.
func (c *Connection) Matches(e *domain.Event) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter.Matches(e)
}

// Configure updates the connection's filter and/or compression flag (the
// WebSocket `configure` client message).
func (c *Connection) Configure(filter *domain.Filter, compress *bool) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if filter != nil {
		c.filter = *filter
	}
	if compress != nil {
		c.compress = *compress
	}
}

// Subscribe adds channels to an existing connection (the `subscribe`
// client message). Because Accept already owns one bus subscription for
// the connection's initial channel set, adding channels re-subscribes to
// the union so the listener observes the new channels too.
func (m *Manager) Subscribe(conn *Connection, bus EventSource, newChannels []string) {
	conn.filterMu.Lock()
	for _, c := range newChannels {
		conn.channels[c] = true
	}
	channels := make([]string, 0, len(conn.channels))
	for c := range conn.channels {
		channels = append(channels, c)
	}
	conn.filterMu.Unlock()

	if conn.cancelSub != nil {
		conn.cancelSub()
	}
	events, cancel := bus.Subscribe(channels...)
	conn.cancelSub = cancel
	go m.listen(conn, events)
}

// Unsubscribe removes channels from a connection's set (the `unsubscribe`
// client message). It does not tear down the underlying bus subscription:
// listen skips events whose channel is no longer in the set, and a later
// Subscribe re-subscribes to the remaining union.
func (conn *Connection) Unsubscribe(channels []string) {
	conn.filterMu.Lock()
	defer conn.filterMu.Unlock()
	for _, c := range channels {
		delete(conn.channels, c)
	}
}

// Next blocks until the next queued event is available, the liveness tick
// is due (livenessInterval after the previous one), writeTimeout elapses
// with nothing to deliver (ErrWriteIdle), or ctx is cancelled — the
// foreground delivery loop.
// The returned OutboundMessage is either a real event (serialized and
// optionally gzip-compressed once its size crosses 1 KiB) or a liveness
// tick.
func (c *Connection) Next(ctx context.Context) (*OutboundMessage, error) {
	c.statsMu.Lock()
	if c.stats.LastLiveness.IsZero() {
		c.stats.LastLiveness = time.Now()
	}
	untilTick := livenessInterval - time.Since(c.stats.LastLiveness)
	c.statsMu.Unlock()
	ticker := time.NewTimer(untilTick)
	defer ticker.Stop()
	writeDeadline := time.NewTimer(writeTimeout)
	defer writeDeadline.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, context.Canceled
	case e := <-c.queue:
		msg := c.serialize(e)
		c.statsMu.Lock()
		c.stats.Sent++
		c.statsMu.Unlock()
		return msg, nil
	case <-ticker.C:
		c.statsMu.Lock()
		c.stats.LastLiveness = time.Now()
		c.statsMu.Unlock()
		return c.livenessMessage(), nil
	case <-writeDeadline.C:
		return nil, ErrWriteIdle
	}
}

// ErrWriteIdle is returned by Next when writeTimeout elapses with nothing to
// deliver; callers should treat it as "try again", not connection loss.
var ErrWriteIdle = &idleError{}

type idleError struct{}

func (*idleError) Error() string { return "fanout: write idle, retry" }

func (c *Connection) serialize(e domain.Event) *OutboundMessage {
	raw, _ := json.Marshal(e)
	msg := &OutboundMessage{Event: e, Data: raw}
	if c.compress && len(raw) >= compressionThreshold {
		if compressed, err := gzipCompress(raw); err == nil {
			msg.Data = compressed
			msg.Compressed = true
		}
	}
	return msg
}

func (c *Connection) livenessMessage() *OutboundMessage {
	payload, _ := json.Marshal(map[string]interface{}{
		"timestamp": time.Now().UTC(), "connection_id": c.ID,
	})
	return &OutboundMessage{
		Event: domain.Event{
			ID: uuid.NewString(), Type: domain.EventTypeHeartbeat,
			Priority: domain.EventPriorityLow, Timestamp: time.Now().UTC(),
			Source: "fanout", Payload: payload,
		},
		Data:     payload,
		Liveness: true,
	}
}

// TagSource stamps an event published by a client with its connection id
// as source, for the `publish` client message.
func (c *Connection) TagSource(e *domain.Event) {
	e.Source = "client:" + c.ID
}

// Stats returns a snapshot of delivery counters.
func (c *Connection) Stats() domain.SubscriptionStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close cancels the listener, releases the bus subscription, and removes
// the subscription record.
func (m *Manager) Close(conn *Connection) {
	conn.closeOnce.Do(func() {
		close(conn.closed)
		if conn.cancelSub != nil {
			conn.cancelSub()
		}
	})
	m.mu.Lock()
	delete(m.conns, conn.ID)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetFanoutSubscriptions(m.count())
	}
}

// Shutdown iterates all subscriptions and performs the same cleanup as
// Close, for graceful process shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		m.Close(c)
	}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
