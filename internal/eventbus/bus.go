// Package eventbus implements the Event Bus (C2): publish/subscribe/recent
// over named channels, a bounded per-channel ring buffer for replay, a global
// timeline, and gzip compression for large payloads.
package eventbus

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// compressionThreshold is the payload size (bytes) at or above which publish
// gzip-compresses the event before handing it to the store.
const compressionThreshold = 1024

// globalTimelineKey is the sorted-set key holding the last 24h of events
// across all channels.
const globalTimelineKey = "event_timeline"

const globalTimelineRetention = 24 * time.Hour

// Bus is the Event Bus implementation.
type Bus struct {
	st       store.Store
	metrics  *metrics.Metrics
	log      *logger.Logger
	channels map[string]domain.Channel

	mu          sync.RWMutex
	subscribers map[string][]chan domain.Event
}

// New creates a Bus with the stable channel configuration.
func New(st store.Store, m *metrics.Metrics, log *logger.Logger) *Bus {
	return &Bus{
		st:          st,
		metrics:     m,
		log:         log,
		channels:    domain.DefaultChannels(),
		subscribers: make(map[string][]chan domain.Event),
	}
}

// Publish broadcasts event on its channel and writes it to the channel's
// replay buffer and the global timeline. Publish never blocks on subscriber
// delivery; if the store is unavailable, publish fails fast, and the
// recent-buffer write is best-effort (a failure there does not fail the
// publish).
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	channel := domain.EventTypeChannel(event.Type)

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	wire := raw
	if len(raw) >= compressionThreshold {
		compressed, cErr := gzipCompress(raw)
		if cErr == nil {
			wire = compressed
		}
	}

	if err := b.st.Publish(ctx, channel, wire); err != nil {
		if b.metrics != nil {
			b.metrics.RecordDrop("publish_failed")
		}
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	if b.metrics != nil {
		b.metrics.RecordPublish(channel)
	}

	b.deliverLocal(channel, event)
	b.writeReplayBuffer(ctx, channel, string(wire))
	b.writeGlobalTimeline(ctx, event.ID, string(wire), event.Timestamp)

	return nil
}

// deliverLocal fans the event out to in-process Subscribe() callers. The
// store's own pub/sub delivers to other processes; local delivery is an
// optimization so a single-process deployment (and tests) need no round
// trip through the store.
func (b *Bus) deliverLocal(channel string, event domain.Event) {
	b.mu.RLock()
	subs := append([]chan domain.Event(nil), b.subscribers[channel]...)
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.RecordDrop("subscriber_slow")
			}
		}
	}
}

func (b *Bus) writeReplayBuffer(ctx context.Context, channel, wire string) {
	cfg, ok := b.channels[channel]
	if !ok {
		cfg = domain.Channel{RingCapacity: 500, RetentionWindow: time.Hour}
	}
	key := "buffer:" + channel
	if err := b.st.LPush(ctx, key, wire); err != nil {
		return
	}
	_ = b.st.LTrim(ctx, key, 0, int64(cfg.RingCapacity-1))
	_ = b.st.Expire(ctx, key, cfg.RetentionWindow)
	if b.metrics != nil {
		if n, err := b.st.LLen(ctx, key); err == nil {
			b.metrics.SetRingBufferLength(channel, int(n))
		}
	}
}

func (b *Bus) writeGlobalTimeline(ctx context.Context, id, wire string, ts time.Time) {
	_ = b.st.ZAdd(ctx, globalTimelineKey, id+"|"+wire, float64(ts.Unix()))
	cutoff := float64(time.Now().Add(-globalTimelineRetention).Unix())
	_ = b.st.ZRemRangeByScore(ctx, globalTimelineKey, 0, cutoff)
}

// Subscribe registers a local listener on the given channels. The returned
// cancel function releases the subscription; callers must invoke it on
// disconnect or shutdown.
func (b *Bus) Subscribe(channels ...string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 256)
	b.mu.Lock()
	for _, channel := range channels {
		b.subscribers[channel] = append(b.subscribers[channel], ch)
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, channel := range channels {
			list := b.subscribers[channel]
			for i, c := range list {
				if c == ch {
					b.subscribers[channel] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
	return ch, cancel
}

// Recent returns up to n most-recent events from a channel's replay buffer.
func (b *Bus) Recent(ctx context.Context, channel string, n int) ([]domain.Event, error) {
	key := "buffer:" + channel
	raws, err := b.st.LRange(ctx, key, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("eventbus: recent: %w", err)
	}
	out := make([]domain.Event, 0, len(raws))
	for _, raw := range raws {
		data := []byte(raw)
		if decompressed, ok := tryGunzip(data); ok {
			data = decompressed
		}
		var e domain.Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
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

func tryGunzip(data []byte) ([]byte, bool) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return nil, false
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
