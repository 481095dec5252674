package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/fanout"
)

// parseStreamParams builds the channel list, filter, and replay/compress
// settings shared by both the SSE and WebSocket entry points from the
// initial request's query string.
func parseStreamParams(r *http.Request) ([]string, domain.Filter, bool, int) {
	q := r.URL.Query()

	var channels []string
	if raw := q.Get("channels"); raw != "" {
		channels = strings.Split(raw, ",")
	} else {
		channels = []string{domain.ChannelBroadcast}
	}

	var filter domain.Filter
	if raw := q.Get("event_types"); raw != "" {
		filter.EventTypes = make(map[domain.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			filter.EventTypes[domain.EventType(t)] = true
		}
	}
	if raw := q.Get("min_priority"); raw != "" {
		filter.MinPriority = domain.EventPriority(raw)
	}
	if raw := q.Get("agent_ids"); raw != "" {
		filter.AgentIDs = make(map[string]bool)
		for _, id := range strings.Split(raw, ",") {
			filter.AgentIDs[id] = true
		}
	}

	compress := q.Get("compress") == "1" || q.Get("compress") == "true"
	replay, _ := strconv.Atoi(q.Get("replay"))

	return channels, filter, compress, replay
}

// stream serves Server-Sent Events: one `data: <json>` line per delivered
// message, with a `retry:` directive so browsers reconnect automatically if
// the connection drops.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	channels, filter, compress, replay := parseStreamParams(r)

	// SSE is text-only; gzip compression would corrupt the event stream
	// framing, so compression is always disabled on this transport.
	conn, replayed, err := h.deps.Fanout.Accept(r.Context(), channels, filter, false, replay, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = compress
	defer h.deps.Fanout.Close(conn)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: 3000\n\n")
	flusher.Flush()

	for _, e := range replayed {
		raw, _ := json.Marshal(e)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, raw)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			if err == fanout.ErrWriteIdle {
				continue
			}
			return
		}
		if msg.Liveness {
			fmt.Fprintf(w, ": keep-alive\n\n")
		} else {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event.Type, msg.Data)
		}
		flusher.Flush()
	}
}
