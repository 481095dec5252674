package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/fanout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboard clients originate from whatever host the operator serves
	// the UI from; origin is not a meaningful trust boundary here since the
	// control plane sits behind its own auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a duplex client-to-server frame: subscribe, unsubscribe,
// configure, publish, or ping.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type subscribeData struct {
	Channels []string `json:"channels"`
}

type configureData struct {
	Filter   *domain.Filter `json:"filter,omitempty"`
	Compress *bool          `json:"compress,omitempty"`
}

type publishData struct {
	Type     domain.EventType     `json:"type"`
	Priority domain.EventPriority `json:"priority,omitempty"`
	Payload  json.RawMessage      `json:"payload,omitempty"`
}

type serverMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// websocket upgrades the connection and runs a duplex session: a read loop
// handling client control messages, and a write loop delivering fan-out
// output, joined by the connection's own lifecycle.
func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	channels, filter, compress, replay := parseStreamParams(r)

	conn, replayed, err := h.deps.Fanout.Accept(r.Context(), channels, filter, compress, replay, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Fanout.Close(conn)
		return
	}
	defer h.deps.Fanout.Close(conn)
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for _, e := range replayed {
		sendWS(ws, serverMessage{Type: "event", Data: e, Timestamp: time.Now().UTC()})
	}

	go h.wsReadLoop(ctx, cancel, ws, conn)
	h.wsWriteLoop(ctx, ws, conn)
}

func (h *handlers) wsReadLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, conn *fanout.Connection) {
	defer cancel()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendWS(ws, serverMessage{Type: "error", Data: "malformed message", Timestamp: time.Now().UTC()})
			continue
		}
		switch msg.Type {
		case "ping":
			sendWS(ws, serverMessage{Type: "pong", Timestamp: time.Now().UTC()})
		case "subscribe":
			var d subscribeData
			if json.Unmarshal(msg.Data, &d) == nil {
				h.deps.Fanout.Subscribe(conn, h.deps.Bus, d.Channels)
			}
		case "unsubscribe":
			var d subscribeData
			if json.Unmarshal(msg.Data, &d) == nil {
				conn.Unsubscribe(d.Channels)
			}
		case "configure":
			var d configureData
			if json.Unmarshal(msg.Data, &d) == nil {
				conn.Configure(d.Filter, d.Compress)
			}
		case "publish":
			h.handleClientPublish(ctx, conn, msg.Data)
		default:
			sendWS(ws, serverMessage{Type: "error", Data: "unknown message type", Timestamp: time.Now().UTC()})
		}
	}
}

func (h *handlers) handleClientPublish(ctx context.Context, conn *fanout.Connection, raw json.RawMessage) {
	var d publishData
	if err := json.Unmarshal(raw, &d); err != nil || h.deps.Bus == nil {
		return
	}
	if d.Priority == "" {
		d.Priority = domain.EventPriorityNormal
	}
	event := domain.Event{
		Type:      d.Type,
		Priority:  d.Priority,
		Timestamp: time.Now().UTC(),
		Payload:   d.Payload,
	}
	conn.TagSource(&event)
	_ = h.deps.Bus.Publish(ctx, event)
}

func (h *handlers) wsWriteLoop(ctx context.Context, ws *websocket.Conn, conn *fanout.Connection) {
	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			if err == fanout.ErrWriteIdle {
				continue
			}
			return
		}
		kind := "event"
		if msg.Liveness {
			kind = "status"
		}
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		var writeErr error
		if msg.Compressed {
			writeErr = ws.WriteMessage(websocket.BinaryMessage, msg.Data)
		} else if msg.Liveness {
			writeErr = ws.WriteJSON(serverMessage{Type: kind, Data: map[string]string{"connection_id": conn.ID}, Timestamp: time.Now().UTC()})
		} else {
			writeErr = ws.WriteMessage(websocket.TextMessage, msg.Data)
		}
		if writeErr != nil {
			return
		}
	}
}

func sendWS(ws *websocket.Conn, msg serverMessage) {
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = ws.WriteJSON(msg)
}
