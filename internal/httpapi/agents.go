package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

func (h *handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	workers, err := h.deps.Workers.Workers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": workers})
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	worker, err := h.deps.Workers.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *handlers) pauseAgent(w http.ResponseWriter, r *http.Request) {
	h.setAgentPaused(w, r, true)
}

func (h *handlers) resumeAgent(w http.ResponseWriter, r *http.Request) {
	h.setAgentPaused(w, r, false)
}

func (h *handlers) setAgentPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := mux.Vars(r)["id"]
	worker, err := h.deps.Workers.SetPaused(r.Context(), id, paused)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.deps.Bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{"agent_id": id, "status": string(worker.Status)})
		_ = h.deps.Bus.Publish(r.Context(), domain.Event{
			ID: uuid.NewString(), Type: domain.EventTypeAgentStatus, Priority: domain.EventPriorityNormal,
			Timestamp: time.Now().UTC(), Source: "httpapi", Payload: payload,
		})
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *handlers) agentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	worker, err := h.deps.Workers.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordHeartbeat(id)
	}
	writeJSON(w, http.StatusOK, worker)
}
