package httpapi

import "net/http"

func (h *handlers) systemRun(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Run(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (h *handlers) systemPauseAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Scheduler.PauseAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "paused", "active_tasks_affected": n})
}

func (h *handlers) systemStopNew(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.StopNew(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "admission blocked"})
}

type throttleRequest struct {
	Rate float64 `json:"rate"`
}

func (h *handlers) systemThrottle(w http.ResponseWriter, r *http.Request) {
	var req throttleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := h.deps.Scheduler.SetThrottle(r.Context(), req.Rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"throttle_rate": req.Rate})
}
