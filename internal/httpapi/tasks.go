package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

type submitTaskRequest struct {
	Title                string          `json:"title"`
	Type                 domain.TaskType `json:"type"`
	Priority             domain.Priority `json:"priority,omitempty"`
	ParentID             string          `json:"parent_id,omitempty"`
	Dependencies         []string        `json:"dependencies,omitempty"`
	Capabilities         []string        `json:"capabilities,omitempty"`
	Complexity           int             `json:"complexity,omitempty"`
	TimeoutSec           int             `json:"timeout_seconds,omitempty"`
	MaxRetries           int             `json:"max_retries,omitempty"`
	Deadline             *string         `json:"deadline,omitempty"`
	ScheduledAt          *string         `json:"scheduled_at,omitempty"`
	Input                interface{}     `json:"input,omitempty"`
	PreferredWorkerID    string          `json:"preferred_worker_id,omitempty"`
	PreferredWorkerTypes []string        `json:"preferred_worker_types,omitempty"`
}

func (req *submitTaskRequest) toTask() (domain.Task, error) {
	t := domain.Task{
		Title:                req.Title,
		Type:                 req.Type,
		Priority:             req.Priority,
		ParentID:             req.ParentID,
		Dependencies:         req.Dependencies,
		Capabilities:         req.Capabilities,
		Complexity:           req.Complexity,
		TimeoutSec:           req.TimeoutSec,
		MaxRetries:           req.MaxRetries,
		PreferredWorkerID:    req.PreferredWorkerID,
		PreferredWorkerTypes: req.PreferredWorkerTypes,
	}
	if req.Deadline != nil {
		ts, err := parseTime(*req.Deadline)
		if err != nil {
			return t, err
		}
		t.Deadline = &ts
	}
	if req.ScheduledAt != nil {
		ts, err := parseTime(*req.ScheduledAt)
		if err != nil {
			return t, err
		}
		t.ScheduledAt = &ts
	}
	if req.Input != nil {
		raw, err := marshalRaw(req.Input)
		if err != nil {
			return t, err
		}
		t.Input = raw
	}
	return t, nil
}

func (h *handlers) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	id, err := h.deps.Scheduler.Submit(r.Context(), task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

type batchSubmitRequest struct {
	Tasks                []submitTaskRequest `json:"tasks"`
	PriorityHint         domain.Priority      `json:"priority_hint,omitempty"`
	PreferredWorkerTypes []string             `json:"preferred_worker_types,omitempty"`
}

func (h *handlers) batchSubmit(w http.ResponseWriter, r *http.Request) {
	var req batchSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, badRequest(nil))
		return
	}
	tasks := make([]domain.Task, 0, len(req.Tasks))
	for _, tr := range req.Tasks {
		t, err := tr.toTask()
		if err != nil {
			writeError(w, badRequest(err))
			return
		}
		tasks = append(tasks, t)
	}
	ids, err := h.deps.Scheduler.BatchSubmit(r.Context(), tasks, req.PriorityHint, req.PreferredWorkerTypes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"task_ids": ids})
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Scheduler.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type reassignRequest struct {
	WorkerID string `json:"agent_id"`
}

func (h *handlers) reassignTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req reassignRequest
	if err := decodeJSON(r, &req); err != nil || req.WorkerID == "" {
		writeError(w, badRequest(err))
		return
	}
	if err := h.deps.Scheduler.Reassign(r.Context(), id, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "agent_id": req.WorkerID})
}
