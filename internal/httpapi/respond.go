package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain sentinel error to its HTTP status and writes a
// uniform {"error": "..."} body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrAdmissionBlocked):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCycleDetected):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
