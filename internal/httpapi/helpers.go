package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", domain.ErrValidation, s)
	}
	return ts, nil
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return raw, nil
}

// badRequest wraps a decode/validation error as domain.ErrValidation so
// writeError maps it to 400 even when the underlying error has no sentinel.
func badRequest(err error) error {
	if err == nil {
		return fmt.Errorf("%w: request body required", domain.ErrValidation)
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}
