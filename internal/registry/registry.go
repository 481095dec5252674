// Package registry implements the fleet directory: it reads the worker
// records the Worker Runtime writes to the shared store and exposes them to
// the scheduler's load-balanced orchestration path and to the HTTP control
// plane's agent-status endpoints.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
)

// staleAfter is how long a worker record may go without a heartbeat refresh
// before the directory reports it as offline rather than its last-known
// status. Worker records carry their own TTL in the store (see
// Runtime.emitHeartbeat), so this only covers the window between expiry and
// a key actually evicting.
const staleAfter = 45 * time.Second

// Directory reads worker records from the shared store on demand. It holds
// no state of its own beyond the store handle, so any number of schedulers
// or HTTP handlers can share one instance.
type Directory struct {
	st store.Store
}

// New returns a Directory backed by st.
func New(st store.Store) *Directory {
	return &Directory{st: st}
}

// Workers returns every registered worker record, satisfying
// scheduler.WorkerDirectory. Records that fail to unmarshal are skipped
// rather than failing the whole call, since one corrupt record should not
// block admission for the rest of the fleet.
func (d *Directory) Workers(ctx context.Context) ([]domain.Worker, error) {
	keys, err := d.st.KeysWithPrefix(ctx, "workers:")
	if err != nil {
		return nil, fmt.Errorf("registry: list worker keys: %w", err)
	}

	workers := make([]domain.Worker, 0, len(keys))
	now := time.Now()
	for _, key := range keys {
		fields, err := d.st.HGetAll(ctx, key)
		if err != nil || len(fields) == 0 {
			continue
		}
		var w domain.Worker
		if err := json.Unmarshal([]byte(fields["record"]), &w); err != nil {
			continue
		}
		if w.Status != domain.WorkerStatusOffline && now.Sub(w.LastHeartbeat) > staleAfter {
			w.Status = domain.WorkerStatusOffline
		}
		workers = append(workers, w)
	}

	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}

// Get returns a single worker record by ID.
func (d *Directory) Get(ctx context.Context, workerID string) (*domain.Worker, error) {
	fields, err := d.st.HGetAll(ctx, domain.WorkerKey(workerID))
	if err != nil {
		return nil, fmt.Errorf("registry: fetch worker %s: %w", workerID, err)
	}
	raw, ok := fields["record"]
	if !ok {
		return nil, fmt.Errorf("registry: worker %s: %w", workerID, domain.ErrNotFound)
	}
	var w domain.Worker
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("registry: decode worker %s: %w", workerID, err)
	}
	if w.Status != domain.WorkerStatusOffline && time.Since(w.LastHeartbeat) > staleAfter {
		w.Status = domain.WorkerStatusOffline
	}
	return &w, nil
}

// SetPaused flips a worker's status to paused or back to idle, as driven by
// the agent pause/resume control-plane endpoints. It round-trips the full
// record so concurrent heartbeat writes from the worker itself are not
// clobbered beyond the status field.
func (d *Directory) SetPaused(ctx context.Context, workerID string, paused bool) (*domain.Worker, error) {
	w, err := d.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if paused {
		w.Status = domain.WorkerStatusPaused
	} else if w.Status == domain.WorkerStatusPaused {
		w.Status = domain.WorkerStatusIdle
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("registry: encode worker %s: %w", workerID, err)
	}
	if err := d.st.HSet(ctx, domain.WorkerKey(workerID), map[string]string{"record": string(raw)}, 0); err != nil {
		return nil, fmt.Errorf("registry: persist worker %s: %w", workerID, err)
	}
	return w, nil
}

// Remove deletes a worker's record, used when the control plane deregisters
// an agent that will not be coming back.
func (d *Directory) Remove(ctx context.Context, workerID string) error {
	return d.st.HDelete(ctx, domain.WorkerKey(workerID))
}
