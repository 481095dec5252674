package domain

import "time"

// WorkerStatus is a closed enumeration of worker runtime states.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
	WorkerStatusPaused  WorkerStatus = "paused"
	WorkerStatusError   WorkerStatus = "error"
	WorkerStatusOffline WorkerStatus = "offline"
)

// ResourceSample is a point-in-time CPU/memory reading for a worker.
type ResourceSample struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	SampledAt  time.Time `json:"sampled_at"`
}

// PerformanceCounters tracks rolling execution statistics for a worker.
type PerformanceCounters struct {
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// Worker is a registered fleet member capable of executing tasks.
type Worker struct {
	ID              string              `json:"id"`
	Type            string              `json:"type"`
	Host            string              `json:"host"`
	Capabilities    []string            `json:"capabilities"`
	MaxConcurrency  int                 `json:"max_concurrency"`
	CurrentLoad     int                 `json:"current_load"`
	Status          WorkerStatus        `json:"status"`
	SpeedMultiplier float64             `json:"speed_multiplier"`
	LastHeartbeat   time.Time           `json:"last_heartbeat"`
	RecentError     string              `json:"recent_error,omitempty"`
	ErrorCount      int64               `json:"error_count"`
	Resources       ResourceSample      `json:"resources"`
	Performance     PerformanceCounters `json:"performance"`
}

// LoadFactor returns current-load / max-concurrency, used by the scheduler's
// least-loaded selection during orchestration.
func (w *Worker) LoadFactor() float64 {
	if w.MaxConcurrency <= 0 {
		return 1
	}
	return float64(w.CurrentLoad) / float64(w.MaxConcurrency)
}

// HasCapacity reports whether the worker may accept another assignment.
func (w *Worker) HasCapacity() bool {
	return w.CurrentLoad < w.MaxConcurrency
}

// Serves reports whether the worker's capability set covers every
// capability the task requires.
func (w *Worker) Serves(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
