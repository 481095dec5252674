// Package scheduler implements the Dispatcher / Scheduler (C5): admission,
// dependency gating, priority-lane routing, delayed scheduling, batch
// orchestration with load balancing, retry/DLQ handling, and the periodic
// cleanup sweep.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// Publisher is the subset of the aggregator/bus surface the scheduler needs.
type Publisher interface {
	Ingest(ctx context.Context, event domain.Event) error
}

// WorkerDirectory supplies the currently registered fleet for load-balanced
// orchestration; implemented by internal/worker's registry in cmd/server,
// kept as an interface here so the scheduler does not import worker.
type WorkerDirectory interface {
	Workers(ctx context.Context) ([]domain.Worker, error)
}

// transientLexicon and matching helpers live in internal/domain
// (domain.IsTransientMessage) so both the worker and scheduler packages
// share one definition.

// Scheduler is the C5 component.
type Scheduler struct {
	st      store.Store
	pub     Publisher
	workers WorkerDirectory
	metrics *metrics.Metrics
	log     *logger.Logger

	activeTaskCountCache int
}

// New creates a Scheduler.
func New(st store.Store, pub Publisher, workers WorkerDirectory, m *metrics.Metrics, log *logger.Logger) *Scheduler {
	return &Scheduler{st: st, pub: pub, workers: workers, metrics: m, log: log}
}

// Submit is the admission path: validates enumerations, applies
// defaults, assigns a fresh id, persists the task record, and queues it onto
// the appropriate priority lane or delay queue.
func (s *Scheduler) Submit(ctx context.Context, task domain.Task) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}

	blocked, _ := s.st.Exists(ctx, domain.AdmissionBlockedKey)
	if blocked {
		return "", domain.ErrAdmissionBlocked
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityNormal
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}
	task.Status = domain.TaskStatusPending
	task.RetryCount = 0
	task.Progress = 0

	if err := s.checkDependencyCycle(ctx, &task); err != nil {
		return "", err
	}

	if err := s.persist(ctx, &task); err != nil {
		return "", err
	}

	s.publishTaskCreated(ctx, &task)

	if task.ScheduledAt != nil && task.ScheduledAt.After(time.Now()) {
		raw, _ := json.Marshal(task)
		if err := s.st.ZAdd(ctx, domain.DelayQueueKey, string(raw), float64(task.ScheduledAt.Unix())); err != nil {
			return "", fmt.Errorf("scheduler: delay queue: %w", err)
		}
		return task.ID, nil
	}

	if err := s.admit(ctx, &task); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordTaskSubmitted(string(task.Priority), string(task.Type))
	}
	return task.ID, nil
}

// admit verifies dependency gating and enqueues onto the task's lane, or
// marks it failed if a direct dependency has terminated in failure.
func (s *Scheduler) admit(ctx context.Context, task *domain.Task) error {
	ready, failed, err := s.dependenciesSatisfied(ctx, task)
	if err != nil {
		return err
	}
	if failed {
		task.Status = domain.TaskStatusFailed
		task.Error = &domain.ErrorRecord{
			Category: domain.ErrorCategoryDependency,
			Message:  "dependency failed",
			At:       time.Now().UTC(),
		}
		return s.persist(ctx, task)
	}
	if !ready {
		// Dependencies unresolved: leave in pending; the dependency-gate
		// sweep (ReattemptPendingAdmissions) re-attempts admission once
		// dependencies complete.
		return s.persist(ctx, task)
	}

	task.Status = domain.TaskStatusAssigned
	if err := s.persist(ctx, task); err != nil {
		return err
	}
	raw, _ := json.Marshal(task)
	lane := domain.QueueForPriority(task.Priority)
	if err := s.st.LPush(ctx, lane, string(raw)); err != nil {
		return fmt.Errorf("scheduler: enqueue: %w", err)
	}
	if s.metrics != nil {
		if n, lenErr := s.st.LLen(ctx, lane); lenErr == nil {
			s.metrics.SetPending(lane, int(n))
		}
	}
	return nil
}

// dependenciesSatisfied reports whether every dependency of task is
// completed (ready), or whether any dependency has terminally failed.
func (s *Scheduler) dependenciesSatisfied(ctx context.Context, task *domain.Task) (ready, failed bool, err error) {
	if len(task.Dependencies) == 0 {
		return true, false, nil
	}
	for _, depID := range task.Dependencies {
		fields, getErr := s.st.HGetAll(ctx, domain.CompletedTaskKey(depID))
		if getErr == nil && len(fields) > 0 {
			continue
		}
		if failedFields, ferr := s.st.HGetAll(ctx, domain.FailedTaskKey(depID)); ferr == nil && len(failedFields) > 0 {
			return false, true, nil
		}
		return false, false, nil
	}
	return true, false, nil
}

// checkDependencyCycle rejects a dependency set that would introduce a
// cycle, via a bounded-depth walk over already-persisted tasks. Direct
// self-dependency is checked in domain.Task.Validate; this extends the
// walk to indirect cycles through already-admitted tasks.
func (s *Scheduler) checkDependencyCycle(ctx context.Context, task *domain.Task) error {
	const maxDepth = 64
	visited := map[string]bool{task.ID: true}
	frontier := append([]string(nil), task.Dependencies...)
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			if visited[id] {
				return domain.ErrCycleDetected
			}
			visited[id] = true
			dep, ok := s.loadTask(ctx, id)
			if !ok {
				continue
			}
			next = append(next, dep.Dependencies...)
		}
		frontier = next
	}
	return nil
}

func (s *Scheduler) loadTask(ctx context.Context, id string) (*domain.Task, bool) {
	fields, err := s.st.HGetAll(ctx, domain.ActiveTaskKey(id))
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	raw, ok := fields["record"]
	if !ok {
		return nil, false
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (s *Scheduler) persist(ctx context.Context, task *domain.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.st.HSet(ctx, domain.ActiveTaskKey(task.ID), map[string]string{"record": string(raw)}, 2*time.Hour)
}

func (s *Scheduler) publishTaskCreated(ctx context.Context, task *domain.Task) {
	payload, _ := json.Marshal(map[string]interface{}{"task_id": task.ID, "status": "pending", "title": task.Title})
	_ = s.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityNormal,
		Timestamp: time.Now().UTC(), Source: "scheduler", Payload: payload,
	})
}

// Cancel moves a task to the cancelled terminal state.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	task, ok := s.loadTask(ctx, taskID)
	if !ok {
		return domain.ErrNotFound
	}
	if task.Status.Terminal() {
		return nil
	}
	task.Status = domain.TaskStatusCancelled
	if err := s.persist(ctx, task); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]interface{}{"task_id": task.ID, "status": "cancelled"})
	return s.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityNormal,
		Timestamp: time.Now().UTC(), Source: "scheduler", Payload: payload,
	})
}

// Reassign forces assignment of a task to a specific worker id (the
// administrative `/tasks/{id}/reassign` endpoint). This is an operator
// override and bypasses the load-balancer's own selection.
func (s *Scheduler) Reassign(ctx context.Context, taskID, workerID string) error {
	task, ok := s.loadTask(ctx, taskID)
	if !ok {
		return domain.ErrNotFound
	}
	task.AssignedWorkerID = workerID
	task.Status = domain.TaskStatusAssigned
	if err := s.persist(ctx, task); err != nil {
		return err
	}
	raw, _ := json.Marshal(task)
	return s.st.LPush(ctx, domain.QueueForPriority(task.Priority), string(raw))
}

// BatchSubmit is the orchestration (batch submit) path. For each task it
// selects the least-loaded worker among those
// serving preferredWorkerTypes, attaches orchestration metadata, and admits
// it. If the system CPU sample exceeds 80% or the global active-task count
// exceeds 50, the effective batch size for this call is halved.
func (s *Scheduler) BatchSubmit(ctx context.Context, tasks []domain.Task, priorityHint domain.Priority, preferredWorkerTypes []string) ([]string, error) {
	orchestrationID := uuid.NewString()
	effective := tasks
	if s.shouldHalveBatch(ctx) {
		half := (len(tasks) + 1) / 2
		effective = tasks[:half]
		s.log.WithField("dropped", len(tasks)-half).Warn("orchestration: halving batch size under load")
	}

	workers, err := s.bestWorkers(ctx, preferredWorkerTypes)
	if err != nil {
		s.log.WithField("error", err).Warn("orchestration: could not load worker directory, proceeding without preference")
	}

	ids := make([]string, 0, len(effective))
	batchID := uuid.NewString()
	for i := range effective {
		t := effective[i]
		if t.Priority == "" {
			t.Priority = priorityHint
		}
		t.OrchestrationBatchID = batchID
		t.OrchestrationID = orchestrationID
		if len(workers) > 0 {
			w := workers[i%len(workers)]
			t.PreferredWorkerID = w.ID
		}
		id, err := s.Submit(ctx, t)
		if err != nil {
			s.log.WithField("error", err).Warn("orchestration: task submission failed")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Scheduler) shouldHalveBatch(ctx context.Context) bool {
	if s.cpuPercent() > 80 {
		return true
	}
	active, _ := s.st.KeysWithPrefix(ctx, "active_tasks:")
	return len(active) > 50
}

func (s *Scheduler) cpuPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

// bestWorkers returns workers serving any of the preferred types, sorted
// least-loaded first (load = current-load / max-concurrency).
func (s *Scheduler) bestWorkers(ctx context.Context, preferredTypes []string) ([]domain.Worker, error) {
	if s.workers == nil {
		return nil, nil
	}
	all, err := s.workers.Workers(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []domain.Worker
	for _, w := range all {
		if len(preferredTypes) == 0 || containsStr(preferredTypes, w.Type) {
			if w.HasCapacity() {
				candidates = append(candidates, w)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LoadFactor() < candidates[j].LoadFactor()
	})
	return candidates, nil
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SetThrottle validates rate and stores it; workers read the throttle rate
// to scale their per-step sleep.
func (s *Scheduler) SetThrottle(ctx context.Context, rate float64) error {
	if rate < 0.1 || rate > 2.0 {
		return fmt.Errorf("%w: throttle rate %.2f out of range [0.1, 2.0]", domain.ErrValidation, rate)
	}
	return s.st.Set(ctx, domain.SystemThrottleRateKey, fmt.Sprintf("%f", rate), 0)
}

// PauseAll sets the pause flag with a 1h TTL safety net.
func (s *Scheduler) PauseAll(ctx context.Context) (int, error) {
	if err := s.st.Set(ctx, domain.SystemPausedKey, "1", time.Hour); err != nil {
		return 0, err
	}
	active, _ := s.st.KeysWithPrefix(ctx, "active_tasks:")
	return len(active), nil
}

// Run clears the pause flag.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.st.Delete(ctx, domain.SystemPausedKey)
}

// StopNew sets the admission-blocked flag.
func (s *Scheduler) StopNew(ctx context.Context) error {
	return s.st.Set(ctx, domain.AdmissionBlockedKey, "1", 0)
}
