// Package worker implements the Worker Runtime (C4): the step loop each
// registered worker runs over the queues its capabilities cover, with
// heartbeat, throttle, pause, and stale-task handling.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/resilience"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// Publisher is the subset of the aggregator/bus surface the runtime needs.
type Publisher interface {
	Ingest(ctx context.Context, event domain.Event) error
}

// ErrTransient marks a step error as transient (retryable).
var ErrTransient = errors.New("worker: transient step error")

// Stepper executes one task attempt's step loop. Production deployments
// plug in the real inference-call implementation; the default used by
// cmd/server is simulatedStepper, grounded on the original's randomized
// per-step sleep model.
type Stepper interface {
	// Step executes step (1-indexed) of total and returns token/cost deltas
	// for that step, or an error. A transient error should be wrapped with
	// ErrTransient so the retry envelope applies exponential backoff instead
	// of moving straight to the DLQ.
	Step(ctx context.Context, task *domain.Task, step, total int) (tokens int64, costUSD float64, err error)
}

// Config configures a Runtime.
type Config struct {
	WorkerID              string
	WorkerType            string
	Host                  string
	Capabilities          []string
	MaxConcurrency        int
	SpeedMultiplier       float64
	HeartbeatInterval     time.Duration
	PauseCheckInterval    time.Duration
	StepsPerComplexityMin float64 // complexity*8..15
	StepsPerComplexityMax float64
	RetryBaseDelay        time.Duration // base 60s, doubled per attempt
	RetryMaxDelay         time.Duration
}

// DefaultConfig fills in spec defaults for unset fields.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:              workerID,
		WorkerType:            "general",
		MaxConcurrency:        4,
		SpeedMultiplier:       1.0,
		HeartbeatInterval:     10 * time.Second,
		PauseCheckInterval:    500 * time.Millisecond,
		StepsPerComplexityMin: 8,
		StepsPerComplexityMax: 15,
		RetryBaseDelay:        60 * time.Second,
		RetryMaxDelay:         30 * time.Minute,
	}
}

// Runtime is one worker's execution engine. A single process may run several
// Runtimes to emulate several fleet members, or exactly one in production.
type Runtime struct {
	cfg     Config
	st      store.Store
	pub     Publisher
	metrics *metrics.Metrics
	log     *logger.Logger
	stepper Stepper

	cb *resilience.CircuitBreaker

	currentLoad int
}

// New creates a Runtime wired to the shared store and event sink.
func New(cfg Config, st store.Store, pub Publisher, m *metrics.Metrics, log *logger.Logger, stepper Stepper) *Runtime {
	if stepper == nil {
		stepper = simulatedStepper{}
	}
	return &Runtime{
		cfg:     cfg,
		st:      st,
		pub:     pub,
		metrics: m,
		log:     log,
		stepper: stepper,
		cb:      resilience.New(resilience.DefaultServiceCBConfig(log)),
	}
}

// Register writes the worker's registration record to the store.
func (r *Runtime) Register(ctx context.Context) error {
	w := domain.Worker{
		ID:              r.cfg.WorkerID,
		Type:            r.cfg.WorkerType,
		Host:            r.cfg.Host,
		Capabilities:    r.cfg.Capabilities,
		MaxConcurrency:  r.cfg.MaxConcurrency,
		Status:          domain.WorkerStatusIdle,
		SpeedMultiplier: r.cfg.SpeedMultiplier,
		LastHeartbeat:   time.Now().UTC(),
	}
	return r.persistWorker(ctx, w)
}

func (r *Runtime) persistWorker(ctx context.Context, w domain.Worker) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.st.HSet(ctx, domain.WorkerKey(r.cfg.WorkerID), map[string]string{"record": string(raw)}, 0)
}

// Run drives the scheduling loop until ctx is cancelled: observe pause,
// pull the highest-priority non-empty queue the worker may serve, execute
// one task's full step loop, repeat.
func (r *Runtime) Run(ctx context.Context) {
	go r.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if r.paused(ctx) {
			time.Sleep(r.cfg.PauseCheckInterval)
			continue
		}

		task, lane, ok := r.pullTask(ctx)
		if !ok {
			time.Sleep(r.cfg.PauseCheckInterval)
			continue
		}

		r.executeTask(ctx, task, lane)
	}
}

func (r *Runtime) paused(ctx context.Context) bool {
	_, err := r.st.Get(ctx, domain.SystemPausedKey)
	return err == nil
}

func (r *Runtime) throttleRate(ctx context.Context) float64 {
	v, err := r.st.Get(ctx, domain.SystemThrottleRateKey)
	if err != nil || v == "" {
		return 1.0
	}
	var rate float64
	if _, scanErr := fmt.Sscanf(v, "%f", &rate); scanErr != nil {
		return 1.0
	}
	if rate < 0.1 || rate > 2.0 {
		return 1.0
	}
	return rate
}

// pullTask dequeues one task from the highest-priority non-empty lane the
// worker may serve.
func (r *Runtime) pullTask(ctx context.Context) (*domain.Task, string, bool) {
	for _, lane := range domain.QueueLanesInOrder() {
		raws, err := r.st.LRange(ctx, lane, -1, -1)
		if err != nil || len(raws) == 0 {
			continue
		}
		var task domain.Task
		if err := json.Unmarshal([]byte(raws[0]), &task); err != nil {
			_ = r.st.LTrim(ctx, lane, 0, -2)
			continue
		}
		if !r.capableOf(&task) {
			continue
		}
		_ = r.st.LTrim(ctx, lane, 0, -2)
		return &task, lane, true
	}
	return nil, "", false
}

func (r *Runtime) capableOf(task *domain.Task) bool {
	w := domain.Worker{Capabilities: r.cfg.Capabilities}
	return w.Serves(task.Capabilities)
}

// executeTask runs the full step loop for one task attempt: mark
// assigned, emit progress at each step, then hand off to completion or
// failure handling.
func (r *Runtime) executeTask(ctx context.Context, task *domain.Task, lane string) {
	now := time.Now().UTC()
	task.Status = domain.TaskStatusAssigned
	task.AssignedWorkerID = r.cfg.WorkerID
	task.StartedAt = &now
	task.Progress = 0
	r.currentLoad++
	if r.metrics != nil {
		r.metrics.SetWorkerLoad(r.cfg.WorkerID, r.currentLoad)
	}
	defer func() {
		r.currentLoad--
		if r.metrics != nil {
			r.metrics.SetWorkerLoad(r.cfg.WorkerID, r.currentLoad)
		}
	}()

	r.writeActiveTask(ctx, task)
	task.Status = domain.TaskStatusRunning
	r.publishTaskUpdate(ctx, task, "running")

	total := task.StepCount((r.cfg.StepsPerComplexityMin+r.cfg.StepsPerComplexityMax)/2, r.cfg.SpeedMultiplier)

	var stepErr error
	var tokensSoFar int64
	var costSoFar float64

	for step := 1; step <= total; step++ {
		for r.paused(ctx) {
			time.Sleep(r.cfg.PauseCheckInterval)
		}

		task.Progress = int(float64(step) / float64(total) * 100)
		var tokens int64
		var cost float64
		err := r.cb.Execute(ctx, func() error {
			var stepErr error
			tokens, cost, stepErr = r.stepper.Step(ctx, task, step, total)
			return stepErr
		})
		tokensSoFar += tokens
		costSoFar += cost
		task.TokensUsed = tokensSoFar
		task.CostUSD = costSoFar

		r.publishProgress(ctx, task, step, total)

		if err != nil {
			stepErr = err
			break
		}

		rate := r.throttleRate(ctx)
		baseDelay := time.Duration(50+rand.Intn(150)) * time.Millisecond
		time.Sleep(time.Duration(float64(baseDelay) / rate))
	}

	if stepErr != nil {
		r.handleFailure(ctx, task, stepErr)
		return
	}

	r.handleCompletion(ctx, task)
}

func (r *Runtime) writeActiveTask(ctx context.Context, task *domain.Task) {
	fields := map[string]string{
		"agent_type":  r.cfg.WorkerType,
		"description": task.Title,
		"complexity":  fmt.Sprintf("%d", task.Complexity),
		"priority":    string(task.Priority),
		"started_at":  task.StartedAt.Format(time.RFC3339),
		"status":      string(task.Status),
	}
	_ = r.st.HSet(ctx, domain.ActiveTaskKey(task.ID), fields, 2*time.Hour)
}

func (r *Runtime) publishProgress(ctx context.Context, task *domain.Task, step, total int) {
	payload, _ := json.Marshal(map[string]interface{}{
		"task_id":          task.ID,
		"progress":         task.Progress,
		"tokens_used":      task.TokensUsed,
		"cost_usd":         task.CostUSD,
		"status":           "running",
		"step":             step,
		"total_steps":      total,
		"worker_id":        r.cfg.WorkerID,
	})
	_ = r.pub.Ingest(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeTaskUpdate,
		Priority:  domain.EventPriorityNormal,
		Timestamp: time.Now().UTC(),
		Source:    r.cfg.WorkerID,
		Payload:   payload,
	})
}

func (r *Runtime) publishTaskUpdate(ctx context.Context, task *domain.Task, status string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"task_id": task.ID, "status": status, "worker_id": r.cfg.WorkerID,
	})
	_ = r.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityNormal,
		Timestamp: time.Now().UTC(), Source: r.cfg.WorkerID, Payload: payload,
	})
}

func (r *Runtime) handleCompletion(ctx context.Context, task *domain.Task) {
	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &now
	task.Progress = 100

	raw, _ := json.Marshal(task)
	_ = r.st.HSet(ctx, domain.CompletedTaskKey(task.ID), map[string]string{"record": string(raw)}, 24*time.Hour)
	_ = r.st.Delete(ctx, domain.ActiveTaskKey(task.ID))

	if r.metrics != nil {
		r.metrics.RecordTaskTerminal(string(task.Type), "completed", now.Sub(*task.StartedAt))
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"task_id": task.ID, "status": "completed", "tokens_used": task.TokensUsed, "cost_usd": task.CostUSD,
	})
	_ = r.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityHigh,
		Timestamp: now, Source: r.cfg.WorkerID, Payload: payload,
	})
}

// handleFailure persists error details and increments retry-count; if
// retry-count <= max-retries, it publishes a task-update event carrying the
// retry count and exponential delay and pushes the task back onto its
// priority lane once that delay elapses; otherwise it moves the task to the
// DLQ and publishes a task-update event with status failed.
func (r *Runtime) handleFailure(ctx context.Context, task *domain.Task, stepErr error) {
	task.RetryCount++
	task.Error = &domain.ErrorRecord{
		Category: categorize(stepErr),
		Message:  stepErr.Error(),
		At:       time.Now().UTC(),
	}

	if r.metrics != nil {
		r.metrics.RecordStepError(r.cfg.WorkerID, string(task.Error.Category))
	}

	if task.RetryCount <= task.MaxRetries {
		task.Status = domain.TaskStatusRetry
		task.Progress = 0
		delay := backoffDelay(r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay, task.RetryCount)

		if r.metrics != nil {
			r.metrics.RecordTaskRetried(string(task.Type))
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"task_id": task.ID, "retry_count": task.RetryCount, "delay_seconds": delay.Seconds(),
		})
		_ = r.pub.Ingest(ctx, domain.Event{
			ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityNormal,
			Timestamp: time.Now().UTC(), Source: r.cfg.WorkerID, Payload: payload,
		})

		task.Status = domain.TaskStatusAssigned
		raw, _ := json.Marshal(task)
		time.AfterFunc(delay, func() {
			_ = r.st.LPush(context.Background(), domain.QueueForPriority(task.Priority), string(raw))
		})
		_ = r.st.Delete(ctx, domain.ActiveTaskKey(task.ID))
		return
	}

	task.Status = domain.TaskStatusFailed
	raw, _ := json.Marshal(task)
	_ = r.st.HSet(ctx, domain.FailedTaskKey(task.ID), map[string]string{"record": string(raw)}, 24*time.Hour)
	_ = r.st.Delete(ctx, domain.ActiveTaskKey(task.ID))
	_ = r.st.ZAdd(ctx, domain.DeadLetterQueueKey, string(raw), float64(time.Now().Unix()))

	if r.metrics != nil {
		r.metrics.RecordTaskFailed(string(task.Type), task.Error.Message)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"task_id": task.ID, "status": "failed", "error": task.Error.Message,
	})
	_ = r.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeTaskUpdate, Priority: domain.EventPriorityHigh,
		Timestamp: time.Now().UTC(), Source: r.cfg.WorkerID, Payload: payload,
	})
}

func categorize(err error) domain.ErrorCategory {
	if errors.Is(err, ErrTransient) || errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return domain.ErrorCategoryTransient
	}
	return domain.ErrorCategoryTaskLevel
}

// backoffDelay computes exponential backoff with base delay, doubling per
// attempt, bounded by max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// heartbeatLoop emits a heartbeat every cfg.HeartbeatInterval independent of
// step cadence, refreshing the worker record's TTL.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emitHeartbeat(ctx)
		}
	}
}

func (r *Runtime) emitHeartbeat(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.RecordHeartbeat(r.cfg.WorkerID)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"source":       r.cfg.WorkerID,
		"active_tasks": r.currentLoad,
		"status":       domain.WorkerStatusWorking,
	})
	_ = r.pub.Ingest(ctx, domain.Event{
		ID: uuid.NewString(), Type: domain.EventTypeHeartbeat, Priority: domain.EventPriorityLow,
		Timestamp: time.Now().UTC(), Source: r.cfg.WorkerID, Payload: payload,
	})
	_ = r.st.Expire(ctx, domain.WorkerKey(r.cfg.WorkerID), 30*time.Second)
}

// simulatedStepper is the default Stepper: each step produces a small
// random token and cost delta. Sleeping between steps is the caller's job
// (Runtime.executeTask) — Step itself must return promptly.
type simulatedStepper struct{}

func (simulatedStepper) Step(ctx context.Context, task *domain.Task, step, total int) (int64, float64, error) {
	tokens := int64(50 + rand.Intn(150))
	cost := float64(tokens) * 0.00002
	return tokens, cost, nil
}
