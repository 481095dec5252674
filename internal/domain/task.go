// Package domain holds the closed-enumeration types and record shapes shared
// by every component of the scheduling and event distribution engine: tasks,
// workers, events, channels, client subscriptions, and dead-letter entries.
//
// Status, type, priority, and error-category fields are all tagged variants
// rather than bare strings; admission-boundary code must parse into these
// types explicitly rather than coercing arbitrary strings.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType is a closed enumeration of inference job kinds.
type TaskType string

const (
	TaskTypeTextProcessing TaskType = "text-processing"
	TaskTypeCodeGeneration TaskType = "code-generation"
	TaskTypeDataAnalysis   TaskType = "data-analysis"
	TaskTypeWebScraping    TaskType = "web-scraping"
	TaskTypeAPICall        TaskType = "api-call"
	TaskTypeFileProcessing TaskType = "file-processing"
	TaskTypeComputation    TaskType = "computation"
)

// ValidTaskTypes lists every accepted TaskType value, for validation and docs.
var ValidTaskTypes = []TaskType{
	TaskTypeTextProcessing, TaskTypeCodeGeneration, TaskTypeDataAnalysis,
	TaskTypeWebScraping, TaskTypeAPICall, TaskTypeFileProcessing, TaskTypeComputation,
}

// Valid reports whether t is one of the closed set of task types.
func (t TaskType) Valid() bool {
	for _, v := range ValidTaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Priority is a closed enumeration ordered critical > high > normal > low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityRank maps Priority to a numeric rank for comparisons; higher is more urgent.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Valid reports whether p is one of the closed set of priority values.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the numeric urgency rank of p; higher means more urgent.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// AtLeast reports whether p is at least as urgent as floor.
func (p Priority) AtLeast(floor Priority) bool {
	return priorityRank[p] >= priorityRank[floor]
}

// TaskStatus is a closed enumeration of the task lifecycle state machine.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusRetry     TaskStatus = "retry"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is one of the terminal states.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorRecord captures a task-level failure for persistence and reporting.
type ErrorRecord struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	Details  string        `json:"details,omitempty"`
	At       time.Time     `json:"at"`
}

// Task is the unit of scheduled work.
type Task struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Type         TaskType        `json:"type"`
	Priority     Priority        `json:"priority"`
	Status       TaskStatus      `json:"status"`
	ParentID     string          `json:"parent_id,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Complexity   int             `json:"complexity"`
	TimeoutSec   int             `json:"timeout_seconds,omitempty"`
	MaxRetries   int             `json:"max_retries"`
	RetryCount   int             `json:"retry_count"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Progress     int             `json:"progress"`
	TokensUsed   int64           `json:"tokens_used"`
	CostUSD      float64         `json:"cost_usd"`
	Error        *ErrorRecord    `json:"error,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`

	// PreferredWorkerID is the submitter's advisory worker preference; the
	// scheduler treats it as a hint, not a binding assignment.
	PreferredWorkerID string `json:"preferred_worker_id,omitempty"`
	// PreferredWorkerTypes is used by orchestration/batch submit.
	PreferredWorkerTypes []string `json:"preferred_worker_types,omitempty"`

	// OrchestrationBatchID and OrchestrationID are attached to tasks
	// submitted via the batch-orchestration path.
	OrchestrationBatchID string `json:"orchestration_batch_id,omitempty"`
	OrchestrationID      string `json:"orchestration_id,omitempty"`

	AssignedWorkerID string `json:"assigned_worker_id,omitempty"`
}

// HasSelfDependency reports whether id appears in its own dependency set —
// a direct self-reference. Indirect cycles through already-persisted tasks
// are detected by the scheduler at admission time (see
// Scheduler.checkDependencyCycle in internal/scheduler/scheduler.go).
func (t *Task) HasSelfDependency() bool {
	for _, d := range t.Dependencies {
		if d == t.ID {
			return true
		}
	}
	return false
}

// StepCount computes the number of processing steps from the task's declared
// complexity, scaled by the worker's speed multiplier, floored at 5: step
// range is complexity * [8,15), scaled by 1/speedMultiplier; complexity 0
// still yields at least the floor.
func (t *Task) StepCount(stepsPerComplexityUnit float64, speedMultiplier float64) int {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	raw := float64(t.Complexity) * stepsPerComplexityUnit / speedMultiplier
	steps := int(raw)
	if steps < 5 {
		steps = 5
	}
	return steps
}

// Validate checks that the task's enumerated fields are within the closed
// sets the domain defines and that the dependency set does not reference the
// task itself. It never mutates t.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown task type %q", ErrValidation, t.Type)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, t.Priority)
	}
	if t.HasSelfDependency() {
		return fmt.Errorf("%w: task cannot depend on itself", ErrValidation)
	}
	return nil
}
