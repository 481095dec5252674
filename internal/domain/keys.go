package domain

// Store key names and lanes shared between the Dispatcher/Scheduler (C5) and
// the Worker Runtime (C4).
const (
	QueueHigh       = "queue:high"
	QueueNormal     = "queue:normal"
	QueueBackground = "queue:background"

	DelayQueueKey = "delay_queue"

	DeadLetterQueueKey       = "dead_letter_queue"
	PermanentFailureHashKey  = "permanent_failures"

	SystemPausedKey       = "system_paused"
	SystemThrottleRateKey = "system_throttle_rate"
	AdmissionBlockedKey   = "system_admission_blocked"

	MetricsTimelineKey = "metrics_history"
)

// ActiveTaskKey returns the hash key for a task's active-assignment record.
func ActiveTaskKey(taskID string) string { return "active_tasks:" + taskID }

// CompletedTaskKey returns the hash key for a task's completed record.
func CompletedTaskKey(taskID string) string { return "completed_tasks:" + taskID }

// FailedTaskKey returns the hash key for a task's failure record.
func FailedTaskKey(taskID string) string { return "task_failures:" + taskID }

// ArchivedTaskKey returns the hash key a terminal task record is migrated to
// after the retention window elapses.
func ArchivedTaskKey(prefix, taskID string) string { return "archived_" + prefix + ":" + taskID }

// WorkerKey returns the hash key for a worker's registration record.
func WorkerKey(workerID string) string { return "workers:" + workerID }

// QueueForPriority maps a task priority to its dispatch lane:
// critical and high share the high lane; normal maps to normal; low maps to
// background.
func QueueForPriority(p Priority) string {
	switch p {
	case PriorityCritical, PriorityHigh:
		return QueueHigh
	case PriorityLow:
		return QueueBackground
	default:
		return QueueNormal
	}
}

// QueueLanesInOrder lists the dispatch lanes in pull priority order.
func QueueLanesInOrder() []string {
	return []string{QueueHigh, QueueNormal, QueueBackground}
}
