package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
)

// dlqMaxAttempts and dlqPermanentThreshold bound DLQ reprocessing: an entry
// is eligible for re-queue only while both bounds hold (attempts <= 3 AND
// attempts <= task.MaxRetries, whichever is tighter), and is promoted to
// permanent failure once attempts exceed 5.
const (
	dlqMaxAttempts        = 3
	dlqPermanentThreshold = 5
	dlqScanWindow         = 24 * time.Hour
)

const (
	completedRetention = 24 * time.Hour
	failedRetention     = 24 * time.Hour
	archiveRetention    = 7 * 24 * time.Hour
	staleActiveAfter    = 2 * time.Hour
	metricsTimelineDays = 7 * 24 * time.Hour
)

// ReprocessDLQ walks DLQ entries newer than 24h: entries whose error message
// matches the transient-error lexicon and whose attempts fall within the
// dual bound are re-queued at reduced priority; entries with more than 5
// attempts are moved to the permanent-failure hash with 7-day retention.
func (s *Scheduler) ReprocessDLQ(ctx context.Context) error {
	cutoff := float64(time.Now().Add(-dlqScanWindow).Unix())
	entries, err := s.st.ZRangeByScore(ctx, domain.DeadLetterQueueKey, cutoff, float64(time.Now().Unix()))
	if err != nil {
		return err
	}

	for _, raw := range entries {
		var entry domain.DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			var task domain.Task
			if jerr := json.Unmarshal([]byte(raw), &task); jerr != nil {
				continue
			}
			entry = domain.DLQEntry{Task: task, FailureMsg: errMessage(&task), Attempts: task.RetryCount}
		}

		if entry.Attempts > dlqPermanentThreshold {
			s.promoteToPermanentFailure(ctx, &entry, raw)
			continue
		}

		bound := dlqMaxAttempts
		if entry.Task.MaxRetries < bound {
			bound = entry.Task.MaxRetries
		}
		if entry.Attempts <= bound && domain.IsTransientMessage(entry.FailureMsg) {
			s.requeueAtReducedPriority(ctx, &entry, raw)
		}
	}
	return nil
}

func errMessage(task *domain.Task) string {
	if task.Error != nil {
		return task.Error.Message
	}
	return ""
}

func (s *Scheduler) promoteToPermanentFailure(ctx context.Context, entry *domain.DLQEntry, raw string) {
	_ = s.st.HSet(ctx, domain.PermanentFailureHashKey+":"+entry.Task.ID,
		map[string]string{"record": raw}, archiveRetention)
	_ = s.st.ZRem(ctx, domain.DeadLetterQueueKey, raw)
}

func (s *Scheduler) requeueAtReducedPriority(ctx context.Context, entry *domain.DLQEntry, raw string) {
	task := entry.Task
	task.Status = domain.TaskStatusAssigned
	task.Priority = domain.PriorityLow
	reRaw, _ := json.Marshal(task)
	if err := s.st.LPush(ctx, domain.QueueBackground, string(reRaw)); err != nil {
		return
	}
	_ = s.st.ZRem(ctx, domain.DeadLetterQueueKey, raw)
}

// CleanupSweep runs the periodic maintenance pass: archive completed/failed
// tasks older than 24h, move active tasks older than 2h to failed with
// cause "stale", and trim the metrics timeline to the last 7 days.
func (s *Scheduler) CleanupSweep(ctx context.Context) error {
	now := time.Now()

	completedKeys, _ := s.st.KeysWithPrefix(ctx, "completed_tasks:")
	for _, key := range completedKeys {
		s.archiveIfOld(ctx, key, "completed", now)
	}

	failedKeys, _ := s.st.KeysWithPrefix(ctx, "task_failures:")
	for _, key := range failedKeys {
		s.archiveIfOld(ctx, key, "failed", now)
	}

	activeKeys, _ := s.st.KeysWithPrefix(ctx, "active_tasks:")
	for _, key := range activeKeys {
		s.markStaleIfExpired(ctx, key, now)
	}

	cutoff := float64(now.Add(-metricsTimelineDays).Unix())
	_ = s.st.ZRemRangeByScore(ctx, domain.MetricsTimelineKey, 0, cutoff)

	return nil
}

// ReattemptPendingAdmissions re-evaluates dependency gating for tasks still
// sitting in pending with unresolved dependencies — the scheduler never
// dequeues a task whose dependencies are unresolved, so pending tasks are
// re-checked here rather than polled inline on every admission attempt.
func (s *Scheduler) ReattemptPendingAdmissions(ctx context.Context) error {
	keys, err := s.st.KeysWithPrefix(ctx, "active_tasks:")
	if err != nil {
		return err
	}
	for _, key := range keys {
		fields, err := s.st.HGetAll(ctx, key)
		if err != nil || len(fields) == 0 {
			continue
		}
		raw, ok := fields["record"]
		if !ok {
			continue
		}
		var task domain.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		if task.Status != domain.TaskStatusPending || len(task.Dependencies) == 0 {
			continue
		}
		_ = s.admit(ctx, &task)
	}
	return nil
}

// DueDelayedTasks moves entries from the delay queue whose scheduled-at has
// arrived back into pending admission.
func (s *Scheduler) DueDelayedTasks(ctx context.Context) error {
	now := float64(time.Now().Unix())
	due, err := s.st.ZRangeByScore(ctx, domain.DelayQueueKey, 0, now)
	if err != nil {
		return err
	}
	for _, raw := range due {
		var task domain.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			_ = s.st.ZRem(ctx, domain.DelayQueueKey, raw)
			continue
		}
		if err := s.admit(ctx, &task); err == nil {
			_ = s.st.ZRem(ctx, domain.DelayQueueKey, raw)
		}
	}
	return nil
}

func (s *Scheduler) archiveIfOld(ctx context.Context, key, prefix string, now time.Time) {
	fields, err := s.st.HGetAll(ctx, key)
	if err != nil || len(fields) == 0 {
		return
	}
	raw, ok := fields["record"]
	if !ok {
		return
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return
	}
	at := task.CompletedAt
	if at == nil && task.Error != nil {
		at = &task.Error.At
	}
	if at == nil {
		return
	}
	if now.Sub(*at) < completedRetention {
		return
	}
	archiveKey := domain.ArchivedTaskKey(prefix, task.ID)
	_ = s.st.HSet(ctx, archiveKey, map[string]string{"record": raw}, archiveRetention)
	_ = s.st.HDelete(ctx, key)
}

func (s *Scheduler) markStaleIfExpired(ctx context.Context, key string, now time.Time) {
	fields, err := s.st.HGetAll(ctx, key)
	if err != nil || len(fields) == 0 {
		return
	}
	startedAtRaw, ok := fields["started_at"]
	if !ok {
		return
	}
	startedAt, err := time.Parse(time.RFC3339, startedAtRaw)
	if err != nil || now.Sub(startedAt) < staleActiveAfter {
		return
	}

	raw, hasRecord := fields["record"]
	var task domain.Task
	if hasRecord {
		_ = json.Unmarshal([]byte(raw), &task)
	}
	task.Status = domain.TaskStatusFailed
	task.Error = &domain.ErrorRecord{
		Category: domain.ErrorCategoryLiveness,
		Message:  "Task presumed failed due to worker timeout",
		At:       now,
	}
	out, _ := json.Marshal(task)
	_ = s.st.HSet(ctx, domain.FailedTaskKey(task.ID), map[string]string{"record": string(out)}, failedRetention)
	_ = s.st.HDelete(ctx, key)

	if s.metrics != nil {
		s.metrics.RecordTaskFailed(string(task.Type), "stale")
	}

	payload, _ := json.Marshal(map[string]interface{}{"task_id": task.ID, "status": "failed", "cause": "stale"})
	_ = s.pub.Ingest(ctx, domain.Event{
		ID: task.ID, Type: domain.EventTypeSystemAlert, Priority: domain.EventPriorityHigh,
		Timestamp: now, Source: "scheduler", Payload: payload,
	})
}
