// Invariants (enforced by the components that mutate these types, not by
// the domain package itself):
//
//  1. A task's RetryCount is monotonically non-decreasing and bounded by
//     MaxRetries+1; on the (MaxRetries+1)-th failure the task moves to the
//     DLQ rather than the retry queue.
//  2. A task is assigned to at most one worker at any instant; a worker's
//     CurrentLoad counts only assignments in {assigned, running, paused}.
//  3. A task transitions to running only when every dependency is
//     completed.
//  4. While the global pause flag is set, no task transitions from
//     pending/assigned to running; running tasks may finish their current
//     step but must not begin a new one.
//  5. The global throttle rate lies in [0.1, 2.0].
//  6. Event ids are unique for the run's lifetime; a channel's ring buffer
//     length never exceeds its configured capacity.
//  7. A subscription's outbound queue size never exceeds its capacity; on
//     overflow the oldest undelivered event is dropped and a counter
//     incremented.
//  8. A task's progress is monotonically non-decreasing within a single
//     attempt; a retry resets progress to 0.
package domain
