package opqueue

import (
	"time"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

// Fail reports a delivery failure for the given operation. Retryable
// failures re-queue the operation with backoff until its class budget is
// exhausted, at which point the queue escalates to offline instead of
// dropping the operation. Non-retryable failures remove it immediately.
func (q *Queue) Fail(id idwrap.IDWrap, retryable bool) {
	q.mu.Lock()
	send := q.failLocked(id, retryable)
	q.mu.Unlock()
	if send != nil {
		send()
	}
}

func (q *Queue) failLocked(id idwrap.IDWrap, retryable bool) func() {
	i := q.findLocked(id)
	if i < 0 {
		q.log.Warn("opqueue: failure for unknown operation", "id", id)
		return nil
	}
	op := q.ops[i]
	q.timers.cancel(id, timerWatchdog)

	if !retryable {
		q.log.Warn("opqueue: non-retryable failure, dropping",
			"id", id, "verb", op.Verb, "target", op.Target)
		q.removeLocked(i)
		q.recomputeInFlightLocked()
		return q.dispatchLocked()
	}

	attempt := op.RetryCount + 1
	if attempt >= q.attemptBudget(op.RetryClass()) {
		q.escalateLocked("retry budget exhausted")
		return nil
	}

	op.RetryCount = attempt
	op.Status = mop.StatusPending
	q.recomputeInFlightLocked()

	delay := q.backoff(op.RetryClass(), attempt)
	q.log.Warn("opqueue: retrying operation",
		"id", id, "attempt", attempt, "delay", delay)
	q.timers.arm(id, timerRetry, delay, func() {
		q.onRetryElapsed(id)
	})

	return q.dispatchLocked()
}

func (q *Queue) attemptBudget(class mop.RetryClass) int {
	if class == mop.RetryClassEdit {
		return q.tun.EditAttemptBudget
	}
	return q.tun.StructuralAttemptBudget
}

// backoff returns the delay before retry number attempt. Edits use a
// linear curve capped at EditBackoffCap units so a flapping connection
// stays responsive; structural changes double each time to spare a
// degraded backend.
func (q *Queue) backoff(class mop.RetryClass, attempt int) time.Duration {
	if class == mop.RetryClassEdit {
		return time.Duration(min(attempt, q.tun.EditBackoffCap)) * q.tun.BackoffUnit
	}
	return time.Duration(1<<attempt) * q.tun.BackoffUnit
}

// onRetryElapsed makes the operation dispatchable again once its backoff
// delay has passed.
func (q *Queue) onRetryElapsed(id idwrap.IDWrap) {
	q.mu.Lock()
	q.timers.cancel(id, timerRetry)
	send := q.dispatchLocked()
	q.mu.Unlock()
	if send != nil {
		send()
	}
}
