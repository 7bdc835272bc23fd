package opqueue

import (
	"time"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

// dispatchLocked selects the next deliverable operation, marks it
// processing, arms its watchdog, and returns the send to run once the
// lock is released. It returns nil when something is already in flight
// or nothing is eligible.
func (q *Queue) dispatchLocked() func() {
	if q.inFlight {
		return nil
	}

	var op *mop.Operation
	for _, candidate := range q.ops {
		if candidate.Status != mop.StatusPending {
			continue
		}
		if !q.scope.IsZero() && candidate.ScopeID != q.scope {
			continue
		}
		// A pending record with an armed retry timer is backing off;
		// other work may overtake it.
		if q.timers.has(candidate.ID, timerRetry) {
			continue
		}
		op = candidate
		break
	}
	if op == nil {
		return nil
	}

	op.Status = mop.StatusProcessing
	q.inFlight = true

	id := op.ID
	q.timers.arm(id, timerWatchdog, q.watchdogFor(op), func() {
		q.OnTimeout(id)
	})

	return q.sendFor(op)
}

func (q *Queue) watchdogFor(op *mop.Operation) time.Duration {
	if op.RetryClass() == mop.RetryClassEdit {
		return q.tun.EditWatchdog
	}
	return q.tun.StructuralWatchdog
}

// sendFor routes the operation to exactly one sink method. The returned
// closure captures copies, so it is safe to run without the lock.
func (q *Queue) sendFor(op *mop.Operation) func() {
	sink := q.sink
	id := op.ID
	switch {
	case op.Target == mop.TargetSubblock && op.Verb == mop.VerbUpdate:
		p := *op.Subblock
		return func() { sink.SendSubblock(p.BlockID, p.SubblockID, p.Value, id) }
	case op.Target == mop.TargetVariable && op.Verb == mop.VerbUpdate:
		p := *op.Variable
		return func() { sink.SendVariable(p.VariableID, p.Field, p.Value, id) }
	default:
		verb, target, p := op.Verb, op.Target, *op.Structural
		return func() { sink.SendStructural(verb, target, p, id) }
	}
}

// OnTimeout handles a delivery timeout: the dispatched operation got
// neither a confirmation nor an explicit failure in time. The request,
// the response, or the server may be slow or lost; the queue cannot
// tell, so it conservatively treats the delivery as failed.
// Receiver-side idempotency absorbs any duplicate that results. The
// watchdog calls this; external transports may too.
func (q *Queue) OnTimeout(id idwrap.IDWrap) {
	q.mu.Lock()
	q.timers.cancel(id, timerWatchdog)
	if q.findLocked(id) < 0 {
		// Confirmed or cancelled after the timer fired. Benign race.
		q.mu.Unlock()
		return
	}
	q.log.Warn("opqueue: delivery timeout", "id", id)
	send := q.failLocked(id, true)
	q.mu.Unlock()
	if send != nil {
		send()
	}
}
