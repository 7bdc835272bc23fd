package opqueue

import (
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

// CancelByBlock removes every operation referencing the given block,
// including subblock edits inside it. Use when the block is locally
// deleted before its round trips complete; the queued work must never be
// sent against an entity that no longer exists.
func (q *Queue) CancelByBlock(blockID idwrap.IDWrap) int {
	return q.cancelWhere(func(op *mop.Operation) bool {
		return op.ReferencesBlock(blockID)
	})
}

// CancelByVariable removes every operation referencing the given variable.
func (q *Queue) CancelByVariable(variableID idwrap.IDWrap) int {
	return q.cancelWhere(func(op *mop.Operation) bool {
		return op.ReferencesVariable(variableID)
	})
}

// CancelByScope removes every operation belonging to the given workflow.
func (q *Queue) CancelByScope(scopeID idwrap.IDWrap) int {
	return q.cancelWhere(func(op *mop.Operation) bool {
		return op.ScopeID == scopeID
	})
}

// cancelWhere removes matching operations regardless of status and clears
// their timers. If the processing record was cancelled, the in-flight
// flag drops with it; a late response for that id finds nothing and
// becomes a no-op. Returns the number of removed operations.
func (q *Queue) cancelWhere(match func(*mop.Operation) bool) int {
	q.mu.Lock()
	removed := 0
	kept := q.ops[:0]
	for _, op := range q.ops {
		if match(op) {
			q.timers.cancelBoth(op.ID)
			removed++
			continue
		}
		kept = append(kept, op)
	}
	q.ops = kept

	q.recomputeInFlightLocked()

	if removed > 0 {
		q.log.Debug("opqueue: cancelled operations", "count", removed)
	}
	send := q.dispatchLocked()
	q.mu.Unlock()
	if send != nil {
		send()
	}
	return removed
}
