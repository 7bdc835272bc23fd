// Package opqueue delivers local editor operations to the authority with
// at-least-once, per-slot-ordered semantics. A single operation is in
// flight at any time; edits to the same slot coalesce so only the latest
// intent is sent; failures retry with class-specific budgets and backoff,
// and budget exhaustion drains the queue into a visible offline state
// rather than dropping work silently.
package opqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

var (
	// ErrOffline is returned by Enqueue once the queue has escalated to
	// the terminal offline state. Accepting work that can never be
	// delivered would be a silent-loss path.
	ErrOffline = errors.New("opqueue: queue is offline")

	// ErrInvalidOperation is returned for operations with a zero id or a
	// payload that does not match their verb/target class.
	ErrInvalidOperation = errors.New("opqueue: invalid operation")
)

// DeliverySink performs the actual network send for each routing class.
// Sends are fire-and-forget: the queue never blocks on them, outcomes
// arrive later through Confirm and Fail. A sink may call back into the
// queue synchronously; sends are issued outside the queue lock.
type DeliverySink interface {
	SendStructural(verb mop.Verb, target mop.Target, payload mop.StructuralPayload, id idwrap.IDWrap)
	SendSubblock(blockID idwrap.IDWrap, subblockID string, value any, id idwrap.IDWrap)
	SendVariable(variableID idwrap.IDWrap, field string, value any, id idwrap.IDWrap)
}

// Journal receives the drained operations when the queue escalates to
// offline, so callers can inspect or resubmit them after recovery. The
// queue itself never replays journaled work.
type Journal interface {
	Append(ctx context.Context, ops []mop.Operation) error
}

// Tuning holds the retry and watchdog knobs. Zero values fall back to
// the defaults below.
type Tuning struct {
	// Total attempts (first send included) before offline escalation.
	EditAttemptBudget       int
	StructuralAttemptBudget int

	// BackoffUnit scales both backoff curves. Edit-class retries wait
	// min(attempt, EditBackoffCap) units; structural retries wait
	// 2^attempt units.
	BackoffUnit    time.Duration
	EditBackoffCap int

	// Watchdog durations per class. The edit watchdog is long enough to
	// survive a client reconnect.
	EditWatchdog       time.Duration
	StructuralWatchdog time.Duration
}

func (t Tuning) withDefaults() Tuning {
	if t.EditAttemptBudget == 0 {
		t.EditAttemptBudget = 5
	}
	if t.StructuralAttemptBudget == 0 {
		t.StructuralAttemptBudget = 3
	}
	if t.BackoffUnit == 0 {
		t.BackoffUnit = time.Second
	}
	if t.EditBackoffCap == 0 {
		t.EditBackoffCap = 3
	}
	if t.EditWatchdog == 0 {
		t.EditWatchdog = 15 * time.Second
	}
	if t.StructuralWatchdog == 0 {
		t.StructuralWatchdog = 5 * time.Second
	}
	return t
}

// Queue is one independent delivery queue instance. Construct with New;
// the zero value is not usable.
type Queue struct {
	mu      sync.Mutex
	log     *slog.Logger
	sink    DeliverySink
	journal Journal
	tun     Tuning

	scope    idwrap.IDWrap
	ops      []*mop.Operation
	inFlight bool
	hasError bool
	timers   *timerManager
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithScheduler replaces the timer backend, typically with a fake in tests.
func WithScheduler(sched Scheduler) Option {
	return func(q *Queue) { q.timers = newTimerManager(sched) }
}

// WithJournal sets the offline spill journal.
func WithJournal(j Journal) Option {
	return func(q *Queue) { q.journal = j }
}

// WithTuning overrides the retry/watchdog defaults.
func WithTuning(t Tuning) Option {
	return func(q *Queue) { q.tun = t.withDefaults() }
}

// New creates a queue bound to a delivery sink and an active scope.
// Only operations whose ScopeID matches the active scope are dispatched;
// a zero scope disables the filter.
func New(sink DeliverySink, scopeID idwrap.IDWrap, opts ...Option) *Queue {
	q := &Queue{
		log:   slog.Default(),
		sink:  sink,
		tun:   Tuning{}.withDefaults(),
		scope: scopeID,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.timers == nil {
		q.timers = newTimerManager(NewStdScheduler())
	}
	return q
}

// Enqueue admits an operation. Re-submitting a live id, or a duplicate of
// an already-queued intent, is a silent no-op. Edit operations supersede
// older pending edits to the same slot before joining the queue.
func (q *Queue) Enqueue(op mop.Operation) error {
	if err := validate(&op); err != nil {
		return err
	}

	q.mu.Lock()
	if q.hasError {
		q.mu.Unlock()
		return ErrOffline
	}

	if q.findLocked(op.ID) >= 0 {
		q.log.Debug("opqueue: duplicate id ignored", "id", op.ID)
		q.mu.Unlock()
		return nil
	}
	if q.duplicateIntentLocked(&op) {
		q.log.Debug("opqueue: duplicate intent ignored",
			"verb", op.Verb, "target", op.Target, "entity", op.EntityID())
		q.mu.Unlock()
		return nil
	}

	if key, ok := op.CoalesceKey(); ok {
		q.coalesceLocked(key, op.ID)
	}

	op.Status = mop.StatusPending
	op.RetryCount = 0
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	q.ops = append(q.ops, &op)

	send := q.dispatchLocked()
	q.mu.Unlock()
	if send != nil {
		send()
	}
	return nil
}

// Confirm acknowledges delivery of the given operation. Confirmations for
// cancelled or already-removed ids are tolerated.
func (q *Queue) Confirm(id idwrap.IDWrap) {
	q.mu.Lock()
	if i := q.findLocked(id); i >= 0 {
		q.removeLocked(i)
	}
	q.timers.cancelBoth(id)
	q.recomputeInFlightLocked()
	send := q.dispatchLocked()
	q.mu.Unlock()
	if send != nil {
		send()
	}
}

// TriggerOffline forces the terminal offline state: every timer is
// cancelled, the queue is drained (into the journal, when one is
// configured), and the persistent error flag is raised.
func (q *Queue) TriggerOffline() {
	q.mu.Lock()
	q.escalateLocked("forced")
	q.mu.Unlock()
}

// ClearError resets the error flag after the caller has externally
// confirmed connectivity is restored. Drained work is not resubmitted.
func (q *Queue) ClearError() {
	q.mu.Lock()
	q.hasError = false
	q.mu.Unlock()
}

// SetScope switches the active scope and immediately tries to drain
// operations that were waiting on it.
func (q *Queue) SetScope(scopeID idwrap.IDWrap) {
	q.mu.Lock()
	q.scope = scopeID
	send := q.dispatchLocked()
	q.mu.Unlock()
	if send != nil {
		send()
	}
}

// Scope returns the active scope id.
func (q *Queue) Scope() idwrap.IDWrap {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scope
}

// Operations returns a snapshot copy of every live operation in FIFO order.
func (q *Queue) Operations() []mop.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]mop.Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = *op
	}
	return out
}

// Len returns the number of live operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// InFlight reports whether an operation is currently processing.
func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// HasError reports whether the queue is in the offline error state.
func (q *Queue) HasError() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasError
}

func validate(op *mop.Operation) error {
	if op.ID.IsZero() {
		return fmt.Errorf("%w: zero id", ErrInvalidOperation)
	}
	switch {
	case op.IsEdit() && op.Target == mop.TargetSubblock:
		if op.Subblock == nil {
			return fmt.Errorf("%w: subblock update without subblock payload", ErrInvalidOperation)
		}
	case op.IsEdit() && op.Target == mop.TargetVariable:
		if op.Variable == nil {
			return fmt.Errorf("%w: variable update without variable payload", ErrInvalidOperation)
		}
	default:
		if op.Structural == nil {
			return fmt.Errorf("%w: %s %s without structural payload", ErrInvalidOperation, op.Verb, op.Target)
		}
	}
	return nil
}

func (q *Queue) findLocked(id idwrap.IDWrap) int {
	for i, op := range q.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(i int) {
	q.ops = append(q.ops[:i], q.ops[i+1:]...)
}

// recomputeInFlightLocked derives the in-flight flag from the surviving
// records. A removed processing record releases the queue; one that is
// still live keeps it held, so a late ack for some other id can never
// overlap two sends.
func (q *Queue) recomputeInFlightLocked() {
	q.inFlight = false
	for _, op := range q.ops {
		if op.Status == mop.StatusProcessing {
			q.inFlight = true
			return
		}
	}
}

// duplicateIntentLocked reports whether an operation expressing the same
// intent is already queued, regardless of status. Structural intents
// compare by entity id, edits by payload equality.
func (q *Queue) duplicateIntentLocked(op *mop.Operation) bool {
	fp := payloadFingerprint(op)
	for _, live := range q.ops {
		if live.Verb != op.Verb || live.Target != op.Target || live.ScopeID != op.ScopeID {
			continue
		}
		if op.Structural != nil {
			if live.Structural != nil && live.Structural.EntityID == op.Structural.EntityID {
				return true
			}
			continue
		}
		if fp != "" && payloadFingerprint(live) == fp {
			return true
		}
	}
	return false
}

// coalesceLocked deletes every pending edit on the same slot so only the
// newest intent survives. Processing records are left alone; the watchdog
// or ack path will retire them.
func (q *Queue) coalesceLocked(key string, newID idwrap.IDWrap) {
	kept := q.ops[:0]
	for _, live := range q.ops {
		liveKey, ok := live.CoalesceKey()
		if ok && liveKey == key && live.Status == mop.StatusPending && live.ID != newID {
			q.timers.cancelBoth(live.ID)
			continue
		}
		kept = append(kept, live)
	}
	q.ops = kept
}

func payloadFingerprint(op *mop.Operation) string {
	var v any
	switch {
	case op.Subblock != nil:
		v = op.Subblock
	case op.Variable != nil:
		v = op.Variable
	case op.Structural != nil:
		v = op.Structural
	default:
		return ""
	}
	b, err := gojson.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// escalateLocked is the single terminal-failure path. It never drops data
// silently: when a journal is configured the drained set is spilled there
// first, and the error flag stays up until the caller clears it.
func (q *Queue) escalateLocked(reason string) {
	q.timers.cancelAll()

	if q.journal != nil && len(q.ops) > 0 {
		snapshot := make([]mop.Operation, len(q.ops))
		for i, op := range q.ops {
			snapshot[i] = *op
		}
		if err := q.journal.Append(context.Background(), snapshot); err != nil {
			q.log.Error("opqueue: journal spill failed", "error", err, "dropped", len(snapshot))
		}
	}

	q.log.Error("opqueue: offline escalation", "reason", reason, "drained", len(q.ops))
	q.ops = nil
	q.inFlight = false
	q.hasError = true
}
