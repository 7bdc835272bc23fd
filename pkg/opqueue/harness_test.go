package opqueue

import (
	"sync"
	"time"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

// fakeScheduler drives timers from test code instead of the wall clock.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	sched    *fakeScheduler
	deadline time.Duration
	fn       func()
	done     bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, deadline: s.now + d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves the fake clock forward, firing due timers in deadline
// order. Timers armed by a firing callback fire too if they fall inside
// the window.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *fakeTimer
		for _, t := range s.timers {
			if t.done || t.deadline > target {
				continue
			}
			if next == nil || t.deadline < next.deadline {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.deadline
		next.done = true
		fn := next.fn
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// fakeSink records every send so tests can assert on routing and order.
type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	route string
	id    idwrap.IDWrap
	verb  mop.Verb
	value any
}

func (s *fakeSink) SendStructural(verb mop.Verb, _ mop.Target, _ mop.StructuralPayload, id idwrap.IDWrap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{route: "structural", id: id, verb: verb})
}

func (s *fakeSink) SendSubblock(_ idwrap.IDWrap, _ string, value any, id idwrap.IDWrap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{route: "subblock", id: id, value: value})
}

func (s *fakeSink) SendVariable(_ idwrap.IDWrap, _ string, value any, id idwrap.IDWrap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{route: "variable", id: id, value: value})
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSink) last() sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func subblockOp(scope, block idwrap.IDWrap, subblock string, value any) mop.Operation {
	return mop.Operation{
		ID:      idwrap.NewNow(),
		Verb:    mop.VerbUpdate,
		Target:  mop.TargetSubblock,
		ScopeID: scope,
		Subblock: &mop.SubblockPayload{
			BlockID:    block,
			SubblockID: subblock,
			Value:      value,
		},
	}
}

func variableOp(scope, variable idwrap.IDWrap, field string, value any) mop.Operation {
	return mop.Operation{
		ID:      idwrap.NewNow(),
		Verb:    mop.VerbUpdate,
		Target:  mop.TargetVariable,
		ScopeID: scope,
		Variable: &mop.VariablePayload{
			VariableID: variable,
			Field:      field,
			Value:      value,
		},
	}
}

func structuralOp(scope idwrap.IDWrap, verb mop.Verb, target mop.Target, entity idwrap.IDWrap) mop.Operation {
	return mop.Operation{
		ID:         idwrap.NewNow(),
		Verb:       verb,
		Target:     target,
		ScopeID:    scope,
		Structural: &mop.StructuralPayload{EntityID: entity},
	}
}

func processingCount(q *Queue) int {
	n := 0
	for _, op := range q.Operations() {
		if op.Status == mop.StatusProcessing {
			n++
		}
	}
	return n
}
