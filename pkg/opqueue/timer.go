package opqueue

import (
	"time"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
)

type timerKind uint8

const (
	timerRetry timerKind = iota
	timerWatchdog
)

func (k timerKind) String() string {
	if k == timerRetry {
		return "retry"
	}
	return "watchdog"
}

// timerManager owns the retry and watchdog timers, keyed by operation id.
// At most one timer per (id, kind) may exist; arming replaces any stale one.
// The manager is not goroutine-safe on its own; the queue mutex guards it.
type timerManager struct {
	sched    Scheduler
	retry    map[idwrap.IDWrap]Timer
	watchdog map[idwrap.IDWrap]Timer
}

func newTimerManager(sched Scheduler) *timerManager {
	return &timerManager{
		sched:    sched,
		retry:    make(map[idwrap.IDWrap]Timer),
		watchdog: make(map[idwrap.IDWrap]Timer),
	}
}

func (tm *timerManager) set(kind timerKind) map[idwrap.IDWrap]Timer {
	if kind == timerRetry {
		return tm.retry
	}
	return tm.watchdog
}

func (tm *timerManager) arm(id idwrap.IDWrap, kind timerKind, d time.Duration, f func()) {
	tm.cancel(id, kind)
	tm.set(kind)[id] = tm.sched.AfterFunc(d, f)
}

func (tm *timerManager) cancel(id idwrap.IDWrap, kind timerKind) {
	set := tm.set(kind)
	if t, ok := set[id]; ok {
		t.Stop()
		delete(set, id)
	}
}

func (tm *timerManager) cancelBoth(id idwrap.IDWrap) {
	tm.cancel(id, timerRetry)
	tm.cancel(id, timerWatchdog)
}

func (tm *timerManager) has(id idwrap.IDWrap, kind timerKind) bool {
	_, ok := tm.set(kind)[id]
	return ok
}

func (tm *timerManager) cancelAll() {
	for id, t := range tm.retry {
		t.Stop()
		delete(tm.retry, id)
	}
	for id, t := range tm.watchdog {
		t.Stop()
		delete(tm.watchdog, id)
	}
}

func (tm *timerManager) armed() int {
	return len(tm.retry) + len(tm.watchdog)
}
