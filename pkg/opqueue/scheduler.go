package opqueue

import "time"

// Timer is the stoppable handle returned by a Scheduler.
type Timer interface {
	// Stop cancels the timer. It reports false if the timer already fired.
	Stop() bool
}

// Scheduler abstracts timer creation so tests can drive time
// deterministically instead of sleeping.
type Scheduler interface {
	// AfterFunc runs f on its own goroutine after d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}

type stdScheduler struct{}

// NewStdScheduler returns a Scheduler backed by time.AfterFunc.
func NewStdScheduler() Scheduler {
	return stdScheduler{}
}

func (stdScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
