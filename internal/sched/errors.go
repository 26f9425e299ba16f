package sched

import "errors"

var (
	ErrTimer              = errors.New("sched: tick timer cannot be armed")
	ErrStopped            = errors.New("sched: scheduler stopped")
	ErrAlreadyRunning     = errors.New("sched: scheduler already running")
	ErrDeadlock           = errors.New("sched: all remaining tasks are blocked")
	ErrNotRunning         = errors.New("sched: task does not hold the processor")
	ErrInvalidArgument    = errors.New("sched: invalid argument")
	ErrInvalidState       = errors.New("sched: task is not in a valid state for this operation")
	ErrPanicked           = errors.New("sched: task panicked")
	ErrNotOwner           = errors.New("sched: mutex not held by caller")
	ErrDestroyWithWaiters = errors.New("sched: primitive still has waiting tasks")
	ErrDestroyed          = errors.New("sched: primitive destroyed")
)

// invariantError is raised when the scheduler's own queue bookkeeping fails.
// It is never recovered into a task exit error.
type invariantError struct{ err error }

func (e invariantError) Error() string { return "sched: corrupted task queue: " + e.err.Error() }
func (e invariantError) Unwrap() error { return e.err }

func must(err error) {
	if err != nil {
		panic(invariantError{err: err})
	}
}
