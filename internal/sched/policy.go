package sched

import "fmt"

// selectNext picks the ready task with the strictly smallest remaining time.
// Ties go to the task met first from the head of the ready queue. Must be
// called with s.mu held; the task stays in the ready queue.
//
// The dispatcher never waits in the ready queue, so in practice transfer is
// what marks it critical. The check here only covers a dispatcher queued by
// an embedder or a test.
func (s *Scheduler) selectNext() *Task {
	var best *Task
	s.ready.ForEach(func(t *Task) {
		if best == nil || t.remaining < best.remaining {
			best = t
		}
	})
	if best != nil && best == s.dispatcher {
		best.critical = true
	}
	return best
}

// taskOrCurrent resolves a nil task to the one holding the processor.
func (s *Scheduler) taskOrCurrent(t *Task) *Task {
	if t == nil {
		return s.current
	}
	return t
}

// RemainingTime returns the remaining execution time of t, or of the
// current task when t is nil.
func (s *Scheduler) RemainingTime(t *Task) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskOrCurrent(t).remaining
}

// EstimatedTime returns the declared execution time of t, or of the current
// task when t is nil.
func (s *Scheduler) EstimatedTime(t *Task) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskOrCurrent(t).estimated
}

// SetEstimatedTime overwrites the estimate of t (the current task when t is
// nil) and recomputes its remaining time from the processor time it already
// consumed.
func (s *Scheduler) SetEstimatedTime(t *Task, et int64) error {
	if et < 0 {
		return fmt.Errorf("%w: negative estimate %d", ErrInvalidArgument, et)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t = s.taskOrCurrent(t)
	t.estimated = et
	if et == Unbounded {
		t.remaining = Unbounded
	} else {
		t.remaining = et - t.runningTime
	}
	return nil
}

// RemainingTime is a shorthand for t.Scheduler().RemainingTime(t).
func (t *Task) RemainingTime() int64 { return t.sched.RemainingTime(t) }

// EstimatedTime is a shorthand for t.Scheduler().EstimatedTime(t).
func (t *Task) EstimatedTime() int64 { return t.sched.EstimatedTime(t) }

// SetEstimatedTime is a shorthand for t.Scheduler().SetEstimatedTime(t, et).
func (t *Task) SetEstimatedTime(et int64) error { return t.sched.SetEstimatedTime(t, et) }
