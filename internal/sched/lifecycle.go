package sched

import (
	"fmt"
	"runtime"
)

// Checkpoint is a preemption point. When the tick handler has expired the
// task's quantum, the task goes back to the tail of the ready queue and the
// dispatcher picks again. Every scheduler call made by a task passes through
// one; long-running task bodies should also call it often, since a task that
// never reaches a checkpoint is never switched out.
//
// After shutdown the task is unwound here.
func (t *Task) Checkpoint() {
	if t == nil {
		return
	}
	s := t.sched
	s.mu.Lock()
	s.unwindIfStoppedLocked(t)
	if s.current != t || !t.preempt || t == s.main || t == s.dispatcher {
		s.mu.Unlock()
		return
	}
	t.preempt = false
	t.preemptions++
	s.log.Debug().
		Int64("tick", s.systemTime).
		Uint64("task", uint64(t.ID)).
		Msg("preempted")
	s.requeueLocked(t)
	s.transfer(t, s.dispatcher)
	s.resumed(t)
}

// Yield gives the processor back voluntarily; t re-enters the ready queue at
// the tail.
func (t *Task) Yield() error {
	s := t.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	s.emit(Before, HookYield, t, nil, nil, nil)

	s.mu.Lock()
	t.preempt = false
	s.requeueLocked(t)
	s.transfer(t, s.dispatcher)
	s.resumed(t)

	s.emit(After, HookYield, t, nil, nil, nil)
	return nil
}

// Sleep removes t from the processor for the given number of ticks. A
// non-positive duration only yields.
func (t *Task) Sleep(ticks int64) error {
	if ticks <= 0 {
		return t.Yield()
	}
	s := t.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	s.emit(Before, HookSleep, t, nil, nil, nil)

	s.mu.Lock()
	t.wakeAt = s.systemTime + ticks
	s.blockLocked(t, &s.sleeping, StateSleeping)

	s.emit(After, HookSleep, t, nil, nil, nil)
	return nil
}

// Join blocks t until other terminates and returns the error other exited
// with.
func (t *Task) Join(other *Task) error {
	s := t.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	if other == nil || other == t || other.sched != s || other == s.main || other == s.dispatcher {
		return fmt.Errorf("%w: cannot join %v", ErrInvalidArgument, other)
	}
	s.emit(Before, HookJoin, t, other, nil, nil)

	s.mu.Lock()
	if other.state != StateTerminated {
		s.blockLocked(t, &other.joiners, StateBlocked)
	} else {
		s.mu.Unlock()
	}
	err := other.exitErr

	s.emit(After, HookJoin, t, other, nil, err)
	t.Checkpoint()
	return err
}

// Suspend moves target (t itself when nil) out of scheduling until Resume.
// A task can suspend itself or any ready task.
func (t *Task) Suspend(target *Task) error {
	s := t.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	if target == nil {
		target = t
	}
	if target.sched != s {
		return fmt.Errorf("%w: %s belongs to another scheduler", ErrInvalidArgument, target)
	}
	s.emit(Before, HookSuspend, t, target, nil, nil)

	s.mu.Lock()
	var err error
	switch {
	case target == t:
		s.blockLocked(t, &s.suspended, StateSuspended)
	case target.state == StateReady && s.ready.Contains(&target.node):
		must2(s.ready.Remove(&target.node))
		target.state = StateSuspended
		must(s.suspended.Append(&target.node))
		s.mu.Unlock()
	default:
		err = fmt.Errorf("%w: %s is %s", ErrInvalidState, target, target.state)
		s.mu.Unlock()
	}

	s.emit(After, HookSuspend, t, target, nil, err)
	t.Checkpoint()
	return err
}

// Resume puts a suspended task back in the ready queue.
func (t *Task) Resume(target *Task) error {
	s := t.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	if target == nil || target.sched != s {
		return fmt.Errorf("%w: cannot resume %v", ErrInvalidArgument, target)
	}
	s.emit(Before, HookResume, t, target, nil, nil)

	s.mu.Lock()
	var err error
	if target.state == StateSuspended {
		must2(s.suspended.Remove(&target.node))
		s.requeueLocked(target)
		s.signalIdle()
	} else {
		err = fmt.Errorf("%w: %s is %s", ErrInvalidState, target, target.state)
	}
	s.mu.Unlock()

	s.emit(After, HookResume, t, target, nil, err)
	t.Checkpoint()
	return err
}

// Exit terminates t immediately with err, as if its entry procedure had
// returned it. Deferred calls in the task body run.
func (t *Task) Exit(err error) {
	if cerr := t.sched.checkCurrent(t); cerr != nil {
		panic(cerr)
	}
	t.exitErr = err
	runtime.Goexit()
}

// exit finalizes a task whose body returned, called Exit or panicked, and
// hands the processor to the dispatcher for good.
func (s *Scheduler) exit(t *Task) {
	if r := recover(); r != nil {
		if ie, ok := r.(invariantError); ok {
			panic(ie)
		}
		t.exitErr = fmt.Errorf("%w: %v", ErrPanicked, r)
		s.log.Error().Uint64("task", uint64(t.ID)).Interface("panic", r).Msg("task panicked")
	}
	if t.killed {
		return
	}
	s.emit(Before, HookTaskExit, t, nil, nil, t.exitErr)

	d := s.dispatcher
	s.mu.Lock()
	t.state = StateTerminated
	t.preempt = false
	t.critical = false
	// ticks from here on belong to the dispatcher
	s.current = d
	d.critical = true
	rep := reportLocked(t, s.systemTime)
	s.reports = append(s.reports, rep)
	joiners := s.wakeAllLocked(&t.joiners)
	orphans := s.releaseHeldLocked(t)
	s.mu.Unlock()

	s.log.Info().
		Uint64("task", uint64(t.ID)).
		Str("name", t.Name).
		Int64("execution", rep.ExecutionTime).
		Int64("processor", rep.ProcessorTime).
		Int64("activations", rep.Activations).
		Int("joiners", joiners).
		Err(rep.Err).
		Msg(rep.String())
	if orphans > 0 {
		s.log.Warn().
			Uint64("task", uint64(t.ID)).
			Int("mutexes", orphans).
			Msg("task exited holding mutexes, ownership released")
	}
	s.emit(After, HookTaskExit, t, nil, rep, t.exitErr)
	s.emit(Before, HookTaskSwitch, t, d, nil, nil)

	s.mu.Lock()
	s.tasks.Remove(t.ID)
	s.exiting = t
	s.mu.Unlock()
	d.resume <- struct{}{}
}
