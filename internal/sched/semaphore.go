package sched

import (
	"fmt"

	"srtq/internal/queue"
)

// Semaphore is a counting semaphore whose waiters are green threads.
type Semaphore struct {
	sched     *Scheduler
	value     int
	waiters   queue.Queue[*Task]
	destroyed bool
}

// NewSemaphore creates a semaphore holding initial units.
func (s *Scheduler) NewSemaphore(initial int) (*Semaphore, error) {
	caller := s.Current()
	if initial < 0 {
		err := fmt.Errorf("%w: negative semaphore value %d", ErrInvalidArgument, initial)
		s.emit(Before, HookSemCreate, caller, nil, nil, nil)
		s.emit(After, HookSemCreate, caller, nil, nil, err)
		return nil, err
	}
	sem := &Semaphore{sched: s, value: initial}
	s.emit(Before, HookSemCreate, caller, nil, sem, nil)
	s.emit(After, HookSemCreate, caller, nil, sem, nil)
	return sem, nil
}

// Down takes one unit, blocking t while none is available.
func (sem *Semaphore) Down(t *Task) error {
	s := sem.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	s.emit(Before, HookSemDown, t, nil, sem, nil)
	err := sem.down(t)
	s.emit(After, HookSemDown, t, nil, sem, err)
	t.Checkpoint()
	return err
}

func (sem *Semaphore) down(t *Task) error {
	s := sem.sched
	s.mu.Lock()
	if sem.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	sem.value--
	if sem.value >= 0 {
		s.mu.Unlock()
		return nil
	}

	s.blockLocked(t, &sem.waiters, StateBlocked)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sem.destroyed {
		return ErrDestroyed
	}
	return nil
}

// Up releases one unit and wakes the oldest waiter, if any. t is the calling
// task as reported to hooks; Up never blocks.
func (sem *Semaphore) Up(t *Task) error {
	s := sem.sched
	s.emit(Before, HookSemUp, t, nil, sem, nil)

	s.mu.Lock()
	var err error
	if sem.destroyed {
		err = ErrDestroyed
	} else {
		prev := sem.value
		sem.value++
		if prev <= 0 {
			s.wakeLocked(&sem.waiters)
		}
	}
	s.mu.Unlock()

	s.emit(After, HookSemUp, t, nil, sem, err)
	t.Checkpoint()
	return err
}

// Value returns the counter; a negative value is the number of waiters.
func (sem *Semaphore) Value() int {
	sem.sched.mu.Lock()
	defer sem.sched.mu.Unlock()
	return sem.value
}

// Destroy retires the semaphore. It fails while tasks wait on it unless
// force is set, in which case every waiter wakes with ErrDestroyed.
func (sem *Semaphore) Destroy(t *Task, force bool) error {
	s := sem.sched
	s.emit(Before, HookSemDestroy, t, nil, sem, nil)

	s.mu.Lock()
	var err error
	switch {
	case sem.destroyed:
		err = ErrDestroyed
	case !sem.waiters.Empty() && !force:
		err = fmt.Errorf("%w: %d task(s) on semaphore", ErrDestroyWithWaiters, sem.waiters.Size())
	default:
		sem.destroyed = true
		s.wakeAllLocked(&sem.waiters)
	}
	s.mu.Unlock()

	s.emit(After, HookSemDestroy, t, nil, sem, err)
	t.Checkpoint()
	return err
}
