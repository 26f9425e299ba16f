package sched

import (
	"fmt"

	"srtq/internal/queue"
)

// Mutex is a binary semaphore that remembers its owner. Unlock hands the
// mutex straight to the oldest waiter.
type Mutex struct {
	sched     *Scheduler
	owner     *Task
	waiters   queue.Queue[*Task]
	destroyed bool
}

func (s *Scheduler) NewMutex() *Mutex {
	caller := s.Current()
	m := &Mutex{sched: s}
	s.emit(Before, HookMutexCreate, caller, nil, m, nil)
	s.emit(After, HookMutexCreate, caller, nil, m, nil)
	return m
}

// Lock acquires the mutex for t, blocking while another task holds it.
func (m *Mutex) Lock(t *Task) error {
	s := m.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	s.emit(Before, HookMutexLock, t, m.Owner(), m, nil)
	err := m.lock(t)
	s.emit(After, HookMutexLock, t, nil, m, err)
	t.Checkpoint()
	return err
}

func (m *Mutex) lock(t *Task) error {
	s := m.sched
	s.mu.Lock()
	switch {
	case m.destroyed:
		s.mu.Unlock()
		return ErrDestroyed
	case m.owner == nil:
		m.owner = t
		t.held.Add(m)
		s.mu.Unlock()
		return nil
	case m.owner == t:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already holds the mutex", ErrInvalidState, t)
	}

	s.blockLocked(t, &m.waiters, StateBlocked)

	// ownership was handed over by handoffLocked
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	return nil
}

// Unlock releases the mutex. Only the owner may unlock it.
func (m *Mutex) Unlock(t *Task) error {
	s := m.sched
	s.emit(Before, HookMutexUnlock, t, nil, m, nil)

	s.mu.Lock()
	var err error
	switch {
	case m.destroyed:
		err = ErrDestroyed
	case t == nil || m.owner != t:
		err = fmt.Errorf("%w: %v", ErrNotOwner, t)
	default:
		s.handoffLocked(m)
	}
	s.mu.Unlock()

	s.emit(After, HookMutexUnlock, t, nil, m, err)
	t.Checkpoint()
	return err
}

// handoffLocked takes the mutex from its owner and gives it to the oldest
// waiter, or leaves it free.
func (s *Scheduler) handoffLocked(m *Mutex) {
	if m.owner != nil {
		m.owner.held.Remove(m)
	}
	next := s.wakeLocked(&m.waiters)
	m.owner = next
	if next != nil {
		next.held.Add(m)
	}
}

// releaseHeldLocked hands every mutex still owned by a terminating task to
// its next waiter, so waiters are never orphaned.
func (s *Scheduler) releaseHeldLocked(t *Task) int {
	held := t.held.Values()
	for _, v := range held {
		s.handoffLocked(v.(*Mutex))
	}
	return len(held)
}

// Owner returns the task holding the mutex, or nil.
func (m *Mutex) Owner() *Task {
	m.sched.mu.Lock()
	defer m.sched.mu.Unlock()
	return m.owner
}

// Destroy retires the mutex. It fails while the mutex is held or awaited
// unless force is set; forced destruction wakes waiters with ErrDestroyed.
func (m *Mutex) Destroy(t *Task, force bool) error {
	s := m.sched
	s.emit(Before, HookMutexDestroy, t, nil, m, nil)

	s.mu.Lock()
	var err error
	switch {
	case m.destroyed:
		err = ErrDestroyed
	case (m.owner != nil || !m.waiters.Empty()) && !force:
		err = fmt.Errorf("%w: mutex held by %v with %d waiter(s)", ErrDestroyWithWaiters, m.owner, m.waiters.Size())
	default:
		m.destroyed = true
		if m.owner != nil {
			m.owner.held.Remove(m)
			m.owner = nil
		}
		s.wakeAllLocked(&m.waiters)
	}
	s.mu.Unlock()

	s.emit(After, HookMutexDestroy, t, nil, m, err)
	t.Checkpoint()
	return err
}
