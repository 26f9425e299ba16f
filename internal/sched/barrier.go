package sched

import (
	"fmt"

	"srtq/internal/queue"
)

// Barrier holds tasks until parties of them have joined, then releases them
// all at once and starts over.
type Barrier struct {
	sched     *Scheduler
	parties   int
	arrived   int
	waiters   queue.Queue[*Task]
	destroyed bool
}

func (s *Scheduler) NewBarrier(parties int) (*Barrier, error) {
	caller := s.Current()
	if parties <= 0 {
		err := fmt.Errorf("%w: barrier needs at least one party, got %d", ErrInvalidArgument, parties)
		s.emit(Before, HookBarrierCreate, caller, nil, nil, nil)
		s.emit(After, HookBarrierCreate, caller, nil, nil, err)
		return nil, err
	}
	b := &Barrier{sched: s, parties: parties}
	s.emit(Before, HookBarrierCreate, caller, nil, b, nil)
	s.emit(After, HookBarrierCreate, caller, nil, b, nil)
	return b, nil
}

// Join blocks t until the last party arrives.
func (b *Barrier) Join(t *Task) error {
	s := b.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	s.emit(Before, HookBarrierJoin, t, nil, b, nil)
	err := b.join(t)
	s.emit(After, HookBarrierJoin, t, nil, b, err)
	t.Checkpoint()
	return err
}

func (b *Barrier) join(t *Task) error {
	s := b.sched
	s.mu.Lock()
	if b.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	b.arrived++
	if b.arrived >= b.parties {
		b.arrived = 0
		released := s.wakeAllLocked(&b.waiters)
		s.log.Debug().Uint64("task", uint64(t.ID)).Int("released", released).Msg("barrier released")
		s.mu.Unlock()
		return nil
	}

	s.blockLocked(t, &b.waiters, StateBlocked)

	s.mu.Lock()
	defer s.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	return nil
}

// Waiting returns the number of tasks held at the barrier.
func (b *Barrier) Waiting() int {
	b.sched.mu.Lock()
	defer b.sched.mu.Unlock()
	return b.waiters.Size()
}

// Destroy retires the barrier; it fails with waiters unless force is set.
func (b *Barrier) Destroy(t *Task, force bool) error {
	s := b.sched
	s.emit(Before, HookBarrierDestroy, t, nil, b, nil)

	s.mu.Lock()
	var err error
	switch {
	case b.destroyed:
		err = ErrDestroyed
	case !b.waiters.Empty() && !force:
		err = fmt.Errorf("%w: %d task(s) at barrier", ErrDestroyWithWaiters, b.waiters.Size())
	default:
		b.destroyed = true
		b.arrived = 0
		s.wakeAllLocked(&b.waiters)
	}
	s.mu.Unlock()

	s.emit(After, HookBarrierDestroy, t, nil, b, err)
	t.Checkpoint()
	return err
}
