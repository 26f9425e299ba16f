// internal/sched/tickclock.go

package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TickClock emits ticks and counts them atomically.
type TickClock struct {
	Ch      chan struct{}
	count   atomic.Int64
	stop    chan struct{}
	started atomic.Bool
	once    sync.Once
}

// NewTickClock creates a clock but does not start it.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start arms the clock to emit ticks at the given interval. A clock can be
// armed once; a non-positive interval cannot be armed at all.
func (c *TickClock) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval %s", ErrTimer, interval)
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: clock already started", ErrTimer)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer close(c.Ch)
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.Ch <- struct{}{}:
				case <-c.stop:
					return
				}
			case <-c.stop:
				return
			}
		}
	}()
	return nil
}

// Stop signals the clock to stop emitting ticks. Safe to call more than once.
func (c *TickClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Count returns the number of ticks emitted so far.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}
