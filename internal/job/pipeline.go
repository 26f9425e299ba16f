package job

import (
	"encoding/binary"
	"fmt"

	"srtq/internal/sched"
)

// Pipeline is a producer/consumer pair over a message queue, with a
// semaphore counting consumed items and a mutex guarding the running sum.
type Pipeline struct {
	Items int
	Queue *sched.MessageQueue
	Done  *sched.Semaphore
	Lock  *sched.Mutex
	Sum   uint64
}

// NewPipeline creates the shared primitives for items messages.
func NewPipeline(s *sched.Scheduler, items, capacity int) (*Pipeline, error) {
	mq, err := s.NewMessageQueue(capacity, 8)
	if err != nil {
		return nil, err
	}
	done, err := s.NewSemaphore(0)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Items: items, Queue: mq, Done: done, Lock: s.NewMutex()}, nil
}

// Producer sends the values 1..Items.
func (p *Pipeline) Producer(t *sched.Task) error {
	msg := make([]byte, 8)
	for i := 1; i <= p.Items; i++ {
		binary.LittleEndian.PutUint64(msg, uint64(i))
		if err := p.Queue.Send(t, msg); err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
		t.Checkpoint()
	}
	return nil
}

// Consumer receives count messages and adds them to Sum.
func (p *Pipeline) Consumer(count int) sched.TaskFunc {
	return func(t *sched.Task) error {
		buf := make([]byte, 8)
		for i := 0; i < count; i++ {
			if err := p.Queue.Recv(t, buf); err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			if err := p.Lock.Lock(t); err != nil {
				return err
			}
			p.Sum += binary.LittleEndian.Uint64(buf)
			if err := p.Lock.Unlock(t); err != nil {
				return err
			}
			if err := p.Done.Up(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// Waiter blocks until every item has been consumed, then tears the
// primitives down.
func (p *Pipeline) Waiter(t *sched.Task) error {
	for i := 0; i < p.Items; i++ {
		if err := p.Done.Down(t); err != nil {
			return err
		}
	}
	if err := p.Queue.Destroy(t, false); err != nil {
		return err
	}
	if err := p.Done.Destroy(t, false); err != nil {
		return err
	}
	return p.Lock.Destroy(t, false)
}
