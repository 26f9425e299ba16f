package sched

import (
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"srtq/internal/queue"
)

// MessageQueue is a bounded FIFO of fixed-size messages. Senders block while
// it is full, receivers while it is empty.
type MessageQueue struct {
	sched     *Scheduler
	itemSize  int
	buf       *circularbuffer.Queue // of []byte, each itemSize long
	senders   queue.Queue[*Task]
	receivers queue.Queue[*Task]
	destroyed bool
}

func (s *Scheduler) NewMessageQueue(capacity, itemSize int) (*MessageQueue, error) {
	caller := s.Current()
	if capacity <= 0 || itemSize <= 0 {
		err := fmt.Errorf("%w: message queue capacity %d, item size %d", ErrInvalidArgument, capacity, itemSize)
		s.emit(Before, HookMQueueCreate, caller, nil, nil, nil)
		s.emit(After, HookMQueueCreate, caller, nil, nil, err)
		return nil, err
	}
	mq := &MessageQueue{
		sched:    s,
		itemSize: itemSize,
		buf:      circularbuffer.New(capacity),
	}
	s.emit(Before, HookMQueueCreate, caller, nil, mq, nil)
	s.emit(After, HookMQueueCreate, caller, nil, mq, nil)
	return mq, nil
}

// Send copies msg into the queue, blocking t while the queue is full.
func (mq *MessageQueue) Send(t *Task, msg []byte) error {
	s := mq.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	if len(msg) != mq.itemSize {
		return fmt.Errorf("%w: message is %d bytes, queue carries %d", ErrInvalidArgument, len(msg), mq.itemSize)
	}
	s.emit(Before, HookMQueueSend, t, nil, mq, nil)

	s.mu.Lock()
	err := mq.waitLocked(t, &mq.senders, mq.buf.Full)
	if err == nil {
		mq.buf.Enqueue(append([]byte(nil), msg...))
		s.wakeLocked(&mq.receivers)
	}
	s.mu.Unlock()

	s.emit(After, HookMQueueSend, t, nil, mq, err)
	t.Checkpoint()
	return err
}

// Recv copies the oldest message into buf, blocking t while the queue is
// empty. buf must hold at least one item.
func (mq *MessageQueue) Recv(t *Task, buf []byte) error {
	s := mq.sched
	if err := s.checkCurrent(t); err != nil {
		return err
	}
	if len(buf) < mq.itemSize {
		return fmt.Errorf("%w: buffer is %d bytes, queue carries %d", ErrInvalidArgument, len(buf), mq.itemSize)
	}
	s.emit(Before, HookMQueueRecv, t, nil, mq, nil)

	s.mu.Lock()
	err := mq.waitLocked(t, &mq.receivers, mq.buf.Empty)
	if err == nil {
		v, _ := mq.buf.Dequeue()
		copy(buf, v.([]byte))
		s.wakeLocked(&mq.senders)
	}
	s.mu.Unlock()

	s.emit(After, HookMQueueRecv, t, nil, mq, err)
	t.Checkpoint()
	return err
}

// waitLocked blocks t on q for as long as cond holds. Called and returns
// with s.mu held.
func (mq *MessageQueue) waitLocked(t *Task, q *queue.Queue[*Task], cond func() bool) error {
	s := mq.sched
	for {
		if mq.destroyed {
			return ErrDestroyed
		}
		if !cond() {
			return nil
		}
		s.blockLocked(t, q, StateBlocked)
		s.mu.Lock()
	}
}

// Count returns the number of queued messages.
func (mq *MessageQueue) Count(t *Task) (int, error) {
	s := mq.sched
	s.emit(Before, HookMQueueCount, t, nil, mq, nil)

	s.mu.Lock()
	n, err := mq.buf.Size(), error(nil)
	if mq.destroyed {
		n, err = 0, ErrDestroyed
	}
	s.mu.Unlock()

	s.emit(After, HookMQueueCount, t, nil, mq, err)
	t.Checkpoint()
	return n, err
}

// Destroy retires the queue and drops pending messages. It fails while
// tasks wait on it unless force is set.
func (mq *MessageQueue) Destroy(t *Task, force bool) error {
	s := mq.sched
	s.emit(Before, HookMQueueDestroy, t, nil, mq, nil)

	s.mu.Lock()
	var err error
	waiting := mq.senders.Size() + mq.receivers.Size()
	switch {
	case mq.destroyed:
		err = ErrDestroyed
	case waiting > 0 && !force:
		err = fmt.Errorf("%w: %d task(s) on message queue", ErrDestroyWithWaiters, waiting)
	default:
		mq.destroyed = true
		mq.buf.Clear()
		s.wakeAllLocked(&mq.senders)
		s.wakeAllLocked(&mq.receivers)
	}
	s.mu.Unlock()

	s.emit(After, HookMQueueDestroy, t, nil, mq, err)
	t.Checkpoint()
	return err
}
