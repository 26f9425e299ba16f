// internal/sched/scheduler.go

package sched

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/rs/zerolog"

	"srtq/internal/queue"
)

// Scheduler runs green threads on a single logical processor and picks the
// ready task with the shortest remaining time.
//
// Exactly one task goroutine holds the processor token at a time. mu is the
// global critical section: the tick handler and every queue mutation take it,
// so a tick never observes a half-updated queue.
type Scheduler struct {
	mu    sync.Mutex // protects the scheduler state and all task accounting
	cfg   Config
	log   zerolog.Logger
	hooks []Hook
	clock *TickClock

	ready     queue.Queue[*Task]
	sleeping  queue.Queue[*Task]
	suspended queue.Queue[*Task]

	current    *Task         // holds the processor token, never a queue member
	exiting    *Task         // terminated task that last handed the token to the dispatcher
	dispatcher *Task         // selects and switches to the next task
	main       *Task         // the goroutine that called Run
	systemTime int64         // ticks since creation
	nextID     TaskID        // id for the next spawned task
	tasks      *treemap.Map  // live user tasks, TaskID -> *Task
	reports    []ExitReport  // exit reports in termination order
	idle       chan struct{} // wakes an idle dispatcher
	stopping   chan struct{} // closed by shutdown, unwinds parked goroutines
	running    bool
	stopped    bool
	runErr     error
}

// Option configures a Scheduler.
type Option func(s *Scheduler)

// WithLogger sets the structured logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithHooks appends lifecycle hooks, invoked in order.
func WithHooks(hooks ...Hook) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, hooks...) }
}

// New creates a scheduler. The calling goroutine becomes the main task once
// Run is called.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.QuantumTicks <= 0 {
		cfg.QuantumTicks = defaultQuantumTicks
	}

	s := &Scheduler{
		cfg:      cfg,
		log:      zerolog.Nop(),
		clock:    NewTickClock(256), // buffer size for tick events
		nextID:   DispatcherID + 1,
		tasks:    treemap.NewWith(compareTaskID),
		idle:     make(chan struct{}, 1),
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.main = newTask(s, "main", nil)
	s.main.ID = MainID
	s.main.state = StateRunning
	s.current = s.main

	s.dispatcher = newTask(s, "dispatcher", nil)
	s.dispatcher.ID = DispatcherID
	s.dispatcher.state = StateReady

	return s
}

// Spawn creates a task and appends it to the ready queue. It may be called
// before Run or from inside a running task.
func (s *Scheduler) Spawn(name string, fn TaskFunc, opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil task function", ErrInvalidArgument)
	}

	t := newTask(s, name, fn, opts...)
	creator := s.Current()
	s.emit(Before, HookTaskCreate, creator, t, nil, nil)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.emit(After, HookTaskCreate, creator, t, nil, ErrStopped)
		return nil, ErrStopped
	}
	t.ID = s.nextID
	s.nextID++
	t.startTick = s.systemTime
	t.state = StateReady
	must(s.ready.Append(&t.node))
	s.tasks.Put(t.ID, t)
	s.mu.Unlock()

	go s.bootstrap(t)
	s.signalIdle()

	s.log.Debug().
		Uint64("task", uint64(t.ID)).
		Str("name", t.Name).
		Int64("estimate", t.estimated).
		Msg("task created")
	s.emit(After, HookTaskCreate, creator, t, nil, nil)
	return t, nil
}

// Run hands the processor to the dispatcher and blocks until every user
// task has terminated, the remaining tasks deadlock, or ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.emit(Before, HookInit, s.main, nil, nil, nil)
	if err := s.clock.Start(s.cfg.TickInterval()); err != nil {
		s.shutdown()
		s.emit(After, HookInit, s.main, nil, nil, err)
		return err
	}
	go s.pump()
	go func() {
		s.park(s.dispatcher)
		s.dispatch()
	}()
	s.emit(After, HookInit, s.main, nil, nil, nil)

	s.mu.Lock()
	s.main.state = StateBlocked
	s.transfer(s.main, s.dispatcher)

	var err error
	select {
	case <-s.main.resume:
		s.resumed(s.main)
		s.mu.Lock()
		err = s.runErr
		s.main.state = StateRunning
		s.mu.Unlock()
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.shutdown()
	return err
}

// shutdown stops the clock and unwinds every parked goroutine.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopping)
	}
	s.current = s.main
	s.mu.Unlock()
	s.clock.Stop()
}

// pump feeds clock ticks to the tick handler.
func (s *Scheduler) pump() {
	for range s.clock.Ch {
		s.Tick()
	}
}

// dispatch is the body of the dispatcher task. It runs with critical set,
// so the tick handler never preempts it while it edits the ready queue.
func (s *Scheduler) dispatch() {
	d := s.dispatcher
	for {
		s.mu.Lock()
		next := s.selectNext()
		if next == nil {
			userTasks := s.tasks.Size()
			if userTasks == 0 || s.sleeping.Empty() {
				if userTasks > 0 {
					s.runErr = fmt.Errorf("%w: %d task(s) cannot make progress", ErrDeadlock, userTasks)
					s.log.Warn().Int("tasks", userTasks).Msg("deadlock detected")
				}
				// only ticks run meanwhile, and nothing sleeps
				s.mu.Unlock()
				s.emit(Before, HookTaskSwitch, d, s.main, nil, nil)
				s.mu.Lock()
				s.main.state = StateRunning
				s.transfer(d, s.main)
				continue
			}
			s.mu.Unlock()

			// nothing ready but some tasks sleep: wait for a tick to wake them
			select {
			case <-s.idle:
			case <-s.stopping:
				runtime.Goexit()
			}
			continue
		}

		must2(s.ready.Remove(&next.node))
		next.state = StateRunning
		next.activations++
		next.quantum = int64(s.cfg.QuantumTicks)
		next.preempt = false
		s.log.Trace().
			Int64("tick", s.systemTime).
			Uint64("task", uint64(next.ID)).
			Int64("remaining", next.remaining).
			Msg("dispatch")
		s.mu.Unlock()

		s.emit(Before, HookTaskSwitch, d, next, nil, nil)
		s.mu.Lock()
		s.transfer(d, next)
		s.resumedFromExit()
	}
}

// resumedFromExit closes the switch hook pair opened by a task that handed
// the processor back for good.
func (s *Scheduler) resumedFromExit() {
	s.mu.Lock()
	from := s.exiting
	s.exiting = nil
	s.mu.Unlock()
	if from != nil {
		s.emit(After, HookTaskSwitch, from, s.dispatcher, nil, nil)
	}
}

// transfer hands the processor token from one task to another: the external
// context switch of this runtime. It must be called with s.mu held and
// returns with s.mu released, once from holds the token again. The main task
// does not park here; Run waits for it.
func (s *Scheduler) transfer(from, to *Task) {
	s.current = to
	from.critical = false
	to.critical = to == s.dispatcher
	s.mu.Unlock()

	to.resume <- struct{}{}
	if from == s.main {
		return
	}
	s.park(from)
}

// park blocks the calling task goroutine until it receives the token again.
// After shutdown the goroutine is unwound instead.
func (s *Scheduler) park(t *Task) {
	select {
	case <-t.resume:
	case <-s.stopping:
		t.killed = true
		runtime.Goexit()
	}
}

// resumed runs on a task that got the processor back.
func (s *Scheduler) resumed(t *Task) {
	s.emit(After, HookTaskSwitch, s.dispatcher, t, nil, nil)
}

// bootstrap is the goroutine of a user task.
func (s *Scheduler) bootstrap(t *Task) {
	s.park(t)
	s.resumed(t)
	defer s.exit(t)
	t.exitErr = t.run(t)
}

// unwindIfStoppedLocked ends the goroutine of t when the scheduler was shut
// down while t held the processor. Called with s.mu held; it only returns,
// still holding s.mu, when t may go on.
func (s *Scheduler) unwindIfStoppedLocked(t *Task) {
	if !s.stopped || t == s.main || t == s.dispatcher || t.state != StateRunning {
		return
	}
	t.killed = true
	s.mu.Unlock()
	runtime.Goexit()
}

func (s *Scheduler) signalIdle() {
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

// requeueLocked appends the running task t to the tail of the ready queue.
func (s *Scheduler) requeueLocked(t *Task) {
	t.state = StateReady
	must(s.ready.Append(&t.node))
}

// blockLocked parks the running task t on q and switches to the dispatcher.
// Called with s.mu held; returns without it once t runs again.
func (s *Scheduler) blockLocked(t *Task, q *queue.Queue[*Task], state State) {
	t.state = state
	t.preempt = false
	must(q.Append(&t.node))
	s.transfer(t, s.dispatcher)
	s.resumed(t)
}

// wakeLocked moves the head of q to the ready queue.
func (s *Scheduler) wakeLocked(q *queue.Queue[*Task]) *Task {
	head := q.Front()
	if head == nil {
		return nil
	}
	must2(q.Remove(head))
	t := head.Value
	t.state = StateReady
	must(s.ready.Append(&t.node))
	s.signalIdle()
	return t
}

// wakeAllLocked moves every task of q to the ready queue, in queue order.
func (s *Scheduler) wakeAllLocked(q *queue.Queue[*Task]) int {
	n := 0
	for s.wakeLocked(q) != nil {
		n++
	}
	return n
}

// checkCurrent fails unless t holds the processor. A task that still runs
// after shutdown is unwound instead.
func (s *Scheduler) checkCurrent(t *Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidArgument)
	}
	s.mu.Lock()
	s.unwindIfStoppedLocked(t)
	defer s.mu.Unlock()
	if s.current != t || t == s.main || t == s.dispatcher {
		return fmt.Errorf("%w: %s", ErrNotRunning, t)
	}
	return nil
}

// Current returns the task holding the processor.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SystemTime returns the number of ticks handled so far.
func (s *Scheduler) SystemTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemTime
}

// Tasks returns a snapshot of every live user task, ordered by id.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, s.tasks.Size())
	for _, v := range s.tasks.Values() {
		out = append(out, v.(*Task).infoLocked())
	}
	return out
}

// ReadyLen returns the number of tasks waiting in the ready queue.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Size()
}

func compareTaskID(a, b any) int {
	return utils.UInt64Comparator(uint64(a.(TaskID)), uint64(b.(TaskID)))
}

func must2[T any](_ T, err error) {
	must(err)
}
