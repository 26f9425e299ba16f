package sched

import (
	"fmt"
	"math"

	"github.com/emirpasic/gods/sets/linkedhashset"

	"srtq/internal/queue"
)

// TaskID uniquely identifies a task in the scheduler.
type TaskID uint64

const (
	MainID       TaskID = 0
	DispatcherID TaskID = 1
)

// Unbounded is the estimate of a task that never declared one. Such a task
// only runs when no task with a finite remaining time is ready.
const Unbounded int64 = math.MaxInt64

// TaskFunc is the entry procedure of a task. Returning ends the task; the
// returned error is handed to every task joined on it.
type TaskFunc func(t *Task) error

// State is the lifecycle state of a task.
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateSleeping
	StateBlocked
	StateSuspended
	StateTerminated
)

func (st State) String() string {
	switch st {
	case StateNew:
		return "New"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateBlocked:
		return "Blocked"
	case StateSuspended:
		return "Suspended"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Task represents one schedulable green thread.
// Accounting fields are guarded by the scheduler's mutex.
type Task struct {
	ID   TaskID
	Name string

	node   queue.Node[*Task] // membership in ready, sleeping, suspended or a waiter queue
	sched  *Scheduler
	run    TaskFunc
	resume chan struct{} // processor token

	state       State
	estimated   int64 // declared total execution time, in ticks
	remaining   int64 // estimated - runningTime
	runningTime int64 // ticks spent holding the processor
	waitTime    int64 // ticks spent in the ready queue
	activations int64
	preemptions int64
	quantum     int64
	critical    bool // immune to forced preemption
	preempt     bool // quantum expired, switch at next checkpoint
	startTick   int64
	wakeAt      int64

	joiners queue.Queue[*Task]
	held    *linkedhashset.Set // *Mutex currently owned
	exitErr error
	killed  bool // unwound by scheduler shutdown, touched only by the task's own goroutine
}

// TaskOption customises a task at creation.
type TaskOption func(t *Task)

// WithEstimate declares the total expected execution time in ticks.
func WithEstimate(ticks int64) TaskOption {
	return func(t *Task) {
		if ticks < 0 {
			ticks = 0
		}
		t.estimated = ticks
		t.remaining = ticks
	}
}

func newTask(s *Scheduler, name string, fn TaskFunc, opts ...TaskOption) *Task {
	t := &Task{
		Name:      name,
		sched:     s,
		run:       fn,
		resume:    make(chan struct{}, 1),
		state:     StateNew,
		estimated: Unbounded,
		remaining: Unbounded,
		quantum:   int64(s.cfg.QuantumTicks),
		held:      linkedhashset.New(),
	}
	t.node.Value = t
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TaskInfo is a point-in-time copy of a task's accounting.
type TaskInfo struct {
	ID          TaskID
	Name        string
	State       State
	Estimated   int64
	Remaining   int64
	RunningTime int64
	WaitTime    int64
	Activations int64
	Preemptions int64
	Quantum     int64
	Critical    bool
	StartTick   int64
}

func (t *Task) infoLocked() TaskInfo {
	return TaskInfo{
		ID:          t.ID,
		Name:        t.Name,
		State:       t.state,
		Estimated:   t.estimated,
		Remaining:   t.remaining,
		RunningTime: t.runningTime,
		WaitTime:    t.waitTime,
		Activations: t.activations,
		Preemptions: t.preemptions,
		Quantum:     t.quantum,
		Critical:    t.critical,
		StartTick:   t.startTick,
	}
}

// Info returns a snapshot of the task's accounting.
func (t *Task) Info() TaskInfo {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.infoLocked()
}

func (t *Task) State() State {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.state
}

// Scheduler returns the scheduler the task belongs to.
func (t *Task) Scheduler() *Scheduler { return t.sched }

func (t *Task) String() string {
	if t.Name == "" {
		return fmt.Sprintf("task#%d", t.ID)
	}
	return fmt.Sprintf("task#%d(%s)", t.ID, t.Name)
}
