// internal/sched/hooks.go

package sched

import (
	"github.com/rs/zerolog"
)

// HookPoint names an operation bracketed by lifecycle hooks.
type HookPoint int

const (
	HookInit HookPoint = iota
	HookTaskCreate
	HookTaskExit
	HookTaskSwitch
	HookYield
	HookSuspend
	HookResume
	HookSleep
	HookJoin
	HookSemCreate
	HookSemDown
	HookSemUp
	HookSemDestroy
	HookMutexCreate
	HookMutexLock
	HookMutexUnlock
	HookMutexDestroy
	HookBarrierCreate
	HookBarrierJoin
	HookBarrierDestroy
	HookMQueueCreate
	HookMQueueSend
	HookMQueueRecv
	HookMQueueDestroy
	HookMQueueCount
)

var hookPointNames = [...]string{
	HookInit:           "Init",
	HookTaskCreate:     "TaskCreate",
	HookTaskExit:       "TaskExit",
	HookTaskSwitch:     "TaskSwitch",
	HookYield:          "Yield",
	HookSuspend:        "Suspend",
	HookResume:         "Resume",
	HookSleep:          "Sleep",
	HookJoin:           "Join",
	HookSemCreate:      "SemCreate",
	HookSemDown:        "SemDown",
	HookSemUp:          "SemUp",
	HookSemDestroy:     "SemDestroy",
	HookMutexCreate:    "MutexCreate",
	HookMutexLock:      "MutexLock",
	HookMutexUnlock:    "MutexUnlock",
	HookMutexDestroy:   "MutexDestroy",
	HookBarrierCreate:  "BarrierCreate",
	HookBarrierJoin:    "BarrierJoin",
	HookBarrierDestroy: "BarrierDestroy",
	HookMQueueCreate:   "MQueueCreate",
	HookMQueueSend:     "MQueueSend",
	HookMQueueRecv:     "MQueueRecv",
	HookMQueueDestroy:  "MQueueDestroy",
	HookMQueueCount:    "MQueueCount",
}

func (p HookPoint) String() string {
	if p < 0 || int(p) >= len(hookPointNames) {
		return "Unknown"
	}
	return hookPointNames[p]
}

// Phase tells whether a hook runs before or after its operation.
type Phase int

const (
	Before Phase = iota
	After
)

func (ph Phase) String() string {
	if ph == Before {
		return "Before"
	}
	return "After"
}

// Event is passed to every hook.
type Event struct {
	Phase  Phase
	Point  HookPoint
	Tick   int64
	Task   *Task // task performing the operation, nil outside any task
	Target *Task // task acted upon (switch target, joined task, ...)
	Object any   // primitive involved, or the ExitReport on TaskExit/After
	Err    error // result of the operation on After
}

// Hook observes scheduler operations. Hooks run on the goroutine of the task
// performing the operation, outside the scheduler's critical section, and
// may call read-only scheduler methods.
type Hook func(ev Event)

func (s *Scheduler) emit(ph Phase, p HookPoint, task, target *Task, obj any, err error) {
	if len(s.hooks) == 0 {
		return
	}
	s.mu.Lock()
	tick := s.systemTime
	s.mu.Unlock()

	ev := Event{
		Phase:  ph,
		Point:  p,
		Tick:   tick,
		Task:   task,
		Target: target,
		Object: obj,
		Err:    err,
	}
	for _, h := range s.hooks {
		h(ev)
	}
}

// LogHook logs every hook event at debug level.
func LogHook(log zerolog.Logger) Hook {
	return func(ev Event) {
		e := log.Debug().
			Int64("tick", ev.Tick).
			Str("phase", ev.Phase.String()).
			Str("point", ev.Point.String())
		if ev.Task != nil {
			e = e.Uint64("task", uint64(ev.Task.ID))
		}
		if ev.Target != nil {
			e = e.Uint64("target", uint64(ev.Target.ID))
		}
		if ev.Err != nil {
			e = e.Err(ev.Err)
		}
		e.Msg("hook")
	}
}
