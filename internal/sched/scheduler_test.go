package sched

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRoundRobinOnYield(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	for _, name := range []string{"A", "B", "C"} {
		name := name
		spawn(t, s, name, func(task *Task) error {
			for i := 0; i < 3; i++ {
				tr.add(name)
				if err := task.Yield(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C", "A", "B", "C"}, tr.get())
}

func TestRunShortestRemainingFirst(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	for _, c := range []struct {
		name string
		et   int64
	}{{"50", 50}, {"10", 10}, {"30", 30}, {"bg", Unbounded}} {
		name := c.name
		spawn(t, s, name, func(*Task) error {
			tr.add(name)
			return nil
		}, WithEstimate(c.et))
	}

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"10", "30", "50", "bg"}, tr.get())
}

func TestSpawnedShorterTaskRunsNext(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	spawn(t, s, "parent", func(task *Task) error {
		_, err := s.Spawn("child", func(*Task) error {
			tr.add("child")
			return nil
		}, WithEstimate(1))
		if err != nil {
			return err
		}
		tr.add("parent-before-yield")
		if err := task.Yield(); err != nil {
			return err
		}
		tr.add("parent-after-yield")
		return nil
	}, WithEstimate(100))
	spawn(t, s, "other", func(*Task) error {
		tr.add("other")
		return nil
	}, WithEstimate(200))

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"parent-before-yield", "child", "parent-after-yield", "other"}, tr.get())
}

func TestJoinReturnsExitError(t *testing.T) {
	s := newTestScheduler(t)
	errBoom := errors.New("boom")
	worker := spawn(t, s, "worker", func(*Task) error { return errBoom }, WithEstimate(10))

	var joined error
	joiner := spawn(t, s, "joiner", func(task *Task) error {
		joined = task.Join(worker)
		return nil
	}, WithEstimate(5))

	require.NoError(t, runScheduler(t, s))
	assert.ErrorIs(t, joined, errBoom)

	reports := s.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, worker.ID, reports[0].ID)
	assert.ErrorIs(t, reports[0].Err, errBoom)
	assert.Equal(t, joiner.ID, reports[1].ID)
	assert.Equal(t, int64(2), reports[1].Activations)
}

func TestJoinTerminatedTask(t *testing.T) {
	s := newTestScheduler(t)
	errDone := errors.New("done")
	first := spawn(t, s, "first", func(*Task) error { return errDone })

	var joined error
	spawn(t, s, "second", func(task *Task) error {
		joined = task.Join(first)
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.ErrorIs(t, joined, errDone)
}

func TestJoinInvalid(t *testing.T) {
	s := newTestScheduler(t)
	var self, none, mainErr error
	spawn(t, s, "a", func(task *Task) error {
		self = task.Join(task)
		none = task.Join(nil)
		mainErr = task.Join(s.main)
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.ErrorIs(t, self, ErrInvalidArgument)
	assert.ErrorIs(t, none, ErrInvalidArgument)
	assert.ErrorIs(t, mainErr, ErrInvalidArgument)
}

func TestExitStopsTaskBody(t *testing.T) {
	s := newTestScheduler(t)
	errExit := errors.New("exit requested")
	var deferred, after bool
	task := spawn(t, s, "a", func(task *Task) error {
		defer func() { deferred = true }()
		task.Exit(errExit)
		after = true
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.True(t, deferred)
	assert.False(t, after)
	assert.Equal(t, StateTerminated, task.State())
	require.Len(t, s.Reports(), 1)
	assert.ErrorIs(t, s.Reports()[0].Err, errExit)
}

func TestPanicBecomesExitError(t *testing.T) {
	s := newTestScheduler(t)
	spawn(t, s, "a", func(*Task) error { panic("kaput") })
	var ran bool
	spawn(t, s, "b", func(*Task) error {
		ran = true
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.True(t, ran)
	reports := s.Reports()
	require.Len(t, reports, 2)
	assert.ErrorIs(t, reports[0].Err, ErrPanicked)
	assert.Contains(t, reports[0].Err.Error(), "kaput")
}

func TestSleepWaitsForTicks(t *testing.T) {
	s := newTestScheduler(t)
	stop := driveTicks(s)
	defer stop()

	var before, after int64
	spawn(t, s, "sleeper", func(task *Task) error {
		before = s.SystemTime()
		if err := task.Sleep(5); err != nil {
			return err
		}
		after = s.SystemTime()
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.GreaterOrEqual(t, after-before, int64(5))
}

func TestSleepingTaskLetsOthersRun(t *testing.T) {
	s := newTestScheduler(t)
	stop := driveTicks(s)
	defer stop()

	var tr trace
	spawn(t, s, "sleeper", func(task *Task) error {
		tr.add("sleeper-start")
		if err := task.Sleep(200); err != nil {
			return err
		}
		tr.add("sleeper-end")
		return nil
	}, WithEstimate(1))
	spawn(t, s, "worker", func(*Task) error {
		tr.add("worker")
		return nil
	}, WithEstimate(1000))

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"sleeper-start", "worker", "sleeper-end"}, tr.get())
}

func TestDeadlockDetected(t *testing.T) {
	s := newTestScheduler(t)
	sem, err := s.NewSemaphore(0)
	require.NoError(t, err)
	spawn(t, s, "stuck", func(task *Task) error { return sem.Down(task) })

	err = runScheduler(t, s)
	assert.ErrorIs(t, err, ErrDeadlock)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestScheduler(t)
	spawn(t, s, "spinner", func(task *Task) error {
		for {
			if err := task.Yield(); err != nil {
				return err
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)

	_, err := s.Spawn("late", func(*Task) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCancelUnwindsTaskHoldingProcessor(t *testing.T) {
	s := newTestScheduler(t)
	var n atomic.Int64
	exited := make(chan struct{})
	spawn(t, s, "spinner", func(task *Task) error {
		defer close(exited)
		for {
			n.Add(1)
			task.Checkpoint()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("task kept running after Run returned")
	}
	iterations := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, iterations, n.Load())
	assert.Empty(t, s.Reports())
}

func TestCancelUnwindsTaskInsidePrimitiveCalls(t *testing.T) {
	s := newTestScheduler(t)
	sem, err := s.NewSemaphore(1)
	require.NoError(t, err)
	exited := make(chan struct{})
	spawn(t, s, "spinner", func(task *Task) error {
		defer close(exited)
		for {
			if err := sem.Down(task); err != nil {
				return err
			}
			if err := sem.Up(task); err != nil {
				return err
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("task kept running after Run returned")
	}
	assert.Empty(t, s.Reports())
}

func TestExitHandsTicksToDispatcher(t *testing.T) {
	var s *Scheduler
	var during *Task
	hook := func(ev Event) {
		if ev.Point != HookTaskExit || ev.Phase != After {
			return
		}
		during = s.Current()
		for i := 0; i < 3; i++ {
			s.Tick()
		}
	}
	s = New(Config{TickMS: 60_000, QuantumTicks: 1}, WithHooks(hook))
	t.Cleanup(s.shutdown)

	a := spawn(t, s, "a", func(*Task) error { return nil }, WithEstimate(10))

	require.NoError(t, runScheduler(t, s))
	assert.Same(t, s.dispatcher, during)

	reports := s.Reports()
	require.Len(t, reports, 1)
	info := a.Info()
	assert.Equal(t, reports[0].ProcessorTime, info.RunningTime)
	assert.Equal(t, int64(10), info.Remaining)
	assert.False(t, a.preempt)
	assert.Equal(t, int64(3), s.SystemTime())
}

func TestRunOnlyOnce(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, runScheduler(t, s))
	assert.ErrorIs(t, runScheduler(t, s), ErrStopped)
}

func TestRunFailsWhenTimerCannotBeArmed(t *testing.T) {
	s := New(Config{TickMS: 0})
	spawn(t, s, "a", func(*Task) error { return nil })
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrTimer)
}

func TestCheckpointHonoursExpiredQuantum(t *testing.T) {
	s := New(Config{TickMS: 60_000, QuantumTicks: 5})
	t.Cleanup(s.shutdown)
	stop := driveTicks(s)
	defer stop()

	var otherRan atomic.Bool
	spinner := spawn(t, s, "spinner", func(task *Task) error {
		for !otherRan.Load() {
			task.Checkpoint()
		}
		return nil
	})
	spawn(t, s, "other", func(*Task) error {
		otherRan.Store(true)
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	reports := s.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "other", reports[0].Name)
	assert.Equal(t, spinner.ID, reports[1].ID)
	assert.GreaterOrEqual(t, reports[1].Preemptions, int64(1))
	assert.GreaterOrEqual(t, reports[1].ProcessorTime, int64(5))
}

func TestCheckpointWithoutExpiryKeepsRunning(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	spawn(t, s, "a", func(task *Task) error {
		for i := 0; i < 100; i++ {
			task.Checkpoint()
		}
		tr.add("a")
		return nil
	})
	spawn(t, s, "b", func(*Task) error {
		tr.add("b")
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"a", "b"}, tr.get())
}

func TestTaskOperationsRequireProcessor(t *testing.T) {
	s := newTestScheduler(t)
	task := spawn(t, s, "a", func(*Task) error { return nil })

	assert.ErrorIs(t, task.Yield(), ErrNotRunning)
	assert.ErrorIs(t, task.Sleep(3), ErrNotRunning)
	assert.ErrorIs(t, task.Suspend(nil), ErrNotRunning)
	require.NoError(t, runScheduler(t, s))
}

func TestSuspendAndResume(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	var a *Task
	a = spawn(t, s, "a", func(task *Task) error {
		tr.add("a-suspend")
		if err := task.Suspend(nil); err != nil {
			return err
		}
		tr.add("a-resumed")
		return nil
	})
	spawn(t, s, "b", func(task *Task) error {
		tr.add("b-state-" + a.State().String())
		if err := task.Yield(); err != nil {
			return err
		}
		tr.add("b-resume")
		return task.Resume(a)
	})

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"a-suspend", "b-state-Suspended", "b-resume", "a-resumed"}, tr.get())
}

func TestSuspendReadyTask(t *testing.T) {
	s := newTestScheduler(t)
	var tr trace
	var resumeErr error
	var victim *Task
	spawn(t, s, "boss", func(task *Task) error {
		if err := task.Suspend(victim); err != nil {
			return err
		}
		if err := task.Yield(); err != nil {
			return err
		}
		tr.add("boss")
		resumeErr = task.Resume(task)
		return task.Resume(victim)
	})
	victim = spawn(t, s, "victim", func(*Task) error {
		tr.add("victim")
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, []string{"boss", "victim"}, tr.get())
	assert.ErrorIs(t, resumeErr, ErrInvalidState)
}

func TestTasksSnapshot(t *testing.T) {
	s := newTestScheduler(t)
	a := spawn(t, s, "a", func(*Task) error { return nil }, WithEstimate(3))
	b := spawn(t, s, "b", func(*Task) error { return nil })

	infos := s.Tasks()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID, infos[0].ID)
	assert.Equal(t, b.ID, infos[1].ID)
	assert.Equal(t, StateReady, infos[0].State)
	assert.Equal(t, int64(3), infos[0].Estimated)
	assert.Equal(t, Unbounded, infos[1].Estimated)

	require.NoError(t, runScheduler(t, s))
	assert.Empty(t, s.Tasks())
}

func TestHooksBracketOperations(t *testing.T) {
	var rec recorder
	s := newTestScheduler(t, WithHooks(rec.hook))
	spawn(t, s, "a", func(task *Task) error { return task.Yield() })
	spawn(t, s, "b", func(*Task) error { return nil })

	require.NoError(t, runScheduler(t, s))

	for _, p := range []HookPoint{HookInit, HookTaskCreate, HookTaskExit, HookYield} {
		assert.Equal(t, rec.count(Before, p), rec.count(After, p), p.String())
	}
	assert.Equal(t, 1, rec.count(Before, HookInit))
	assert.Equal(t, 2, rec.count(Before, HookTaskCreate))
	assert.Equal(t, 2, rec.count(After, HookTaskExit))
	assert.Equal(t, 1, rec.count(Before, HookYield))
	// to a, to b, b exits, to a, a exits, back to main
	assert.Equal(t, 6, rec.count(Before, HookTaskSwitch))
	assert.Equal(t, 6, rec.count(After, HookTaskSwitch))

	events := rec.all()
	var exitSwitches []string
	for _, ev := range events {
		if ev.Point == HookTaskSwitch && ev.Target == s.dispatcher {
			exitSwitches = append(exitSwitches, ev.Phase.String()+"-"+ev.Task.Name)
		}
	}
	assert.Equal(t, []string{"Before-b", "After-b", "Before-a", "After-a"}, exitSwitches)

	last := events[len(events)-1]
	assert.Equal(t, After, last.Phase)
	assert.Equal(t, HookTaskSwitch, last.Point)
	assert.Same(t, s.main, last.Target)

	var exitReports []ExitReport
	for _, ev := range rec.all() {
		if ev.Point == HookTaskExit && ev.Phase == After {
			exitReports = append(exitReports, ev.Object.(ExitReport))
		}
	}
	require.Len(t, exitReports, 2)
	assert.Equal(t, "b", exitReports[0].Name)
	assert.Equal(t, "a", exitReports[1].Name)
}

func TestCSVRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewCSVRecorder(&buf)
	require.NoError(t, err)

	s := newTestScheduler(t, WithHooks(rec.Hook))
	spawn(t, s, "a", func(*Task) error { return nil })
	require.NoError(t, runScheduler(t, s))
	require.NoError(t, rec.Flush())

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), 1)
	assert.Equal(t, []string{"timestamp", "tick", "phase", "event", "task_id", "target_id", "error"}, rows[0])

	var sawExit bool
	for _, row := range rows[1:] {
		if row[2] == "After" && row[3] == "TaskExit" {
			sawExit = true
			assert.Equal(t, "2", row[4])
		}
	}
	assert.True(t, sawExit)
}

func TestExitReportString(t *testing.T) {
	r := ExitReport{ID: 4, ExecutionTime: 120, ProcessorTime: 40, Activations: 3}
	assert.Equal(t, "Task 4 exit: execution time 120 ticks, processor time 40 ticks, 3 activations", r.String())
}
