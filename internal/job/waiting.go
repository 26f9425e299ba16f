// Package job holds demo task bodies for the scheduler.
package job

import (
	"runtime"

	"srtq/internal/sched"
)

// Burn returns a body that keeps the processor until it has consumed the
// given number of ticks, passing a preemption checkpoint on every spin.
func Burn(ticks int64) sched.TaskFunc {
	return func(t *sched.Task) error {
		for t.Info().RunningTime < ticks {
			t.Checkpoint()
			runtime.Gosched()
		}
		return nil
	}
}

// SleepWork returns a body that sleeps for the given number of ticks, then
// burns work ticks.
func SleepWork(sleep, work int64) sched.TaskFunc {
	burn := Burn(work)
	return func(t *sched.Task) error {
		if err := t.Sleep(sleep); err != nil {
			return err
		}
		return burn(t)
	}
}
