package sched

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllTogether(t *testing.T) {
	s := newTestScheduler(t)
	b, err := s.NewBarrier(3)
	require.NoError(t, err)

	var tr trace
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("t%d", i)
		spawn(t, s, name, func(task *Task) error {
			tr.add("arrive-" + name)
			if err := b.Join(task); err != nil {
				return err
			}
			tr.add("leave-" + name)
			return nil
		})
	}

	require.NoError(t, runScheduler(t, s))
	got := tr.get()
	require.Len(t, got, 6)
	assert.Equal(t, []string{"arrive-t0", "arrive-t1", "arrive-t2"}, got[:3])
	assert.ElementsMatch(t, []string{"leave-t0", "leave-t1", "leave-t2"}, got[3:])
	assert.Zero(t, b.Waiting())
}

func TestBarrierIsReusable(t *testing.T) {
	s := newTestScheduler(t)
	b, err := s.NewBarrier(2)
	require.NoError(t, err)

	var tr trace
	for _, name := range []string{"x", "y"} {
		name := name
		spawn(t, s, name, func(task *Task) error {
			for round := 0; round < 2; round++ {
				tr.add(fmt.Sprintf("%s%d", name, round))
				if err := b.Join(task); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, runScheduler(t, s))
	got := tr.get()
	require.Len(t, got, 4)
	assert.ElementsMatch(t, []string{"x0", "y0"}, got[:2])
	assert.ElementsMatch(t, []string{"x1", "y1"}, got[2:])
}

func TestBarrierInvalidParties(t *testing.T) {
	s := newTestScheduler(t)
	for _, n := range []int{0, -3} {
		b, err := s.NewBarrier(n)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Nil(t, b)
	}
}

func TestBarrierDestroy(t *testing.T) {
	s := newTestScheduler(t)
	b, err := s.NewBarrier(2)
	require.NoError(t, err)

	var joinErr, softErr, hardErr, lateErr error
	var waiting int
	spawn(t, s, "waiter", func(task *Task) error {
		joinErr = b.Join(task)
		return nil
	})
	spawn(t, s, "destroyer", func(task *Task) error {
		waiting = b.Waiting()
		softErr = b.Destroy(task, false)
		hardErr = b.Destroy(task, true)
		lateErr = b.Join(task)
		return nil
	})

	require.NoError(t, runScheduler(t, s))
	assert.Equal(t, 1, waiting)
	assert.ErrorIs(t, softErr, ErrDestroyWithWaiters)
	assert.NoError(t, hardErr)
	assert.ErrorIs(t, joinErr, ErrDestroyed)
	assert.ErrorIs(t, lateErr, ErrDestroyed)
}
