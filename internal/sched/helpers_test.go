package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testConfig never fires the real timer during a test; tests that need time
// to pass drive Tick by hand.
func testConfig() Config {
	return Config{TickMS: 60_000, QuantumTicks: 20}
}

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(testConfig(), opts...)
	t.Cleanup(s.shutdown)
	return s
}

func runScheduler(t *testing.T, s *Scheduler) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func spawn(t *testing.T, s *Scheduler, name string, fn TaskFunc, opts ...TaskOption) *Task {
	t.Helper()
	task, err := s.Spawn(name, fn, opts...)
	require.NoError(t, err)
	return task
}

// driveTicks calls the tick handler in the background until the returned
// function is called.
func driveTicks(s *Scheduler) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				s.Tick()
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// addReady links a task without a goroutine into the ready queue, for tests
// of the policy and the tick handler.
func addReady(s *Scheduler, name string, opts ...TaskOption) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTask(s, name, func(*Task) error { return nil }, opts...)
	t.ID = s.nextID
	s.nextID++
	t.state = StateReady
	must(s.ready.Append(&t.node))
	return t
}

// trace records strings from task bodies in execution order.
type trace struct {
	mu    sync.Mutex
	items []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.items = append(tr.items, s)
}

func (tr *trace) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.items...)
}

// recorder collects hook events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) hook(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(ph Phase, p HookPoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Phase == ph && ev.Point == p {
			n++
		}
	}
	return n
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
