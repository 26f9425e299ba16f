package sched

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// ExitReport summarises a terminated task. Times are in ticks.
type ExitReport struct {
	ID            TaskID
	Name          string
	ExecutionTime int64 // ticks between creation and exit
	ProcessorTime int64 // ticks holding the processor
	WaitTime      int64 // ticks spent in the ready queue
	Activations   int64
	Preemptions   int64
	Err           error
}

func (r ExitReport) String() string {
	return fmt.Sprintf("Task %d exit: execution time %d ticks, processor time %d ticks, %d activations",
		r.ID, r.ExecutionTime, r.ProcessorTime, r.Activations)
}

func reportLocked(t *Task, now int64) ExitReport {
	return ExitReport{
		ID:            t.ID,
		Name:          t.Name,
		ExecutionTime: now - t.startTick,
		ProcessorTime: t.runningTime,
		WaitTime:      t.waitTime,
		Activations:   t.activations,
		Preemptions:   t.preemptions,
		Err:           t.exitErr,
	}
}

// Reports returns the exit reports of every terminated task, in exit order.
func (s *Scheduler) Reports() []ExitReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExitReport(nil), s.reports...)
}

// CSVRecorder writes every hook event as a CSV row.
type CSVRecorder struct {
	mu sync.Mutex
	w  *csv.Writer
}

// NewCSVRecorder writes the header row and returns a recorder whose Hook
// appends one row per event.
func NewCSVRecorder(w io.Writer) (*CSVRecorder, error) {
	cw := csv.NewWriter(w)

	// write header
	if err := cw.Write([]string{"timestamp", "tick", "phase", "event", "task_id", "target_id", "error"}); err != nil {
		return nil, err
	}
	cw.Flush()
	return &CSVRecorder{w: cw}, cw.Error()
}

// Hook records ev. Write errors are kept and reported by Flush.
func (r *CSVRecorder) Hook(ev Event) {
	rec := []string{
		time.Now().Format(time.RFC3339Nano),
		strconv.FormatInt(ev.Tick, 10),
		ev.Phase.String(),
		ev.Point.String(),
		taskIDField(ev.Task),
		taskIDField(ev.Target),
		"",
	}
	if ev.Err != nil {
		rec[6] = ev.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.w.Write(rec)
	r.w.Flush()
}

// Flush reports the first write error, if any.
func (r *CSVRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	return r.w.Error()
}

func taskIDField(t *Task) string {
	if t == nil {
		return ""
	}
	return strconv.FormatUint(uint64(t.ID), 10)
}
