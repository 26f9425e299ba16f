package sched

// Tick is the preemption driver, invoked once per timer period by the clock
// pump. Tests and embedders may call it directly to advance time.
//
// The running task's quantum only shrinks when it is not critical. An expired
// quantum is reset and the task is marked for preemption; it moves back to
// the ready queue at its next checkpoint.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.systemTime++

	cur := s.current
	if cur != nil && !cur.critical {
		cur.quantum--
		if cur.quantum <= 0 {
			cur.quantum = int64(s.cfg.QuantumTicks)
			cur.preempt = true
			s.log.Trace().
				Int64("tick", s.systemTime).
				Uint64("task", uint64(cur.ID)).
				Msg("quantum expired")
		}
	}

	// the running task is never a ready-queue member
	s.ready.ForEach(func(t *Task) { t.waitTime++ })

	if cur != nil {
		cur.runningTime++
		if cur.remaining != Unbounded {
			cur.remaining--
		}
	}

	s.wakeSleepersLocked()
}

// wakeSleepersLocked moves every sleeper whose wake tick has come to the
// ready queue.
func (s *Scheduler) wakeSleepersLocked() {
	var due []*Task
	s.sleeping.ForEach(func(t *Task) {
		if t.wakeAt <= s.systemTime {
			due = append(due, t)
		}
	})
	for _, t := range due {
		must2(s.sleeping.Remove(&t.node))
		t.state = StateReady
		must(s.ready.Append(&t.node))
	}
	if len(due) > 0 {
		s.signalIdle()
	}
}
