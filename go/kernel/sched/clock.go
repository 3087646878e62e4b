package sched

import (
	"github.com/lunixbochs/ukern/go/models"
)

func (s *Scheduler) Ticks() uint64 {
	g := s.Enter()
	defer g.Leave()
	return s.ticks
}

// Tick advances the clock by n, wakes sleepers whose deadline passed and
// re-polls IO waiters. Running tasks are asked to reschedule.
func (s *Scheduler) Tick(n uint64) {
	if n == 0 {
		return
	}
	g := s.Enter()
	defer g.Leave()
	s.ticks += n
	s.resched = true

	var due []sleeper
	s.sleepers.Ascend(func(sl sleeper) bool {
		if sl.deadline > s.ticks {
			return false
		}
		due = append(due, sl)
		return true
	})
	for _, sl := range due {
		t, err := s.lookup(sl.pid)
		if err != nil || t.deadline != sl.deadline {
			s.sleepers.Delete(sl)
			continue
		}
		s.wakeLocked(t, WakeTimeout)
	}
	if len(due) > 0 {
		s.log.Debugf(models.SCHED, "tick %d: %d deadlines expired", s.ticks, len(due))
	}
	for _, t := range s.blockedOn(ReasonIO) {
		s.pollLocked(t, []Reason{ReasonIO})
	}
}

func (s *Scheduler) blockedOn(r Reason) []*Task {
	var out []*Task
	for _, t := range s.all() {
		if t.state == Blocked && t.reason == r {
			out = append(out, t)
		}
	}
	return out
}

// Sleep blocks t for n ticks or until it is woken. It returns the ticks
// left, 0 when the full duration elapsed.
func (s *Scheduler) Sleep(t *Task, n int64) (int64, Wake) {
	if n <= 0 {
		return 0, WakeTimeout
	}
	g := s.Enter()
	defer g.Leave()
	deadline := s.ticks + uint64(n)
	w := g.Block(t, ReasonSleep, deadline, nil)
	if s.ticks >= deadline {
		return 0, w
	}
	return int64(deadline - s.ticks), w
}

// Deadline converts a relative timeout in ticks to an absolute deadline.
func (s *Scheduler) Deadline(timeout int64) uint64 {
	if timeout <= 0 {
		return 0
	}
	return s.Ticks() + uint64(timeout)
}
