package sched

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/arena"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/models"
)

func (s *Scheduler) all() []*Task {
	out := make([]*Task, 0, s.tasks.Len())
	s.tasks.Each(func(_ arena.Key, t *Task) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Zombify is the first half of exit and cancel: t stops being schedulable,
// leaves every wait structure and, if it was blocked, resumes with
// WakeCancelled. It reports false if t was already dead. Resource teardown
// happens after this, without the guard, followed by Exited.
func (s *Scheduler) Zombify(t *Task, code int) bool {
	g := s.Enter()
	defer g.Leave()
	if t.state >= Zombie {
		return false
	}
	prev := t.state
	t.state = Zombie
	t.exitCode = code
	if t.deadline != 0 {
		s.sleepers.Delete(sleeper{t.deadline, t.Pid})
		t.deadline = 0
	}
	t.ready = nil
	switch {
	case prev == Blocked:
		select {
		case t.wake <- WakeCancelled:
		default:
		}
	case t.queued:
		s.unqueue(t)
		t.run <- struct{}{}
	}
	s.log.Debugf(models.SCHED, "zombify %s code=%d (was %s)", t, code, prev)
	return true
}

// Exited finishes termination once t's resources are gone: tasks waiting
// on t are woken, t's own unwaited zombie children are reaped, and t is
// reaped at once when nobody can wait for it any more.
func (s *Scheduler) Exited(t *Task) {
	g := s.Enter()
	defer g.Leave()
	t.exited = true
	for _, c := range s.all() {
		if c.Parent == t.Pid && c.exited && c.waiters == 0 {
			s.reap(c)
		}
	}
	if t.waiters == 0 && !s.hasParent(t) {
		s.reap(t)
		return
	}
	for _, w := range s.blockedOn(ReasonTask) {
		s.pollLocked(w, []Reason{ReasonTask})
	}
}

func (s *Scheduler) hasParent(t *Task) bool {
	if t.Parent == NoParent {
		return false
	}
	p, err := s.lookup(t.Parent)
	return err == nil && p.state < Zombie
}

func (s *Scheduler) reap(t *Task) {
	if t.state == Reaped {
		return
	}
	t.state = Reaped
	s.tasks.Remove(arena.Key(t.Pid))
	s.log.Debugf(models.SCHED, "reap %s", t)
}

// WaitTask blocks t until pid has exited and returns its exit code. The
// target is reaped once the last of its waiters has seen it.
func (s *Scheduler) WaitTask(t *Task, pid int) (int, error) {
	if pid == t.Pid {
		return 0, errors.Wrap(errno.InvalidArgument, "wait on self")
	}
	g := s.Enter()
	defer g.Leave()
	target, err := s.lookup(pid)
	if err != nil {
		return 0, err
	}
	target.waiters++
	done := func() {
		target.waiters--
		if target.waiters == 0 && target.exited {
			s.reap(target)
		}
	}
	for !target.exited {
		switch g.Block(t, ReasonTask, 0, func() bool { return target.exited }) {
		case WakeCancelled:
			done()
			return 0, errno.Cancelled
		case WakeWoken:
			done()
			return 0, errno.Interrupted
		}
	}
	code := target.exitCode
	done()
	return code, nil
}
