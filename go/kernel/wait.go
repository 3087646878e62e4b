package kernel

import (
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/sched"
)

func wakeErr(w sched.Wake) error {
	switch w {
	case sched.WakeTimeout:
		return errno.Timeout
	case sched.WakeWoken:
		return errno.Interrupted
	case sched.WakeCancelled:
		return errno.Cancelled
	}
	return nil
}

// park blocks t once, until ready holds, the deadline passes or t is woken.
func (k *Kernel) park(t *sched.Task, reason sched.Reason, deadline uint64, ready func() bool) error {
	g := k.Sched.Enter()
	defer g.Leave()
	return wakeErr(g.Block(t, reason, deadline, ready))
}

// retry runs op until it stops failing with WouldBlock, parking t between
// attempts when block is set. op runs without the scheduler lock, so it may
// use operations that notify; ready runs under it and must not.
func (k *Kernel) retry(t *sched.Task, reason sched.Reason, deadline uint64, block bool, ready func() bool, op func() error) error {
	for {
		err := op()
		if !block || !errno.Is(err, errno.WouldBlock) {
			return err
		}
		if err := k.park(t, reason, deadline, ready); err != nil {
			return err
		}
	}
}
