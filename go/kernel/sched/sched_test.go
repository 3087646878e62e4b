package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

func newAttached(t *testing.T, s *Scheduler, name string) *Task {
	task, err := s.Create(Spec{Name: name, Parent: NoParent, Attached: true, Cwd: "/"})
	require.NoError(t, err)
	return task
}

func waitState(t *testing.T, s *Scheduler, task *Task, st State) {
	require.Eventually(t, func() bool { return s.State(task) == st },
		2*time.Second, time.Millisecond, "task %s never reached %s", task, st)
}

func TestCreateExhausted(t *testing.T) {
	s := New(2, 1, nil)
	newAttached(t, s, "a")
	newAttached(t, s, "b")
	_, err := s.Create(Spec{Name: "c", Parent: NoParent, Attached: true})
	assert.Equal(t, errno.Exhausted, errno.Of(err))

	_, err = s.Get(1234)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestSleepTimeout(t *testing.T) {
	s := New(8, 1, nil)
	task := newAttached(t, s, "sleeper")
	type result struct {
		left int64
		w    Wake
	}
	done := make(chan result)
	go func() {
		left, w := s.Sleep(task, 10)
		done <- result{left, w}
	}()
	waitState(t, s, task, Blocked)
	s.Tick(9)
	assert.Equal(t, Blocked, s.State(task))
	s.Tick(1)
	r := <-done
	assert.Equal(t, int64(0), r.left)
	assert.Equal(t, WakeTimeout, r.w)
	assert.Equal(t, Running, s.State(task))
}

func TestSleepWakeup(t *testing.T) {
	s := New(8, 1, nil)
	task := newAttached(t, s, "sleeper")
	assert.Equal(t, errno.InvalidState, errno.Of(s.Wakeup(task.Pid)))
	assert.Equal(t, errno.NotFound, errno.Of(s.Wakeup(999)))

	done := make(chan int64)
	go func() {
		left, w := s.Sleep(task, 100)
		assert.Equal(t, WakeWoken, w)
		done <- left
	}()
	waitState(t, s, task, Blocked)
	s.Tick(30)
	require.NoError(t, s.Wakeup(task.Pid))
	assert.Equal(t, int64(70), <-done)

	left, _ := s.Sleep(task, 0)
	assert.Equal(t, int64(0), left)
}

func TestBlockReadyAndSignal(t *testing.T) {
	s := New(8, 1, nil)
	task := newAttached(t, s, "reader")
	flag := false

	g := s.Enter()
	assert.Equal(t, WakeEvent, g.Block(task, ReasonMessage, 0, func() bool { return true }))
	g.Leave()

	done := make(chan Wake)
	go func() {
		g := s.Enter()
		defer g.Leave()
		done <- g.Block(task, ReasonMessage, 0, func() bool { return flag })
	}()
	waitState(t, s, task, Blocked)

	// a signal for another reason or with the condition false is ignored
	s.Signal(task.Pid, ReasonIO)
	s.Signal(task.Pid, ReasonMessage)
	assert.Equal(t, Blocked, s.State(task))

	g = s.Enter()
	flag = true
	g.Leave()
	s.Signal(task.Pid, ReasonMessage, ReasonResponse)
	assert.Equal(t, WakeEvent, <-done)
}

func TestZombifyBlocked(t *testing.T) {
	s := New(8, 1, nil)
	task := newAttached(t, s, "victim")
	done := make(chan Wake)
	go func() {
		_, w := s.Sleep(task, 1000)
		done <- w
	}()
	waitState(t, s, task, Blocked)
	assert.True(t, s.Zombify(task, CancelCode))
	assert.False(t, s.Zombify(task, 5), "second termination is a no-op")
	assert.Equal(t, WakeCancelled, <-done)
	assert.False(t, s.Alive(task))

	// the sleeper entry is gone
	s.Tick(2000)
	assert.Equal(t, Zombie, s.State(task))
}

func TestWaitTask(t *testing.T) {
	s := New(8, 1, nil)
	parent := newAttached(t, s, "parent")
	child, err := s.Create(Spec{Name: "child", Parent: parent.Pid, Attached: true})
	require.NoError(t, err)

	_, err = s.WaitTask(parent, parent.Pid)
	assert.Equal(t, errno.InvalidArgument, errno.Of(err))
	_, err = s.WaitTask(parent, 4321)
	assert.Equal(t, errno.NotFound, errno.Of(err))

	done := make(chan int)
	go func() {
		code, err := s.WaitTask(parent, child.Pid)
		assert.NoError(t, err)
		done <- code
	}()
	waitState(t, s, parent, Blocked)
	require.True(t, s.Zombify(child, 7))
	s.Exited(child)
	assert.Equal(t, 7, <-done)

	_, err = s.Get(child.Pid)
	assert.Equal(t, errno.NotFound, errno.Of(err), "reaped after the only waiter saw it")
}

func TestWaitAfterExit(t *testing.T) {
	s := New(8, 1, nil)
	parent := newAttached(t, s, "parent")
	child, _ := s.Create(Spec{Name: "child", Parent: parent.Pid, Attached: true})
	s.Zombify(child, 3)
	s.Exited(child)

	_, err := s.Get(child.Pid)
	require.NoError(t, err, "zombie kept for its parent")
	code, err := s.WaitTask(parent, child.Pid)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	_, err = s.Get(child.Pid)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestOrphanReaped(t *testing.T) {
	s := New(8, 1, nil)
	task := newAttached(t, s, "orphan")
	s.Zombify(task, 0)
	s.Exited(task)
	_, err := s.Get(task.Pid)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestWaitInterrupted(t *testing.T) {
	s := New(8, 1, nil)
	a := newAttached(t, s, "a")
	b := newAttached(t, s, "b")
	done := make(chan error)
	go func() {
		_, err := s.WaitTask(a, b.Pid)
		done <- err
	}()
	waitState(t, s, a, Blocked)
	require.NoError(t, s.Wakeup(a.Pid))
	assert.Equal(t, errno.Interrupted, <-done)
}

func TestLifecycleStates(t *testing.T) {
	s := New(8, 1, nil)
	task, err := s.Create(Spec{Name: "prog", Parent: NoParent})
	require.NoError(t, err)
	assert.Equal(t, Created, s.State(task))
	assert.Equal(t, "created", s.State(task).String())

	require.NoError(t, s.Admit(task))
	assert.Equal(t, Ready, s.State(task))
	assert.Equal(t, errno.InvalidState, errno.Of(s.Admit(task)))

	require.True(t, s.Run(task))
	assert.Equal(t, Running, s.State(task))
	s.Finish(task)

	attached := newAttached(t, s, "console")
	assert.Equal(t, Running, s.State(attached))
	assert.Equal(t, errno.InvalidState, errno.Of(s.Admit(attached)))
}

func TestSingleCPU(t *testing.T) {
	s := New(8, 1, nil)
	first, _ := s.Create(Spec{Name: "first", Parent: NoParent})
	second, _ := s.Create(Spec{Name: "second", Parent: NoParent})

	require.True(t, s.Run(first))
	total, busy := s.CPUs()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, busy)

	started := make(chan bool)
	go func() { started <- s.Run(second) }()
	waitState(t, s, second, Ready)
	select {
	case <-started:
		t.Fatal("second task ran while the only cpu was taken")
	case <-time.After(20 * time.Millisecond):
	}

	s.Finish(first)
	assert.True(t, <-started)
	assert.Equal(t, Running, s.State(second))
}

func TestCancelQueued(t *testing.T) {
	s := New(8, 1, nil)
	first, _ := s.Create(Spec{Name: "first", Parent: NoParent})
	second, _ := s.Create(Spec{Name: "second", Parent: NoParent})
	require.True(t, s.Run(first))

	started := make(chan bool)
	go func() { started <- s.Run(second) }()
	waitState(t, s, second, Ready)
	require.Eventually(t, func() bool {
		g := s.Enter()
		defer g.Leave()
		return second.queued
	}, time.Second, time.Millisecond)
	s.Zombify(second, CancelCode)
	assert.False(t, <-started)

	s.Finish(first)
	_, busy := s.CPUs()
	assert.Equal(t, 0, busy)
}

func TestYieldRotates(t *testing.T) {
	s := New(8, 1, nil)
	a, _ := s.Create(Spec{Name: "a", Parent: NoParent})
	b, _ := s.Create(Spec{Name: "b", Parent: NoParent})
	require.True(t, s.Run(a))

	bRunning := make(chan struct{})
	go func() {
		s.Run(b)
		close(bRunning)
	}()
	require.Eventually(t, func() bool {
		g := s.Enter()
		defer g.Leave()
		return b.queued
	}, time.Second, time.Millisecond)

	aBack := make(chan struct{})
	go func() {
		s.Yield(a)
		close(aBack)
	}()
	<-bRunning
	waitState(t, s, a, Ready)
	s.Finish(b)
	<-aBack
	assert.Equal(t, Running, s.State(a))
}

func TestTasksSnapshot(t *testing.T) {
	s := New(8, 1, nil)
	newAttached(t, s, "one")
	newAttached(t, s, "two")
	infos := s.Tasks()
	require.Len(t, infos, 2)
	assert.Equal(t, "one", infos[0].Name)
	assert.Equal(t, 2, s.Running())
}
