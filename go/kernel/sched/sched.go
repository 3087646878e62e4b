// Package sched owns the task table, task states, the wait structures and
// the run queue. A single lock covers all of them; callers hold it through
// a Guard.
//
// Component locks (handle tables, address spaces, the ipc hub, the
// filesystem) nest inside the scheduler lock. Component operations that
// call back into the scheduler through a notify hook must therefore run
// without a Guard held.
package sched

import (
	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/arena"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/vm"
	"github.com/lunixbochs/ukern/go/models"
)

type sleeper struct {
	deadline uint64
	pid      int
}

func sleeperLess(a, b sleeper) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.pid < b.pid
}

type Scheduler struct {
	mu  deadlock.Mutex
	log *models.Logger

	tasks    *arena.Arena[*Task]
	sleepers *btree.BTreeG[sleeper]
	queue    []*Task
	free     int
	cpus     int

	ticks   uint64
	resched bool
}

// New makes a scheduler with room for maxTasks tasks and cpus run tokens.
func New(maxTasks, cpus int, log *models.Logger) *Scheduler {
	if cpus <= 0 {
		cpus = 1
	}
	if log == nil {
		log = models.Discard()
	}
	return &Scheduler{
		log:      log,
		tasks:    arena.New[*Task](maxTasks),
		sleepers: btree.NewG[sleeper](8, sleeperLess),
		free:     cpus,
		cpus:     cpus,
	}
}

// Guard is a scoped hold on the scheduler lock. Leave may be called any
// number of times; only the first releases.
type Guard struct {
	s    *Scheduler
	held bool
}

func (s *Scheduler) Enter() *Guard {
	s.mu.Lock()
	return &Guard{s: s, held: true}
}

func (g *Guard) Leave() {
	if g.held {
		g.held = false
		g.s.mu.Unlock()
	}
}

func (g *Guard) reenter() {
	if !g.held {
		g.s.mu.Lock()
		g.held = true
	}
}

// Spec describes a task to create.
type Spec struct {
	Name     string
	Parent   int
	Attached bool
	Cwd      string
	Handles  *handle.Table
	Space    *vm.AddressSpace
}

// Create adds a task. Program tasks start Created; Admit makes them Ready
// and they must call Run before executing. Attached tasks are Running from
// the start.
func (s *Scheduler) Create(spec Spec) (*Task, error) {
	g := s.Enter()
	defer g.Leave()
	t := newTask(spec.Name, spec.Parent, spec.Attached, spec.Cwd)
	t.Handles, t.Space = spec.Handles, spec.Space
	key, err := s.tasks.Insert(t)
	if err != nil {
		return nil, errors.Wrapf(errno.Exhausted, "task table full creating %q", spec.Name)
	}
	t.Pid = int(key)
	t.state = Created
	if spec.Attached {
		t.state = Running
	}
	s.log.Debugf(models.SCHED, "create %s parent=%d", t, spec.Parent)
	return t, nil
}

// Admit moves a created task to Ready once its launch has fully succeeded.
func (s *Scheduler) Admit(t *Task) error {
	g := s.Enter()
	defer g.Leave()
	if t.state != Created {
		return errors.Wrapf(errno.InvalidState, "admit %s: task is %s", t, t.state)
	}
	t.state = Ready
	return nil
}

// Discard drops a task that never ran, for launch failures after Create.
func (s *Scheduler) Discard(t *Task) {
	g := s.Enter()
	defer g.Leave()
	t.state = Reaped
	s.tasks.Remove(arena.Key(t.Pid))
}

func (s *Scheduler) lookup(pid int) (*Task, error) {
	if t, ok := s.tasks.Get(arena.Key(pid)); ok {
		return t, nil
	}
	return nil, errors.Wrapf(errno.NotFound, "no task %d", pid)
}

// Get finds pid. Zombies are still found until they are reaped.
func (s *Scheduler) Get(pid int) (*Task, error) {
	g := s.Enter()
	defer g.Leave()
	return s.lookup(pid)
}

func (s *Scheduler) State(t *Task) State {
	g := s.Enter()
	defer g.Leave()
	return t.state
}

// Alive is false once the task has been cancelled or has exited.
func (s *Scheduler) Alive(t *Task) bool {
	return s.State(t) < Zombie
}

func (s *Scheduler) Cwd(t *Task) string {
	g := s.Enter()
	defer g.Leave()
	return t.cwd
}

func (s *Scheduler) SetCwd(t *Task, cwd string) {
	g := s.Enter()
	defer g.Leave()
	t.cwd = cwd
}

// Tasks lists live and zombie tasks in pid order.
func (s *Scheduler) Tasks() []Info {
	g := s.Enter()
	defer g.Leave()
	var out []Info
	s.tasks.Each(func(_ arena.Key, t *Task) bool {
		i := t.info()
		if t.Handles != nil {
			i.Handles = t.Handles.Len()
		}
		if t.Space != nil {
			i.Pages = t.Space.Resident()
		}
		out = append(out, i)
		return true
	})
	return out
}

// Running counts tasks that have not exited.
func (s *Scheduler) Running() int {
	g := s.Enter()
	defer g.Leave()
	n := 0
	s.tasks.Each(func(_ arena.Key, t *Task) bool {
		if t.state < Zombie {
			n++
		}
		return true
	})
	return n
}

// CPUs reports the number of run tokens and how many are taken.
func (s *Scheduler) CPUs() (total, busy int) {
	g := s.Enter()
	defer g.Leave()
	return s.cpus, s.cpus - s.free
}

// acquire gives t a run token, queueing behind other ready tasks. It is
// called with the guard held and may drop it while waiting. It reports
// false when t was cancelled before it got to run.
func (g *Guard) acquire(t *Task) bool {
	s := g.s
	if t.state >= Zombie {
		return false
	}
	if t.Attached {
		t.state = Running
		return true
	}
	if t.onCPU {
		return true
	}
	if s.free > 0 && len(s.queue) == 0 {
		s.free--
		t.onCPU = true
		t.state = Running
		return true
	}
	t.state = Ready
	t.queued = true
	s.queue = append(s.queue, t)
	select {
	case <-t.run:
	default:
	}
	g.Leave()
	<-t.run
	g.reenter()
	return t.state < Zombie && t.onCPU
}

// release returns t's token, handing it straight to the head of the queue.
func (g *Guard) release(t *Task) {
	s := g.s
	if !t.onCPU {
		return
	}
	t.onCPU = false
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		next.queued = false
		next.onCPU = true
		next.state = Running
		next.run <- struct{}{}
		return
	}
	s.free++
}

func (s *Scheduler) unqueue(t *Task) {
	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			break
		}
	}
	t.queued = false
}

// Run blocks until t holds a run token. Program goroutines call it before
// running any user code.
func (s *Scheduler) Run(t *Task) bool {
	g := s.Enter()
	defer g.Leave()
	return g.acquire(t)
}

// Finish gives up t's token for good. The goroutine running t calls it
// when the program returns or is stopped.
func (s *Scheduler) Finish(t *Task) {
	g := s.Enter()
	defer g.Leave()
	g.release(t)
}

// Yield sends t to the back of the ready queue when another task waits
// for a token.
func (s *Scheduler) Yield(t *Task) {
	g := s.Enter()
	defer g.Leave()
	g.yield(t)
}

func (g *Guard) yield(t *Task) {
	if t.Attached || !t.onCPU || len(g.s.queue) == 0 {
		return
	}
	g.release(t)
	g.acquire(t)
}

// Preempt yields t if a tick asked for a reschedule since the last one.
func (s *Scheduler) Preempt(t *Task) {
	g := s.Enter()
	defer g.Leave()
	if !s.resched || t.Attached {
		return
	}
	s.resched = false
	g.yield(t)
}

// Block parks t until it is woken, its deadline passes (deadline 0 means
// none) or ready reports true. ready is evaluated under the guard, first
// right away and then whenever a waker polls t, so it must not call back
// into the scheduler. The guard is held again when Block returns.
func (g *Guard) Block(t *Task, reason Reason, deadline uint64, ready func() bool) Wake {
	s := g.s
	if t.state >= Zombie {
		return WakeCancelled
	}
	if ready != nil && ready() {
		return WakeEvent
	}
	if deadline != 0 && deadline <= s.ticks {
		return WakeTimeout
	}
	select {
	case <-t.wake:
	default:
	}
	t.state = Blocked
	t.reason = reason
	t.deadline = deadline
	t.ready = ready
	if deadline != 0 {
		s.sleepers.ReplaceOrInsert(sleeper{deadline, t.Pid})
	}
	g.release(t)
	s.log.Debugf(models.SCHED, "%s blocked on %s deadline=%d", t, reason, deadline)

	g.Leave()
	w := <-t.wake
	g.reenter()

	if t.state >= Zombie {
		return WakeCancelled
	}
	if !g.acquire(t) {
		return WakeCancelled
	}
	return w
}

// wakeLocked moves a blocked t back to running. The guard must be held.
func (s *Scheduler) wakeLocked(t *Task, w Wake) bool {
	if t.state != Blocked {
		return false
	}
	if t.deadline != 0 {
		s.sleepers.Delete(sleeper{t.deadline, t.Pid})
	}
	t.state = Ready
	t.reason = NotBlocked
	t.deadline = 0
	t.ready = nil
	s.log.Debugf(models.SCHED, "wake %s: %s", t, w)
	t.wake <- w
	return true
}

// Wakeup is the explicit wakeup of a blocked task.
func (s *Scheduler) Wakeup(pid int) error {
	g := s.Enter()
	defer g.Leave()
	t, err := s.lookup(pid)
	if err != nil {
		return err
	}
	if !s.wakeLocked(t, WakeWoken) {
		return errors.Wrapf(errno.InvalidState, "task %s is %s", t, t.state)
	}
	return nil
}

// Signal re-polls pid if it is blocked on one of reasons.
func (s *Scheduler) Signal(pid int, reasons ...Reason) {
	g := s.Enter()
	defer g.Leave()
	t, err := s.lookup(pid)
	if err != nil {
		return
	}
	s.pollLocked(t, reasons)
}

// Poll re-polls every task blocked on one of reasons.
func (s *Scheduler) Poll(reasons ...Reason) {
	g := s.Enter()
	defer g.Leave()
	s.tasks.Each(func(_ arena.Key, t *Task) bool {
		s.pollLocked(t, reasons)
		return true
	})
}

func (s *Scheduler) pollLocked(t *Task, reasons []Reason) {
	if t.state != Blocked {
		return
	}
	match := len(reasons) == 0
	for _, r := range reasons {
		if t.reason == r {
			match = true
			break
		}
	}
	if match && t.ready != nil && t.ready() {
		s.wakeLocked(t, WakeEvent)
	}
}
