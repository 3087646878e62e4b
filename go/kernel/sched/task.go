package sched

import (
	"fmt"

	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/vm"
)

type State int

const (
	Created State = iota
	Ready
	Running
	Blocked
	Zombie
	Reaped
)

var stateNames = []string{"created", "ready", "running", "blocked", "zombie", "reaped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reason records what a blocked task is waiting for.
type Reason int

const (
	NotBlocked Reason = iota
	ReasonSleep
	ReasonTask
	ReasonMessage
	ReasonResponse
	ReasonIO
)

var reasonNames = []string{"-", "sleep", "task", "message", "response", "io"}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "?"
}

// Wake is why a blocked task resumed.
type Wake int

const (
	WakeEvent Wake = iota
	WakeTimeout
	WakeWoken
	WakeCancelled
)

func (w Wake) String() string {
	switch w {
	case WakeEvent:
		return "event"
	case WakeTimeout:
		return "timeout"
	case WakeWoken:
		return "woken"
	case WakeCancelled:
		return "cancelled"
	}
	return "?"
}

// NoParent marks tasks started by the kernel itself.
const NoParent = -1

// CancelCode is the exit code of a cancelled task.
const CancelCode = -1

// Task is one schedulable unit. The exported fields are set once at
// creation; everything else is owned by the scheduler lock.
type Task struct {
	Pid      int
	Name     string
	Parent   int
	Attached bool

	Handles *handle.Table
	Space   *vm.AddressSpace

	state    State
	reason   Reason
	deadline uint64
	ready    func() bool
	cwd      string

	exitCode int
	exited   bool
	waiters  int

	onCPU  bool
	queued bool
	wake   chan Wake
	run    chan struct{}
}

func newTask(name string, parent int, attached bool, cwd string) *Task {
	return &Task{
		Name:     name,
		Parent:   parent,
		Attached: attached,
		cwd:      cwd,
		wake:     make(chan Wake, 1),
		run:      make(chan struct{}, 1),
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("%d:%s", t.Pid, t.Name)
}

// Info is a snapshot of a task for status listings.
type Info struct {
	Pid      int
	Name     string
	Parent   int
	State    State
	Reason   Reason
	Attached bool
	ExitCode int
	Handles  int
	Pages    int
}

func (t *Task) info() Info {
	i := Info{
		Pid:      t.Pid,
		Name:     t.Name,
		Parent:   t.Parent,
		State:    t.state,
		Attached: t.Attached,
		ExitCode: t.exitCode,
	}
	if t.state == Blocked {
		i.Reason = t.reason
	}
	return i
}
