// Package kernel ties the task, memory, handle and messaging subsystems
// together. Its exported methods named after a syscall are the syscall
// handlers; the dispatcher in go/kernel/sys finds them by reflection.
package kernel

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/ipc"
	"github.com/lunixbochs/ukern/go/kernel/memfs"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/shm"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/kernel/vm"
	"github.com/lunixbochs/ukern/go/models"
)

// Filesystem is the collaborator behind paths. Paths are absolute and
// already resolved against the caller's working directory.
type Filesystem interface {
	Mkdir(p string) error
	Mkpipe(p string) error
	Link(oldPath, newPath string) error
	Unlink(p string) error
	Rename(oldPath, newPath string) error
	Open(p string, flags handle.OpenFlag) (handle.Resource, error)
	Connect(p string) (handle.Resource, error)
	Stat(p string) (memfs.Info, error)
	// SetNotify installs a hook called after pipes, sockets or
	// connections change state.
	SetNotify(fn func())
}

// Program is the body of an executable. It runs on its own goroutine as
// task t and returns the exit code.
type Program func(t *sched.Task, arg string) int

type Kernel struct {
	Config *models.Config
	Log    *models.Logger
	Sched  *sched.Scheduler
	Frames *vm.Frames
	Shm    *shm.Registry
	Hub    *ipc.Hub
	FS     Filesystem

	layout vm.Layout
	boot   time.Time

	progMu   deadlock.RWMutex
	programs map[string]Program

	wg sync.WaitGroup
}

// New boots a kernel. A nil fs gets a fresh in-memory filesystem.
func New(cfg *models.Config, fs Filesystem) (*Kernel, error) {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fs == nil {
		fs = memfs.New()
	}
	usermem.Watermark = cfg.Watermark
	log := cfg.Logger()
	frames := vm.NewFrames(cfg.MemoryPages, cfg.PageSize)
	k := &Kernel{
		Config: cfg,
		Log:    log,
		Sched:  sched.New(cfg.MaxTasks, cfg.CPUs, log),
		Frames: frames,
		Shm:    shm.NewRegistry(frames, cfg.MaxRegions),
		Hub:    ipc.NewHub(cfg.MailboxSlots),
		FS:     fs,
		layout: vm.Layout{
			PageSize:  cfg.PageSize,
			AllocBase: cfg.AllocBase,
			UserTop:   cfg.UserTop,
		},
		boot:     time.Now(),
		programs: make(map[string]Program),
	}
	k.Hub.SetNotify(func(pid int) {
		k.Sched.Signal(pid, sched.ReasonMessage, sched.ReasonResponse)
	})
	fs.SetNotify(func() {
		k.Sched.Poll(sched.ReasonIO)
	})
	log.Debugf(models.SCHED, "boot: %d pages of %d bytes, %d cpus", cfg.MemoryPages, cfg.PageSize, cfg.CPUs)
	return k, nil
}

// Register installs prog as the executable at path.
func (k *Kernel) Register(p string, prog Program) {
	k.progMu.Lock()
	k.programs[path.Clean("/"+p)] = prog
	k.progMu.Unlock()
}

func (k *Kernel) program(p string) (Program, error) {
	k.progMu.RLock()
	defer k.progMu.RUnlock()
	if prog, ok := k.programs[p]; ok {
		return prog, nil
	}
	return nil, errors.Wrapf(errno.NotFound, "no executable %q", p)
}

// Programs lists registered executable paths.
func (k *Kernel) Programs() []string {
	k.progMu.RLock()
	defer k.progMu.RUnlock()
	out := make([]string, 0, len(k.programs))
	for p := range k.programs {
		out = append(out, p)
	}
	return out
}

// spawn creates a task with a fresh address space and handle table and
// opens its mailbox.
func (k *Kernel) spawn(name string, parent int, attached bool, cwd string) (*sched.Task, error) {
	t, err := k.Sched.Create(sched.Spec{
		Name:     name,
		Parent:   parent,
		Attached: attached,
		Cwd:      cwd,
		Handles:  handle.NewTable(k.Config.MaxHandles),
		Space:    vm.New(k.Frames, k.layout),
	})
	if err != nil {
		return nil, err
	}
	k.Hub.Open(t.Pid)
	return t, nil
}

// Attach creates a task driven by the calling goroutine instead of a
// program, such as a console or a test. Attached tasks never hold a run
// token.
func (k *Kernel) Attach(name string) (*sched.Task, error) {
	return k.spawn(name, sched.NoParent, true, "/")
}

// Detach ends an attached task with code 0.
func (k *Kernel) Detach(t *sched.Task) {
	k.Terminate(t, 0)
}

// Launch starts exe as a child of parent (nil for the kernel itself),
// passing a copy of each handle listed.
func (k *Kernel) Launch(parent *sched.Task, name, exe, arg string, handles ...int) (*sched.Task, error) {
	cwd, ppid := "/", sched.NoParent
	if parent != nil {
		cwd, ppid = k.Sched.Cwd(parent), parent.Pid
	}
	exe = resolve(cwd, exe)
	prog, err := k.program(exe)
	if err != nil {
		return nil, err
	}
	if len(handles) > LaunchHandles || (parent == nil && len(handles) > 0) {
		return nil, errors.Wrapf(errno.InvalidArgument, "cannot pass %d handles", len(handles))
	}
	if name == "" {
		name = path.Base(exe)
	}
	t, err := k.spawn(name, ppid, false, cwd)
	if err != nil {
		return nil, err
	}
	for _, id := range handles {
		if _, err := t.Handles.Dup(parent.Handles, id); err != nil {
			k.discard(t)
			return nil, err
		}
	}
	if err := k.Sched.Admit(t); err != nil {
		k.discard(t)
		return nil, err
	}
	k.Log.Debugf(models.SCHED, "launch %s exe=%s arg=%q", t, exe, arg)
	k.wg.Add(1)
	go k.run(t, prog, arg)
	return t, nil
}

// discard undoes spawn for a task that never ran.
func (k *Kernel) discard(t *sched.Task) {
	t.Handles.CloseAll()
	t.Space.Destroy()
	k.Hub.Close(t.Pid)
	k.Sched.Discard(t)
}

func (k *Kernel) run(t *sched.Task, prog Program, arg string) {
	defer k.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			k.Log.Errorf("task %s panicked: %v", t, r)
		}
		// a program that stopped without exiting is cancelled
		k.Terminate(t, sched.CancelCode)
		k.Sched.Finish(t)
	}()
	if !k.Sched.Run(t) {
		return
	}
	code := prog(t, arg)
	k.Terminate(t, code)
}

// Terminate is exit and cancel: t becomes a zombie, its resources are
// released and its waiters woken. Terminating a dead task does nothing.
func (k *Kernel) Terminate(t *sched.Task, code int) {
	if !k.Sched.Zombify(t, code) {
		return
	}
	t.Handles.CloseAll()
	regions := t.Space.Destroy()
	k.Shm.Drop(t.Pid, regions)
	k.Hub.Close(t.Pid)
	k.Sched.Exited(t)
	k.Log.Debugf(models.SCHED, "exit %s code=%d", t, code)
}

// Tick advances the clock by n ticks.
func (k *Kernel) Tick(n uint64) {
	k.Sched.Tick(n)
}

// Start drives the clock in real time at Config.TickRate until ctx ends.
func (k *Kernel) Start(ctx context.Context) {
	period := time.Second / time.Duration(k.Config.TickRate)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				k.Tick(1)
			}
		}
	}()
}

// Wait blocks until every launched program goroutine has returned.
func (k *Kernel) Wait() {
	k.wg.Wait()
}

// Shutdown cancels every task and waits for program goroutines.
func (k *Kernel) Shutdown() {
	for _, info := range k.Sched.Tasks() {
		if t, err := k.Sched.Get(info.Pid); err == nil {
			k.Terminate(t, sched.CancelCode)
		}
	}
	k.wg.Wait()
}

// Uptime is derived from the tick counter.
func (k *Kernel) Uptime() time.Duration {
	return time.Duration(k.Sched.Ticks()) * time.Second / time.Duration(k.Config.TickRate)
}

func resolve(cwd, p string) string {
	if !path.IsAbs(p) {
		p = path.Join(cwd, p)
	}
	return path.Clean(p)
}

// readPath reads a path argument and resolves it against t's cwd.
func (k *Kernel) readPath(t *sched.Task, p usermem.Ptr) (string, error) {
	s, err := usermem.ReadString(t.Space, p, PathMax)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", errors.Wrap(errno.InvalidArgument, "empty path")
	}
	return resolve(k.Sched.Cwd(t), s), nil
}

func ret(err error) int64 {
	return errno.Ret(err)
}
