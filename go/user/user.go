// Package user is the program side of the syscall boundary. Every call
// marshals its arguments into the task's own address space and enters the
// dispatcher with raw words, the way code running in the task would.
package user

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

// ScratchSize is the argument area mapped at the bottom of user memory.
const ScratchSize = kernel.IOMax + 16<<10

// Proc is one task seen from inside. It is not safe for concurrent use.
type Proc struct {
	d *sys.Dispatcher
	k *kernel.Kernel
	t *sched.Task

	scratch uint64
	size    uint64
}

// New maps the scratch area for t.
func New(d *sys.Dispatcher, t *sched.Task) (*Proc, error) {
	k := d.Kernel()
	pages := (ScratchSize + k.Config.PageSize - 1) / k.Config.PageSize
	p := &Proc{
		d:       d,
		k:       k,
		t:       t,
		scratch: k.Config.Watermark,
		size:    pages * k.Config.PageSize,
	}
	if err := result(p.Syscall(sys.ProcessMap, p.scratch, pages)); err != nil {
		return nil, errors.Wrap(err, "failed to map scratch area")
	}
	return p, nil
}

// Attach creates an attached task driven by the caller's goroutine.
func Attach(d *sys.Dispatcher, name string) (*Proc, error) {
	t, err := d.Kernel().Attach(name)
	if err != nil {
		return nil, err
	}
	p, err := New(d, t)
	if err != nil {
		d.Kernel().Detach(t)
		return nil, err
	}
	return p, nil
}

// Main is the body of a program.
type Main func(p *Proc, arg string) int

// Program adapts main to the kernel's program registry.
func Program(d *sys.Dispatcher, main Main) kernel.Program {
	return func(t *sched.Task, arg string) int {
		p, err := New(d, t)
		if err != nil {
			d.Kernel().Log.Warnf("%s: %v", t, err)
			return sched.CancelCode
		}
		return main(p, arg)
	}
}

func (p *Proc) Task() *sched.Task      { return p.t }
func (p *Proc) Pid() int               { return p.t.Pid }
func (p *Proc) Kernel() *kernel.Kernel { return p.k }

// Detach ends an attached task.
func (p *Proc) Detach() {
	p.k.Detach(p.t)
}

// Syscall enters the dispatcher with raw argument words. A program task
// that was cancelled stops here.
func (p *Proc) Syscall(id sys.Syscall, args ...uint64) int64 {
	var a sys.Args
	copy(a[:], args)
	ret := p.d.Dispatch(p.t, id, a)
	if ret == errno.Cancelled.Ret() && !p.t.Attached && !p.k.Sched.Alive(p.t) {
		runtime.Goexit()
	}
	return ret
}

func result(ret int64) error {
	if ret < 0 {
		return errno.FromRet(ret)
	}
	return nil
}

// Store writes b to the task's memory at addr.
func (p *Proc) Store(addr uint64, b []byte) error {
	r, err := usermem.Check(usermem.Ptr(addr), uint64(len(b)))
	if err != nil {
		return err
	}
	return usermem.WriteBytes(p.t.Space, r, b)
}

// Load reads n bytes of the task's memory at addr.
func (p *Proc) Load(addr uint64, n int) ([]byte, error) {
	r, err := usermem.Check(usermem.Ptr(addr), uint64(n))
	if err != nil {
		return nil, err
	}
	return usermem.ReadBytes(p.t.Space, r)
}

// frame hands out scratch space for the arguments of one call. The first
// error sticks.
type frame struct {
	p   *Proc
	off uint64
	err error
}

func (p *Proc) frame() *frame {
	return &frame{p: p}
}

func (f *frame) alloc(n uint64) uint64 {
	off := (f.off + 7) &^ 7
	if off+n > f.p.size {
		if f.err == nil {
			f.err = errors.Wrapf(errno.InvalidArgument, "%d bytes of arguments do not fit", off+n)
		}
		return 0
	}
	f.off = off + n
	return f.p.scratch + off
}

// put stores a struct, pointer or slice and returns its address.
func (f *frame) put(v interface{}) uint64 {
	n, err := usermem.Sizeof(v)
	if err != nil {
		f.err = err
		return 0
	}
	addr := f.alloc(uint64(n))
	if f.err == nil {
		f.err = usermem.PackAt(f.p.t.Space, usermem.Ptr(addr), v)
	}
	return addr
}

// reserve sizes space for v without writing it.
func (f *frame) reserve(v interface{}) uint64 {
	n, err := usermem.Sizeof(v)
	if err != nil {
		f.err = err
		return 0
	}
	return f.alloc(uint64(n))
}

func (f *frame) bytes(b []byte) uint64 {
	addr := f.alloc(uint64(len(b)))
	if f.err == nil && len(b) > 0 {
		f.err = f.p.Store(addr, b)
	}
	return addr
}

func (f *frame) str(s string) uint64 {
	return f.bytes(append([]byte(s), 0))
}

func (f *frame) get(addr uint64, v interface{}) error {
	return usermem.UnpackAt(f.p.t.Space, usermem.Ptr(addr), v)
}
