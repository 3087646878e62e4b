package user

import (
	"runtime"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/sys"
)

// Launch describes a child for Proc.Launch.
type Launch struct {
	Name string
	Exe  string
	Arg  string
	// Handles are duplicated into the child.
	Handles []int
}

func (p *Proc) This() int {
	return int(p.Syscall(sys.ProcessThis))
}

// Launch starts a child and returns its pid.
func (p *Proc) Launch(l Launch) (int, error) {
	var pad kernel.Launchpad
	pad.SetName(l.Name)
	pad.SetExecutable(l.Exe)
	pad.SetArgument(l.Arg)
	// too many handles is left for the kernel to refuse
	for i, h := range l.Handles {
		if i < kernel.LaunchHandles {
			pad.Handles[i] = int32(h)
		}
	}
	pad.HandleCount = uint32(len(l.Handles))
	f := p.frame()
	addr := f.put(&pad)
	if f.err != nil {
		return 0, f.err
	}
	ret := p.Syscall(sys.ProcessLaunch, addr)
	return int(ret), result(ret)
}

// Exit ends the task. It does not return for program tasks.
func (p *Proc) Exit(code int) {
	p.Syscall(sys.ProcessExit, uint64(int64(code)))
	if !p.t.Attached {
		runtime.Goexit()
	}
}

func (p *Proc) Cancel(pid int) error {
	return result(p.Syscall(sys.ProcessCancel, uint64(pid)))
}

// Sleep returns the ticks left when woken early.
func (p *Proc) Sleep(ticks int64) (int64, error) {
	ret := p.Syscall(sys.ProcessSleep, uint64(ticks))
	if ret < 0 {
		return 0, result(ret)
	}
	return ret, nil
}

func (p *Proc) Wakeup(pid int) error {
	return result(p.Syscall(sys.ProcessWakeup, uint64(pid)))
}

// Wait returns the exit code of pid once it has ended.
func (p *Proc) Wait(pid int) (int, error) {
	var code int32
	f := p.frame()
	out := f.reserve(&code)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.ProcessWait, uint64(pid), out)); err != nil {
		return 0, err
	}
	if err := f.get(out, &code); err != nil {
		return 0, err
	}
	return int(code), nil
}

func (p *Proc) Getcwd() (string, error) {
	f := p.frame()
	buf := f.alloc(kernel.PathMax)
	if f.err != nil {
		return "", f.err
	}
	if err := result(p.Syscall(sys.ProcessGetCwd, buf, kernel.PathMax)); err != nil {
		return "", err
	}
	b, err := p.Load(buf, kernel.PathMax)
	if err != nil {
		return "", err
	}
	return kernel.CString(b), nil
}

func (p *Proc) Chdir(dir string) error {
	f := p.frame()
	addr := f.str(dir)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.ProcessSetCwd, addr))
}

func (p *Proc) Map(addr uint64, pages int) error {
	return result(p.Syscall(sys.ProcessMap, addr, uint64(pages)))
}

func (p *Proc) Unmap(addr uint64, pages int) error {
	return result(p.Syscall(sys.ProcessUnmap, addr, uint64(pages)))
}

// Alloc maps pages wherever they fit.
func (p *Proc) Alloc(pages int) (uint64, error) {
	ret := p.Syscall(sys.ProcessAlloc, uint64(pages), 0)
	if ret < 0 {
		return 0, result(ret)
	}
	return uint64(ret), nil
}

func (p *Proc) Free(addr uint64, pages int) error {
	return result(p.Syscall(sys.ProcessFree, addr, uint64(pages)))
}

func (p *Proc) Yield() {
	p.Syscall(sys.ProcessYield)
}

// ShmAlloc creates a shared region and returns its id and address.
func (p *Proc) ShmAlloc(pages int) (int, uint64, error) {
	var addr uint64
	f := p.frame()
	out := f.reserve(&addr)
	if f.err != nil {
		return 0, 0, f.err
	}
	ret := p.Syscall(sys.ShmAlloc, uint64(pages), out)
	if ret < 0 {
		return 0, 0, result(ret)
	}
	err := f.get(out, &addr)
	return int(ret), addr, err
}

func (p *Proc) ShmAcquire(id int) (uint64, error) {
	var addr uint64
	f := p.frame()
	out := f.reserve(&addr)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.ShmAcquire, uint64(id), out)); err != nil {
		return 0, err
	}
	err := f.get(out, &addr)
	return addr, err
}

func (p *Proc) ShmRelease(id int) error {
	return result(p.Syscall(sys.ShmRelease, uint64(id)))
}
