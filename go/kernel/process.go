package kernel

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

func (k *Kernel) ProcessThis(t *sched.Task) int64 {
	return int64(t.Pid)
}

// ProcessLaunch reads a Launchpad from pad and starts its executable as a
// child of t. It returns the child pid.
func (k *Kernel) ProcessLaunch(t *sched.Task, pad usermem.Ptr) int64 {
	var lp Launchpad
	if err := usermem.UnpackAt(t.Space, pad, &lp); err != nil {
		return ret(err)
	}
	if lp.HandleCount > LaunchHandles {
		return errno.InvalidArgument.Ret()
	}
	handles := make([]int, lp.HandleCount)
	for i := range handles {
		handles[i] = int(lp.Handles[i])
	}
	child, err := k.Launch(t, CString(lp.Name[:]), CString(lp.Executable[:]), CString(lp.Argument[:]), handles...)
	if err != nil {
		return ret(err)
	}
	return int64(child.Pid)
}

func (k *Kernel) ProcessExit(t *sched.Task, code int) int64 {
	k.Terminate(t, code)
	return 0
}

func (k *Kernel) ProcessCancel(t *sched.Task, pid int) int64 {
	if pid == t.Pid {
		k.Terminate(t, sched.CancelCode)
		return 0
	}
	target, err := k.Sched.Get(pid)
	if err != nil {
		return ret(err)
	}
	k.Terminate(target, sched.CancelCode)
	return 0
}

// ProcessSleep returns the ticks left when woken early.
func (k *Kernel) ProcessSleep(t *sched.Task, ticks int64) int64 {
	left, w := k.Sched.Sleep(t, ticks)
	if w == sched.WakeCancelled {
		return errno.Cancelled.Ret()
	}
	return left
}

func (k *Kernel) ProcessWakeup(t *sched.Task, pid int) int64 {
	return ret(k.Sched.Wakeup(pid))
}

func (k *Kernel) ProcessWait(t *sched.Task, pid int, codeOut usermem.Ptr) int64 {
	var code int32
	r, err := usermem.CheckStruct(codeOut, &code)
	if err != nil {
		return ret(err)
	}
	c, err := k.Sched.WaitTask(t, pid)
	if err != nil {
		return ret(err)
	}
	code = int32(c)
	return ret(usermem.Pack(t.Space, r, &code))
}

func (k *Kernel) ProcessGetCwd(t *sched.Task, buf usermem.Ptr, size usermem.Len) int64 {
	r, err := usermem.Check(buf, uint64(size))
	if err != nil {
		return ret(err)
	}
	return ret(usermem.WriteString(t.Space, r, k.Sched.Cwd(t)))
}

func (k *Kernel) ProcessSetCwd(t *sched.Task, p usermem.Ptr) int64 {
	dir, err := k.readPath(t, p)
	if err != nil {
		return ret(err)
	}
	info, err := k.FS.Stat(dir)
	if err != nil {
		return ret(err)
	}
	if info.Kind != handle.KindDirectory {
		return ret(errors.Wrapf(errno.NotDirectory, "set_cwd %s", dir))
	}
	k.Sched.SetCwd(t, dir)
	return 0
}

func (k *Kernel) ProcessMap(t *sched.Task, addr usermem.Ptr, count int) int64 {
	return ret(t.Space.Map(uint64(addr), count))
}

func (k *Kernel) ProcessUnmap(t *sched.Task, addr usermem.Ptr, count int) int64 {
	return ret(t.Space.Unmap(uint64(addr), count))
}

// ProcessAlloc maps count pages wherever they fit and returns the base
// address. addrOut is optional; when set it also receives the address.
func (k *Kernel) ProcessAlloc(t *sched.Task, count int, addrOut usermem.Ptr) int64 {
	var addr uint64
	var r usermem.Range
	if addrOut != 0 {
		var err error
		if r, err = usermem.CheckStruct(addrOut, &addr); err != nil {
			return ret(err)
		}
	}
	addr, err := t.Space.Alloc(count)
	if err != nil {
		return ret(err)
	}
	if r.Valid() {
		if err := usermem.Pack(t.Space, r, &addr); err != nil {
			t.Space.Free(addr, count)
			return ret(err)
		}
	}
	return int64(addr)
}

func (k *Kernel) ProcessFree(t *sched.Task, addr usermem.Ptr, count int) int64 {
	return ret(t.Space.Free(uint64(addr), count))
}

func (k *Kernel) ProcessYield(t *sched.Task) int64 {
	k.Sched.Yield(t)
	return 0
}
