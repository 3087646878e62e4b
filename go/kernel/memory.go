package kernel

import (
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

// ShmAlloc creates a region of pages attached to t and returns its id.
// addrOut may be 0 when the caller does not want the address.
func (k *Kernel) ShmAlloc(t *sched.Task, pages int, addrOut usermem.Ptr) int64 {
	var addr uint64
	var r usermem.Range
	if addrOut != 0 {
		var err error
		if r, err = usermem.CheckStruct(addrOut, &addr); err != nil {
			return ret(err)
		}
	}
	id, addr, err := k.Shm.Alloc(t.Pid, t.Space, pages)
	if err != nil {
		return ret(err)
	}
	if r.Valid() {
		if err := usermem.Pack(t.Space, r, &addr); err != nil {
			k.Shm.Release(t.Pid, t.Space, id)
			return ret(err)
		}
	}
	return int64(id)
}

func (k *Kernel) ShmAcquire(t *sched.Task, id int, addrOut usermem.Ptr) int64 {
	var addr uint64
	r, err := usermem.CheckStruct(addrOut, &addr)
	if err != nil {
		return ret(err)
	}
	addr, err = k.Shm.Acquire(t.Pid, t.Space, id)
	if err != nil {
		return ret(err)
	}
	if err := usermem.Pack(t.Space, r, &addr); err != nil {
		k.Shm.Release(t.Pid, t.Space, id)
		return ret(err)
	}
	return 0
}

func (k *Kernel) ShmRelease(t *sched.Task, id int) int64 {
	return ret(k.Shm.Release(t.Pid, t.Space, id))
}
