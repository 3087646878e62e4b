// Package shm tracks shared memory regions and their reference counts.
package shm

import (
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/arena"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/vm"
)

type Region struct {
	ID    int
	Pages int
	Data  []byte

	refs     int
	attached map[int]int
}

// Info is a read-only snapshot of a region.
type Info struct {
	ID       int
	Pages    int
	Refs     int
	Attached map[int]int
}

// Registry owns every live region. The registry lock is taken before any
// address space lock.
type Registry struct {
	mu      deadlock.Mutex
	regions *arena.Arena[*Region]
	frames  *vm.Frames
}

func NewRegistry(frames *vm.Frames, limit int) *Registry {
	return &Registry{regions: arena.New[*Region](limit), frames: frames}
}

func (r *Registry) lookup(id int) (*Region, error) {
	reg, ok := r.regions.Get(arena.Key(id))
	if !ok {
		return nil, errors.Wrapf(errno.NotFound, "shm region %d", id)
	}
	return reg, nil
}

// Alloc creates a region of pages and attaches it to pid's address space
// with a reference count of one.
func (r *Registry) Alloc(pid int, as *vm.AddressSpace, pages int) (int, uint64, error) {
	if pages <= 0 {
		return -1, 0, errno.InvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.frames.Take(pages); err != nil {
		return -1, 0, err
	}
	reg := &Region{
		Pages:    pages,
		Data:     make([]byte, uint64(pages)*r.frames.PageSize()),
		attached: make(map[int]int),
	}
	key, err := r.regions.Insert(reg)
	if err != nil {
		r.frames.Give(pages)
		return -1, 0, err
	}
	reg.ID = int(key)
	addr, err := as.AttachShared(reg.ID, reg.Data)
	if err != nil {
		r.regions.Remove(key)
		r.frames.Give(pages)
		return -1, 0, err
	}
	reg.refs = 1
	reg.attached[pid] = 1
	return reg.ID, addr, nil
}

// Acquire maps an existing region into pid's address space and takes a
// reference.
func (r *Registry) Acquire(pid int, as *vm.AddressSpace, id int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	addr, err := as.AttachShared(reg.ID, reg.Data)
	if err != nil {
		return 0, err
	}
	reg.refs++
	reg.attached[pid]++
	return addr, nil
}

// Release detaches one view of the region from pid and drops a reference.
func (r *Registry) Release(pid int, as *vm.AddressSpace, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(id)
	if err != nil {
		return err
	}
	if reg.attached[pid] == 0 {
		return errors.Wrapf(errno.InvalidState, "shm region %d not attached to %d", id, pid)
	}
	if _, err := as.DetachShared(reg.ID); err != nil {
		return err
	}
	r.unref(reg, pid)
	return nil
}

// Drop releases references for views that were already torn down with
// their address space.
func (r *Registry) Drop(pid int, ids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if reg, err := r.lookup(id); err == nil && reg.attached[pid] > 0 {
			r.unref(reg, pid)
		}
	}
}

func (r *Registry) unref(reg *Region, pid int) {
	reg.refs--
	if reg.attached[pid]--; reg.attached[pid] == 0 {
		delete(reg.attached, pid)
	}
	if reg.refs == 0 {
		r.regions.Remove(arena.Key(reg.ID))
		r.frames.Give(reg.Pages)
		reg.Data = nil
	}
}

// Stat reports a single region.
func (r *Registry) Stat(id int) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return reg.info(), nil
}

// List reports every live region in id order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Info
	r.regions.Each(func(_ arena.Key, reg *Region) bool {
		out = append(out, reg.info())
		return true
	})
	return out
}

func (reg *Region) info() Info {
	att := make(map[int]int, len(reg.attached))
	for k, v := range reg.attached {
		att[k] = v
	}
	return Info{ID: reg.ID, Pages: reg.Pages, Refs: reg.refs, Attached: att}
}
