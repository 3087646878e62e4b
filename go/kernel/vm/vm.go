package vm

import (
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models/mem"
)

// Layout fixes where user mappings may live.
type Layout struct {
	PageSize  uint64
	AllocBase uint64
	UserTop   uint64
}

// AddressSpace is a task's view of user memory. All operations are all or
// nothing: on error the mapping set is unchanged.
type AddressSpace struct {
	mu     deadlock.Mutex
	sim    *mem.MemSim
	frames *Frames
	layout Layout
	dead   bool
}

func New(frames *Frames, layout Layout) *AddressSpace {
	return &AddressSpace{sim: mem.NewMemSim(), frames: frames, layout: layout}
}

func (as *AddressSpace) Layout() Layout { return as.layout }

func (as *AddressSpace) span(addr uint64, count int) (uint64, error) {
	if count <= 0 || addr%as.layout.PageSize != 0 {
		return 0, errno.InvalidArgument
	}
	size := uint64(count) * as.layout.PageSize
	if size/as.layout.PageSize != uint64(count) {
		return 0, errno.InvalidArgument
	}
	if !usermem.Validate(addr, size) || addr+size > as.layout.UserTop {
		return 0, errno.BadAddress
	}
	return size, nil
}

func (as *AddressSpace) pages(size uint64) int {
	return int(size / as.layout.PageSize)
}

// Map installs count fresh pages at addr.
func (as *AddressSpace) Map(addr uint64, count int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapLocked(addr, count, mem.Anon)
}

func (as *AddressSpace) mapLocked(addr uint64, count int, kind mem.Kind) error {
	size, err := as.span(addr, count)
	if err != nil {
		return err
	}
	if as.dead {
		return errno.InvalidState
	}
	if as.sim.Overlaps(addr, size) {
		return errors.Wrapf(errno.InvalidState, "map %#x+%#x overlaps", addr, size)
	}
	if err := as.frames.Take(count); err != nil {
		return err
	}
	if _, err := as.sim.Map(addr, size, kind, 0, nil); err != nil {
		as.frames.Give(count)
		return errors.Wrap(errno.InvalidState, err.Error())
	}
	return nil
}

// Unmap removes a fully mapped anonymous range.
func (as *AddressSpace) Unmap(addr uint64, count int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.unmapLocked(addr, count, func(p *mem.Page) bool { return p.Kind != mem.Shared })
}

// Free returns pages obtained from Alloc.
func (as *AddressSpace) Free(addr uint64, count int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.unmapLocked(addr, count, func(p *mem.Page) bool { return p.Kind == mem.Alloc })
}

func (as *AddressSpace) unmapLocked(addr uint64, count int, allowed func(*mem.Page) bool) error {
	size, err := as.span(addr, count)
	if err != nil {
		return err
	}
	if !as.sim.RangeValid(addr, size) {
		return errors.Wrapf(errno.InvalidState, "%#x+%#x not fully mapped", addr, size)
	}
	for _, p := range as.sim.FindRange(addr, size) {
		if !allowed(p) {
			return errors.Wrapf(errno.InvalidState, "%#x+%#x touches %s mapping", addr, size, p.Kind)
		}
	}
	removed := as.sim.Unmap(addr, size)
	as.frames.Give(as.pages(removed.Size()))
	return nil
}

// Alloc maps count pages at the lowest free address above the alloc base.
func (as *AddressSpace) Alloc(count int) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if count <= 0 {
		return 0, errno.InvalidArgument
	}
	size := uint64(count) * as.layout.PageSize
	addr, ok := as.sim.FindHole(as.layout.AllocBase, as.layout.UserTop, size)
	if !ok {
		return 0, errors.Wrapf(errno.OutOfMemory, "no hole for %d pages", count)
	}
	if err := as.mapLocked(addr, count, mem.Alloc); err != nil {
		return 0, err
	}
	return addr, nil
}

// AttachShared maps a view of a shared region. The region owns the backing
// pages, so no frames are taken here.
func (as *AddressSpace) AttachShared(region int, data []byte) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.dead {
		return 0, errno.InvalidState
	}
	size := uint64(len(data))
	addr, ok := as.sim.FindHole(as.layout.AllocBase, as.layout.UserTop, size)
	if !ok {
		return 0, errors.Wrapf(errno.OutOfMemory, "no hole for region %d", region)
	}
	if _, err := as.sim.Map(addr, size, mem.Shared, region, data); err != nil {
		return 0, errors.Wrap(errno.InvalidState, err.Error())
	}
	return addr, nil
}

// DetachShared removes the lowest attachment of region.
func (as *AddressSpace) DetachShared(region int) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	var found *mem.Page
	as.sim.Each(func(p *mem.Page) bool {
		if p.Kind == mem.Shared && p.Region == region {
			found = p
			return false
		}
		return true
	})
	if found == nil {
		return 0, errors.Wrapf(errno.InvalidState, "region %d not attached", region)
	}
	addr := found.Addr
	as.sim.Unmap(found.Addr, found.Size)
	return addr, nil
}

// Attached counts the views of region in this address space.
func (as *AddressSpace) Attached(region int) int {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := 0
	as.sim.Each(func(p *mem.Page) bool {
		if p.Kind == mem.Shared && p.Region == region {
			n++
		}
		return true
	})
	return n
}

// Destroy drops every mapping and returns the shared region ids that were
// attached, once per attachment, so the caller can release them.
func (as *AddressSpace) Destroy() []int {
	as.mu.Lock()
	defer as.mu.Unlock()
	var regions []int
	for _, p := range as.sim.Clear() {
		if p.Kind == mem.Shared {
			regions = append(regions, p.Region)
		} else {
			as.frames.Give(as.pages(p.Size))
		}
	}
	as.dead = true
	return regions
}

func (as *AddressSpace) ReadRange(r usermem.Range) ([]byte, error) {
	if !r.Valid() {
		return nil, errno.BadAddress
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	p := make([]byte, r.Size())
	if err := as.sim.Read(r.Addr(), p); err != nil {
		return nil, errors.Wrap(errno.BadAddress, err.Error())
	}
	return p, nil
}

func (as *AddressSpace) WriteRange(r usermem.Range, p []byte) error {
	if !r.Valid() {
		return errno.BadAddress
	}
	if uint64(len(p)) > r.Size() {
		p = p[:r.Size()]
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.sim.Write(r.Addr(), p); err != nil {
		return errors.Wrap(errno.BadAddress, err.Error())
	}
	return nil
}

// Mappings is a snapshot of the mapping list.
func (as *AddressSpace) Mappings() mem.Pages {
	as.mu.Lock()
	defer as.mu.Unlock()
	pages := as.sim.Pages()
	out := make(mem.Pages, len(pages))
	for i, p := range pages {
		cp := *p
		cp.Data = nil
		out[i] = &cp
	}
	return out
}

// Resident counts private pages.
func (as *AddressSpace) Resident() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := 0
	as.sim.Each(func(p *mem.Page) bool {
		if p.Kind != mem.Shared {
			n += as.pages(p.Size)
		}
		return true
	})
	return n
}
