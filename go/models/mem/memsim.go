package mem

import (
	"fmt"

	"github.com/google/btree"
)

const (
	MEM_READ_UNMAPPED  = 19
	MEM_WRITE_UNMAPPED = 20
	MEM_OVERLAP        = 32
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_OVERLAP:
		reason = "overlapping map"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

func pageLess(a, b *Page) bool { return a.Addr < b.Addr }

// MemSim is a sparse simulated address space. Mappings never overlap.
// It does no locking of its own.
type MemSim struct {
	tree *btree.BTreeG[*Page]
}

func NewMemSim() *MemSim {
	return &MemSim{tree: btree.NewG[*Page](16, pageLess)}
}

// Find returns the page containing addr, if any.
func (m *MemSim) Find(addr uint64) *Page {
	var found *Page
	m.tree.DescendLessOrEqual(&Page{Addr: addr}, func(p *Page) bool {
		if p.Contains(addr) {
			found = p
		}
		return false
	})
	return found
}

// FindRange returns every page intersecting addr:addr+size, in address order.
func (m *MemSim) FindRange(addr, size uint64) Pages {
	var out Pages
	if p := m.Find(addr); p != nil {
		out = append(out, p)
	}
	end := addr + size
	m.tree.AscendGreaterOrEqual(&Page{Addr: addr + 1}, func(p *Page) bool {
		if p.Addr >= end {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

// RangeValid checks whether addr:addr+size is fully mapped.
func (m *MemSim) RangeValid(addr, size uint64) bool {
	end := addr + size
	if size == 0 {
		return m.Find(addr) != nil
	}
	for _, p := range m.FindRange(addr, size) {
		if !p.Contains(addr) {
			return false
		}
		addr = p.End()
		if addr >= end {
			return true
		}
	}
	return false
}

func (m *MemSim) Overlaps(addr, size uint64) bool {
	return len(m.FindRange(addr, size)) > 0
}

// Map inserts a new mapping. A nil data slice gets fresh zeroed memory.
func (m *MemSim) Map(addr, size uint64, kind Kind, region int, data []byte) (*Page, error) {
	if m.Overlaps(addr, size) {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: MEM_OVERLAP}
	}
	if data == nil {
		data = make([]byte, size)
	}
	page := &Page{Addr: addr, Size: size, Kind: kind, Region: region, Data: data[:size:size]}
	m.tree.ReplaceOrInsert(page)
	return page, nil
}

// Unmap removes addr:addr+size, splitting pages that straddle either edge,
// and returns the removed pieces.
func (m *MemSim) Unmap(addr, size uint64) Pages {
	var removed Pages
	for _, p := range m.FindRange(addr, size) {
		m.tree.Delete(p)
		left, right := p.Split(addr, size)
		if left != nil {
			m.tree.ReplaceOrInsert(left)
		}
		if right != nil {
			m.tree.ReplaceOrInsert(right)
		}
		removed = append(removed, p)
	}
	return removed
}

// FindHole returns the lowest address in lo:hi with size free bytes.
func (m *MemSim) FindHole(lo, hi, size uint64) (uint64, bool) {
	cand := lo
	if p := m.Find(lo); p != nil {
		cand = p.End()
	}
	m.tree.AscendGreaterOrEqual(&Page{Addr: cand}, func(p *Page) bool {
		if p.Addr >= cand+size {
			return false
		}
		cand = p.End()
		return cand < hi
	})
	if cand < lo || cand+size < cand || cand+size > hi {
		return 0, false
	}
	return cand, true
}

func (m *MemSim) Read(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	}
	for _, mm := range m.FindRange(addr, uint64(len(p))) {
		if len(p) == 0 {
			break
		}
		n := copy(p, mm.Data[addr-mm.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	}
	for _, mm := range m.FindRange(addr, uint64(len(p))) {
		if len(p) == 0 {
			break
		}
		n := mm.Write(addr, p)
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

// Each visits mappings in address order.
func (m *MemSim) Each(fn func(*Page) bool) {
	m.tree.Ascend(fn)
}

func (m *MemSim) Pages() Pages {
	out := make(Pages, 0, m.tree.Len())
	m.tree.Ascend(func(p *Page) bool {
		out = append(out, p)
		return true
	})
	return out
}

func (m *MemSim) Len() int { return m.tree.Len() }

func (m *MemSim) Clear() Pages {
	out := m.Pages()
	m.tree.Clear(false)
	return out
}
