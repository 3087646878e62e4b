package mem

import (
	"fmt"
	"strings"
)

type Kind int

const (
	// anonymous memory from an explicit map
	Anon Kind = iota
	// anonymous memory placed by the allocator
	Alloc
	// a view of a shared region; Data aliases the region's backing
	Shared
)

func (k Kind) String() string {
	switch k {
	case Anon:
		return "anon"
	case Alloc:
		return "alloc"
	case Shared:
		return "shared"
	}
	return "?"
}

type Page struct {
	Addr uint64
	Size uint64
	Kind Kind
	// shared region id, only meaningful for Kind == Shared
	Region int
	Data   []byte
}

func (p *Page) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, p.Kind)
	if p.Kind == Shared {
		desc += fmt.Sprintf(" [region %d]", p.Region)
	}
	return desc
}

func (p *Page) End() uint64 { return p.Addr + p.Size }

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

func (p *Page) slice(addr, size uint64) *Page {
	o := addr - p.Addr
	return &Page{Addr: addr, Size: size, Kind: p.Kind, Region: p.Region, Data: p.Data[o : o+size : o+size]}
}

/*
// how to split a page //
laddr                      rsize
|      lsize       raddr   |
[------|----page---|-------]
[-left-][---mid---][-right-]
|       |         |        |
|       addr      size     |
paddr                      psize

laddr = paddr
lsize = addr - paddr

raddr = addr + size
rsize = (paddr + psize) - raddr
*/
// Split narrows p to the part inside addr:addr+size and returns the pieces
// that fell off either side. The range must intersect p.
func (p *Page) Split(addr, size uint64) (left, right *Page) {
	addr, size, _ = p.Intersect(addr, size)
	if addr+size < p.Addr+p.Size {
		ra := addr + size
		right = p.slice(ra, p.Addr+p.Size-ra)
	}
	if addr > p.Addr {
		left = p.slice(p.Addr, addr-p.Addr)
	}
	mid := p.slice(addr, size)
	p.Addr, p.Size, p.Data = mid.Addr, mid.Size, mid.Data
	return left, right
}

func (pg *Page) Write(addr uint64, p []byte) int {
	return copy(pg.Data[addr-pg.Addr:], p)
}

type Pages []*Page

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// Size is the total bytes covered.
func (p Pages) Size() uint64 {
	var n uint64
	for _, v := range p {
		n += v.Size
	}
	return n
}
