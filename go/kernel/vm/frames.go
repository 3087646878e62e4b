package vm

import (
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

// Frames accounts physical pages.
type Frames struct {
	mu          deadlock.Mutex
	total, used int
	pageSize    uint64
}

func NewFrames(total int, pageSize uint64) *Frames {
	return &Frames{total: total, pageSize: pageSize}
}

func (f *Frames) Take(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || f.used+n > f.total {
		return errors.Wrapf(errno.OutOfMemory, "want %d pages, %d free", n, f.total-f.used)
	}
	f.used += n
	return nil
}

func (f *Frames) Give(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used -= n
	if f.used < 0 {
		panic("vm: frame accounting underflow")
	}
}

func (f *Frames) Used() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}

func (f *Frames) Total() int { return f.total }

func (f *Frames) PageSize() uint64 { return f.pageSize }

// Bytes returns total and used memory in bytes.
func (f *Frames) Bytes() (total, used uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.total) * f.pageSize, uint64(f.used) * f.pageSize
}
