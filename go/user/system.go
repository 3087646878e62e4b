package user

import (
	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/sys"
)

func (p *Proc) SystemInfo() (*kernel.SystemInfo, error) {
	info := &kernel.SystemInfo{}
	f := p.frame()
	out := f.reserve(info)
	if f.err != nil {
		return nil, f.err
	}
	if err := result(p.Syscall(sys.SystemGetInfo, out)); err != nil {
		return nil, err
	}
	return info, f.get(out, info)
}

func (p *Proc) SystemStatus() (*kernel.SystemStatus, error) {
	st := &kernel.SystemStatus{}
	f := p.frame()
	out := f.reserve(st)
	if f.err != nil {
		return nil, f.err
	}
	if err := result(p.Syscall(sys.SystemGetStatus, out)); err != nil {
		return nil, err
	}
	return st, f.get(out, st)
}

// Time is the wall clock in unix seconds.
func (p *Proc) Time() (uint64, error) {
	var now uint64
	f := p.frame()
	out := f.reserve(&now)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.SystemGetTime, out)); err != nil {
		return 0, err
	}
	return now, f.get(out, &now)
}

func (p *Proc) Ticks() uint64 {
	return uint64(p.Syscall(sys.SystemGetTicks))
}
