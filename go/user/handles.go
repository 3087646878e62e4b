package user

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/sys"
)

func (p *Proc) pathCall(id sys.Syscall, paths ...string) error {
	f := p.frame()
	args := make([]uint64, len(paths))
	for i, s := range paths {
		args[i] = f.str(s)
	}
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(id, args...))
}

func (p *Proc) Mkdir(dir string) error   { return p.pathCall(sys.FsMkdir, dir) }
func (p *Proc) Mkpipe(name string) error { return p.pathCall(sys.FsMkpipe, name) }
func (p *Proc) Unlink(name string) error { return p.pathCall(sys.FsUnlink, name) }

func (p *Proc) Link(oldPath, newPath string) error {
	return p.pathCall(sys.FsLink, oldPath, newPath)
}

func (p *Proc) Rename(oldPath, newPath string) error {
	return p.pathCall(sys.FsRename, oldPath, newPath)
}

// openCall runs a syscall that writes a new handle id through its first
// argument.
func (p *Proc) openCall(id sys.Syscall, f *frame, args ...uint64) (int, error) {
	var h int32
	out := f.reserve(&h)
	if f.err != nil {
		return -1, f.err
	}
	if err := result(p.Syscall(id, append([]uint64{out}, args...)...)); err != nil {
		return -1, err
	}
	if err := f.get(out, &h); err != nil {
		return -1, err
	}
	return int(h), nil
}

func (p *Proc) Open(name string, flags handle.OpenFlag) (int, error) {
	f := p.frame()
	addr := f.str(name)
	return p.openCall(sys.HandleOpen, f, addr, uint64(flags))
}

func (p *Proc) Connect(name string) (int, error) {
	f := p.frame()
	addr := f.str(name)
	return p.openCall(sys.HandleConnect, f, addr)
}

func (p *Proc) Accept(h int) (int, error) {
	var id int32
	f := p.frame()
	out := f.reserve(&id)
	if f.err != nil {
		return -1, f.err
	}
	if err := result(p.Syscall(sys.HandleAccept, uint64(h), out)); err != nil {
		return -1, err
	}
	if err := f.get(out, &id); err != nil {
		return -1, err
	}
	return int(id), nil
}

func (p *Proc) Close(h int) error {
	return result(p.Syscall(sys.HandleClose, uint64(h)))
}

// Select waits until handles[i] reports one of events[i] and returns i.
// timeout is in ticks; 0 waits forever.
func (p *Proc) Select(handles []int, events []handle.Events, timeout int64) (int, error) {
	if len(handles) != len(events) {
		return -1, errors.Wrap(errno.InvalidArgument, "handles and events differ in length")
	}
	ids := make([]int32, len(handles))
	want := make([]uint32, len(events))
	for i := range handles {
		ids[i] = int32(handles[i])
		want[i] = uint32(events[i])
	}
	var sel int32
	f := p.frame()
	ha := f.put(ids)
	ea := f.put(want)
	out := f.reserve(&sel)
	if f.err != nil {
		return -1, f.err
	}
	if err := result(p.Syscall(sys.HandleSelect, ha, ea, uint64(len(handles)), out, uint64(timeout))); err != nil {
		return -1, err
	}
	if err := f.get(out, &sel); err != nil {
		return -1, err
	}
	return int(sel), nil
}

func (p *Proc) Read(h int, b []byte) (int, error) {
	var n uint64
	f := p.frame()
	buf := f.alloc(uint64(len(b)))
	out := f.reserve(&n)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.HandleRead, uint64(h), buf, uint64(len(b)), out)); err != nil {
		return 0, err
	}
	if err := f.get(out, &n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	data, err := p.Load(buf, int(n))
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (p *Proc) Write(h int, b []byte) (int, error) {
	var n uint64
	f := p.frame()
	buf := f.bytes(b)
	out := f.reserve(&n)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.HandleWrite, uint64(h), buf, uint64(len(b)), out)); err != nil {
		return 0, err
	}
	err := f.get(out, &n)
	return int(n), err
}

// Call passes arg to a resource request and reads it back afterwards.
func (p *Proc) Call(h int, req uint32, arg interface{}) error {
	f := p.frame()
	addr := f.put(arg)
	if f.err != nil {
		return f.err
	}
	if err := result(p.Syscall(sys.HandleCall, uint64(h), uint64(req), addr)); err != nil {
		return err
	}
	return f.get(addr, arg)
}

func (p *Proc) Seek(h int, off int64, whence handle.Whence) error {
	return result(p.Syscall(sys.HandleSeek, uint64(h), uint64(off), uint64(whence)))
}

func (p *Proc) Tell(h int, whence handle.Whence) (int64, error) {
	var pos int64
	f := p.frame()
	out := f.reserve(&pos)
	if f.err != nil {
		return 0, f.err
	}
	if err := result(p.Syscall(sys.HandleTell, uint64(h), uint64(whence), out)); err != nil {
		return 0, err
	}
	err := f.get(out, &pos)
	return pos, err
}

func (p *Proc) Stat(h int) (*kernel.HandleState, error) {
	st := &kernel.HandleState{}
	f := p.frame()
	out := f.reserve(st)
	if f.err != nil {
		return nil, f.err
	}
	if err := result(p.Syscall(sys.HandleStat, uint64(h), out)); err != nil {
		return nil, err
	}
	if err := f.get(out, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SendFrame queues a message on a connection.
func (p *Proc) SendFrame(h int, label uint32, data []byte) error {
	f := p.frame()
	env := &kernel.Envelope{Label: label, Size: uint32(len(data))}
	if len(data) > 0 {
		env.Data = f.bytes(data)
	}
	addr := f.put(env)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.HandleSend, uint64(h), addr))
}

// PeekFrame waits for a message and returns its label and size, leaving
// it queued.
func (p *Proc) PeekFrame(h int) (uint32, int, error) {
	env := &kernel.Envelope{}
	f := p.frame()
	addr := f.put(env)
	if f.err != nil {
		return 0, 0, f.err
	}
	if err := result(p.Syscall(sys.HandleReceive, uint64(h), addr)); err != nil {
		return 0, 0, err
	}
	if err := f.get(addr, env); err != nil {
		return 0, 0, err
	}
	return env.Label, int(env.Size), nil
}

// ReceiveFrame waits for a message and takes it off the connection.
func (p *Proc) ReceiveFrame(h int) (handle.Frame, error) {
	_, size, err := p.PeekFrame(h)
	if err != nil {
		return handle.Frame{}, err
	}
	f := p.frame()
	env := &kernel.Envelope{Size: uint32(size)}
	if size > 0 {
		env.Data = f.alloc(uint64(size))
	}
	addr := f.put(env)
	if f.err != nil {
		return handle.Frame{}, f.err
	}
	if err := result(p.Syscall(sys.HandlePayload, uint64(h), addr)); err != nil {
		return handle.Frame{}, err
	}
	if err := f.get(addr, env); err != nil {
		return handle.Frame{}, err
	}
	fr := handle.Frame{Label: env.Label}
	if env.Size > 0 {
		if fr.Data, err = p.Load(env.Data, int(env.Size)); err != nil {
			return handle.Frame{}, err
		}
	}
	return fr, nil
}

// Discard drops the head message of a connection.
func (p *Proc) Discard(h int) error {
	return result(p.Syscall(sys.HandleDiscard, uint64(h)))
}
