package kernel

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models"
)

// install puts res in t's table and writes the new id to r. On failure the
// resource reference is dropped.
func (k *Kernel) install(t *sched.Task, r usermem.Range, res handle.Resource, flags handle.OpenFlag) error {
	h := handle.New(res, handle.CapsFor(res.Kind(), flags), flags)
	id, err := t.Handles.Install(h)
	if err != nil {
		res.Close()
		return err
	}
	hid := int32(id)
	if err := usermem.Pack(t.Space, r, &hid); err != nil {
		t.Handles.Close(id)
		return err
	}
	k.Log.Debugf(models.HANDLE, "%s: install %d (%s caps=%#x)", t, id, h.Kind, h.Caps)
	return nil
}

func (k *Kernel) HandleOpen(t *sched.Task, out, p usermem.Ptr, flags handle.OpenFlag) int64 {
	r, err := usermem.CheckStruct(out, new(int32))
	if err != nil {
		return ret(err)
	}
	resolved, err := k.readPath(t, p)
	if err != nil {
		return ret(err)
	}
	res, err := k.FS.Open(resolved, flags)
	if err != nil {
		return ret(err)
	}
	return ret(k.install(t, r, res, flags))
}

func (k *Kernel) HandleClose(t *sched.Task, h Handle) int64 {
	return ret(t.Handles.Close(int(h)))
}

// HandleSelect waits until one of count handles reports one of the events
// requested for it and writes its index to selected. timeout is in ticks;
// 0 or less waits forever.
func (k *Kernel) HandleSelect(t *sched.Task, handles, events usermem.Ptr, count int, selected usermem.Ptr, timeout int64) int64 {
	n := count
	if n < 0 {
		n = 0
	}
	hr, err := usermem.Check(handles, uint64(n)*4)
	if err != nil {
		return ret(err)
	}
	er, err := usermem.Check(events, uint64(n)*4)
	if err != nil {
		return ret(err)
	}
	sr, err := usermem.CheckStruct(selected, new(int32))
	if err != nil {
		return ret(err)
	}
	if count <= 0 || count > k.Config.MaxHandles {
		return ret(errors.Wrapf(errno.InvalidArgument, "select of %d handles", count))
	}
	ids := make([]int32, count)
	want := make([]uint32, count)
	if err := usermem.Unpack(t.Space, hr, ids); err != nil {
		return ret(err)
	}
	if err := usermem.Unpack(t.Space, er, want); err != nil {
		return ret(err)
	}
	hs := make([]*handle.Handle, count)
	for i, id := range ids {
		if hs[i], err = t.Handles.Get(int(id)); err != nil {
			return ret(err)
		}
	}
	idx := -1
	ready := func() bool {
		for i, h := range hs {
			if h.Ready(handle.Events(want[i])) != 0 {
				idx = i
				return true
			}
		}
		return false
	}
	if err := k.park(t, sched.ReasonIO, k.Sched.Deadline(timeout), ready); err != nil {
		return ret(err)
	}
	sel := int32(idx)
	return ret(usermem.Pack(t.Space, sr, &sel))
}

func (k *Kernel) HandleRead(t *sched.Task, hid Handle, buf usermem.Ptr, size usermem.Len, nOut usermem.Ptr) int64 {
	r, err := usermem.Check(buf, uint64(size))
	if err != nil {
		return ret(err)
	}
	nr, err := usermem.CheckStruct(nOut, new(uint64))
	if err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	if size > IOMax {
		size = IOMax
	}
	p := make([]byte, size)
	var n int
	ready := func() bool { return h.Ready(handle.EventRead) != 0 }
	err = k.retry(t, sched.ReasonIO, 0, true, ready, func() (err error) {
		n, err = h.Read(p)
		return err
	})
	if err != nil {
		return ret(err)
	}
	if err := usermem.WriteBytes(t.Space, r, p[:n]); err != nil {
		return ret(err)
	}
	count := uint64(n)
	return ret(usermem.Pack(t.Space, nr, &count))
}

func (k *Kernel) HandleWrite(t *sched.Task, hid Handle, buf usermem.Ptr, size usermem.Len, nOut usermem.Ptr) int64 {
	if size > IOMax {
		size = IOMax
	}
	r, err := usermem.Check(buf, uint64(size))
	if err != nil {
		return ret(err)
	}
	nr, err := usermem.CheckStruct(nOut, new(uint64))
	if err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	p, err := usermem.ReadBytes(t.Space, r)
	if err != nil {
		return ret(err)
	}
	var n int
	ready := func() bool { return h.Ready(handle.EventWrite) != 0 }
	err = k.retry(t, sched.ReasonIO, 0, true, ready, func() (err error) {
		n, err = h.Write(p)
		return err
	})
	if err != nil {
		return ret(err)
	}
	count := uint64(n)
	return ret(usermem.Pack(t.Space, nr, &count))
}

// callArg exposes the argument block of handle_call to a resource.
type callArg struct {
	t   *sched.Task
	ptr usermem.Ptr
}

func (c *callArg) Unpack(v interface{}) error { return usermem.UnpackAt(c.t.Space, c.ptr, v) }
func (c *callArg) Pack(v interface{}) error   { return usermem.PackAt(c.t.Space, c.ptr, v) }

func (k *Kernel) HandleCall(t *sched.Task, hid Handle, request uint32, args usermem.Ptr) int64 {
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	return ret(h.Res.Call(request, &callArg{t: t, ptr: args}))
}

func (k *Kernel) HandleSeek(t *sched.Task, hid Handle, off Off, whence handle.Whence) int64 {
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	_, err = h.Seek(int64(off), whence)
	return ret(err)
}

func (k *Kernel) HandleTell(t *sched.Task, hid Handle, whence handle.Whence, out usermem.Ptr) int64 {
	r, err := usermem.CheckStruct(out, new(int64))
	if err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	pos, err := h.Tell(whence)
	if err != nil {
		return ret(err)
	}
	return ret(usermem.Pack(t.Space, r, &pos))
}

func (k *Kernel) HandleStat(t *sched.Task, hid Handle, out usermem.Ptr) int64 {
	r, err := usermem.CheckStruct(out, &HandleState{})
	if err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	st := &HandleState{Kind: uint32(h.Kind), Caps: uint32(h.Caps), Size: uint64(h.Res.Size())}
	if h.Caps&handle.CapSeek != 0 {
		st.Offset, _ = h.Tell(handle.WhenceSet)
	}
	return ret(usermem.Pack(t.Space, r, st))
}

func (k *Kernel) HandleConnect(t *sched.Task, out, p usermem.Ptr) int64 {
	r, err := usermem.CheckStruct(out, new(int32))
	if err != nil {
		return ret(err)
	}
	resolved, err := k.readPath(t, p)
	if err != nil {
		return ret(err)
	}
	res, err := k.FS.Connect(resolved)
	if err != nil {
		return ret(err)
	}
	return ret(k.install(t, r, res, 0))
}

func (k *Kernel) HandleAccept(t *sched.Task, hid Handle, out usermem.Ptr) int64 {
	r, err := usermem.CheckStruct(out, new(int32))
	if err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	var conn handle.Resource
	ready := func() bool { return h.Ready(handle.EventAccept) != 0 }
	err = k.retry(t, sched.ReasonIO, 0, true, ready, func() (err error) {
		conn, err = h.Accept()
		return err
	})
	if err != nil {
		return ret(err)
	}
	return ret(k.install(t, r, conn, 0))
}

func (k *Kernel) HandleSend(t *sched.Task, hid Handle, msg usermem.Ptr) int64 {
	var env Envelope
	if err := usermem.UnpackAt(t.Space, msg, &env); err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	var data []byte
	if env.Size > 0 {
		pr, err := env.payload()
		if err != nil {
			return ret(err)
		}
		if data, err = usermem.ReadBytes(t.Space, pr); err != nil {
			return ret(err)
		}
	}
	f := handle.Frame{Label: env.Label, Data: data}
	ready := func() bool { return h.Ready(handle.EventWrite) != 0 }
	return ret(k.retry(t, sched.ReasonIO, 0, true, ready, func() error {
		return h.Send(f)
	}))
}

// HandleReceive waits for a message on a connection and writes its label
// and size into msg. The payload stays queued until handle_payload or
// handle_discard.
func (k *Kernel) HandleReceive(t *sched.Task, hid Handle, msg usermem.Ptr) int64 {
	var env Envelope
	r, err := usermem.CheckStruct(msg, &env)
	if err != nil {
		return ret(err)
	}
	if err := usermem.Unpack(t.Space, r, &env); err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	var f handle.Frame
	ready := func() bool { return h.Ready(handle.EventRead) != 0 }
	err = k.retry(t, sched.ReasonIO, 0, true, ready, func() (err error) {
		f, err = h.Peek()
		return err
	})
	if err != nil {
		return ret(err)
	}
	env.Label = f.Label
	env.Size = uint32(len(f.Data))
	return ret(usermem.Pack(t.Space, r, &env))
}

// HandlePayload copies the head message of a connection into the buffer
// described by msg and removes it from the queue. A buffer too small for
// the payload fails with InvalidArgument and leaves the message queued.
func (k *Kernel) HandlePayload(t *sched.Task, hid Handle, msg usermem.Ptr) int64 {
	var env Envelope
	r, err := usermem.CheckStruct(msg, &env)
	if err != nil {
		return ret(err)
	}
	if err := usermem.Unpack(t.Space, r, &env); err != nil {
		return ret(err)
	}
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	f, err := h.Peek()
	if err != nil {
		return ret(err)
	}
	if len(f.Data) > int(env.Size) {
		return ret(errors.Wrapf(errno.InvalidArgument, "payload of %d bytes into %d", len(f.Data), env.Size))
	}
	if len(f.Data) > 0 {
		pr, err := env.payload()
		if err != nil {
			return ret(err)
		}
		if err := usermem.WriteBytes(t.Space, pr, f.Data); err != nil {
			return ret(err)
		}
	}
	if _, err := h.Take(); err != nil {
		return ret(err)
	}
	env.Label = f.Label
	env.Size = uint32(len(f.Data))
	return ret(usermem.Pack(t.Space, r, &env))
}

func (k *Kernel) HandleDiscard(t *sched.Task, hid Handle) int64 {
	h, err := t.Handles.Get(int(hid))
	if err != nil {
		return ret(err)
	}
	return ret(h.Discard())
}
