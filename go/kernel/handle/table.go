package handle

import (
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/arena"
	"github.com/lunixbochs/ukern/go/kernel/errno"
)

type Handle struct {
	Kind  Kind
	Caps  Caps
	Flags OpenFlag
	Res   Resource

	mu     deadlock.Mutex
	offset int64
}

func New(res Resource, caps Caps, flags OpenFlag) *Handle {
	return &Handle{Kind: res.Kind(), Caps: caps, Flags: flags, Res: res}
}

// CapsFor derives capabilities from the resource kind and open flags.
func CapsFor(kind Kind, flags OpenFlag) Caps {
	var caps Caps
	switch kind {
	case KindFile:
		caps = CapSeek
		if flags&OpenRead != 0 || flags&(OpenRead|OpenWrite) == 0 {
			caps |= CapRead
		}
		if flags&OpenWrite != 0 {
			caps |= CapWrite
		}
	case KindDirectory:
		caps = CapRead | CapSeek
	case KindPipe:
		if flags&OpenRead != 0 || flags&(OpenRead|OpenWrite) == 0 {
			caps |= CapRead
		}
		if flags&OpenWrite != 0 {
			caps |= CapWrite
		}
	case KindSocket:
		caps = CapAccept
	case KindConnection:
		caps = CapMessage
	}
	return caps
}

func (h *Handle) need(c Caps) error {
	if h.Caps&c != c {
		return errors.Wrapf(errno.Unsupported, "%s handle lacks capability %#x", h.Kind, c)
	}
	return nil
}

func (h *Handle) Read(p []byte) (int, error) {
	if err := h.need(CapRead); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.Res.Read(p, h.offset)
	if h.Caps&CapSeek != 0 {
		h.offset += int64(n)
	}
	return n, err
}

func (h *Handle) Write(p []byte) (int, error) {
	if err := h.need(CapWrite); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Flags&OpenAppend != 0 {
		h.offset = h.Res.Size()
	}
	n, err := h.Res.Write(p, h.offset)
	if h.Caps&CapSeek != 0 {
		h.offset += int64(n)
	}
	return n, err
}

func (h *Handle) Seek(off int64, whence Whence) (int64, error) {
	if err := h.need(CapSeek); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var pos int64
	switch whence {
	case WhenceSet:
		pos = off
	case WhenceCurrent:
		pos = h.offset + off
	case WhenceEnd:
		pos = h.Res.Size() + off
	default:
		return 0, errno.InvalidArgument
	}
	if pos < 0 {
		return 0, errno.InvalidArgument
	}
	h.offset = pos
	return pos, nil
}

// Tell reports the cursor relative to whence.
func (h *Handle) Tell(whence Whence) (int64, error) {
	if err := h.need(CapSeek); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch whence {
	case WhenceSet:
		return h.offset, nil
	case WhenceCurrent:
		return 0, nil
	case WhenceEnd:
		return h.offset - h.Res.Size(), nil
	}
	return 0, errno.InvalidArgument
}

func (h *Handle) Accept() (Resource, error) {
	if err := h.need(CapAccept); err != nil {
		return nil, err
	}
	return h.Res.Accept()
}

func (h *Handle) Send(f Frame) error {
	if err := h.need(CapMessage); err != nil {
		return err
	}
	return h.Res.Send(f)
}

func (h *Handle) Peek() (Frame, error) {
	if err := h.need(CapMessage); err != nil {
		return Frame{}, err
	}
	return h.Res.Peek()
}

func (h *Handle) Take() (Frame, error) {
	if err := h.need(CapMessage); err != nil {
		return Frame{}, err
	}
	return h.Res.Take()
}

func (h *Handle) Discard() error {
	if err := h.need(CapMessage); err != nil {
		return err
	}
	return h.Res.Discard()
}

// Ready masks the resource's current events with what the handle may do.
func (h *Handle) Ready(want Events) Events {
	ev := h.Res.Poll() & want
	if h.Caps&CapRead == 0 && h.Caps&CapMessage == 0 {
		ev &^= EventRead
	}
	if h.Caps&CapWrite == 0 && h.Caps&CapMessage == 0 {
		ev &^= EventWrite
	}
	if h.Caps&CapAccept == 0 {
		ev &^= EventAccept
	}
	return ev
}

// Table maps small integer handle ids to handles for one task.
type Table struct {
	mu      deadlock.Mutex
	handles *arena.Arena[*Handle]
}

func NewTable(limit int) *Table {
	return &Table{handles: arena.New[*Handle](limit)}
}

func (t *Table) Install(h *Handle) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, err := t.handles.Insert(h)
	if err != nil {
		return -1, err
	}
	return int(key), nil
}

func (t *Table) Get(id int) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handles.Get(arena.Key(id)); ok {
		return h, nil
	}
	return nil, errors.Wrapf(errno.NotFound, "handle %d", id)
}

// Close removes id and drops its reference on the resource.
func (t *Table) Close(id int) error {
	t.mu.Lock()
	h, ok := t.handles.Remove(arena.Key(id))
	t.mu.Unlock()
	if !ok {
		return errors.Wrapf(errno.NotFound, "handle %d", id)
	}
	return h.Res.Close()
}

// Dup copies handle id from src into t, sharing the resource.
func (t *Table) Dup(src *Table, id int) (int, error) {
	h, err := src.Get(id)
	if err != nil {
		return -1, err
	}
	h.Res.Ref()
	nh := New(h.Res, h.Caps, h.Flags)
	nid, err := t.Install(nh)
	if err != nil {
		h.Res.Close()
		return -1, err
	}
	return nid, nil
}

// CloseAll closes every handle.
func (t *Table) CloseAll() {
	t.mu.Lock()
	var all []*Handle
	var keys []arena.Key
	t.handles.Each(func(k arena.Key, h *Handle) bool {
		keys = append(keys, k)
		all = append(all, h)
		return true
	})
	for _, k := range keys {
		t.handles.Remove(k)
	}
	t.mu.Unlock()
	for _, h := range all {
		h.Res.Close()
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles.Len()
}

func (t *Table) Limit() int { return t.handles.Cap() }

// Each visits handles in id order.
func (t *Table) Each(fn func(id int, h *Handle) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles.Each(func(k arena.Key, h *Handle) bool {
		return fn(int(k), h)
	})
}
