package memfs

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
)

// ring is a fixed-size byte FIFO.
type ring struct {
	buf  []byte
	head int
	n    int
}

func (r *ring) free() int { return len(r.buf) - r.n }

func (r *ring) write(p []byte) int {
	written := 0
	for len(p) > 0 && r.n < len(r.buf) {
		tail := (r.head + r.n) % len(r.buf)
		end := len(r.buf)
		if tail < r.head {
			end = r.head
		}
		c := copy(r.buf[tail:end], p)
		r.n += c
		p = p[c:]
		written += c
	}
	return written
}

func (r *ring) read(p []byte) int {
	read := 0
	for len(p) > 0 && r.n > 0 {
		end := r.head + r.n
		if end > len(r.buf) {
			end = len(r.buf)
		}
		c := copy(p, r.buf[r.head:end])
		r.head = (r.head + c) % len(r.buf)
		r.n -= c
		p = p[c:]
		read += c
	}
	return read
}

type pipeNode struct {
	ring
	readers, writers int
}

func newPipe() *pipeNode {
	return &pipeNode{ring: ring{buf: make([]byte, PipeSize)}}
}

func (p *pipeNode) kind() handle.Kind { return handle.KindPipe }
func (p *pipeNode) size() int64       { return int64(p.n) }

// open is called with fs.mu held.
func (p *pipeNode) open(fs *FS, flags handle.OpenFlag) *pipeRes {
	res := &pipeRes{fs: fs, node: p, refs: 1}
	res.reader = flags&handle.OpenRead != 0 || flags&(handle.OpenRead|handle.OpenWrite) == 0
	res.writer = flags&handle.OpenWrite != 0
	if res.reader {
		p.readers++
	}
	if res.writer {
		p.writers++
	}
	return res
}

type pipeRes struct {
	handle.Base
	fs             *FS
	node           *pipeNode
	reader, writer bool
	refs           int
}

func (r *pipeRes) Kind() handle.Kind { return handle.KindPipe }

func (r *pipeRes) Size() int64 {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	return int64(r.node.n)
}

// Read returns 0 at end of stream, when no writer is left.
func (r *pipeRes) Read(p []byte, off int64) (int, error) {
	r.fs.mu.Lock()
	if r.node.n == 0 {
		writers := r.node.writers
		r.fs.mu.Unlock()
		if writers == 0 {
			return 0, nil
		}
		return 0, errno.WouldBlock
	}
	n := r.node.read(p)
	r.fs.mu.Unlock()
	r.fs.changed()
	return n, nil
}

func (r *pipeRes) Write(p []byte, off int64) (int, error) {
	r.fs.mu.Lock()
	if r.node.readers == 0 {
		r.fs.mu.Unlock()
		return 0, errno.BrokenPipe
	}
	if r.node.free() == 0 {
		r.fs.mu.Unlock()
		return 0, errno.WouldBlock
	}
	n := r.node.write(p)
	r.fs.mu.Unlock()
	r.fs.changed()
	return n, nil
}

func (r *pipeRes) Call(req uint32, arg handle.CallArg) error {
	switch req {
	case handle.CallAvailable:
		avail := uint32(r.Size())
		return arg.Pack(&avail)
	}
	return errors.Wrapf(errno.Unsupported, "pipe call %d", req)
}

func (r *pipeRes) Poll() handle.Events {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	var ev handle.Events
	if r.node.n > 0 || r.node.writers == 0 {
		ev |= handle.EventRead
	}
	if r.node.free() > 0 || r.node.readers == 0 {
		ev |= handle.EventWrite
	}
	return ev
}

func (r *pipeRes) Ref() {
	r.fs.mu.Lock()
	r.refs++
	r.fs.mu.Unlock()
}

func (r *pipeRes) Close() error {
	r.fs.mu.Lock()
	r.refs--
	last := r.refs == 0
	if last {
		if r.reader {
			r.node.readers--
		}
		if r.writer {
			r.node.writers--
		}
	}
	r.fs.mu.Unlock()
	if last {
		r.fs.changed()
	}
	return nil
}
