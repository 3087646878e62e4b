package memfs

import (
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
)

type socketNode struct {
	listeners int
	backlog   []*endpoint
}

func (s *socketNode) kind() handle.Kind { return handle.KindSocket }
func (s *socketNode) size() int64       { return int64(len(s.backlog)) }

type listenerRes struct {
	handle.Base
	fs   *FS
	node *socketNode
	refs int
}

func (r *listenerRes) Kind() handle.Kind { return handle.KindSocket }

func (r *listenerRes) Accept() (handle.Resource, error) {
	r.fs.mu.Lock()
	if len(r.node.backlog) == 0 {
		r.fs.mu.Unlock()
		return nil, errno.WouldBlock
	}
	conn := r.node.backlog[0]
	r.node.backlog = r.node.backlog[1:]
	r.fs.mu.Unlock()
	return conn, nil
}

func (r *listenerRes) Poll() handle.Events {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	if len(r.node.backlog) > 0 {
		return handle.EventAccept
	}
	return 0
}

func (r *listenerRes) Ref() {
	r.fs.mu.Lock()
	r.refs++
	r.fs.mu.Unlock()
}

// Close refuses pending connections once the last listener is gone.
func (r *listenerRes) Close() error {
	r.fs.mu.Lock()
	r.refs--
	var pending []*endpoint
	if r.refs == 0 {
		if r.node.listeners--; r.node.listeners == 0 {
			pending, r.node.backlog = r.node.backlog, nil
		}
	}
	r.fs.mu.Unlock()
	for _, ep := range pending {
		ep.Close()
	}
	return nil
}

// endpoint is one side of a connection. Frames sent on one side queue in
// the other side's inbox.
type endpoint struct {
	handle.Base
	fs     *FS
	peer   *endpoint
	inbox  []handle.Frame
	refs   int
	closed bool
}

func newConnPair(fs *FS) (client, server *endpoint) {
	client = &endpoint{fs: fs, refs: 1}
	server = &endpoint{fs: fs, refs: 1}
	client.peer, server.peer = server, client
	return client, server
}

func (e *endpoint) Kind() handle.Kind { return handle.KindConnection }

func (e *endpoint) Size() int64 {
	e.fs.mu.Lock()
	defer e.fs.mu.Unlock()
	return int64(len(e.inbox))
}

func (e *endpoint) Send(f handle.Frame) error {
	e.fs.mu.Lock()
	if e.peer.closed {
		e.fs.mu.Unlock()
		return errno.BrokenPipe
	}
	if len(e.peer.inbox) >= ConnFrames {
		e.fs.mu.Unlock()
		return errno.WouldBlock
	}
	data := append([]byte(nil), f.Data...)
	e.peer.inbox = append(e.peer.inbox, handle.Frame{Label: f.Label, Data: data})
	e.fs.mu.Unlock()
	e.fs.changed()
	return nil
}

// head is called with fs.mu held.
func (e *endpoint) head() (handle.Frame, error) {
	if len(e.inbox) > 0 {
		return e.inbox[0], nil
	}
	if e.peer.closed {
		return handle.Frame{}, errno.BrokenPipe
	}
	return handle.Frame{}, errno.WouldBlock
}

func (e *endpoint) Peek() (handle.Frame, error) {
	e.fs.mu.Lock()
	defer e.fs.mu.Unlock()
	return e.head()
}

func (e *endpoint) Take() (handle.Frame, error) {
	e.fs.mu.Lock()
	f, err := e.head()
	if err == nil {
		e.inbox = e.inbox[1:]
	}
	e.fs.mu.Unlock()
	if err == nil {
		e.fs.changed()
	}
	return f, err
}

func (e *endpoint) Discard() error {
	e.fs.mu.Lock()
	if len(e.inbox) == 0 {
		e.fs.mu.Unlock()
		return errno.InvalidState
	}
	e.inbox = e.inbox[1:]
	e.fs.mu.Unlock()
	e.fs.changed()
	return nil
}

func (e *endpoint) Poll() handle.Events {
	e.fs.mu.Lock()
	defer e.fs.mu.Unlock()
	var ev handle.Events
	if len(e.inbox) > 0 || e.peer.closed {
		ev |= handle.EventRead
	}
	if e.peer.closed || len(e.peer.inbox) < ConnFrames {
		ev |= handle.EventWrite
	}
	return ev
}

func (e *endpoint) Ref() {
	e.fs.mu.Lock()
	e.refs++
	e.fs.mu.Unlock()
}

func (e *endpoint) Close() error {
	e.fs.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last {
		e.closed = true
		e.inbox = nil
	}
	e.fs.mu.Unlock()
	if last {
		e.fs.changed()
	}
	return nil
}
