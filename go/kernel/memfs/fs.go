// Package memfs is an in-memory filesystem serving files, directories,
// named pipes and sockets to the kernel's handle layer.
package memfs

import (
	"path"
	"sort"
	"strings"

	"github.com/fvbommel/sortorder"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
)

const (
	PipeSize    = 4096
	ConnBacklog = 16
	ConnFrames  = 64
)

type node interface {
	kind() handle.Kind
	size() int64
}

type dirNode struct {
	children map[string]node
}

func (d *dirNode) kind() handle.Kind { return handle.KindDirectory }
func (d *dirNode) size() int64       { return int64(len(d.children)) }

func (d *dirNode) names() []string {
	out := make([]string, 0, len(d.children))
	for name := range d.children {
		out = append(out, name)
	}
	sort.Sort(sortorder.Natural(out))
	return out
}

type fileNode struct {
	data []byte
}

func (f *fileNode) kind() handle.Kind { return handle.KindFile }
func (f *fileNode) size() int64       { return int64(len(f.data)) }

// Info describes a path.
type Info struct {
	Kind handle.Kind
	Size int64
}

// Entry is a directory listing record.
type Entry struct {
	Name string
	Info
}

// FS is safe for concurrent use. Notify, if set, is called after any pipe,
// socket or connection changes state so blocked readers can retry.
type FS struct {
	mu     deadlock.Mutex
	root   *dirNode
	notify func()
}

func New() *FS {
	return &FS{root: &dirNode{children: make(map[string]node)}}
}

func (fs *FS) SetNotify(fn func()) {
	fs.mu.Lock()
	fs.notify = fn
	fs.mu.Unlock()
}

// changed must be called without fs.mu held.
func (fs *FS) changed() {
	fs.mu.Lock()
	fn := fs.notify
	fs.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func split(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

func (fs *FS) walk(parts []string) (node, error) {
	var cur node = fs.root
	for _, name := range parts {
		dir, ok := cur.(*dirNode)
		if !ok {
			return nil, errno.NotDirectory
		}
		next, ok := dir.children[name]
		if !ok {
			return nil, errno.NotFound
		}
		cur = next
	}
	return cur, nil
}

// parent resolves the directory holding p and the final name.
func (fs *FS) parent(p string) (*dirNode, string, error) {
	parts := split(p)
	if len(parts) == 0 {
		return nil, "", errors.Wrap(errno.InvalidArgument, "root has no parent")
	}
	n, err := fs.walk(parts[:len(parts)-1])
	if err != nil {
		return nil, "", errors.Wrap(err, p)
	}
	dir, ok := n.(*dirNode)
	if !ok {
		return nil, "", errors.Wrap(errno.NotDirectory, p)
	}
	return dir, parts[len(parts)-1], nil
}

func (fs *FS) create(p string, n node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.parent(p)
	if err != nil {
		return err
	}
	if _, ok := dir.children[name]; ok {
		return errors.Wrap(errno.Exists, p)
	}
	dir.children[name] = n
	return nil
}

func (fs *FS) Mkdir(p string) error {
	return fs.create(p, &dirNode{children: make(map[string]node)})
}

func (fs *FS) Mkpipe(p string) error {
	return fs.create(p, newPipe())
}

// Link makes newPath another name for the file at oldPath.
func (fs *FS) Link(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.walk(split(oldPath))
	if err != nil {
		return errors.Wrap(err, oldPath)
	}
	if _, ok := n.(*dirNode); ok {
		return errors.Wrap(errno.IsDirectory, oldPath)
	}
	dir, name, err := fs.parent(newPath)
	if err != nil {
		return err
	}
	if _, ok := dir.children[name]; ok {
		return errors.Wrap(errno.Exists, newPath)
	}
	dir.children[name] = n
	return nil
}

func (fs *FS) Unlink(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.parent(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return errors.Wrap(errno.NotFound, p)
	}
	if d, ok := n.(*dirNode); ok && len(d.children) > 0 {
		return errors.Wrap(errno.NotEmpty, p)
	}
	delete(dir.children, name)
	return nil
}

func (fs *FS) Rename(oldPath, newPath string) error {
	oldParts, newParts := split(oldPath), split(newPath)
	if len(newParts) > len(oldParts) && strings.HasPrefix(path.Join(newParts...)+"/", path.Join(oldParts...)+"/") {
		return errors.Wrapf(errno.InvalidArgument, "rename %s into itself", oldPath)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	odir, oname, err := fs.parent(oldPath)
	if err != nil {
		return err
	}
	n, ok := odir.children[oname]
	if !ok {
		return errors.Wrap(errno.NotFound, oldPath)
	}
	ndir, nname, err := fs.parent(newPath)
	if err != nil {
		return err
	}
	if _, ok := ndir.children[nname]; ok {
		return errors.Wrap(errno.Exists, newPath)
	}
	delete(odir.children, oname)
	ndir.children[nname] = n
	return nil
}

func (fs *FS) Stat(p string) (Info, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.walk(split(p))
	if err != nil {
		return Info{}, errors.Wrap(err, p)
	}
	return Info{Kind: n.kind(), Size: n.size()}, nil
}

// List returns the entries of a directory in natural name order.
func (fs *FS) List(p string) ([]Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.walk(split(p))
	if err != nil {
		return nil, errors.Wrap(err, p)
	}
	dir, ok := n.(*dirNode)
	if !ok {
		return nil, errors.Wrap(errno.NotDirectory, p)
	}
	return dir.entries(), nil
}

func (d *dirNode) entries() []Entry {
	names := d.names()
	out := make([]Entry, len(names))
	for i, name := range names {
		c := d.children[name]
		out[i] = Entry{Name: name, Info: Info{Kind: c.kind(), Size: c.size()}}
	}
	return out
}

// Open returns a resource for p, creating files or sockets when asked.
func (fs *FS) Open(p string, flags handle.OpenFlag) (handle.Resource, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.walk(split(p))
	if errno.Of(err) == errno.NotFound && flags&handle.OpenCreate != 0 {
		dir, name, perr := fs.parent(p)
		if perr != nil {
			return nil, perr
		}
		if flags&handle.OpenSocket != 0 {
			n = &socketNode{}
		} else if flags&handle.OpenDirectory != 0 {
			n = &dirNode{children: make(map[string]node)}
		} else {
			n = &fileNode{}
		}
		dir.children[name] = n
	} else if err != nil {
		return nil, errors.Wrap(err, p)
	}

	switch n := n.(type) {
	case *dirNode:
		if flags&(handle.OpenWrite|handle.OpenSocket) != 0 {
			return nil, errors.Wrap(errno.IsDirectory, p)
		}
		return &dirRes{fs: fs, node: n, refs: 1}, nil
	case *fileNode:
		if flags&handle.OpenDirectory != 0 {
			return nil, errors.Wrap(errno.NotDirectory, p)
		}
		if flags&handle.OpenSocket != 0 {
			return nil, errors.Wrap(errno.InvalidState, p)
		}
		if flags&handle.OpenTruncate != 0 && flags&handle.OpenWrite != 0 {
			n.data = nil
		}
		return &fileRes{fs: fs, node: n, refs: 1}, nil
	case *pipeNode:
		if flags&(handle.OpenDirectory|handle.OpenSocket) != 0 {
			return nil, errors.Wrap(errno.InvalidState, p)
		}
		return n.open(fs, flags), nil
	case *socketNode:
		if flags&handle.OpenSocket == 0 {
			return nil, errors.Wrap(errno.Unsupported, p)
		}
		n.listeners++
		return &listenerRes{fs: fs, node: n, refs: 1}, nil
	}
	return nil, errors.Wrap(errno.Unsupported, p)
}

// Connect opens a client connection to the socket at p.
func (fs *FS) Connect(p string) (handle.Resource, error) {
	fs.mu.Lock()
	n, err := fs.walk(split(p))
	if err != nil {
		fs.mu.Unlock()
		return nil, errors.Wrap(err, p)
	}
	sock, ok := n.(*socketNode)
	if !ok {
		fs.mu.Unlock()
		return nil, errors.Wrap(errno.Unsupported, p)
	}
	if sock.listeners == 0 {
		fs.mu.Unlock()
		return nil, errors.Wrapf(errno.InvalidState, "%s: nobody listening", p)
	}
	if len(sock.backlog) >= ConnBacklog {
		fs.mu.Unlock()
		return nil, errors.Wrapf(errno.Exhausted, "%s: backlog full", p)
	}
	client, server := newConnPair(fs)
	sock.backlog = append(sock.backlog, server)
	fs.mu.Unlock()
	fs.changed()
	return client, nil
}
