package memfs

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
)

type fileRes struct {
	handle.Base
	fs   *FS
	node *fileNode
	refs int
}

func (r *fileRes) Kind() handle.Kind { return handle.KindFile }

func (r *fileRes) Size() int64 {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	return int64(len(r.node.data))
}

func (r *fileRes) Read(p []byte, off int64) (int, error) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	if off >= int64(len(r.node.data)) {
		return 0, nil
	}
	return copy(p, r.node.data[off:]), nil
}

func (r *fileRes) Write(p []byte, off int64) (int, error) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(r.node.data)) {
		r.node.data = append(r.node.data, make([]byte, end-int64(len(r.node.data)))...)
	}
	return copy(r.node.data[off:], p), nil
}

func (r *fileRes) Call(req uint32, arg handle.CallArg) error {
	switch req {
	case handle.CallTruncate:
		var size uint64
		if err := arg.Unpack(&size); err != nil {
			return err
		}
		r.fs.mu.Lock()
		defer r.fs.mu.Unlock()
		if size <= uint64(len(r.node.data)) {
			r.node.data = r.node.data[:size]
		} else {
			r.node.data = append(r.node.data, make([]byte, size-uint64(len(r.node.data)))...)
		}
		return nil
	case handle.CallSize:
		size := uint64(r.Size())
		return arg.Pack(&size)
	}
	return errors.Wrapf(errno.Unsupported, "file call %d", req)
}

func (r *fileRes) Poll() handle.Events { return handle.EventRead | handle.EventWrite }

func (r *fileRes) Ref() {
	r.fs.mu.Lock()
	r.refs++
	r.fs.mu.Unlock()
}

func (r *fileRes) Close() error {
	r.fs.mu.Lock()
	r.refs--
	r.fs.mu.Unlock()
	return nil
}

// DirEntry is the record a directory handle reads back.
type DirEntry struct {
	Name string `struc:"[64]byte"`
	Kind uint32
	Size uint64
}

var DirEntrySize, _ = struc.SizeofWithOptions(&DirEntry{}, dirOptions)

var dirOptions = &struc.Options{Order: binary.LittleEndian}

// ParseDirEntries decodes records read from a directory handle.
func ParseDirEntries(p []byte) ([]DirEntry, error) {
	r := bytes.NewReader(p)
	var out []DirEntry
	for r.Len() >= DirEntrySize {
		var e DirEntry
		if err := struc.UnpackWithOptions(r, &e, dirOptions); err != nil {
			return nil, errors.Wrap(err, "struc.Unpack() failed")
		}
		e.Name = strings.TrimRight(e.Name, "\x00")
		out = append(out, e)
	}
	return out, nil
}

type dirRes struct {
	handle.Base
	fs   *FS
	node *dirNode
	refs int
}

func (r *dirRes) Kind() handle.Kind { return handle.KindDirectory }

func (r *dirRes) Size() int64 {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	return int64(len(r.node.children) * DirEntrySize)
}

// Read yields whole DirEntry records starting at off.
func (r *dirRes) Read(p []byte, off int64) (int, error) {
	r.fs.mu.Lock()
	entries := r.node.entries()
	r.fs.mu.Unlock()
	var buf bytes.Buffer
	for i := int(off) / DirEntrySize; i < len(entries); i++ {
		if buf.Len()+DirEntrySize > len(p) {
			break
		}
		e := entries[i]
		name := e.Name
		if len(name) > 63 {
			name = name[:63]
		}
		rec := &DirEntry{Name: name, Kind: uint32(e.Kind), Size: uint64(e.Size)}
		if err := struc.PackWithOptions(&buf, rec, dirOptions); err != nil {
			return 0, errors.Wrap(err, "struc.Pack() failed")
		}
	}
	return copy(p, buf.Bytes()), nil
}

func (r *dirRes) Poll() handle.Events { return handle.EventRead }

func (r *dirRes) Ref() {
	r.fs.mu.Lock()
	r.refs++
	r.fs.mu.Unlock()
}

func (r *dirRes) Close() error {
	r.fs.mu.Lock()
	r.refs--
	r.fs.mu.Unlock()
	return nil
}
