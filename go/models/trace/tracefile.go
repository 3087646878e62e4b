// Package trace records syscalls to a compressed binary file and reads
// them back.
package trace

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

var TRACE_MAGIC = "UKTR"

const TraceVersion = 1

var strucOptions = &struc.Options{Order: binary.LittleEndian}

type TraceHeader struct {
	// MAGIC ("UKTR")
	Magic   string `struc:"[4]byte" json:"-"`
	Version uint32 `json:"version"`
	// Right-null-padded.
	System   string `struc:"[32]byte" json:"system"`
	PageSize uint32 `json:"page_size"`
	TickRate uint32 `json:"tick_rate"`
}

// Frame is one completed syscall.
type Frame struct {
	Tick    uint64    `json:"tick"`
	Pid     int32     `json:"pid"`
	Syscall uint32    `json:"syscall"`
	Args    [5]uint64 `json:"args"`
	Ret     int64     `json:"ret"`
	NoteLen uint16    `struc:"sizeof=Note" json:"-"`
	// Rendered call, as printed by the text trace.
	Note string `json:"note"`
}

type TraceWriter struct {
	mu    deadlock.Mutex
	w, zw io.WriteCloser
}

func NewWriter(w io.WriteCloser, system string, pageSize, tickRate uint32) (*TraceWriter, error) {
	header := &TraceHeader{
		Magic:    TRACE_MAGIC,
		Version:  TraceVersion,
		System:   system,
		PageSize: pageSize,
		TickRate: tickRate,
	}
	if err := struc.PackWithOptions(w, header, strucOptions); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	return &TraceWriter{w: w, zw: zw}, nil
}

// Record writes one frame. It is safe for concurrent use.
func (t *TraceWriter) Record(f *Frame) error {
	if len(f.Note) > 0xffff {
		f.Note = f.Note[:0xffff]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Wrap(struc.PackWithOptions(t.zw, f, strucOptions), "failed to pack frame")
}

func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.zw.Close()
	if cerr := t.w.Close(); err == nil {
		err = cerr
	}
	return err
}

type TraceReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*TraceReader, error) {
	t := &TraceReader{r: r}
	if err := struc.UnpackWithOptions(r, &t.Header, strucOptions); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	if t.Header.Version != TraceVersion {
		return nil, errors.Errorf("unsupported trace version %d", t.Header.Version)
	}
	t.Header.System = strings.TrimRight(t.Header.System, "\x00")
	t.zr = snappy.NewReader(r)
	return t, nil
}

// Next returns io.EOF after the last frame.
func (t *TraceReader) Next() (*Frame, error) {
	f := &Frame{}
	if err := struc.UnpackWithOptions(t.zr, f, strucOptions); err != nil {
		if errors.Cause(err) == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to unpack frame")
	}
	return f, nil
}

func (t *TraceReader) Close() error {
	t.zr.Reset(nil)
	return t.r.Close()
}
