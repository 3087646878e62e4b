// Package usermem is the only way the kernel touches task memory. A Range
// can only be obtained from Check, so every access has been validated
// against the watermark before it reaches an address space.
package usermem

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

const DefaultWatermark = 0x100000

// Watermark is the lowest address user memory may occupy.
var Watermark uint64 = DefaultWatermark

var Order = binary.LittleEndian

var strucOptions = &struc.Options{Order: Order}

type (
	// Ptr is an unchecked user address as it arrives in a syscall word.
	Ptr uint64
	// Len is an unchecked user length.
	Len uint64
)

// Validate reports whether base:base+length may be user memory.
func Validate(base, length uint64) bool {
	end := base + length
	return base >= Watermark && end >= base && end >= Watermark
}

// Range is a validated user range.
type Range struct {
	addr, size uint64
	ok         bool
}

func (r Range) Addr() uint64 { return r.addr }
func (r Range) Size() uint64 { return r.size }
func (r Range) Valid() bool  { return r.ok }

// Sub returns the part of r starting at off, at most size bytes long.
func (r Range) Sub(off, size uint64) Range {
	if !r.ok || off > r.size {
		return Range{}
	}
	if size > r.size-off {
		size = r.size - off
	}
	return Range{addr: r.addr + off, size: size, ok: true}
}

func Check(p Ptr, size uint64) (Range, error) {
	if !Validate(uint64(p), size) {
		return Range{}, errno.BadAddress
	}
	return Range{addr: uint64(p), size: size, ok: true}, nil
}

// CheckStruct validates a range large enough to hold v.
func CheckStruct(p Ptr, v interface{}) (Range, error) {
	n, err := Sizeof(v)
	if err != nil {
		return Range{}, err
	}
	return Check(p, uint64(n))
}

// Accessor is implemented by address spaces. Implementations must refuse
// ranges that are not Valid.
type Accessor interface {
	ReadRange(r Range) ([]byte, error)
	WriteRange(r Range, p []byte) error
}

func Sizeof(v interface{}) (int, error) {
	n, err := struc.SizeofWithOptions(v, strucOptions)
	return n, errors.Wrap(err, "struc.Sizeof() failed")
}

func ReadBytes(acc Accessor, r Range) ([]byte, error) {
	if !r.ok {
		return nil, errno.BadAddress
	}
	return acc.ReadRange(r)
}

// WriteBytes writes p into r, truncated to the range size.
func WriteBytes(acc Accessor, r Range, p []byte) error {
	if !r.ok {
		return errno.BadAddress
	}
	if uint64(len(p)) > r.size {
		p = p[:r.size]
	}
	return acc.WriteRange(r.Sub(0, uint64(len(p))), p)
}

func Pack(acc Accessor, r Range, v interface{}) error {
	if !r.ok {
		return errno.BadAddress
	}
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, v, strucOptions); err != nil {
		return errors.Wrap(err, "struc.Pack() failed")
	}
	if uint64(buf.Len()) > r.size {
		return errno.BadAddress
	}
	return acc.WriteRange(r.Sub(0, uint64(buf.Len())), buf.Bytes())
}

func Unpack(acc Accessor, r Range, v interface{}) error {
	if !r.ok {
		return errno.BadAddress
	}
	data, err := acc.ReadRange(r)
	if err != nil {
		return err
	}
	return errors.Wrap(struc.UnpackWithOptions(bytes.NewReader(data), v, strucOptions), "struc.Unpack() failed")
}

// PackAt validates p for v and packs v there.
func PackAt(acc Accessor, p Ptr, v interface{}) error {
	r, err := CheckStruct(p, v)
	if err != nil {
		return err
	}
	return Pack(acc, r, v)
}

// UnpackAt validates p for v and unpacks v from there.
func UnpackAt(acc Accessor, p Ptr, v interface{}) error {
	r, err := CheckStruct(p, v)
	if err != nil {
		return err
	}
	return Unpack(acc, r, v)
}

// ReadString reads a NUL-terminated string of at most max bytes. Each chunk
// is validated before it is read, so a string ending right before unmapped
// memory is still readable.
func ReadString(acc Accessor, p Ptr, max int) (string, error) {
	const chunk = 64
	var out []byte
	addr := uint64(p)
	for len(out) < max {
		n := uint64(chunk - addr%chunk)
		if left := uint64(max - len(out)); n > left {
			n = left
		}
		r, err := Check(Ptr(addr), n)
		if err != nil {
			return "", err
		}
		data, err := acc.ReadRange(r)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			return string(append(out, data[:i]...)), nil
		}
		out = append(out, data...)
		addr += n
	}
	return "", errno.NameTooLong
}

// WriteString writes s NUL-terminated into r, truncating to fit.
func WriteString(acc Accessor, r Range, s string) error {
	if !r.ok || r.size == 0 {
		return errno.BadAddress
	}
	b := []byte(s)
	if uint64(len(b)) > r.size-1 {
		b = b[:r.size-1]
	}
	return WriteBytes(acc, r, append(b, 0))
}
