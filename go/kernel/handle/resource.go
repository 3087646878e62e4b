package handle

import (
	"github.com/lunixbochs/ukern/go/kernel/errno"
)

type Kind uint32

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindPipe
	KindSocket
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindPipe:
		return "pipe"
	case KindSocket:
		return "socket"
	case KindConnection:
		return "connection"
	}
	return "unknown"
}

type OpenFlag uint32

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenCreate
	OpenAppend
	OpenTruncate
	OpenDirectory
	OpenSocket
)

type Caps uint32

const (
	CapRead Caps = 1 << iota
	CapWrite
	CapSeek
	CapAccept
	CapMessage
)

// Events are select conditions.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventAccept
)

type Whence uint32

const (
	WhenceSet Whence = iota
	WhenceCurrent
	WhenceEnd
)

// Frame is one message on a connection.
type Frame struct {
	Label uint32
	Data  []byte
}

// Call requests understood by resources.
const (
	CallTruncate  uint32 = 1
	CallSize      uint32 = 2
	CallAvailable uint32 = 3
)

// CallArg gives a resource access to the argument block of a call request
// without exposing user memory.
type CallArg interface {
	Unpack(v interface{}) error
	Pack(v interface{}) error
}

// Resource is the object behind a handle. Operations that cannot complete
// yet return errno.WouldBlock; the kernel parks the caller and retries when
// the resource changes.
type Resource interface {
	Kind() Kind
	Read(p []byte, off int64) (int, error)
	Write(p []byte, off int64) (int, error)
	Size() int64
	Call(req uint32, arg CallArg) error
	Accept() (Resource, error)
	Send(f Frame) error
	Peek() (Frame, error)
	Take() (Frame, error)
	Discard() error
	Poll() Events
	// Ref adds a reference for a duplicated handle.
	Ref()
	// Close drops one reference.
	Close() error
}

// Base answers Unsupported for everything; resources embed it and override
// what they support.
type Base struct{}

func (Base) Read(p []byte, off int64) (int, error)  { return 0, errno.Unsupported }
func (Base) Write(p []byte, off int64) (int, error) { return 0, errno.Unsupported }
func (Base) Size() int64                            { return 0 }
func (Base) Call(req uint32, arg CallArg) error     { return errno.Unsupported }
func (Base) Accept() (Resource, error)              { return nil, errno.Unsupported }
func (Base) Send(f Frame) error                     { return errno.Unsupported }
func (Base) Peek() (Frame, error)                   { return Frame{}, errno.Unsupported }
func (Base) Take() (Frame, error)                   { return Frame{}, errno.Unsupported }
func (Base) Discard() error                         { return errno.Unsupported }
func (Base) Poll() Events                           { return 0 }
