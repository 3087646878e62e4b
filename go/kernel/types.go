package kernel

import (
	"bytes"

	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

// Argument word types understood by the dispatcher's codec, in addition to
// usermem.Ptr, usermem.Len, handle.Whence and handle.OpenFlag.
type (
	Off    int64
	Handle int32
)

const (
	// PathMax bounds path arguments, NUL included.
	PathMax = 512
	// IOMax bounds one read or write; larger requests are short.
	IOMax = 64 << 10
	// LaunchHandles is the number of handles a launchpad can pass on.
	LaunchHandles = 4

	KernelName    = "ukern"
	KernelRelease = "0.1.0"
)

// Launchpad describes a task to launch.
type Launchpad struct {
	Name        [64]byte
	Executable  [128]byte
	Argument    [256]byte
	Handles     [LaunchHandles]int32
	HandleCount uint32
}

func (l *Launchpad) SetName(s string)       { setCString(l.Name[:], s) }
func (l *Launchpad) SetExecutable(s string) { setCString(l.Executable[:], s) }
func (l *Launchpad) SetArgument(s string)   { setCString(l.Argument[:], s) }

type SystemInfo struct {
	KernelName    [64]byte
	KernelRelease [64]byte
	SystemName    [64]byte
	Machine       [64]byte
}

type SystemStatus struct {
	Uptime       uint64
	TotalRAM     uint64
	UsedRAM      uint64
	RunningTasks uint64
}

// HandleState is written by handle_stat.
type HandleState struct {
	Kind   uint32
	Caps   uint32
	Size   uint64
	Offset int64
}

// Envelope describes a connection message in task memory. The payload
// lives at Data; Size is its length.
type Envelope struct {
	Label uint32
	Size  uint32
	Data  uint64
}

func (e *Envelope) payload() (usermem.Range, error) {
	return usermem.Check(usermem.Ptr(e.Data), uint64(e.Size))
}

// CString returns the text of a NUL-padded buffer.
func CString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

// setCString fills dst with s, truncated so a NUL always fits.
func setCString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	if len(dst) > 0 {
		copy(dst[:len(dst)-1], s)
	}
}
