package errno

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errno is a kernel result code. Syscalls return it negated.
type Errno int

const (
	Success Errno = iota
	BadAddress
	NotFound
	InvalidState
	Unsupported
	Timeout
	NotImplemented
	Cancelled
	Interrupted
	InvalidArgument
	OutOfMemory
	Exhausted
	WouldBlock
	Exists
	NotDirectory
	IsDirectory
	NotEmpty
	BrokenPipe
	IO
	NameTooLong

	count
)

var names = [count]string{
	Success:         "success",
	BadAddress:      "bad address",
	NotFound:        "not found",
	InvalidState:    "invalid state",
	Unsupported:     "operation not supported",
	Timeout:         "timed out",
	NotImplemented:  "function not implemented",
	Cancelled:       "cancelled",
	Interrupted:     "interrupted",
	InvalidArgument: "invalid argument",
	OutOfMemory:     "out of memory",
	Exhausted:       "resource exhausted",
	WouldBlock:      "would block",
	Exists:          "already exists",
	NotDirectory:    "not a directory",
	IsDirectory:     "is a directory",
	NotEmpty:        "directory not empty",
	BrokenPipe:      "broken pipe",
	IO:              "input/output error",
	NameTooLong:     "name too long",
}

func (e Errno) Error() string {
	if e >= 0 && e < count {
		return names[e]
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Ret is the syscall result word for e.
func (e Errno) Ret() int64 {
	return -int64(e)
}

// FromRet converts a negative syscall result back into an Errno.
// Non-negative results are Success.
func FromRet(ret int64) Errno {
	if ret >= 0 {
		return Success
	}
	return Errno(-ret)
}

// Of finds the Errno behind err. Wrapped errors are unwrapped with
// errors.Cause; anything that is not an Errno maps to IO.
func Of(err error) Errno {
	if err == nil {
		return Success
	}
	if e, ok := errors.Cause(err).(Errno); ok {
		return e
	}
	return IO
}

// Ret is the syscall result word for err, 0 on nil.
func Ret(err error) int64 {
	return Of(err).Ret()
}

// Is reports whether err carries the code e.
func Is(err error, e Errno) bool {
	return err != nil && Of(err) == e
}
