package sys

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/models"
	"github.com/lunixbochs/ukern/go/models/trace"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newKernel(t *testing.T, out *bytes.Buffer) *kernel.Kernel {
	cfg := models.DefaultConfig()
	cfg.Output = nopCloser{out}
	k, err := kernel.New(cfg, nil)
	require.NoError(t, err)
	return k
}

// partial implements a couple of syscalls and nothing else.
type partial struct {
	slept  int64
	closed kernel.Handle
}

func (p *partial) ProcessSleep(t *sched.Task, ticks int64) int64 {
	p.slept = ticks
	return ticks * 2
}

func (p *partial) HandleClose(t *sched.Task, h kernel.Handle) int64 {
	p.closed = h
	return 0
}

func (p *partial) NotASyscall(t *sched.Task) int64 { return 0 }

type badSignature struct{}

func (badSignature) ProcessThis(pid int) int64 { return 0 }

func TestCamelToSnakeCase(t *testing.T) {
	assert.Equal(t, "handle_open", camelToSnakeCase("HandleOpen"))
	assert.Equal(t, "process_get_cwd", camelToSnakeCase("ProcessGetCwd"))
	assert.Equal(t, "system_get_ticks", camelToSnakeCase("SystemGetTicks"))
}

func TestNames(t *testing.T) {
	assert.Len(t, Names(), int(Count))
	assert.Equal(t, 48, int(Count))
	assert.Equal(t, Syscall(33), HandleOpen)
	id, ok := Lookup("ipc_request")
	require.True(t, ok)
	assert.Equal(t, IpcRequest, id)
	assert.Equal(t, "syscall_99", Syscall(99).String())
}

func TestKernelTableComplete(t *testing.T) {
	var out bytes.Buffer
	d, err := New(newKernel(t, &out))
	require.NoError(t, err)
	assert.Empty(t, d.table.Missing())
	assert.Equal(t, "handle_payload", d.table[HandlePayload].Name)
	assert.Len(t, d.table[HandleSelect].In, 5)
}

func TestBuildTableRejectsBadSignature(t *testing.T) {
	_, err := BuildTable(badSignature{})
	assert.Error(t, err)
}

func TestDispatchOutOfRange(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	d, err := New(k)
	require.NoError(t, err)
	task, err := k.Attach("test")
	require.NoError(t, err)
	assert.Equal(t, errno.NotImplemented.Ret(), d.Dispatch(task, Count, Args{}))
	assert.Equal(t, errno.NotImplemented.Ret(), d.Dispatch(task, 1000, Args{}))
	assert.Contains(t, out.String(), "unimplemented syscall syscall_1000")
}

func TestDispatchMissingHandler(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	p := &partial{}
	d, err := NewWith(k, p)
	require.NoError(t, err)
	assert.Len(t, d.table.Missing(), int(Count)-2)
	task, err := k.Attach("test")
	require.NoError(t, err)

	assert.Equal(t, errno.NotImplemented.Ret(), d.Dispatch(task, HandleOpen, Args{0, 0, 0}))
	assert.Equal(t, int64(42), d.Dispatch(task, ProcessSleep, Args{21}))
	assert.Equal(t, int64(21), p.slept)
	assert.Equal(t, int64(0), d.Dispatch(task, HandleClose, Args{7}))
	assert.Equal(t, kernel.Handle(7), p.closed)
}

func TestDispatchDeadTask(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	d, err := New(k)
	require.NoError(t, err)
	task, err := k.Attach("test")
	require.NoError(t, err)
	k.Detach(task)
	assert.Equal(t, errno.Cancelled.Ret(), d.Dispatch(task, ProcessThis, Args{}))
}

func TestFailureLogging(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	d, err := New(k)
	require.NoError(t, err)
	task, err := k.Attach("test")
	require.NoError(t, err)

	// a pid is not a failure
	assert.Equal(t, int64(task.Pid), d.Dispatch(task, ProcessThis, Args{}))
	assert.NotContains(t, out.String(), "process_this")

	assert.Equal(t, errno.NotFound.Ret(), d.Dispatch(task, HandleClose, Args{9}))
	assert.Contains(t, out.String(), "handle_close returned")

	// a pointer below the watermark is refused before memory is touched
	assert.Equal(t, errno.BadAddress.Ret(), d.Dispatch(task, SystemGetInfo, Args{0x1000}))
	assert.Contains(t, out.String(), "system_get_info returned")
}

func TestTextTrace(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	k.Config.TraceSys = true
	d, err := New(k)
	require.NoError(t, err)
	task, err := k.Attach("test")
	require.NoError(t, err)
	d.Dispatch(task, ProcessSleep, Args{0})
	assert.Contains(t, out.String(), "process_sleep(0) = 0")
}

func TestTraceFile(t *testing.T) {
	var out bytes.Buffer
	k := newKernel(t, &out)
	k.Config.TraceFile = filepath.Join(t.TempDir(), "calls.uktr")
	d, err := New(k)
	require.NoError(t, err)
	task, err := k.Attach("test")
	require.NoError(t, err)
	d.Dispatch(task, ProcessThis, Args{})
	d.Dispatch(task, HandleClose, Args{3})
	require.NoError(t, d.Close())

	f, err := os.Open(k.Config.TraceFile)
	require.NoError(t, err)
	r, err := trace.NewReader(f)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "ukern", r.Header.System)

	frame, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(ProcessThis), frame.Syscall)
	assert.Equal(t, int64(task.Pid), frame.Ret)
	assert.Equal(t, "process_this()", frame.Note)

	frame, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), frame.Args[0])
	assert.Equal(t, errno.NotFound.Ret(), frame.Ret)
	assert.Equal(t, "handle_close(3)", frame.Note)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
