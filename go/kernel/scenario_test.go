package kernel_test

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models"
	"github.com/lunixbochs/ukern/go/programs"
	"github.com/lunixbochs/ukern/go/user"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Close() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

var _ io.WriteCloser = &syncBuffer{}

type env struct {
	k   *kernel.Kernel
	d   *sys.Dispatcher
	out *syncBuffer
}

func boot(t *testing.T, mod func(c *models.Config)) *env {
	cfg := models.DefaultConfig()
	out := &syncBuffer{}
	cfg.Output = out
	if mod != nil {
		mod(cfg)
	}
	k, err := kernel.New(cfg, nil)
	require.NoError(t, err)
	d, err := sys.New(k)
	require.NoError(t, err)
	programs.Register(d)
	t.Cleanup(func() {
		k.Shutdown()
		d.Close()
	})
	return &env{k: k, d: d, out: out}
}

func (e *env) attach(t *testing.T, name string) *user.Proc {
	p, err := user.Attach(e.d, name)
	require.NoError(t, err)
	return p
}

func (e *env) register(name string, main user.Main) {
	e.k.Register(name, user.Program(e.d, main))
}

// waitBlocked waits until pid is parked in a syscall.
func (e *env) waitBlocked(t *testing.T, pid int) {
	require.Eventually(t, func() bool {
		task, err := e.k.Sched.Get(pid)
		return err == nil && e.k.Sched.State(task) == sched.Blocked
	}, 2*time.Second, time.Millisecond)
}

func TestLaunchPadBelowWatermark(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	ret := p.Syscall(sys.ProcessLaunch, 0x1000)
	assert.Equal(t, errno.BadAddress.Ret(), ret)
	assert.Len(t, e.k.Sched.Tasks(), 1)

	e.register("/bin/seven", func(p *user.Proc, arg string) int { return 7 })
	pid, err := p.Launch(user.Launch{Exe: "/bin/seven"})
	require.NoError(t, err)
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	_, err = p.Launch(user.Launch{Exe: "/bin/missing"})
	assert.Equal(t, errno.NotFound, err)
}

func TestLaunchPassesHandles(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	require.NoError(t, p.Mkpipe("/pipe"))
	w, err := p.Open("/pipe", handle.OpenWrite)
	require.NoError(t, err)
	r, err := p.Open("/pipe", handle.OpenRead)
	require.NoError(t, err)

	e.register("/bin/writer", func(p *user.Proc, arg string) int {
		n, err := p.Write(0, []byte(arg))
		if err != nil {
			return -2
		}
		return n
	})
	pid, err := p.Launch(user.Launch{Exe: "/bin/writer", Arg: "hello", Handles: []int{w}})
	require.NoError(t, err)
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	buf := make([]byte, 16)
	n, err := p.Read(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = p.Launch(user.Launch{Exe: "/bin/writer", Handles: []int{w, w, w, w, w}})
	assert.Equal(t, errno.InvalidArgument, err)
}

func TestSleepWakeup(t *testing.T) {
	e := boot(t, nil)
	e.register("/bin/sleeper", func(p *user.Proc, arg string) int {
		left, err := p.Sleep(1000)
		if err != nil {
			return -2
		}
		if left > 0 {
			return 1
		}
		return 0
	})
	p := e.attach(t, "shell")
	pid, err := p.Launch(user.Launch{Exe: "/bin/sleeper"})
	require.NoError(t, err)
	e.waitBlocked(t, pid)
	require.NoError(t, p.Wakeup(pid))
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	// nobody is asleep any more
	assert.Equal(t, errno.NotFound, p.Wakeup(pid))
}

func TestSleepTimesOut(t *testing.T) {
	e := boot(t, nil)
	e.register("/bin/nap", func(p *user.Proc, arg string) int {
		left, err := p.Sleep(5)
		if err != nil {
			return -2
		}
		return int(left)
	})
	p := e.attach(t, "shell")
	pid, err := p.Launch(user.Launch{Exe: "/bin/nap"})
	require.NoError(t, err)
	e.waitBlocked(t, pid)
	assert.Equal(t, errno.InvalidState, p.Wakeup(p.Pid()))
	e.k.Tick(5)
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSubscribeBroadcast(t *testing.T) {
	e := boot(t, nil)
	a := e.attach(t, "a")
	b := e.attach(t, "b")
	c := e.attach(t, "c")

	require.NoError(t, a.Subscribe("news"))
	n, err := c.Broadcast("news", 3, []byte("extra"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := a.Receive(false)
	require.NoError(t, err)
	assert.Equal(t, c.Pid(), m.From)
	assert.Equal(t, uint32(3), m.Label)
	assert.Equal(t, "extra", string(m.Payload))

	_, err = b.Receive(false)
	assert.Equal(t, errno.WouldBlock, err)

	require.NoError(t, a.Unsubscribe("news"))
	n, err = c.Broadcast("news", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = a.Receive(false)
	assert.Equal(t, errno.WouldBlock, err)
	assert.Equal(t, errno.NotFound, a.Unsubscribe("news"))
}

func TestSendReceive(t *testing.T) {
	e := boot(t, nil)
	a := e.attach(t, "a")
	b := e.attach(t, "b")

	got := make(chan string, 1)
	go func() {
		m, err := b.Receive(true)
		if err != nil {
			got <- err.Error()
			return
		}
		got <- string(m.Payload)
	}()
	e.waitBlocked(t, b.Pid())
	require.NoError(t, a.Send(b.Pid(), 1, []byte("hi")))
	assert.Equal(t, "hi", <-got)

	assert.Equal(t, errno.NotFound, errno.Of(a.Send(999, 1, nil)))
}

func TestRequestTimeoutAndLateRespond(t *testing.T) {
	e := boot(t, nil)
	server := e.attach(t, "server")
	client := e.attach(t, "client")

	errc := make(chan error, 1)
	go func() {
		_, err := client.Request(server.Pid(), 1, []byte("q"), 5)
		errc <- err
	}()
	e.waitBlocked(t, client.Pid())
	e.k.Tick(5)
	assert.Equal(t, errno.Timeout, <-errc)

	req, err := server.Receive(false)
	require.NoError(t, err)
	assert.Equal(t, "q", string(req.Payload))
	// answering late succeeds and reaches nobody
	require.NoError(t, server.Respond(req, 2, []byte("late")))
	_, err = client.Receive(false)
	assert.Equal(t, errno.WouldBlock, err)
}

func TestRequestRespond(t *testing.T) {
	e := boot(t, nil)
	server := e.attach(t, "server")
	client := e.attach(t, "client")

	type reply struct {
		payload string
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		m, err := client.Request(server.Pid(), 1, []byte("question"), 0)
		done <- reply{string(m.Payload), err}
	}()
	req, err := server.Receive(true)
	require.NoError(t, err)
	require.NoError(t, server.Respond(req, 2, []byte("answer")))
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "answer", r.payload)

	// a plain message cannot be answered
	require.NoError(t, client.Send(server.Pid(), 1, nil))
	m, err := server.Receive(false)
	require.NoError(t, err)
	assert.Equal(t, errno.InvalidArgument, server.Respond(m, 2, nil))
}

func TestRespondFromOtherTaskIgnored(t *testing.T) {
	e := boot(t, nil)
	server := e.attach(t, "server")
	client := e.attach(t, "client")
	intruder := e.attach(t, "intruder")

	done := make(chan string, 1)
	go func() {
		m, err := client.Request(server.Pid(), 1, []byte("q"), 0)
		if err != nil {
			done <- err.Error()
			return
		}
		done <- string(m.Payload)
	}()
	req, err := server.Receive(true)
	require.NoError(t, err)

	require.NoError(t, intruder.Respond(req, 2, []byte("forged")))
	e.waitBlocked(t, client.Pid())
	assert.Equal(t, 1, e.k.Hub.Waiting(), "request still open")

	require.NoError(t, server.Respond(req, 2, []byte("genuine")))
	assert.Equal(t, "genuine", <-done)
}

func TestSharedMemory(t *testing.T) {
	e := boot(t, nil)
	a := e.attach(t, "a")
	b := e.attach(t, "b")

	id, addrA, err := a.ShmAlloc(1)
	require.NoError(t, err)
	require.NoError(t, a.Store(addrA, []byte("hello")))

	addrB, err := b.ShmAcquire(id)
	require.NoError(t, err)
	got, err := b.Load(addrB, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, b.Store(addrB, []byte("HE")))
	got, err = a.Load(addrA, 5)
	require.NoError(t, err)
	assert.Equal(t, "HEllo", string(got))

	require.NoError(t, a.ShmRelease(id))
	_, err = a.Load(addrA, 1)
	assert.Error(t, err)
	got, err = b.Load(addrB, 5)
	require.NoError(t, err)
	assert.Equal(t, "HEllo", string(got))

	require.NoError(t, b.ShmRelease(id))
	_, err = a.ShmAcquire(id)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestExitDropsSharedMemory(t *testing.T) {
	e := boot(t, nil)
	a := e.attach(t, "a")
	b := e.attach(t, "b")
	id, _, err := a.ShmAlloc(2)
	require.NoError(t, err)
	_, err = b.ShmAcquire(id)
	require.NoError(t, err)
	a.Detach()
	require.NoError(t, b.ShmRelease(id))
	_, err = b.ShmAcquire(id)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestCancelBlockedTask(t *testing.T) {
	e := boot(t, nil)
	e.register("/bin/listen", func(p *user.Proc, arg string) int {
		p.Receive(true)
		return 42
	})
	p := e.attach(t, "shell")
	pid, err := p.Launch(user.Launch{Exe: "/bin/listen"})
	require.NoError(t, err)
	e.waitBlocked(t, pid)
	require.NoError(t, p.Cancel(pid))
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, sched.CancelCode, code)
	require.Eventually(t, func() bool {
		return strings.Contains(e.out.String(), "ipc_receive returned -7 (cancelled)")
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, errno.NotFound, p.Cancel(pid))
}

func TestWaitReaps(t *testing.T) {
	e := boot(t, nil)
	e.register("/bin/three", func(p *user.Proc, arg string) int {
		p.Exit(3)
		return 4
	})
	p := e.attach(t, "shell")
	pid, err := p.Launch(user.Launch{Exe: "/bin/three"})
	require.NoError(t, err)
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	_, err = p.Wait(pid)
	assert.Equal(t, errno.NotFound, err)
	_, err = p.Wait(p.Pid())
	assert.Equal(t, errno.InvalidArgument, err)
}

func TestPipeSelect(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "reader")
	q := e.attach(t, "writer")
	require.NoError(t, p.Mkdir("/tmp"))
	require.NoError(t, p.Mkpipe("/tmp/p"))
	r, err := p.Open("/tmp/p", handle.OpenRead)
	require.NoError(t, err)
	w, err := q.Open("/tmp/p", handle.OpenWrite)
	require.NoError(t, err)

	sel := make(chan int, 1)
	go func() {
		i, err := p.Select([]int{r}, []handle.Events{handle.EventRead}, 0)
		if err != nil {
			i = -1
		}
		sel <- i
	}()
	e.waitBlocked(t, p.Pid())
	n, err := q.Write(w, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, <-sel)

	buf := make([]byte, 8)
	n, err = p.Read(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	st, err := p.Stat(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(handle.KindPipe), st.Kind)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Select([]int{r}, []handle.Events{handle.EventRead}, 3)
		errc <- err
	}()
	e.waitBlocked(t, p.Pid())
	e.k.Tick(3)
	assert.Equal(t, errno.Timeout, <-errc)

	_, err = p.Select([]int{99}, []handle.Events{handle.EventRead}, 1)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestFileHandles(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	h, err := p.Open("/notes", handle.OpenCreate|handle.OpenRead|handle.OpenWrite)
	require.NoError(t, err)
	_, err = p.Write(h, []byte("hello world"))
	require.NoError(t, err)
	pos, err := p.Tell(h, handle.WhenceSet)
	require.NoError(t, err)
	assert.Equal(t, int64(11), pos)

	require.NoError(t, p.Seek(h, 6, handle.WhenceSet))
	buf := make([]byte, 16)
	n, err := p.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	var size uint64
	require.NoError(t, p.Call(h, handle.CallSize, &size))
	assert.Equal(t, uint64(11), size)

	require.NoError(t, p.Close(h))
	assert.Equal(t, errno.NotFound, errno.Of(p.Close(h)))

	require.NoError(t, p.Rename("/notes", "/renamed"))
	_, err = p.Open("/notes", handle.OpenRead)
	assert.Equal(t, errno.NotFound, errno.Of(err))
	require.NoError(t, p.Link("/renamed", "/again"))
	require.NoError(t, p.Unlink("/renamed"))
	h, err = p.Open("/again", handle.OpenRead)
	require.NoError(t, err)
	n, err = p.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestConnection(t *testing.T) {
	e := boot(t, nil)
	srv := e.attach(t, "server")
	cli := e.attach(t, "client")
	l, err := srv.Open("/svc", handle.OpenCreate|handle.OpenSocket)
	require.NoError(t, err)

	accepted := make(chan int, 1)
	go func() {
		c, err := srv.Accept(l)
		if err != nil {
			c = -1
		}
		accepted <- c
	}()
	e.waitBlocked(t, srv.Pid())
	c, err := cli.Connect("/svc")
	require.NoError(t, err)
	s := <-accepted
	require.True(t, s >= 0)

	require.NoError(t, cli.SendFrame(c, 9, []byte("payload")))
	require.NoError(t, cli.SendFrame(c, 10, nil))
	label, size, err := srv.PeekFrame(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), label)
	assert.Equal(t, 7, size)

	f, err := srv.ReceiveFrame(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), f.Label)
	assert.Equal(t, "payload", string(f.Data))

	require.NoError(t, srv.Discard(s))
	require.NoError(t, cli.SendFrame(c, 11, []byte("x")))
	f, err = srv.ReceiveFrame(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), f.Label)
}

func TestAddressSpaceAllOrNothing(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	page := e.k.Config.PageSize
	base := uint64(0x200000)

	require.NoError(t, p.Map(base, 2))
	assert.Error(t, p.Map(base+page, 2))
	assert.Error(t, p.Store(base+2*page, []byte{1}))
	assert.Error(t, p.Unmap(base, 3))
	require.NoError(t, p.Store(base+page, []byte{1}))
	require.NoError(t, p.Unmap(base, 2))
	assert.Error(t, p.Store(base, []byte{1}))

	addr, err := p.Alloc(3)
	require.NoError(t, err)
	assert.True(t, addr >= e.k.Config.AllocBase)
	assert.Error(t, p.Free(addr, 4))
	require.NoError(t, p.Store(addr+2*page, []byte{1}))
	require.NoError(t, p.Free(addr, 3))

	assert.Equal(t, errno.BadAddress, errno.Of(p.Map(0x1000, 1)))
}

func TestAllocReturnsAddress(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	page := e.k.Config.PageSize

	ret := p.Syscall(sys.ProcessAlloc, 1)
	require.True(t, ret >= 0, "alloc failed: %d", ret)
	first := uint64(ret)
	assert.True(t, first >= e.k.Config.AllocBase)
	require.NoError(t, p.Store(first, []byte{1}))

	out := uint64(0x200000)
	require.NoError(t, p.Map(out, 1))
	ret = p.Syscall(sys.ProcessAlloc, 1, out)
	require.True(t, ret >= 0, "alloc failed: %d", ret)
	assert.Equal(t, first+page, uint64(ret))
	b, err := p.Load(out, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(ret), usermem.Order.Uint64(b))

	assert.Equal(t, errno.BadAddress.Ret(), p.Syscall(sys.ProcessAlloc, 1, 0x1000))
	addr, err := p.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, first+2*page, addr, "failed alloc maps nothing")
}

func TestWorkingDirectory(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	require.NoError(t, p.Mkdir("/home"))
	require.NoError(t, p.Chdir("/home"))
	cwd, err := p.Getcwd()
	require.NoError(t, err)
	assert.Equal(t, "/home", cwd)

	require.NoError(t, p.Mkpipe("fifo"))
	assert.Equal(t, errno.NotDirectory, errno.Of(p.Chdir("/home/fifo")))
	assert.Equal(t, errno.NotFound, errno.Of(p.Chdir("missing")))
	require.NoError(t, p.Chdir(".."))
	cwd, err = p.Getcwd()
	require.NoError(t, err)
	assert.Equal(t, "/", cwd)
}

func TestSystemInfo(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	info, err := p.SystemInfo()
	require.NoError(t, err)
	assert.Equal(t, kernel.KernelName, kernel.CString(info.KernelName[:]))
	assert.Equal(t, "sim", kernel.CString(info.Machine[:]))

	e.k.Tick(2000)
	st, err := p.SystemStatus()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Uptime)
	assert.True(t, st.UsedRAM > 0)
	assert.Equal(t, uint64(2000), p.Ticks())

	now, err := p.Time()
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), int64(now), 5)
}

func TestSingleCPU(t *testing.T) {
	e := boot(t, func(c *models.Config) { c.CPUs = 1 })
	var running, most int32
	e.register("/bin/spin", func(p *user.Proc, arg string) int {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&most)
			if n <= m || atomic.CompareAndSwapInt32(&most, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return 0
	})
	p := e.attach(t, "shell")
	var pids []int
	for i := 0; i < 4; i++ {
		pid, err := p.Launch(user.Launch{Exe: "/bin/spin"})
		require.NoError(t, err)
		pids = append(pids, pid)
	}
	for _, pid := range pids {
		code, err := p.Wait(pid)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	}
	assert.Equal(t, int32(1), most)
}

func TestEchoPinger(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	echo, err := p.Launch(user.Launch{Exe: "/bin/echo"})
	require.NoError(t, err)
	pinger, err := p.Launch(user.Launch{Exe: "/bin/pinger", Arg: strconv.Itoa(echo) + " 3 0"})
	require.NoError(t, err)
	failed, err := p.Wait(pinger)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	require.NoError(t, p.Send(echo, programs.LabelQuit, nil))
	handled, err := p.Wait(echo)
	require.NoError(t, err)
	assert.Equal(t, 3, handled)
}

func TestTicker(t *testing.T) {
	e := boot(t, nil)
	p := e.attach(t, "shell")
	require.NoError(t, p.Subscribe(programs.TickChannel))
	pid, err := p.Launch(user.Launch{Exe: "/bin/ticker", Arg: "2 2"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		e.waitBlocked(t, pid)
		e.k.Tick(2)
		m, err := p.Receive(true)
		require.NoError(t, err)
		assert.Equal(t, programs.LabelTick, m.Label)
	}
	code, err := p.Wait(pid)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestYieldKeepsRunning(t *testing.T) {
	e := boot(t, func(c *models.Config) { c.CPUs = 1 })
	var mu sync.Mutex
	steps := map[string]int{}
	e.register("/bin/yielder", func(p *user.Proc, arg string) int {
		for i := 0; i < 3; i++ {
			mu.Lock()
			steps[arg]++
			mu.Unlock()
			p.Yield()
		}
		return 0
	})
	p := e.attach(t, "shell")
	a, err := p.Launch(user.Launch{Exe: "/bin/yielder", Arg: "a"})
	require.NoError(t, err)
	b, err := p.Launch(user.Launch{Exe: "/bin/yielder", Arg: "b"})
	require.NoError(t, err)
	for _, pid := range []int{a, b} {
		code, err := p.Wait(pid)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3}, steps)
}
