package ui

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/memfs"
	"github.com/lunixbochs/ukern/go/models"
	"github.com/lunixbochs/ukern/go/user"
)

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "Display this help.",
	Run: func(c *Console) {
		for _, name := range Commands() {
			usage := strings.TrimSpace(name + " " + commands[name].Usage)
			c.Printf("  %-24s %s\n", usage, commands[name].Desc)
		}
	},
})

var QuitCmd = cmd(&Command{
	Name: "quit",
	Desc: "Leave the console.",
	Run:  func(c *Console) error { return ErrQuit },
})

var ExitCmd = cmd(&Command{
	Name: "exit",
	Desc: "Alias for quit.",
	Run:  func(c *Console) error { return ErrQuit },
})

var PsCmd = cmd(&Command{
	Name: "ps",
	Desc: "List tasks.",
	Run: func(c *Console) {
		c.Printf("%5s %5s %-8s %-8s %4s %8s  %s\n", "PID", "PPID", "STATE", "WAIT", "FDS", "MEM", "NAME")
		for _, t := range c.k.Sched.Tasks() {
			ppid := "-"
			if t.Parent >= 0 {
				ppid = fmt.Sprint(t.Parent)
			}
			name := t.Name
			if t.Attached {
				name += " (attached)"
			}
			mem := humanize.IBytes(uint64(t.Pages) * c.k.Config.PageSize)
			c.Printf("%5d %5s %-8s %-8s %4d %8s  %s\n", t.Pid, ppid, t.State, t.Reason, t.Handles, mem, name)
		}
	},
})

var ProgsCmd = cmd(&Command{
	Name: "progs",
	Desc: "List registered executables.",
	Run: func(c *Console) {
		progs := c.k.Programs()
		sortNatural(progs)
		for _, p := range progs {
			c.Printf("%s\n", p)
		}
	},
})

var RunCmd = cmd(&Command{
	Name:  "run",
	Usage: "<exe> [arg...]",
	Desc:  "Launch an executable.",
	Run: func(c *Console, exe string, args []string) error {
		pid, err := c.p.Launch(user.Launch{
			Name: path.Base(exe),
			Exe:  exe,
			Arg:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		c.Printf("%d\n", pid)
		return nil
	},
})

var WaitCmd = cmd(&Command{
	Name:  "wait",
	Usage: "<pid>",
	Desc:  "Wait for a child and print its exit code.",
	Run: func(c *Console, pid int) error {
		code, err := c.p.Wait(pid)
		if err != nil {
			return err
		}
		c.Printf("%d exited with %d\n", pid, code)
		return nil
	},
})

var KillCmd = cmd(&Command{
	Name:  "kill",
	Usage: "<pid>",
	Desc:  "Cancel a task.",
	Run:   func(c *Console, pid int) error { return c.p.Cancel(pid) },
})

var WakeCmd = cmd(&Command{
	Name:  "wake",
	Usage: "<pid>",
	Desc:  "Wake a sleeping task.",
	Run:   func(c *Console, pid int) error { return c.p.Wakeup(pid) },
})

var TickCmd = cmd(&Command{
	Name:  "tick",
	Usage: "<n>",
	Desc:  "Advance the clock by n ticks.",
	Run: func(c *Console, n uint64) {
		c.k.Tick(n)
		c.Printf("%d\n", c.p.Ticks())
	},
})

var SendCmd = cmd(&Command{
	Name:  "send",
	Usage: "<pid> <label> [text...]",
	Desc:  "Send a message.",
	Run: func(c *Console, pid int, label uint32, text []string) error {
		return c.p.Send(pid, label, []byte(strings.Join(text, " ")))
	},
})

var RequestCmd = cmd(&Command{
	Name:  "request",
	Usage: "<pid> <label> <timeout> [text...]",
	Desc:  "Send a request and print the response.",
	Run: func(c *Console, pid int, label uint32, timeout int64, text []string) error {
		m, err := c.p.Request(pid, label, []byte(strings.Join(text, " ")), timeout)
		if err != nil {
			return err
		}
		c.Printf("%d: %s\n", m.Label, models.Repr(m.Payload, c.k.Config.Strsize))
		return nil
	},
})

var RecvCmd = cmd(&Command{
	Name: "recv",
	Desc: "Print pending messages.",
	Run: func(c *Console) error {
		for {
			m, err := c.p.Receive(false)
			if err != nil {
				if errno.Is(err, errno.WouldBlock) {
					return nil
				}
				return err
			}
			c.Printf("from %d label %d: %s\n", m.From, m.Label, models.Repr(m.Payload, c.k.Config.Strsize))
		}
	},
})

var SubCmd = cmd(&Command{
	Name:  "sub",
	Usage: "<channel>",
	Desc:  "Subscribe to a channel.",
	Run:   func(c *Console, ch string) error { return c.p.Subscribe(ch) },
})

var UnsubCmd = cmd(&Command{
	Name:  "unsub",
	Usage: "<channel>",
	Desc:  "Unsubscribe from a channel.",
	Run:   func(c *Console, ch string) error { return c.p.Unsubscribe(ch) },
})

var BcastCmd = cmd(&Command{
	Name:  "bcast",
	Usage: "<channel> <label> [text...]",
	Desc:  "Broadcast to a channel's subscribers.",
	Run: func(c *Console, ch string, label uint32, text []string) error {
		n, err := c.p.Broadcast(ch, label, []byte(strings.Join(text, " ")))
		if err != nil {
			return err
		}
		c.Printf("delivered to %d\n", n)
		return nil
	},
})

var LsCmd = cmd(&Command{
	Name:  "ls",
	Usage: "[dir]",
	Desc:  "List a directory.",
	Run: func(c *Console, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		data, err := c.slurp(dir, handle.OpenRead|handle.OpenDirectory)
		if err != nil {
			return err
		}
		entries, err := memfs.ParseDirEntries(data)
		if err != nil {
			return err
		}
		for _, e := range entries {
			kind := handle.Kind(e.Kind)
			name := e.Name
			if kind == handle.KindDirectory {
				name += "/"
			}
			c.Printf("%-10s %8s  %s\n", kind, humanize.IBytes(e.Size), name)
		}
		return nil
	},
})

var CatCmd = cmd(&Command{
	Name:  "cat",
	Usage: "<file>",
	Desc:  "Print a file.",
	Run: func(c *Console, name string) error {
		data, err := c.slurp(name, handle.OpenRead)
		if err != nil {
			return err
		}
		c.Printf("%s", data)
		return nil
	},
})

var WriteCmd = cmd(&Command{
	Name:  "write",
	Usage: "<file> [text...]",
	Desc:  "Replace a file's contents with a line of text.",
	Run: func(c *Console, name string, text []string) error {
		h, err := c.p.Open(name, handle.OpenWrite|handle.OpenCreate|handle.OpenTruncate)
		if err != nil {
			return err
		}
		defer c.p.Close(h)
		data := []byte(strings.Join(text, " ") + "\n")
		for len(data) > 0 {
			n, err := c.p.Write(h, data)
			if err != nil {
				return err
			}
			data = data[n:]
		}
		return nil
	},
})

var MkdirCmd = cmd(&Command{
	Name:  "mkdir",
	Usage: "<dir>",
	Desc:  "Create a directory.",
	Run:   func(c *Console, dir string) error { return c.p.Mkdir(dir) },
})

var MkpipeCmd = cmd(&Command{
	Name:  "mkpipe",
	Usage: "<path>",
	Desc:  "Create a named pipe.",
	Run:   func(c *Console, name string) error { return c.p.Mkpipe(name) },
})

var RmCmd = cmd(&Command{
	Name:  "rm",
	Usage: "<path>",
	Desc:  "Unlink a path.",
	Run:   func(c *Console, name string) error { return c.p.Unlink(name) },
})

var MvCmd = cmd(&Command{
	Name:  "mv",
	Usage: "<old> <new>",
	Desc:  "Rename a path.",
	Run:   func(c *Console, from, to string) error { return c.p.Rename(from, to) },
})

var LnCmd = cmd(&Command{
	Name:  "ln",
	Usage: "<old> <new>",
	Desc:  "Link a file under a second name.",
	Run:   func(c *Console, from, to string) error { return c.p.Link(from, to) },
})

var CdCmd = cmd(&Command{
	Name:  "cd",
	Usage: "<dir>",
	Desc:  "Change the working directory.",
	Run:   func(c *Console, dir string) error { return c.p.Chdir(dir) },
})

var PwdCmd = cmd(&Command{
	Name: "pwd",
	Desc: "Print the working directory.",
	Run: func(c *Console) error {
		cwd, err := c.p.Getcwd()
		if err != nil {
			return err
		}
		c.Printf("%s\n", cwd)
		return nil
	},
})

var InfoCmd = cmd(&Command{
	Name: "info",
	Desc: "Print system identification.",
	Run: func(c *Console) error {
		info, err := c.p.SystemInfo()
		if err != nil {
			return err
		}
		c.Printf("%s %s %s %s\n",
			kernel.CString(info.KernelName[:]), kernel.CString(info.KernelRelease[:]),
			kernel.CString(info.SystemName[:]), kernel.CString(info.Machine[:]))
		return nil
	},
})

var StatusCmd = cmd(&Command{
	Name: "status",
	Desc: "Print uptime, memory and task counts.",
	Run: func(c *Console) error {
		st, err := c.p.SystemStatus()
		if err != nil {
			return err
		}
		up := time.Duration(st.Uptime) * time.Second
		c.Printf("up %s, %d ticks\n", up, c.p.Ticks())
		c.Printf("memory: %s of %s used\n", humanize.IBytes(st.UsedRAM), humanize.IBytes(st.TotalRAM))
		c.Printf("tasks: %s running\n", humanize.Comma(int64(st.RunningTasks)))
		return nil
	},
})

var AllocCmd = cmd(&Command{
	Name:  "alloc",
	Usage: "<pages>",
	Desc:  "Map anonymous pages.",
	Run: func(c *Console, pages int) error {
		addr, err := c.p.Alloc(pages)
		if err != nil {
			return err
		}
		c.Printf("%#x\n", addr)
		return nil
	},
})

var FreeCmd = cmd(&Command{
	Name:  "free",
	Usage: "<addr> <pages>",
	Desc:  "Unmap pages from alloc.",
	Run:   func(c *Console, addr uint64, pages int) error { return c.p.Free(addr, pages) },
})

var ShmCmd = cmd(&Command{
	Name:  "shm",
	Usage: "alloc <pages> | acquire <id> | release <id>",
	Desc:  "Manage shared memory regions.",
	Run: func(c *Console, op string, n int) error {
		switch op {
		case "alloc":
			id, addr, err := c.p.ShmAlloc(n)
			if err != nil {
				return err
			}
			c.Printf("region %d at %#x\n", id, addr)
		case "acquire":
			addr, err := c.p.ShmAcquire(n)
			if err != nil {
				return err
			}
			c.Printf("%#x\n", addr)
		case "release":
			return c.p.ShmRelease(n)
		default:
			return errors.Errorf("usage: shm %s", "alloc <pages> | acquire <id> | release <id>")
		}
		return nil
	},
})

var PokeCmd = cmd(&Command{
	Name:  "poke",
	Usage: "<addr> [text...]",
	Desc:  "Store text in the console's memory.",
	Run: func(c *Console, addr uint64, text []string) error {
		return c.p.Store(addr, []byte(strings.Join(text, " ")))
	},
})

var HexdumpCmd = cmd(&Command{
	Name:  "hexdump",
	Usage: "<addr> <size>",
	Desc:  "Dump the console's memory.",
	Run: func(c *Console, addr uint64, size int) error {
		mem, err := c.p.Load(addr, size)
		if err != nil {
			return err
		}
		for _, line := range models.HexDump(addr, mem, 8) {
			c.Printf("%s\n", line)
		}
		return nil
	},
})

// slurp reads a whole file or directory through a handle.
func (c *Console) slurp(name string, flags handle.OpenFlag) ([]byte, error) {
	h, err := c.p.Open(name, flags)
	if err != nil {
		return nil, err
	}
	defer c.p.Close(h)
	var out []byte
	buf := make([]byte, 64*memfs.DirEntrySize)
	for {
		n, err := c.p.Read(h, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}
