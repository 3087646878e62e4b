package run

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/cmd"
	"github.com/lunixbochs/ukern/go/user"
)

func Main(args []string) {
	c := cmd.NewKernelCmd()
	c.Usage = "<exe> [args...]"
	var spawn []string
	var status *bool
	c.SetupFlags = func() error {
		c.Flags.Func("spawn", "launch `exe` in the background first (repeatable)", func(s string) error {
			spawn = append(spawn, s)
			return nil
		})
		status = c.Flags.Bool("status", false, "print system status after the program exits")
		return nil
	}
	c.Main = func(args []string) (int, error) {
		p, err := user.Attach(c.Sys, "init")
		if err != nil {
			return 1, err
		}
		defer p.Detach()
		var bg []int
		for _, exe := range spawn {
			pid, err := p.Launch(user.Launch{Name: path.Base(exe), Exe: exe})
			if err != nil {
				return 1, errors.Wrapf(err, "spawn %s", exe)
			}
			bg = append(bg, pid)
		}
		exe := args[0]
		pid, err := p.Launch(user.Launch{
			Name: path.Base(exe),
			Exe:  exe,
			Arg:  strings.Join(args[1:], " "),
		})
		if err != nil {
			return 1, errors.Wrapf(err, "launch %s", exe)
		}
		start := time.Now()
		code, err := p.Wait(pid)
		if err != nil {
			return 1, err
		}
		if *status {
			st, err := p.SystemStatus()
			if err != nil {
				return 1, err
			}
			fmt.Fprintf(os.Stderr, "%s exited with %d after %s (%d ticks)\n", exe, code, time.Since(start).Round(time.Millisecond), p.Ticks())
			fmt.Fprintf(os.Stderr, "memory: %s of %s used, %d tasks running\n",
				humanize.IBytes(st.UsedRAM), humanize.IBytes(st.TotalRAM), st.RunningTasks)
		}
		for _, pid := range bg {
			p.Cancel(pid)
			p.Wait(pid)
		}
		return code, nil
	}
	c.Run(args)
}

func init() { cmd.Register("run", "run a program to completion", Main) }
