package console

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/lunixbochs/ukern/go/cmd"
	"github.com/lunixbochs/ukern/go/ui"
	"github.com/lunixbochs/ukern/go/user"
)

func Main(args []string) {
	c := cmd.NewKernelCmd()
	c.NoArgs = true
	var listen *string
	c.SetupFlags = func() error {
		listen = c.Flags.String("listen", "", "also serve consoles on `addr`, like localhost:6464")
		return nil
	}
	c.Main = func(args []string) (int, error) {
		if *listen != "" {
			var ln net.Listener
			ready := make(chan error, 1)
			go func() {
				err := ui.Serve(c.Sys, *listen, func(l net.Listener) error {
					ln = l
					ready <- nil
					return nil
				})
				if err != nil {
					ready <- err
				}
			}()
			if err := <-ready; err != nil {
				return 1, err
			}
			fmt.Fprintf(os.Stderr, "serving consoles on %s\n", ln.Addr())
			defer ln.Close()
		}
		p, err := user.Attach(c.Sys, "console")
		if err != nil {
			return 1, err
		}
		defer p.Detach()
		if err := ui.NewConsole(p, os.Stdout).Run(); err != nil {
			return 1, err
		}
		return 0, nil
	}
	c.Run(args)
}

func Connect(args []string) {
	fs := flag.NewFlagSet("args", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <addr>\n", args[0])
	}
	fs.Parse(args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	if err := ui.Dial(fs.Arg(0)); err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}

func init() {
	cmd.Register("console", "boot a kernel and start an interactive console", Main)
	cmd.Register("connect", "attach to a console served with console -listen", Connect)
}
