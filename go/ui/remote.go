package ui

import (
	"fmt"
	"net"
	"os"

	"github.com/chzyer/readline"

	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/user"
)

// Serve runs a console for every connection to addr, each on its own
// attached task. It returns once the listener is closed. onListen, if
// set, gets the listener before the first Accept.
func Serve(d *sys.Dispatcher, addr string, onListen func(net.Listener) error) error {
	cfg := &readline.Config{Prompt: Prompt}
	handler := func(rl *readline.Instance) {
		defer rl.Close()
		p, err := user.Attach(d, "remote")
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			return
		}
		defer p.Detach()
		fmt.Fprintf(os.Stderr, "console %d connected\n", p.Pid())
		NewConsole(p, rl.Stdout()).loop(rl)
	}
	if onListen == nil {
		onListen = func(ln net.Listener) error {
			fmt.Fprintf(os.Stderr, "Waiting for connection on %s\n", ln.Addr())
			return nil
		}
	}
	return readline.ListenRemote("tcp", addr, cfg, handler, onListen)
}

// Dial connects the terminal to a console served by Serve.
func Dial(addr string) error {
	return readline.DialRemote("tcp", addr)
}
