// Package ui is the interactive console: a task attached to the kernel
// that issues syscalls on behalf of the user.
package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/user"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

type Console struct {
	p   *user.Proc
	k   *kernel.Kernel
	out io.Writer
}

func NewConsole(p *user.Proc, out io.Writer) *Console {
	return &Console{p: p, k: p.Kernel(), out: out}
}

func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
}

func historyPath() string {
	configDirs := configdir.New("ukern", "console")
	cacheDir := configDirs.QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err != nil {
		return ""
	}
	return filepath.Join(cacheDir.Path, "history")
}

const Prompt = "ukern> "

// Run reads commands from the terminal until quit or end of input.
func (c *Console) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		InterruptPrompt: "\n",
		HistoryFile:     historyPath(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	// kernel log lines would otherwise be drawn over the prompt
	if c.k.Config.Output == os.Stderr {
		c.k.Log.SetOutput(rl.Stderr())
		defer c.k.Log.SetOutput(os.Stderr)
	}
	c.loop(rl)
	return nil
}

func (c *Console) loop(rl *readline.Instance) {
	c.out = rl.Stdout()
	for {
		ln := rl.Line()
		if ln.CanContinue() {
			continue
		} else if ln.CanBreak() {
			return
		}
		if err := c.Exec(ln.Line); err != nil {
			if err == ErrQuit {
				return
			}
			c.Printf("error: %v\n", err)
		}
	}
}
