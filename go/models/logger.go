package models

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lunixbochs/vtclean"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/sasha-s/go-deadlock"
)

// Debug selectors. UKERN_DEBUG holds a ";" separated list of them.
type Selector string

const (
	ALWAYS  Selector = "ALWAYS"
	SCHED   Selector = "SCHED"
	SYSCALL Selector = "SYSCALL"
	IPC     Selector = "IPC"
	VM      Selector = "VM"
	SHM     Selector = "SHM"
	FS      Selector = "FS"
	HANDLE  Selector = "HANDLE"

	DebugEnv = "UKERN_DEBUG"
)

var (
	colorWarn  = ansi.ColorCode("yellow+b")
	colorError = ansi.ColorCode("red+b")
	colorDebug = ansi.ColorCode("cyan")
	colorInfo  = ansi.ColorCode("green")
)

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type Logger struct {
	mu     deadlock.Mutex
	out    io.Writer
	color  bool
	stamp  bool
	labels map[Selector]bool
	start  time.Time
}

// NewLogger writes to out. Colour is kept only when out is a terminal; any
// escape sequences reaching a non-terminal are stripped.
func NewLogger(out io.Writer, color bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	tty := false
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			out = colorable.NewColorable(f)
			tty = true
		}
	}
	color = color && tty
	l := &Logger{out: out, color: color, labels: make(map[Selector]bool), start: time.Now()}
	l.Enable(ParseSelectors(os.Getenv(DebugEnv))...)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{out: io.Discard, labels: make(map[Selector]bool)}
}

func ParseSelectors(s string) []Selector {
	var out []Selector
	for _, l := range strings.Split(s, ";") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, Selector(strings.ToUpper(l)))
		}
	}
	return out
}

func (l *Logger) Enable(labels ...Selector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range labels {
		l.labels[s] = true
	}
}

// Stamp prefixes every line with the time elapsed since the logger was made.
func (l *Logger) Stamp(on bool) {
	l.mu.Lock()
	l.stamp = on
	l.mu.Unlock()
}

func (l *Logger) Enabled(label Selector) bool {
	if label == ALWAYS {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.labels[label] || l.labels["ALL"]
}

func (l *Logger) Writer() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out
}

// SetOutput redirects the logger; colour stays as it was.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *Logger) emit(label, color, msg string) {
	msg = strings.TrimRight(msg, "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	if label != "" {
		if l.color {
			label = colorPad(label, color, 0)
		}
		msg = "[" + label + "] " + msg
	}
	if l.stamp {
		msg = fmt.Sprintf("%10.6f %s", time.Since(l.start).Seconds(), msg)
	}
	if !l.color {
		msg = vtclean.Clean(msg, false)
	}
	fmt.Fprintln(l.out, msg)
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.emit("", "", fmt.Sprintf(format, v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.emit("info", colorInfo, fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.emit("warn", colorWarn, fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.emit("error", colorError, fmt.Sprintf(format, v...))
}

// Debugf prints only when label is selected.
func (l *Logger) Debugf(label Selector, format string, v ...interface{}) {
	if !l.Enabled(label) {
		return
	}
	l.emit(string(label), colorDebug, fmt.Sprintf(format, v...))
}
