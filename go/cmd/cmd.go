package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/models"
	"github.com/lunixbochs/ukern/go/programs"
)

type strslice []string

func (s *strslice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *strslice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// KernelCmd boots a kernel from a config file plus command line overrides.
// Main runs once the kernel is up and its clock is running; its return
// value is the process exit code.
type KernelCmd struct {
	Config *models.Config
	Kernel *kernel.Kernel
	Sys    *sys.Dispatcher

	SetupFlags func() error
	Main       func(args []string) (int, error)

	Usage  string
	NoArgs bool
	Flags  *flag.FlagSet
}

func NewKernelCmd() *KernelCmd {
	return &KernelCmd{Flags: flag.NewFlagSet("cli", flag.ExitOnError)}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err, and its stack trace if it carries one.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	st, ok := errors.Cause(err).(stackTracer)
	if !ok {
		st, ok = err.(stackTracer)
	}
	if !ok {
		return
	}
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		tmp := strings.SplitN(fmt.Sprintf("%+s", f), "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	var widths [2]int
	for _, f := range frames {
		for i := range widths {
			if len(f[i]) > widths[i] {
				widths[i] = len(f[i])
			}
		}
	}
	for _, f := range frames {
		for i := range widths {
			if widths[i] > 0 {
				fmt.Fprintf(os.Stderr, "%-*s | ", widths[i], f[i])
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", f[2])
	}
}

// Run parses argv, boots the kernel and calls Main. It does not return.
func (c *KernelCmd) Run(argv []string) {
	fs := c.Flags
	configFile := fs.String("config", "", "yaml config file (default: ukern.yaml in the user config folder)")
	strace := fs.Bool("strace", false, "trace syscalls")
	tracefile := fs.String("to", "", "binary syscall trace output file")
	strsize := fs.Int("strsize", -1, "limit -strace'd strings to length (0 disables)")
	cpus := fs.Int("cpus", 0, "number of tasks allowed to run at once")
	tickRate := fs.Int("hz", 0, "clock ticks per second")
	pages := fs.Int("pages", 0, "physical memory size in pages")
	color := fs.Bool("color", false, "colorize log output on a terminal")
	stamp := fs.Bool("stamp", false, "prefix log lines with elapsed time")
	outfile := fs.String("o", "", "redirect log output to file (default stderr)")
	cpuprofile := fs.String("cpuprofile", "", "write cpu profile to <file>")
	var debug strslice
	fs.Var(&debug, "debug", "enable debug selectors, like SCHED;IPC or ALL")

	fs.Usage = func() {
		usage := "Usage: %s [options]"
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		fmt.Fprintf(os.Stderr, usage+"\n\nOptions:\n", os.Args[0])
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(os.Stderr, flags)
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			PrintError(err)
			os.Exit(1)
		}
	}
	fs.Parse(argv[1:])
	args := fs.Args()
	if !c.NoArgs && len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}

	config, err := models.LoadConfig(*configFile)
	if err != nil {
		PrintError(err)
		os.Exit(1)
	}
	// flags win over the config file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "strace":
			config.TraceSys = *strace
		case "to":
			config.TraceFile = *tracefile
		case "strsize":
			config.Strsize = *strsize
		case "cpus":
			config.CPUs = *cpus
		case "hz":
			config.TickRate = *tickRate
		case "pages":
			config.MemoryPages = *pages
		case "color":
			config.Color = *color
		}
	})
	config.Debug = append(config.Debug, debug...)
	if *outfile != "" {
		out, err := os.OpenFile(*outfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			PrintError(errors.Wrap(err, "failed to open log file"))
			os.Exit(1)
		}
		config.Output = out
	}
	c.Config = config

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			PrintError(err)
			os.Exit(1)
		}
		pprof.StartCPUProfile(f)
	}

	code, err := c.boot(*stamp, args)
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if err != nil {
		PrintError(err)
		os.Exit(1)
	}
	os.Exit(code)
}

func (c *KernelCmd) boot(stamp bool, args []string) (int, error) {
	k, err := kernel.New(c.Config, nil)
	if err != nil {
		return 1, err
	}
	k.Log.Stamp(stamp)
	d, err := sys.New(k)
	if err != nil {
		return 1, err
	}
	defer d.Close()
	programs.Register(d)
	c.Kernel, c.Sys = k, d

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k.Start(ctx)
	defer k.Shutdown()
	return c.Main(args)
}
