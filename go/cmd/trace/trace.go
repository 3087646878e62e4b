package trace

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/cmd"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/models/trace"
)

type jsonFrame struct {
	*trace.Frame
	Name string `json:"name"`
}

func PrintJson(w io.Writer, tf *trace.TraceReader) error {
	out, err := json.Marshal(&tf.Header)
	if err != nil {
		return errors.Wrap(err, "error printing header")
	}
	fmt.Fprintf(w, "%s\n", out)
	for {
		f, err := tf.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrap(err, "error reading next trace frame")
		}
		out, _ := json.Marshal(&jsonFrame{f, sys.Syscall(f.Syscall).String()})
		fmt.Fprintf(w, "%s\n", out)
	}
	return nil
}

func PrintPretty(w io.Writer, tf *trace.TraceReader) error {
	h := &tf.Header
	fmt.Fprintf(w, "# %s, %d byte pages, %d Hz\n", h.System, h.PageSize, h.TickRate)
	for {
		f, err := tf.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrap(err, "error reading next trace frame")
		}
		ret := fmt.Sprintf("%d", f.Ret)
		if f.Ret < 0 {
			ret += " (" + errno.FromRet(f.Ret).Error() + ")"
		}
		fmt.Fprintf(w, "%8d [%d] %s = %s\n", f.Tick, f.Pid, f.Note, ret)
	}
	return nil
}

func Main(args []string) {
	fs := flag.NewFlagSet("args", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output trace as line-delimited JSON objects")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <tracefile>\n", args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	tf, err := trace.NewReader(f)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	defer tf.Close()
	if *jsonFlag {
		err = PrintJson(os.Stdout, tf)
	} else {
		err = PrintPretty(os.Stdout, tf)
	}
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}

func init() { cmd.Register("trace", "print a syscall trace file", Main) }
