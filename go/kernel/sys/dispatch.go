package sys

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models"
	"github.com/lunixbochs/ukern/go/models/trace"
)

// ArgWords is the number of argument words every syscall carries.
const ArgWords = 5

type Args [ArgWords]uint64

type Dispatcher struct {
	k     *kernel.Kernel
	log   *models.Logger
	table *Table
	conv  argjoy.Argjoy
	rec   *trace.TraceWriter
}

// New binds every syscall to the kernel's handler of the same name and
// opens Config.TraceFile when set.
func New(k *kernel.Kernel) (*Dispatcher, error) {
	d, err := NewWith(k, k)
	if err != nil {
		return nil, err
	}
	if missing := d.table.Missing(); len(missing) > 0 {
		k.Log.Warnf("no handler for %d syscalls, first %s", len(missing), missing[0])
	}
	if path := k.Config.TraceFile; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create trace file")
		}
		w, err := trace.NewWriter(f, k.Config.SystemName, uint32(k.Config.PageSize), uint32(k.Config.TickRate))
		if err != nil {
			f.Close()
			return nil, err
		}
		d.rec = w
	}
	return d, nil
}

// NewWith dispatches to handlers instead of the kernel itself. Handlers
// still run against k's scheduler and configuration.
func NewWith(k *kernel.Kernel, handlers interface{}) (*Dispatcher, error) {
	table, err := BuildTable(handlers)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{k: k, log: k.Log, table: table}
	d.conv.Register(argCodec)
	d.conv.Register(argjoy.IntToInt)
	return d, nil
}

func (d *Dispatcher) Kernel() *kernel.Kernel { return d.k }

// Record sends a frame per syscall to w, replacing any trace file.
func (d *Dispatcher) Record(w *trace.TraceWriter) {
	d.rec = w
}

// Close flushes the trace file, if any.
func (d *Dispatcher) Close() error {
	if d.rec == nil {
		return nil
	}
	err := d.rec.Close()
	d.rec = nil
	return err
}

// Dispatch runs syscall id for t. The result is the handler's value, or a
// negated errno.
func (d *Dispatcher) Dispatch(t *sched.Task, id Syscall, args Args) int64 {
	if id >= Count || d.table[id] == nil {
		d.log.Warnf("%s: unimplemented syscall %s", t, id)
		return errno.NotImplemented.Ret()
	}
	e := d.table[id]
	if !d.k.Sched.Alive(t) {
		return errno.Cancelled.Ret()
	}
	tracing := d.k.Config.TraceSys || d.rec != nil || d.log.Enabled(models.SYSCALL)
	var note string
	if tracing {
		note = d.render(t, e, args)
	}
	ret, err := e.call(&d.conv, t, args[:])
	if err != nil {
		d.log.Warnf("%s: %v", t, err)
		ret = errno.InvalidArgument.Ret()
	}
	if (id.logAlways() && ret != 0) || ret < 0 {
		d.log.Warnf("%s: %s returned %s", t, e.Name, retString(ret))
	}
	if tracing {
		line := fmt.Sprintf("[%d] %s = %s", t.Pid, note, retString(ret))
		if d.k.Config.TraceSys {
			d.log.Printf("%s", line)
		} else {
			d.log.Debugf(models.SYSCALL, "%s", line)
		}
		if d.rec != nil {
			frame := &trace.Frame{
				Tick:    d.k.Sched.Ticks(),
				Pid:     int32(t.Pid),
				Syscall: uint32(id),
				Args:    args,
				Ret:     ret,
				Note:    note,
			}
			if err := d.rec.Record(frame); err != nil {
				d.log.Errorf("trace: %v", err)
			}
		}
	}
	if d.k.Sched.Alive(t) {
		d.k.Sched.Preempt(t)
	}
	return ret
}

func retString(ret int64) string {
	if ret < 0 {
		return fmt.Sprintf("%d (%s)", ret, errno.FromRet(ret))
	}
	return fmt.Sprintf("%d", ret)
}

func hex(a interface{}) string {
	tmp := fmt.Sprintf("0x%x", a)
	if strings.HasPrefix(tmp, "0x-") {
		tmp = "-0x" + tmp[3:]
	}
	return tmp
}

// render formats the call the way it would be written in source. A pointer
// followed by a length is shown as the bytes it names.
func (d *Dispatcher) render(t *sched.Task, e *Entry, args Args) string {
	vals, err := d.conv.Convert(e.In, false, args[:])
	if err != nil {
		return fmt.Sprintf("%s(%v)", e.Name, err)
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = d.renderArg(t, vals[i:], v)
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(out, ", "))
}

func (d *Dispatcher) renderArg(t *sched.Task, rest []reflect.Value, v reflect.Value) string {
	switch arg := v.Interface().(type) {
	case usermem.Ptr:
		if len(rest) > 1 {
			if size, ok := rest[1].Interface().(usermem.Len); ok {
				if r, err := usermem.Check(arg, uint64(size)); err == nil {
					if mem, err := usermem.ReadBytes(t.Space, r); err == nil {
						return models.Repr(mem, d.k.Config.Strsize)
					}
				}
			}
		}
		return hex(uint64(arg))
	case usermem.Len:
		return fmt.Sprintf("%d", uint64(arg))
	case kernel.Off:
		return hex(int64(arg))
	case kernel.Handle:
		return fmt.Sprintf("%d", int32(arg))
	case uint64:
		return hex(arg)
	default:
		return fmt.Sprintf("%v", arg)
	}
}
