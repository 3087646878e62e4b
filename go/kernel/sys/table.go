package sys

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/handle"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

var (
	taskType  = reflect.TypeOf((*sched.Task)(nil))
	int64Type = reflect.TypeOf(int64(0))
)

// Entry binds a syscall number to a handler method.
type Entry struct {
	ID       Syscall
	Name     string
	Instance reflect.Value
	Method   reflect.Method
	// In excludes the receiver and the calling task.
	In []reflect.Type
}

// Table maps syscall numbers to handlers. Numbers without a handler are
// nil.
type Table [Count]*Entry

func camelToSnakeCase(name string) string {
	var words []string
	last := 0
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				words = append(words, name[last:i])
			}
			last = i
		}
	}
	words = append(words, name[last:])
	return strings.ToLower(strings.Join(words, "_"))
}

// BuildTable collects the exported methods of handlers whose snake_case
// name is a syscall. Each must take (*sched.Task, args...) and return a
// single int64.
func BuildTable(handlers interface{}) (*Table, error) {
	table := &Table{}
	instance := reflect.ValueOf(handlers)
	typ := instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if r, size := utf8.DecodeRuneInString(method.Name); size <= 0 || !unicode.IsUpper(r) {
			continue
		}
		id, ok := Lookup(camelToSnakeCase(method.Name))
		if !ok {
			continue
		}
		mt := method.Type
		if mt.NumIn() < 2 || mt.In(1) != taskType {
			return nil, errors.Errorf("%s: first argument must be %s", method.Name, taskType)
		}
		if mt.NumOut() != 1 || mt.Out(0) != int64Type {
			return nil, errors.Errorf("%s: must return int64", method.Name)
		}
		in := make([]reflect.Type, mt.NumIn()-2)
		for j := range in {
			in[j] = mt.In(j + 2)
		}
		if len(in) > ArgWords {
			return nil, errors.Errorf("%s: %d arguments, at most %d fit", method.Name, len(in), ArgWords)
		}
		table[id] = &Entry{
			ID:       id,
			Name:     id.String(),
			Instance: instance,
			Method:   method,
			In:       in,
		}
	}
	return table, nil
}

// Missing lists syscalls with no handler.
func (t *Table) Missing() []Syscall {
	var out []Syscall
	for i, e := range t {
		if e == nil {
			out = append(out, Syscall(i))
		}
	}
	return out
}

// argCodec turns a raw argument word into one of the kernel's typed
// arguments.
func argCodec(arg interface{}, vals []interface{}) error {
	if reg, ok := vals[0].(uint64); ok {
		switch v := arg.(type) {
		case *usermem.Ptr:
			*v = usermem.Ptr(reg)
		case *usermem.Len:
			*v = usermem.Len(reg)
		case *kernel.Off:
			*v = kernel.Off(reg)
		case *kernel.Handle:
			*v = kernel.Handle(int32(reg))
		case *handle.Whence:
			*v = handle.Whence(reg)
		case *handle.OpenFlag:
			*v = handle.OpenFlag(reg)
		default:
			return argjoy.NoMatch
		}
		return nil
	}
	return argjoy.NoMatch
}

func (e *Entry) call(conv *argjoy.Argjoy, t *sched.Task, args []uint64) (int64, error) {
	converted, err := conv.Convert(e.In, false, args)
	if err != nil {
		return 0, errors.Wrapf(err, "converting %s arguments", e.Name)
	}
	in := make([]reflect.Value, 0, len(converted)+2)
	in = append(in, e.Instance, reflect.ValueOf(t))
	in = append(in, converted...)
	out := e.Method.Func.Call(in)
	return out[0].Int(), nil
}
