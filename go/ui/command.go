package ui

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/fvbommel/sortorder"
	"github.com/lunixbochs/argjoy"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

// Command is a console command. Run is a func taking *Console followed by
// string, int, int64, uint32 or uint64 arguments, optionally ending in a
// []string that collects the rest of the line. It may return an error.
type Command struct {
	Name  string
	Usage string
	Desc  string
	Run   interface{}
}

var commands = make(map[string]*Command)

func cmd(c *Command) *Command {
	fn := reflect.ValueOf(c.Run)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		panic(fmt.Sprintf("Command.Run must be a func: got (%T) %#v\n", c.Run, c.Run))
	}
	commands[c.Name] = c
	return c
}

// Commands lists command names in natural order.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sortNatural(names)
	return names
}

func sortNatural(s []string) {
	sort.Sort(sortorder.Natural(s))
}

var stringsType = reflect.TypeOf([]string(nil))

// wordCodec parses console words into numeric arguments.
func wordCodec(arg interface{}, vals []interface{}) error {
	s, ok := vals[0].(string)
	if !ok {
		return argjoy.NoMatch
	}
	var err error
	switch v := arg.(type) {
	case *string:
		*v = s
	case *int:
		var n int64
		n, err = strconv.ParseInt(s, 0, 64)
		*v = int(n)
	case *int64:
		*v, err = strconv.ParseInt(s, 0, 64)
	case *uint32:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 32)
		*v = uint32(n)
	case *uint64:
		*v, err = strconv.ParseUint(s, 0, 64)
	default:
		return argjoy.NoMatch
	}
	return errors.Wrapf(err, "bad number %q", s)
}

var aj argjoy.Argjoy

func init() {
	aj.Register(wordCodec)
}

func (c *Command) call(con *Console, words []string) error {
	fn := reflect.ValueOf(c.Run)
	typ := fn.Type()
	in := make([]reflect.Type, 0, typ.NumIn()-1)
	for i := 1; i < typ.NumIn(); i++ {
		in = append(in, typ.In(i))
	}
	var rest []string
	tail := len(in) > 0 && in[len(in)-1] == stringsType
	if tail {
		in = in[:len(in)-1]
		if len(words) < len(in) {
			return errors.Errorf("usage: %s %s", c.Name, c.Usage)
		}
		words, rest = words[:len(in)], words[len(in):]
	} else if len(words) != len(in) {
		return errors.Errorf("usage: %s %s", c.Name, c.Usage)
	}
	args := []reflect.Value{reflect.ValueOf(con)}
	if len(in) > 0 {
		converted, err := aj.Convert(in, false, words)
		if err != nil {
			return err
		}
		args = append(args, converted...)
	}
	if tail {
		args = append(args, reflect.ValueOf(rest))
	}
	out := fn.Call(args)
	if len(out) > 0 {
		if err, ok := out[0].Interface().(error); ok {
			return err
		}
	}
	return nil
}

// Exec runs one console line.
func (con *Console) Exec(line string) error {
	words, err := shellwords.Parse(line)
	if err != nil {
		return errors.Wrap(err, "parse error")
	}
	if len(words) == 0 {
		return nil
	}
	name, args := words[0], words[1:]
	c, ok := commands[name]
	if !ok {
		return errors.Errorf("%s: command not found", name)
	}
	return c.call(con, args)
}
