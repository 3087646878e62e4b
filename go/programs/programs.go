// Package programs holds the executables every kernel boots with.
package programs

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/ipc"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/user"
)

// Message labels understood by the programs.
const (
	LabelQuit uint32 = iota
	LabelEcho
	LabelTick
)

const TickChannel = "ticks"

var Builtin = map[string]user.Main{
	"/bin/echo":   Echo,
	"/bin/ticker": Ticker,
	"/bin/pinger": Pinger,
}

// Register installs the builtin programs into d's kernel.
func Register(d *sys.Dispatcher) {
	k := d.Kernel()
	for p, main := range Builtin {
		k.Register(p, user.Program(d, main))
	}
}

// Echo answers every request with its own payload and sends plain
// messages back to their sender, until it gets LabelQuit. It exits with
// the number of messages handled.
func Echo(p *user.Proc, arg string) int {
	handled := 0
	for {
		m, err := p.Receive(true)
		if err != nil {
			return -1
		}
		if m.Label == LabelQuit {
			return handled
		}
		handled++
		if m.Kind == ipc.KindRequest {
			p.Respond(m, m.Label, m.Payload)
		} else {
			p.Send(m.From, m.Label, m.Payload)
		}
	}
}

// Ticker broadcasts the tick count on TickChannel. arg is "interval
// count"; a count of 0 runs until cancelled.
func Ticker(p *user.Proc, arg string) int {
	interval, count, err := parseTicker(arg)
	if err != nil {
		return int(errno.InvalidArgument)
	}
	buf := make([]byte, 8)
	for i := 0; count == 0 || i < count; i++ {
		if _, err := p.Sleep(interval); err != nil {
			return -1
		}
		binary.LittleEndian.PutUint64(buf, p.Ticks())
		p.Broadcast(TickChannel, LabelTick, buf)
	}
	return 0
}

func parseTicker(arg string) (int64, int, error) {
	fields := strings.Fields(arg)
	interval, count := int64(10), 0
	var err error
	if len(fields) > 0 {
		if interval, err = strconv.ParseInt(fields[0], 0, 64); err != nil {
			return 0, 0, errors.Wrap(err, "interval")
		}
	}
	if len(fields) > 1 {
		if count, err = strconv.Atoi(fields[1]); err != nil {
			return 0, 0, errors.Wrap(err, "count")
		}
	}
	if interval <= 0 || count < 0 {
		return 0, 0, errors.New("interval must be positive")
	}
	return interval, count, nil
}

// Pinger sends requests to an echo server and checks the answers. arg is
// "pid count timeout". It exits with the number of failed pings.
func Pinger(p *user.Proc, arg string) int {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return int(errno.InvalidArgument)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return int(errno.InvalidArgument)
	}
	count, timeout := 1, int64(100)
	if len(fields) > 1 {
		if count, err = strconv.Atoi(fields[1]); err != nil {
			return int(errno.InvalidArgument)
		}
	}
	if len(fields) > 2 {
		if timeout, err = strconv.ParseInt(fields[2], 0, 64); err != nil {
			return int(errno.InvalidArgument)
		}
	}
	failed := 0
	for i := 0; i < count; i++ {
		payload := []byte("ping " + strconv.Itoa(i))
		resp, err := p.Request(pid, LabelEcho, payload, timeout)
		if err != nil || string(resp.Payload) != string(payload) {
			failed++
		}
	}
	return failed
}
