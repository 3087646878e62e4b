package user

import (
	"github.com/lunixbochs/ukern/go/kernel/ipc"
	"github.com/lunixbochs/ukern/go/kernel/sys"
)

func (f *frame) message(to int, label uint32, payload []byte) uint64 {
	return f.put(ipc.ToWire(ipc.Message{To: to, Label: label, Payload: payload}))
}

func (f *frame) readMessage(addr uint64) (ipc.Message, error) {
	var w ipc.Wire
	if err := f.get(addr, &w); err != nil {
		return ipc.Message{}, err
	}
	return w.Message()
}

// Send queues a message for pid without waiting.
func (p *Proc) Send(to int, label uint32, payload []byte) error {
	f := p.frame()
	msg := f.message(to, label, payload)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.IpcSend, msg))
}

// Broadcast returns how many subscribers of channel got the message.
func (p *Proc) Broadcast(channel string, label uint32, payload []byte) (int, error) {
	f := p.frame()
	ch := f.str(channel)
	msg := f.message(0, label, payload)
	if f.err != nil {
		return 0, f.err
	}
	ret := p.Syscall(sys.IpcBroadcast, ch, msg)
	if ret < 0 {
		return 0, result(ret)
	}
	return int(ret), nil
}

// Receive takes the oldest message. Without wait an empty mailbox fails
// with WouldBlock.
func (p *Proc) Receive(wait bool) (ipc.Message, error) {
	f := p.frame()
	msg := f.reserve(&ipc.Wire{})
	if f.err != nil {
		return ipc.Message{}, f.err
	}
	var w uint64
	if wait {
		w = 1
	}
	if err := result(p.Syscall(sys.IpcReceive, msg, w)); err != nil {
		return ipc.Message{}, err
	}
	return f.readMessage(msg)
}

// Request sends a request to pid and waits up to timeout ticks for the
// response.
func (p *Proc) Request(to int, label uint32, payload []byte, timeout int64) (ipc.Message, error) {
	f := p.frame()
	req := f.message(to, label, payload)
	res := f.reserve(&ipc.Wire{})
	if f.err != nil {
		return ipc.Message{}, f.err
	}
	if err := result(p.Syscall(sys.IpcRequest, req, res, uint64(timeout))); err != nil {
		return ipc.Message{}, err
	}
	return f.readMessage(res)
}

// Respond answers a request obtained from Receive.
func (p *Proc) Respond(req ipc.Message, label uint32, payload []byte) error {
	f := p.frame()
	r := f.put(ipc.ToWire(req))
	msg := f.message(req.From, label, payload)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.IpcRespond, r, msg))
}

func (p *Proc) Subscribe(channel string) error {
	f := p.frame()
	ch := f.str(channel)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.IpcSubscribe, ch))
}

func (p *Proc) Unsubscribe(channel string) error {
	f := p.frame()
	ch := f.str(channel)
	if f.err != nil {
		return f.err
	}
	return result(p.Syscall(sys.IpcUnsubscribe, ch))
}
