package kernel

import (
	"github.com/lunixbochs/ukern/go/kernel/errno"
	"github.com/lunixbochs/ukern/go/kernel/ipc"
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models"
)

func (k *Kernel) readMessage(t *sched.Task, p usermem.Ptr) (ipc.Message, error) {
	var w ipc.Wire
	if err := usermem.UnpackAt(t.Space, p, &w); err != nil {
		return ipc.Message{}, err
	}
	m, err := w.Message()
	if err != nil {
		return ipc.Message{}, err
	}
	m.From = t.Pid
	return m, nil
}

func (k *Kernel) readChannel(t *sched.Task, p usermem.Ptr) (string, error) {
	return usermem.ReadString(t.Space, p, ipc.ChannelMax+1)
}

func (k *Kernel) IpcSend(t *sched.Task, msg usermem.Ptr) int64 {
	m, err := k.readMessage(t, msg)
	if err != nil {
		return ret(err)
	}
	k.Log.Debugf(models.IPC, "send %d -> %d label=%d size=%d", m.From, m.To, m.Label, len(m.Payload))
	return ret(k.Hub.Send(m))
}

// IpcBroadcast returns the number of subscribers reached.
func (k *Kernel) IpcBroadcast(t *sched.Task, channel, msg usermem.Ptr) int64 {
	name, err := k.readChannel(t, channel)
	if err != nil {
		return ret(err)
	}
	m, err := k.readMessage(t, msg)
	if err != nil {
		return ret(err)
	}
	got, err := k.Hub.Broadcast(name, m)
	if err != nil {
		return ret(err)
	}
	k.Log.Debugf(models.IPC, "broadcast %q from %d reached %v", name, m.From, got)
	return int64(len(got))
}

// IpcReceive takes the oldest message for t. With wait set it blocks until
// one arrives.
func (k *Kernel) IpcReceive(t *sched.Task, msg usermem.Ptr, wait uint32) int64 {
	r, err := usermem.CheckStruct(msg, &ipc.Wire{})
	if err != nil {
		return ret(err)
	}
	var m ipc.Message
	ready := func() bool { return k.Hub.Pending(t.Pid) > 0 }
	err = k.retry(t, sched.ReasonMessage, 0, wait != 0, ready, func() (err error) {
		m, err = k.Hub.Receive(t.Pid)
		return err
	})
	if err != nil {
		return ret(err)
	}
	return ret(usermem.Pack(t.Space, r, ipc.ToWire(m)))
}

// IpcRequest delivers req and blocks until the response is written to
// result or timeout ticks pass.
func (k *Kernel) IpcRequest(t *sched.Task, req, result usermem.Ptr, timeout int64) int64 {
	r, err := usermem.CheckStruct(result, &ipc.Wire{})
	if err != nil {
		return ret(err)
	}
	m, err := k.readMessage(t, req)
	if err != nil {
		return ret(err)
	}
	deadline := k.Sched.Deadline(timeout)
	corr, err := k.Hub.Request(m)
	if err != nil {
		return ret(err)
	}
	k.Log.Debugf(models.IPC, "request %d -> %d corr=%d timeout=%d", m.From, m.To, corr, timeout)
	resp, err := k.awaitResponse(t, corr, timeout, deadline)
	if err != nil {
		return ret(err)
	}
	return ret(usermem.Pack(t.Space, r, ipc.ToWire(resp)))
}

func (k *Kernel) awaitResponse(t *sched.Task, corr uint64, timeout int64, deadline uint64) (ipc.Message, error) {
	g := k.Sched.Enter()
	defer g.Leave()
	for {
		if resp, ok := k.Hub.Collect(corr); ok {
			return resp, nil
		}
		if timeout <= 0 && !k.Config.ZeroTimeoutBlocks() {
			k.Hub.Abandon(corr)
			return ipc.Message{}, errno.Timeout
		}
		w := g.Block(t, sched.ReasonResponse, deadline, func() bool { return k.Hub.Answered(corr) })
		if w == sched.WakeEvent {
			continue
		}
		if resp, ok := k.Hub.Collect(corr); ok && w != sched.WakeCancelled {
			return resp, nil
		}
		k.Hub.Abandon(corr)
		k.Log.Debugf(models.IPC, "request corr=%d abandoned: %s", corr, w)
		return ipc.Message{}, wakeErr(w)
	}
}

// IpcRespond answers the request previously received into req. A request
// nobody waits for any more is silently dropped.
func (k *Kernel) IpcRespond(t *sched.Task, req, result usermem.Ptr) int64 {
	var w ipc.Wire
	if err := usermem.UnpackAt(t.Space, req, &w); err != nil {
		return ret(err)
	}
	if ipc.Kind(w.Kind) != ipc.KindRequest {
		return errno.InvalidArgument.Ret()
	}
	m, err := k.readMessage(t, result)
	if err != nil {
		return ret(err)
	}
	return ret(k.Hub.Respond(int(w.From), w.Correlation, m))
}

func (k *Kernel) IpcSubscribe(t *sched.Task, channel usermem.Ptr) int64 {
	name, err := k.readChannel(t, channel)
	if err != nil {
		return ret(err)
	}
	return ret(k.Hub.Subscribe(t.Pid, name))
}

func (k *Kernel) IpcUnsubscribe(t *sched.Task, channel usermem.Ptr) int64 {
	name, err := k.readChannel(t, channel)
	if err != nil {
		return ret(err)
	}
	return ret(k.Hub.Unsubscribe(t.Pid, name))
}
