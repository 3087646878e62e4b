package kernel

import (
	"time"

	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
)

func (k *Kernel) Info() *SystemInfo {
	info := &SystemInfo{}
	setCString(info.KernelName[:], KernelName)
	setCString(info.KernelRelease[:], KernelRelease)
	setCString(info.SystemName[:], k.Config.SystemName)
	setCString(info.Machine[:], k.Config.Machine)
	return info
}

func (k *Kernel) Status() *SystemStatus {
	total, used := k.Frames.Bytes()
	return &SystemStatus{
		Uptime:       uint64(k.Uptime() / time.Second),
		TotalRAM:     total,
		UsedRAM:      used,
		RunningTasks: uint64(k.Sched.Running()),
	}
}

func (k *Kernel) SystemGetInfo(t *sched.Task, out usermem.Ptr) int64 {
	return ret(usermem.PackAt(t.Space, out, k.Info()))
}

func (k *Kernel) SystemGetStatus(t *sched.Task, out usermem.Ptr) int64 {
	return ret(usermem.PackAt(t.Space, out, k.Status()))
}

// SystemGetTime writes the wall clock as unix seconds.
func (k *Kernel) SystemGetTime(t *sched.Task, out usermem.Ptr) int64 {
	now := uint64(time.Now().Unix())
	return ret(usermem.PackAt(t.Space, out, &now))
}

func (k *Kernel) SystemGetTicks(t *sched.Task) int64 {
	return int64(k.Sched.Ticks())
}
