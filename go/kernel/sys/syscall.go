// Package sys is the syscall boundary: it numbers the syscalls, binds each
// number to a kernel handler and converts raw argument words for it.
package sys

import "fmt"

type Syscall uint32

const (
	ProcessThis Syscall = iota
	ProcessLaunch
	ProcessExit
	ProcessCancel
	ProcessSleep
	ProcessWakeup
	ProcessWait
	ProcessGetCwd
	ProcessSetCwd
	ProcessMap
	ProcessUnmap
	ProcessAlloc
	ProcessFree
	ProcessYield

	ShmAlloc
	ShmAcquire
	ShmRelease

	IpcSend
	IpcBroadcast
	IpcReceive
	IpcRequest
	IpcRespond
	IpcSubscribe
	IpcUnsubscribe

	FsMkdir
	FsMkpipe
	FsLink
	FsUnlink
	FsRename

	SystemGetInfo
	SystemGetStatus
	SystemGetTime
	SystemGetTicks

	HandleOpen
	HandleClose
	HandleSelect
	HandleRead
	HandleWrite
	HandleCall
	HandleSeek
	HandleTell
	HandleStat
	HandleConnect
	HandleAccept
	HandleSend
	HandleReceive
	HandlePayload
	HandleDiscard

	Count
)

var names = [Count]string{
	ProcessThis:     "process_this",
	ProcessLaunch:   "process_launch",
	ProcessExit:     "process_exit",
	ProcessCancel:   "process_cancel",
	ProcessSleep:    "process_sleep",
	ProcessWakeup:   "process_wakeup",
	ProcessWait:     "process_wait",
	ProcessGetCwd:   "process_get_cwd",
	ProcessSetCwd:   "process_set_cwd",
	ProcessMap:      "process_map",
	ProcessUnmap:    "process_unmap",
	ProcessAlloc:    "process_alloc",
	ProcessFree:     "process_free",
	ProcessYield:    "process_yield",
	ShmAlloc:        "shm_alloc",
	ShmAcquire:      "shm_acquire",
	ShmRelease:      "shm_release",
	IpcSend:         "ipc_send",
	IpcBroadcast:    "ipc_broadcast",
	IpcReceive:      "ipc_receive",
	IpcRequest:      "ipc_request",
	IpcRespond:      "ipc_respond",
	IpcSubscribe:    "ipc_subscribe",
	IpcUnsubscribe:  "ipc_unsubscribe",
	FsMkdir:         "fs_mkdir",
	FsMkpipe:        "fs_mkpipe",
	FsLink:          "fs_link",
	FsUnlink:        "fs_unlink",
	FsRename:        "fs_rename",
	SystemGetInfo:   "system_get_info",
	SystemGetStatus: "system_get_status",
	SystemGetTime:   "system_get_time",
	SystemGetTicks:  "system_get_ticks",
	HandleOpen:      "handle_open",
	HandleClose:     "handle_close",
	HandleSelect:    "handle_select",
	HandleRead:      "handle_read",
	HandleWrite:     "handle_write",
	HandleCall:      "handle_call",
	HandleSeek:      "handle_seek",
	HandleTell:      "handle_tell",
	HandleStat:      "handle_stat",
	HandleConnect:   "handle_connect",
	HandleAccept:    "handle_accept",
	HandleSend:      "handle_send",
	HandleReceive:   "handle_receive",
	HandlePayload:   "handle_payload",
	HandleDiscard:   "handle_discard",
}

var byName = make(map[string]Syscall, Count)

func init() {
	for i, name := range names {
		byName[name] = Syscall(i)
	}
}

func (s Syscall) String() string {
	if s < Count {
		return names[s]
	}
	return fmt.Sprintf("syscall_%d", uint32(s))
}

// Lookup finds a syscall by its snake_case name.
func Lookup(name string) (Syscall, bool) {
	s, ok := byName[name]
	return s, ok
}

// Names lists every syscall name in number order.
func Names() []string {
	return append([]string(nil), names[:]...)
}

// logAlways reports whether a result is worth a warning: handle calls
// return 0 on success, so any other value is notable; the rest return
// counts or ids and only fail when negative.
func (s Syscall) logAlways() bool {
	return s >= HandleOpen
}
