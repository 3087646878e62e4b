package kernel

import (
	"github.com/lunixbochs/ukern/go/kernel/sched"
	"github.com/lunixbochs/ukern/go/kernel/usermem"
	"github.com/lunixbochs/ukern/go/models"
)

func (k *Kernel) pathOp(t *sched.Task, p usermem.Ptr, op func(string) error) int64 {
	resolved, err := k.readPath(t, p)
	if err != nil {
		return ret(err)
	}
	err = op(resolved)
	k.Log.Debugf(models.FS, "%s: %s -> %v", t, resolved, err)
	return ret(err)
}

func (k *Kernel) pathOp2(t *sched.Task, oldp, newp usermem.Ptr, op func(string, string) error) int64 {
	from, err := k.readPath(t, oldp)
	if err != nil {
		return ret(err)
	}
	to, err := k.readPath(t, newp)
	if err != nil {
		return ret(err)
	}
	err = op(from, to)
	k.Log.Debugf(models.FS, "%s: %s, %s -> %v", t, from, to, err)
	return ret(err)
}

func (k *Kernel) FsMkdir(t *sched.Task, p usermem.Ptr) int64 {
	return k.pathOp(t, p, k.FS.Mkdir)
}

func (k *Kernel) FsMkpipe(t *sched.Task, p usermem.Ptr) int64 {
	return k.pathOp(t, p, k.FS.Mkpipe)
}

func (k *Kernel) FsLink(t *sched.Task, oldp, newp usermem.Ptr) int64 {
	return k.pathOp2(t, oldp, newp, k.FS.Link)
}

func (k *Kernel) FsUnlink(t *sched.Task, p usermem.Ptr) int64 {
	return k.pathOp(t, p, k.FS.Unlink)
}

func (k *Kernel) FsRename(t *sched.Task, oldp, newp usermem.Ptr) int64 {
	return k.pathOp2(t, oldp, newp, k.FS.Rename)
}
