package lfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
)

// Flush synchronously writes one vnode, all of its indirect blocks included.
// When too many segments have been filled since the last checkpoint it
// checkpoints instead.
func (fs *FS) Flush(ino common.Inum) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	ip := fs.inodes.Get(ino)
	if ip == nil {
		return errors.Errorf("flush: inode %d not loaded", ino)
	}
	fs.cache.WaitIdle(ino)
	if err := fs.lock(SegSync); err != nil {
		fs.fail(err)
		return err
	}
	fs.stats.FlushInvoked.Inc()
	sp := fs.sp
	sp.flushvp = ino

	var err error
	if fs.nactive > fs.cfg.MaxActive {
		fs.nest(SegCkp | SegSync)
		err = fs.segwrite()
		fs.unlock()
	} else {
		err = fs.flushVnode(ip)
	}
	if err != nil {
		sp.flags &^= SegCkp
		fs.fail(err)
	}
	fs.unlock()
	if err != nil {
		return err
	}
	fs.cache.WaitIdle(ino)
	if e := fs.Err(); e != nil {
		return errors.Wrap(ErrBroken, e.Error())
	}
	return nil
}

func (fs *FS) flushVnode(ip *inode.Inode) error {
	if !fs.cache.HasDirty(ip.Ino) {
		if err := fs.writeVnodes(vnEmpty); err != nil {
			return err
		}
	}
	fs.lockVnode(ip)
	defer fs.unlockVnode(ip)
	for {
		for {
			if fs.cache.HasDirty(ip.Ino) {
				if err := fs.writeFile(ip); err != nil {
					return err
				}
			}
			redo, err := fs.writeInode(ip)
			if err != nil {
				return err
			}
			if !redo {
				break
			}
		}
		redo, err := fs.writeSeg()
		if err != nil {
			return err
		}
		if !redo || ip.Ino != common.IFILE_INUM {
			return nil
		}
	}
}
