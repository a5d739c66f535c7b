package lfs

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

type vnOp int

const (
	// vnodes outside directory operations
	vnReg vnOp = iota
	// vnodes of directory operations, written as one unit
	vnDirop
	// modified inodes without dirty blocks
	vnEmpty
)

// SegWrite writes every dirty vnode to the log. With SegCkp it also writes
// the ifile and a superblock; with SegSync it returns once that is on
// disk.
func (fs *FS) SegWrite(flags SegFlags) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	if err := fs.lock(flags); err != nil {
		fs.fail(err)
		return err
	}
	if fs.nactive > fs.cfg.MaxActive {
		fs.sp.flags |= SegCkp
	}
	err := fs.segwrite()
	if err != nil {
		fs.sp.flags &^= SegCkp
		fs.fail(err)
	}
	sync := fs.sp.sync()
	fs.unlock()
	if err == nil && sync {
		if e := fs.Err(); e != nil {
			err = errors.Wrap(ErrBroken, e.Error())
		}
	}
	return err
}

func (fs *FS) segwrite() error {
	sp := fs.sp
	doCkp := sp.ckp()
	fs.stats.Nwrites.Inc()
	if sp.sync() {
		fs.stats.NsyncWrites.Inc()
	}

	if err := fs.writeVnodes(vnReg); err != nil {
		return err
	}
	if !(fs.diropsPending() && sp.flushvp != common.NULLINUM) {
		if err := fs.writeDirops(); err != nil {
			return err
		}
	}

	if doCkp {
		if err := fs.clearActive(); err != nil {
			return err
		}
	}
	var didCkp = false
	if doCkp || fs.doifile {
		fs.doifile = false
		fs.ifileMu.Lock()
		d, err := fs.writeIfile(doCkp)
		fs.ifileMu.Unlock()
		if err != nil {
			return err
		}
		didCkp = d
	} else {
		if _, err := fs.writeSeg(); err != nil {
			return err
		}
	}
	if doCkp && !didCkp {
		sp.flags &^= SegCkp
	}
	return nil
}

// writeDirops writes the vnodes of directory operations once none is in
// progress, so that each operation reaches the log whole.
func (fs *FS) writeDirops() error {
	sp := fs.sp
	if fs.diropsPending() {
		// directory operations may be waiting on buffers this partial
		// segment holds
		if _, err := fs.writeSeg(); err != nil {
			return err
		}
	}
	fs.writerEnter()
	defer fs.writerLeave()
	if err := fs.writeVnodes(vnDirop); err != nil {
		return err
	}
	sp.ss.Flags &^= layout.SS_CONT
	return nil
}

// writeIfile writes the ifile until writing it changes nothing outside the
// last partial segment. Called with ifileMu held. didCkp reports that the
// ifile inode was written.
func (fs *FS) writeIfile(doCkp bool) (didCkp bool, err error) {
	ip := fs.ifile
	var redo = true
	for i := 0; redo && i < fs.cfg.CkpRetries; i++ {
		fs.ifdirty = false
		if fs.cache.HasDirty(ip.Ino) {
			if err := fs.writeFile(ip); err != nil {
				return didCkp, err
			}
		}
		if ip.Flags()&inode.IN_ALLMOD != 0 {
			didCkp = true
		}
		r1, err := fs.writeInode(ip)
		if err != nil {
			return didCkp, err
		}
		r2, err := fs.writeSeg()
		if err != nil {
			return didCkp, err
		}
		redo = r1 || r2 || fs.ifdirty
		if !doCkp {
			break
		}
	}
	if redo && doCkp {
		util.Logger().Warn("possibly invalid checkpoint",
			zap.Int("passes", fs.cfg.CkpRetries),
			zap.Uint64("serial", fs.sb.Serial))
		fs.doifile = true
		return didCkp, nil
	}
	if doCkp {
		if fs.cache.HasUngathered(ip.Ino) {
			return didCkp, corrupt("ifile still dirty after checkpoint")
		}
		ip.Clear(inode.IN_ALLMOD)
	}
	return didCkp, nil
}

func (fs *FS) writeVnodes(op vnOp) error {
	for _, ip := range fs.inodes.Snapshot() {
		if ip.Ino == common.IFILE_INUM {
			continue
		}
		dirop := fs.isDirop(ip)
		if (op == vnDirop) != dirop {
			continue
		}
		dirty := fs.cache.HasDirty(ip.Ino)
		if op == vnEmpty && dirty {
			continue
		}
		if ip.Flags()&inode.IN_ALLMOD == 0 && !dirty {
			continue
		}
		fs.lockVnode(ip)
		err := fs.writeVnode(ip, dirty)
		fs.unlockVnode(ip)
		if err != nil {
			return err
		}
		if op == vnDirop {
			fs.diropDone(ip)
		}
	}
	return nil
}

func (fs *FS) writeVnode(ip *inode.Inode, dirty bool) error {
	if dirty {
		if err := fs.writeFile(ip); err != nil {
			return err
		}
		if fs.cache.HasUngathered(ip.Ino) && ip.Flags()&inode.IN_ALLMOD == 0 {
			ip.Set(inode.IN_MODIFIED)
		}
	}
	_, err := fs.writeInode(ip)
	return err
}
