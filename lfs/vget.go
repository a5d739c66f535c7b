package lfs

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/dumplfs"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

// readDinode finds the copy of ino in the inode block at daddr. If the
// block holds it more than once the last copy wins.
func (fs *FS) readDinode(daddr common.Daddr, ino common.Inum) (*layout.Dinode, error) {
	sb := fs.sb
	b := make([]byte, sb.Ibsize)
	if err := fs.strat.Device().ReadAt(b, daddr); err != nil {
		return nil, errors.Wrapf(err, "inode block %d", daddr)
	}
	var found *layout.Dinode
	for i := uint64(0); i < uint64(sb.Inopb); i++ {
		din := layout.DecodeDinode(b[i*common.DINODE_SIZE:])
		if din.Inumber == ino {
			found = din
		}
	}
	if found == nil {
		return nil, corrupt("inode %d not in inode block %d", ino, daddr)
	}
	return found, nil
}

func (fs *FS) loadInode(ino common.Inum, din *layout.Dinode) *inode.Inode {
	ip := inode.MkInode(ino, din)
	for lbn := common.Lbn(0); lbn < common.NDADDR; lbn++ {
		if din.Db[lbn] > 0 {
			ip.FragSize[lbn] = fs.sb.Blksize(din.Size, lbn)
		}
	}
	return ip
}

// VGet returns the in-core inode for ino, reading it from its inode block
// if it is not loaded.
func (fs *FS) VGet(ino common.Inum) (*inode.Inode, error) {
	if ip := fs.inodes.Get(ino); ip != nil {
		return ip, nil
	}
	fs.ifileMu.Lock()
	defer fs.ifileMu.Unlock()
	if ip := fs.inodes.Get(ino); ip != nil {
		return ip, nil
	}
	if ino < common.FIRST_INUM {
		return nil, errors.Errorf("vget: no inode %d", ino)
	}
	ife, err := fs.ientry(ino)
	if err != nil {
		return nil, err
	}
	if ife.Daddr == common.UNUSED_DADDR {
		return nil, errors.Errorf("vget: inode %d is not allocated", ino)
	}
	din, err := fs.readDinode(ife.Daddr, ino)
	if err != nil {
		return nil, err
	}
	util.DPrintf(3, "VGet: ino %d from %d\n", ino, ife.Daddr)
	return fs.inodes.Insert(fs.loadInode(ino, din)), nil
}

// Reclaim writes ino out and drops it and its buffers from memory.
func (fs *FS) Reclaim(ino common.Inum) error {
	if ino == common.IFILE_INUM {
		return errors.New("reclaim: the ifile stays loaded")
	}
	ip := fs.inodes.Get(ino)
	if ip == nil {
		return nil
	}
	if err := fs.Flush(ino); err != nil {
		return err
	}
	ip.Lock()
	defer ip.Unlock()
	fs.cache.WaitIdle(ino)
	if fs.cache.HasDirty(ino) || ip.Flags()&inode.IN_ALLMOD != 0 {
		return errors.Errorf("reclaim: inode %d dirtied during flush", ino)
	}
	fs.cache.Forget(ino)
	fs.inodes.Remove(ino)
	return nil
}

// Open mounts an existing filesystem from its newest valid superblock.
func Open(dev disk.Device, cfg config.Config, reg prometheus.Registerer) (*FS, error) {
	sb, slot, err := dumplfs.ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	if uint64(sb.Fsize) != dev.FragSize() {
		return nil, errors.Errorf("open: fragment size %d, device has %d", sb.Fsize, dev.FragSize())
	}
	fs, err := mkFS(dev, sb, cfg, reg)
	if err != nil {
		return nil, err
	}
	din, err := fs.readDinode(sb.Idaddr, common.IFILE_INUM)
	if err != nil {
		fs.strat.Close()
		return nil, err
	}
	fs.ifile = fs.loadInode(common.IFILE_INUM, din)
	fs.inodes.Insert(fs.ifile)
	fs.activeSegs.Add(sb.Dtosn(sb.Curseg))
	fs.activesb = slot ^ 1
	util.Logger().Info("lfs mounted",
		zap.Int("superblock", slot),
		zap.Uint64("serial", sb.Serial),
		zap.Int32("offset", sb.Offset))
	fs.startWriter()
	return fs, nil
}
