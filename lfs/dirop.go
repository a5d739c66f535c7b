package lfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
)

// BeginDirOp marks the start of a directory operation over inos. It waits
// while the segment writer is writing directory operations; the vnodes are
// then written together once every operation on them has ended. Flush and
// SegWrite must not be called before the matching EndDirOp.
func (fs *FS) BeginDirOp(inos ...common.Inum) error {
	var ips []*inode.Inode
	for _, ino := range inos {
		ip := fs.inodes.Get(ino)
		if ip == nil {
			return errors.Errorf("dirop: inode %d not loaded", ino)
		}
		ips = append(ips, ip)
	}
	fs.diropMu.Lock()
	defer fs.diropMu.Unlock()
	for fs.writer > 0 {
		fs.diropCond.Wait()
	}
	fs.dirops += 1
	for _, ip := range ips {
		ip.DirOpRefs += 1
		ip.VFlags |= inode.VDIROP
	}
	return nil
}

func (fs *FS) EndDirOp(inos ...common.Inum) {
	fs.diropMu.Lock()
	defer fs.diropMu.Unlock()
	for _, ino := range inos {
		if ip := fs.inodes.Get(ino); ip != nil && ip.DirOpRefs > 0 {
			ip.DirOpRefs -= 1
		}
	}
	fs.dirops -= 1
	if fs.dirops == 0 {
		fs.diropCond.Broadcast()
	}
}

func (fs *FS) isDirop(ip *inode.Inode) bool {
	fs.diropMu.Lock()
	defer fs.diropMu.Unlock()
	return ip.VFlags&inode.VDIROP != 0
}

func (fs *FS) diropsPending() bool {
	fs.diropMu.Lock()
	defer fs.diropMu.Unlock()
	return fs.dirops > 0
}

// diropDone clears VDIROP once a vnode's operations have all ended and it
// has been written.
func (fs *FS) diropDone(ip *inode.Inode) {
	fs.diropMu.Lock()
	if ip.DirOpRefs == 0 {
		ip.VFlags &^= inode.VDIROP
	}
	fs.diropMu.Unlock()
}

// writerEnter waits for directory operations to drain and holds new ones
// off.
func (fs *FS) writerEnter() {
	fs.diropMu.Lock()
	for fs.dirops > 0 {
		fs.diropCond.Wait()
	}
	fs.writer += 1
	fs.diropMu.Unlock()
}

func (fs *FS) writerLeave() {
	fs.diropMu.Lock()
	fs.writer -= 1
	if fs.writer == 0 {
		fs.diropCond.Broadcast()
	}
	fs.diropMu.Unlock()
}
