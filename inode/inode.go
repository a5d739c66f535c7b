// Package inode holds the in-core inode: the on-disk dinode plus the state
// the segment writer keeps beside it.
package inode

import (
	"sync"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/layout"
)

type Flag uint32

const (
	IN_ACCESS   Flag = 1 << iota // access time update pending
	IN_CHANGE                    // change time update pending
	IN_UPDATE                    // modification time update pending
	IN_MODIFIED                  // in-core copy differs from disk
	IN_ACCESSED                  // accessed since last written
	IN_CLEANING                  // being moved by the cleaner

	IN_ALLMOD = IN_ACCESS | IN_CHANGE | IN_UPDATE | IN_MODIFIED | IN_ACCESSED
)

type VFlag uint32

const (
	// part of a directory operation that has not reached disk
	VDIROP VFlag = 1 << iota
)

// Inode is an in-core inode. Din and the fragment sizes are guarded by the
// inode lock, which user writes and the segment writer both take while they
// work on the file. Flags and the effective block count have their own lock
// so the writer can inspect any inode without taking its lock.
type Inode struct {
	mu  *sync.Mutex
	Ino common.Inum
	Din layout.Dinode

	// size on disk while placeholder blocks are outstanding
	OSize uint64
	// bytes the on-disk copy of each direct block occupies
	FragSize [common.NDADDR]uint64

	// set for block-device vnodes; their buffers go straight to it
	SpecDev disk.Device

	fmu      *sync.Mutex
	flag     Flag
	effnblks uint32

	// guarded by the filesystem's dirop lock
	VFlags    VFlag
	DirOpRefs int
}

func MkInode(ino common.Inum, din *layout.Dinode) *Inode {
	return &Inode{
		mu:       new(sync.Mutex),
		fmu:      new(sync.Mutex),
		Ino:      ino,
		Din:      *din,
		OSize:    din.Size,
		effnblks: din.Blocks,
	}
}

func (ip *Inode) Lock() {
	ip.mu.Lock()
}

func (ip *Inode) Unlock() {
	ip.mu.Unlock()
}

func (ip *Inode) Has(f Flag) bool {
	ip.fmu.Lock()
	defer ip.fmu.Unlock()
	return ip.flag&f != 0
}

func (ip *Inode) Set(f Flag) {
	ip.fmu.Lock()
	ip.flag |= f
	ip.fmu.Unlock()
}

func (ip *Inode) Clear(f Flag) {
	ip.fmu.Lock()
	ip.flag &^= f
	ip.fmu.Unlock()
}

func (ip *Inode) Flags() Flag {
	ip.fmu.Lock()
	defer ip.fmu.Unlock()
	return ip.flag
}

// EffNBlks counts fragments including the ones only reserved by
// placeholders.
func (ip *Inode) EffNBlks() uint32 {
	ip.fmu.Lock()
	defer ip.fmu.Unlock()
	return ip.effnblks
}

func (ip *Inode) AddEffNBlks(n int32) {
	ip.fmu.Lock()
	ip.effnblks = uint32(int32(ip.effnblks) + n)
	ip.fmu.Unlock()
}

// Unwritten reports whether some of the inode's blocks have placeholders
// instead of disk addresses. Din.Blocks is only changed by the segment
// writer, which is the only caller that needs this without the inode lock.
func (ip *Inode) Unwritten() bool {
	return ip.EffNBlks() != ip.Din.Blocks
}

func (ip *Inode) IsBlk() bool {
	return ip.SpecDev != nil
}
