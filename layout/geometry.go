package layout

import (
	"github.com/mit-pdos/go-lfs/common"
)

// Conversions between bytes, fragments, blocks and segments. Disk addresses
// are in fragments; a block is Frag fragments.

func (sb *Superblock) Btofsb(b uint64) int32 {
	return int32((b + uint64(sb.Fsize) - 1) / uint64(sb.Fsize))
}

func (sb *Superblock) Fsbtob(f int32) uint64 {
	return uint64(f) * uint64(sb.Fsize)
}

// Numfrags truncates; callers pass fragment-rounded sizes.
func (sb *Superblock) Numfrags(b uint64) int32 {
	return int32(b / uint64(sb.Fsize))
}

func (sb *Superblock) Fragroundup(b uint64) uint64 {
	f := uint64(sb.Fsize)
	return (b + f - 1) / f * f
}

func (sb *Superblock) Bmask() uint64 {
	return uint64(sb.Bsize) - 1
}

func (sb *Superblock) Lblkno(off uint64) common.Lbn {
	return common.Lbn(off / uint64(sb.Bsize))
}

func (sb *Superblock) Blkoff(off uint64) uint64 {
	return off & sb.Bmask()
}

func (sb *Superblock) Lblktosize(lbn common.Lbn) uint64 {
	return uint64(lbn) * uint64(sb.Bsize)
}

// Dtosn maps a disk address to its segment number.
func (sb *Superblock) Dtosn(daddr common.Daddr) uint32 {
	return uint32((daddr - sb.Start) / common.Daddr(sb.Fsbpseg))
}

// Sntod is the disk address of the first fragment of segment sn.
func (sb *Superblock) Sntod(sn uint32) common.Daddr {
	return common.Daddr(sn)*common.Daddr(sb.Fsbpseg) + sb.Start
}

// Blksize is the allocated size of block lbn in a file of the given size:
// direct blocks at the end of the file are fragment-rounded.
func (sb *Superblock) Blksize(size uint64, lbn common.Lbn) uint64 {
	if lbn >= common.NDADDR || size >= uint64(lbn+1)*uint64(sb.Bsize) {
		return uint64(sb.Bsize)
	}
	return sb.Fragroundup(sb.Blkoff(size))
}

// IfileLbn is the ifile block holding the entry of ino.
func (sb *Superblock) IfileLbn(ino common.Inum) common.Lbn {
	return common.Lbn(uint32(ino)/sb.Ifpb + sb.Cleansz + sb.Segtabsz)
}

func (sb *Superblock) IfileOff(ino common.Inum) uint64 {
	return uint64(uint32(ino)%sb.Ifpb) * IFILE_SIZE
}

// SegtabLbn is the ifile block holding the usage entry of segment sn.
func (sb *Superblock) SegtabLbn(sn uint32) common.Lbn {
	return common.Lbn(sn/sb.Sepb + sb.Cleansz)
}

func (sb *Superblock) SegtabOff(sn uint32) uint64 {
	return uint64(sn%sb.Sepb) * SEGUSE_SIZE
}
