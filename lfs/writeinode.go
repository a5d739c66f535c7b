package lfs

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

func itimes(ip *inode.Inode) {
	t := int32(now())
	f := ip.Flags()
	if f&inode.IN_ACCESS != 0 {
		ip.Din.Atime = t
	}
	if f&inode.IN_UPDATE != 0 {
		ip.Din.Mtime = t
	}
	if f&inode.IN_CHANGE != 0 {
		ip.Din.Ctime = t
	}
}

// allocInodeBlock opens a new inode block at the log head.
func (fs *FS) allocInodeBlock() error {
	sp := fs.sp
	sb := fs.sb
	if !sp.roomFor(uint64(sb.Ibsize), 4) {
		if _, err := fs.writeSeg(); err != nil {
			return err
		}
	}
	daddr := sb.Offset
	sb.Offset += fs.ibfrags()
	sp.ibp = fs.cache.NewTransient(daddr, uint64(sb.Ibsize))
	sp.bufs = append(sp.bufs, sp.ibp)
	sp.startBuf = len(sp.bufs)
	fs.adjSpace(0, -fs.ibfrags())
	sp.segBytesLeft -= uint64(sb.Ibsize)
	sp.sumBytesLeft -= 4
	sp.inoAddrs = append(sp.inoAddrs, daddr)
	sp.advance(segGathering)
	return nil
}

// writeInode copies a modified inode into the current inode block and moves
// its ifile entry (or the superblock, for the ifile) to the new copy. redo is
// set when the ifile must be written again because the usage entry changed
// here is not part of the partial segment.
func (fs *FS) writeInode(ip *inode.Inode) (redo bool, err error) {
	sp := fs.sp
	sb := fs.sb
	if ip.Flags()&inode.IN_ALLMOD == 0 {
		return false, nil
	}
	isIfile := ip.Ino == common.IFILE_INUM
	if (!isIfile || sp.idpBuf == nil) && sp.ibp == nil {
		if err := fs.allocInodeBlock(); err != nil {
			return false, err
		}
	}
	if !isIfile {
		itimes(ip)
	}

	// the ifile is already in this partial segment; its block is not
	// written yet, so update it in place
	if isIfile && sp.idpBuf != nil {
		ip.Din.Encode(sp.idpBuf.Data[sp.idpSlot*common.DINODE_SIZE:])
		ip.OSize = ip.Din.Size
		return false, nil
	}

	bp := sp.ibp
	slot := sp.ninodes % uint64(sb.Inopb)
	din := ip.Din
	unwritten := ip.Unwritten()
	if unwritten {
		din.Size = ip.OSize
		for i := range din.Db {
			if din.Db[i] == common.UNWRITTEN {
				din.Db[i] = common.UNUSED_DADDR
			}
		}
		for i := range din.Ib {
			if din.Ib[i] == common.UNWRITTEN {
				din.Ib[i] = common.UNUSED_DADDR
			}
		}
	} else {
		ip.OSize = ip.Din.Size
	}
	din.Encode(bp.Data[slot*common.DINODE_SIZE:])
	ip.Clear(inode.IN_ACCESSED | inode.IN_ACCESS | inode.IN_CHANGE | inode.IN_UPDATE)
	if !unwritten {
		ip.Clear(inode.IN_MODIFIED)
	}
	if isIfile {
		sp.idpBuf = bp
		sp.idpSlot = slot
	}
	sp.ss.Ninos += 1
	sp.ninodes += 1
	if sp.ninodes%uint64(sb.Inopb) == 0 {
		sp.ibp = nil
	}

	var daddr common.Daddr
	if isIfile {
		daddr = sb.Idaddr
		sb.Idaddr = bp.Blkno
	} else {
		if _, err := fs.updateIentry(ip.Ino, func(ife *layout.IfileEntry) {
			daddr = ife.Daddr
			ife.Daddr = bp.Blkno
		}); err != nil {
			return false, err
		}
	}

	// written again after writeVnodes started over
	if daddr >= sb.Lastpseg && daddr <= bp.Blkno {
		sp.ndupino += 1
		util.Logger().Debug("inode already in partial segment",
			zap.Uint32("ino", uint32(ip.Ino)),
			zap.Int32("daddr", daddr),
			zap.Uint64("ndupino", sp.ndupino))
	}
	if daddr != common.UNUSED_DADDR {
		oldsn := sb.Dtosn(daddr)
		var allow uint64
		if oldsn == sb.Dtosn(sb.Curseg) {
			allow = common.DINODE_SIZE * sp.ndupino
		}
		gathered, err := fs.updateSegEntry(oldsn, func(su *layout.SegUse) error {
			if uint64(su.Nbytes)+allow < common.DINODE_SIZE {
				return corrupt("segment %d: %d live bytes, freeing inode %d",
					oldsn, su.Nbytes, ip.Ino)
			}
			su.Nbytes -= uint32(common.DINODE_SIZE)
			return nil
		})
		if err != nil {
			return false, err
		}
		redo = isIfile && !gathered
		if redo {
			fs.ifdirty = true
		}
	}
	return redo, nil
}
