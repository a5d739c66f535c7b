package lfs

import (
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

// shellSort orders a run of buffers by logical block, comparing the block
// numbers unsigned so that indirect blocks come after all data blocks.
func shellSort(bufs []*buf.Buf, lbns []common.Lbn) {
	for _, incr := range []int{4, 1} {
		for t1 := incr; t1 < len(lbns); t1++ {
			for t2 := t1 - incr; t2 >= 0; t2 -= incr {
				if uint32(lbns[t2]) <= uint32(lbns[t2+incr]) {
					break
				}
				lbns[t2], lbns[t2+incr] = lbns[t2+incr], lbns[t2]
				bufs[t2], bufs[t2+incr] = bufs[t2+incr], bufs[t2]
			}
		}
	}
}

// updateMeta assigns disk addresses to the buffers gathered since the last
// call, in block order from the log head, and points the file's metadata at
// them.
func (fs *FS) updateMeta() error {
	sp := fs.sp
	sb := fs.sb
	if sp.vp == nil || sp.fip == nil {
		return nil
	}
	bufs := sp.bufs[sp.startBuf:]
	lbns := sp.fip.Blocks[sp.startLbn:]
	if len(lbns) == 0 {
		return nil
	}
	if len(bufs) != len(lbns) {
		return corrupt("ino %d: %d buffers for %d blocks", sp.vp.Ino, len(bufs), len(lbns))
	}
	shellSort(bufs, lbns)
	last := bufs[len(bufs)-1]
	sp.fip.LastLength = uint32(((last.Bcount() - 1) & sb.Bmask()) + 1)

	for i, bp := range bufs {
		if bp.Bcount()&sb.Bmask() != 0 && i != len(bufs)-1 {
			return corrupt("ino %d lbn %d: fragment is not the last block", sp.vp.Ino, lbns[i])
		}
		bp.Blkno = sb.Offset
		lbn := lbns[i]
		for left := bp.Bcount(); left > 0; {
			size := util.Min(left, fs.bsize())
			if err := fs.updateSingle(sp.vp, lbn, sb.Offset, size); err != nil {
				return err
			}
			sb.Offset += sb.Numfrags(size)
			left -= size
			lbn += 1
		}
	}
	sp.startBuf = len(sp.bufs)
	sp.startLbn = len(sp.fip.Blocks)
	sp.vp.Set(inode.IN_MODIFIED)
	return nil
}

// updateSingle points lbn of ip at ndaddr and takes the old copy's bytes
// off its segment.
func (fs *FS) updateSingle(ip *inode.Inode, lbn common.Lbn, ndaddr common.Daddr, size uint64) error {
	sp := fs.sp
	sb := fs.sb
	bb := sb.Numfrags(size)
	chain, err := getLbns(sb, lbn)
	if err != nil {
		return err
	}

	var daddr common.Daddr
	switch len(chain) {
	case 0:
		daddr = ip.Din.Db[lbn]
		if daddr == common.UNWRITTEN {
			ip.Din.Blocks += uint32(bb)
		} else {
			obb := sb.Btofsb(ip.FragSize[lbn])
			ip.Din.Blocks = uint32(int32(ip.Din.Blocks) + bb - obb)
		}
		ip.Din.Db[lbn] = ndaddr
	case 1:
		off := chain[0].Off
		daddr = ip.Din.Ib[off]
		if daddr == common.UNWRITTEN {
			ip.Din.Blocks += uint32(bb)
		}
		ip.Din.Ib[off] = ndaddr
	default:
		parent := chain[len(chain)-1]
		bp, tok, err := fs.bread(ip, parent.Lbn, fs.bsize())
		if err != nil {
			return err
		}
		daddr = bp.DaddrGet(parent.Off)
		if daddr == common.UNWRITTEN {
			ip.Din.Blocks += uint32(bb)
		}
		bp.DaddrPut(parent.Off, ndaddr)
		fs.bdwrite(ip, bp, tok)
	}
	if daddr >= sb.Lastpseg && daddr <= ndaddr {
		return corrupt("ino %d lbn %d: old address %d inside the partial segment at %d",
			ip.Ino, lbn, daddr, sb.Lastpseg)
	}

	if daddr > 0 {
		oldsn := sb.Dtosn(daddr)
		var osize = fs.bsize()
		if lbn >= 0 && lbn < common.NDADDR {
			osize = ip.FragSize[lbn]
		}
		var allow uint64
		if oldsn == sb.Dtosn(sb.Curseg) {
			allow = common.DINODE_SIZE * sp.ndupino
		}
		gathered, err := fs.updateSegEntry(oldsn, func(su *layout.SegUse) error {
			if uint64(su.Nbytes)+allow < osize {
				return corrupt("segment %d: %d live bytes, freeing %d (ino %d lbn %d)",
					oldsn, su.Nbytes, osize, ip.Ino, lbn)
			}
			// may dip below zero until writeSeg counts this segment's
			// duplicate inodes
			su.Nbytes -= uint32(osize)
			return nil
		})
		if err != nil {
			return err
		}
		if !gathered {
			fs.ifdirty = true
		}
	}
	if lbn >= 0 && lbn < common.NDADDR {
		ip.FragSize[lbn] = size
	}
	return nil
}
