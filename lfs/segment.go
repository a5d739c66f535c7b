package lfs

import (
	"fmt"

	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

type segState int

const (
	segEmpty segState = iota
	segGathering
	segFinalizing
	segWritten
)

func (s segState) String() string {
	switch s {
	case segEmpty:
		return "empty"
	case segGathering:
		return "gathering"
	case segFinalizing:
		return "finalizing"
	case segWritten:
		return "written"
	}
	return "?"
}

// advance moves the partial segment to state to. A segment fills while
// gathering, is finalized and written once, and is then reused empty.
func (sp *segment) advance(to segState) {
	ok := false
	switch to {
	case segEmpty:
		ok = sp.state == segEmpty || sp.state == segWritten
	case segGathering:
		ok = sp.state == segEmpty || sp.state == segGathering
	case segFinalizing:
		ok = sp.state == segGathering
	case segWritten:
		ok = sp.state == segFinalizing
	}
	if !ok {
		panic(fmt.Sprintf("segment: %v -> %v", sp.state, to))
	}
	sp.state = to
}

// SegFlags select what a segment write does beyond writing dirty vnodes.
type SegFlags uint32

const (
	// finish with the ifile and a superblock
	SegCkp SegFlags = 1 << iota
	// wait for the writes before returning
	SegSync
)

// segment is the partial segment under construction, together with the
// state of the write session that owns the segment lock.
type segment struct {
	flags SegFlags
	state segState

	// bufs[0] is the summary; the rest are in address order once assigned
	bufs []*buf.Buf
	ss   layout.SegSum

	finfos []*layout.FInfo
	// the open FINFO and the vnode it describes
	fip *layout.FInfo
	vp  *inode.Inode
	// first buffer and FINFO entry of fip that have no address yet
	startBuf int
	startLbn int

	inoAddrs []common.Daddr
	ibp      *buf.Buf // inode block being filled
	idpBuf   *buf.Buf // where the ifile's inode is staged
	idpSlot  uint64
	ninodes  uint64
	// inodes written twice in the current segment
	ndupino uint64

	sumBytesLeft uint64
	segBytesLeft uint64

	// writes in flight for this session, under ioMu
	iocount uint64

	flushvp       common.Inum
	writeIndirect bool
}

func (sp *segment) ckp() bool {
	return sp.flags&SegCkp != 0
}

func (sp *segment) sync() bool {
	return sp.flags&SegSync != 0
}

func (sp *segment) roomFor(data uint64, sum uint64) bool {
	return sp.segBytesLeft >= data && sp.sumBytesLeft >= sum
}

// partialFits reports whether the current segment has room for another
// partial segment beyond its summary.
func (fs *FS) partialFits() bool {
	sb := fs.sb
	return int32(sb.Fsbpseg)-(sb.Offset-sb.Curseg) > int32(sb.Frag)
}

// initSeg starts a new partial segment at the log head, moving to a fresh
// segment when the current one is too full. repeat reports that a fresh
// segment was taken.
func (fs *FS) initSeg() (repeat bool, err error) {
	sp := fs.sp
	sb := fs.sb
	if len(sp.bufs) == 1 {
		// an empty partial segment is started again in place
		sb.Offset -= fs.sumfrags()
	}
	if !fs.partialFits() {
		left := int32(sb.Fsbpseg) - (sb.Offset - sb.Curseg)
		fs.adjSpace(0, -left)
		if err := fs.newSeg(); err != nil {
			return false, err
		}
		repeat = true
		sb.Offset = sb.Curseg
		sn := sb.Dtosn(sb.Curseg)
		su, err := fs.segEntry(sn)
		if err != nil {
			return false, err
		}
		if sn == 0 && uint64(sb.Start) < uint64(sb.Btofsb(common.LABELPAD)) {
			sb.Offset += sb.Btofsb(common.LABELPAD) - sb.Start
		}
		if su.Has(layout.SEGUSE_SUPERBLOCK) {
			sb.Offset += sb.Btofsb(common.SBPAD)
		}
	}
	sp.segBytesLeft = sb.Fsbtob(int32(sb.Fsbpseg) - (sb.Offset - sb.Curseg))
	sb.Lastpseg = sb.Offset

	sp.ibp = nil
	sp.idpBuf = nil
	sp.ninodes = 0
	sp.ndupino = 0

	sp.bufs = []*buf.Buf{fs.cache.NewTransient(sb.Offset, uint64(sb.Sumsize))}
	sp.startBuf = 1
	sb.Offset += fs.sumfrags()
	sp.ss = layout.SegSum{Magic: layout.SS_MAGIC, Next: sb.Nextseg}
	sp.finfos = nil
	sp.fip = nil
	sp.vp = nil
	sp.inoAddrs = nil

	sp.segBytesLeft -= uint64(sb.Sumsize)
	sp.sumBytesLeft = uint64(sb.Sumsize) - layout.SEGSUM_SIZE
	sp.advance(segEmpty)
	util.DPrintf(3, "initSeg: pseg at %d repeat %v\n", sb.Lastpseg, repeat)
	return repeat, nil
}

// newSeg makes nextseg the current segment and picks the next clean segment
// after it.
func (fs *FS) newSeg() error {
	sb := fs.sb
	next := sb.Dtosn(sb.Nextseg)
	if _, err := fs.updateSegEntry(next, func(su *layout.SegUse) error {
		su.Flags |= layout.SEGUSE_DIRTY | layout.SEGUSE_ACTIVE
		su.Nbytes = 0
		su.Nsums = 0
		su.Ninos = 0
		return nil
	}); err != nil {
		return err
	}
	if err := fs.updateCleanerInfo(func(ci *layout.CleanerInfo) {
		ci.Clean -= 1
		ci.Dirty += 1
		sb.Nclean = ci.Clean
		ci.Bfree, ci.Avail = fs.space()
	}); err != nil {
		return err
	}

	sb.Lastseg = sb.Curseg
	sb.Curseg = sb.Nextseg
	fs.activeSegs.Add(next)

	start := (sb.Dtosn(sb.Curseg) + sb.Interleave) % sb.Nseg
	sn := start
	for {
		sn = (sn + 1) % sb.Nseg
		if sn == start {
			return noSpace("no clean segment after %d", sb.Dtosn(sb.Curseg))
		}
		su, err := fs.segEntry(sn)
		if err != nil {
			return err
		}
		if !su.Has(layout.SEGUSE_DIRTY) {
			break
		}
	}
	sb.Nextseg = sb.Sntod(sn)
	fs.nactive += 1
	fs.stats.SegsUsed.Inc()
	fs.stats.ActiveSegs.Set(float64(fs.nactive))
	util.DPrintf(2, "newSeg: cur %d next %d\n", sb.Dtosn(sb.Curseg), sn)
	return nil
}

// clearActive drops ACTIVE from the segments filled since the last
// checkpoint, except the one still being written.
func (fs *FS) clearActive() error {
	cur := fs.sb.Dtosn(fs.sb.Curseg)
	it := fs.activeSegs.Iterator()
	for it.HasNext() {
		sn := it.Next()
		if sn == cur {
			continue
		}
		if _, err := fs.updateSegEntry(sn, func(su *layout.SegUse) error {
			su.Flags &^= layout.SEGUSE_ACTIVE
			return nil
		}); err != nil {
			return err
		}
	}
	fs.activeSegs.Clear()
	fs.activeSegs.Add(cur)
	return nil
}
