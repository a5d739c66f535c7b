package lfs

import (
	"github.com/mit-pdos/go-lfs/bmap"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

// Match selects the buffers of a vnode that one gather pass takes.
type Match int

const (
	MatchData Match = iota
	MatchIndir
	MatchDindir
	MatchTindir
)

func (m Match) String() string {
	switch m {
	case MatchData:
		return "data"
	case MatchIndir:
		return "indir"
	case MatchDindir:
		return "dindir"
	case MatchTindir:
		return "tindir"
	}
	return "?"
}

func (fs *FS) matches(m Match, lbn common.Lbn) bool {
	return bmap.Level(uint64(fs.sb.Nindir), lbn) == int(m)
}

// openFinfo starts a FINFO for ip in the current partial segment.
func (fs *FS) openFinfo(ip *inode.Inode, version uint32) {
	sp := fs.sp
	sp.fip = &layout.FInfo{Version: version, Ino: ip.Ino}
	sp.finfos = append(sp.finfos, sp.fip)
	sp.vp = ip
	sp.sumBytesLeft -= layout.FINFOSIZE
	sp.startBuf = len(sp.bufs)
	sp.startLbn = 0
	if fs.isDirop(ip) {
		sp.ss.Flags |= layout.SS_DIROP | layout.SS_CONT
	}
}

// closeFinfo ends the open FINFO, giving its space back if it is empty.
func (fs *FS) closeFinfo() {
	sp := fs.sp
	if sp.fip == nil {
		return
	}
	if len(sp.fip.Blocks) == 0 {
		sp.finfos = sp.finfos[:len(sp.finfos)-1]
		sp.sumBytesLeft += layout.FINFOSIZE
	}
	sp.fip = nil
}

func (fs *FS) fileVersion(ip *inode.Inode) (uint32, error) {
	ife, err := fs.ientry(ip.Ino)
	if err != nil {
		return 0, err
	}
	return ife.Version, nil
}

// writeFile gathers the dirty blocks of ip into the log. Indirect blocks
// go too when ip is being flushed, when the session writes indirect blocks,
// or on a checkpoint.
func (fs *FS) writeFile(ip *inode.Inode) error {
	sp := fs.sp
	if !sp.roomFor(fs.bsize(), layout.FINFO_STRUCT_SIZE) {
		if _, err := fs.writeSeg(); err != nil {
			return err
		}
	}
	version, err := fs.fileVersion(ip)
	if err != nil {
		return err
	}
	fs.openFinfo(ip, version)
	if _, err := fs.gather(ip, MatchData); err != nil {
		return err
	}
	if sp.flushvp == ip.Ino || sp.writeIndirect || sp.ckp() {
		for _, m := range []Match{MatchIndir, MatchDindir, MatchTindir} {
			if _, err := fs.gather(ip, m); err != nil {
				return err
			}
		}
	}
	fs.closeFinfo()
	return nil
}

// writeDev writes a buffer of a block-device vnode straight to its device.
func (fs *FS) writeDev(ip *inode.Inode, bp *buf.Buf) error {
	tok := fs.cache.Lease(bp)
	defer fs.cache.Brelse(bp, tok)
	err := ip.SpecDev.WriteAt(bp.Data, bp.Lbn()*common.Daddr(fs.sb.Frag))
	if err != nil {
		return err
	}
	fs.cache.Clean(bp)
	return nil
}

// gather adds the dirty buffers of ip selected by m to the partial segment
// and gives them addresses. It returns how many it took.
func (fs *FS) gather(ip *inode.Inode, m Match) (int, error) {
	var count = 0
loop:
	for {
		for _, bp := range fs.cache.DirtyBufs(ip.Ino) {
			if fs.cache.IsBusy(bp) || !fs.cache.IsDirty(bp) ||
				fs.cache.IsGathered(bp) || !fs.matches(m, bp.Lbn()) {
				continue
			}
			if ip.IsBlk() {
				if err := fs.writeDev(ip, bp); err != nil {
					return count, err
				}
				count += 1
				continue
			}
			restart, err := fs.gatherBlock(ip, bp)
			if err != nil {
				return count, err
			}
			if restart {
				continue loop
			}
			count += 1
		}
		break
	}
	util.DPrintf(5, "gather %d %v: %d\n", ip.Ino, m, count)
	return count, fs.updateMeta()
}

// gatherBlock claims bp for the partial segment. When the segment is full it
// writes it instead, reopens the FINFO in the next one, and asks the caller
// to rescan.
func (fs *FS) gatherBlock(ip *inode.Inode, bp *buf.Buf) (restart bool, err error) {
	sp := fs.sp
	if sp.sumBytesLeft < 4 || sp.segBytesLeft < bp.Bcount() {
		if err := fs.updateMeta(); err != nil {
			return false, err
		}
		version := sp.fip.Version
		if _, err := fs.writeSeg(); err != nil {
			return false, err
		}
		fs.openFinfo(ip, version)
		return true, nil
	}
	fs.cache.SetGathered(bp)
	sp.bufs = append(sp.bufs, bp)
	sp.fip.Blocks = append(sp.fip.Blocks, bp.Lbn())
	sp.sumBytesLeft -= 4
	sp.segBytesLeft -= bp.Bcount()
	sp.advance(segGathering)
	return false, nil
}
