package lfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/util"
)

type cluster struct {
	addr common.Daddr
	bufs []*buf.Buf
	toks []lockmap.Token
	size uint64
}

func (fs *FS) checkContiguous() error {
	sp := fs.sp
	sb := fs.sb
	next := sp.bufs[0].Blkno
	for _, bp := range sp.bufs {
		if bp.Blkno != next {
			return corrupt("%v: expected at %d in partial segment at %d", bp, next, sb.Lastpseg)
		}
		next += sb.Btofsb(bp.Bcount())
	}
	if sb.Dtosn(next-1) != sb.Dtosn(sp.bufs[0].Blkno) {
		return corrupt("partial segment at %d overruns its segment", sb.Lastpseg)
	}
	return nil
}

// zeroUnwritten returns a private copy of the indirect block bp with its
// placeholder pointers cleared, or nil if it has none.
func (fs *FS) zeroUnwritten(bp *buf.Buf) *buf.Buf {
	cp := fs.cache.Copy(bp)
	var changed = false
	for i := uint64(0); i < cp.Bcount()/4; i++ {
		if cp.DaddrGet(i) == common.UNWRITTEN {
			cp.DaddrPut(i, common.UNUSED_DADDR)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return cp
}

// writeSeg writes the partial segment under construction and starts the
// next one. redo reports that the ifile changed outside the written
// partial segment, or that a new segment was taken.
func (fs *FS) writeSeg() (redo bool, err error) {
	sp := fs.sp
	sb := fs.sb
	if len(sp.bufs) <= 1 {
		return false, nil
	}
	sp.advance(segFinalizing)
	if err := fs.checkContiguous(); err != nil {
		return false, err
	}

	// usage of the segment being written
	sn := sb.Dtosn(sb.Curseg)
	ninoblk := (uint64(sp.ss.Ninos) + uint64(sb.Inopb) - 1) / uint64(sb.Inopb)
	var nbytes = uint64(sp.ss.Ninos) * common.DINODE_SIZE
	for _, bp := range sp.bufs[1:] {
		if !bp.IsDev() {
			nbytes += bp.Bcount()
		}
	}
	gathered, err := fs.updateSegEntry(sn, func(su *layout.SegUse) error {
		su.Nbytes += uint32(nbytes)
		su.Lastmod = now()
		su.Ninos += uint16(ninoblk)
		su.Nsums += 1
		return nil
	})
	if err != nil {
		return false, err
	}
	doAgain := !gathered
	meta := fs.sumfrags() + sb.Btofsb(ninoblk*uint64(sb.Ibsize))
	sb.Dmeta += meta
	fs.spaceMu.Lock()
	if sb.Bfree < meta {
		fs.spaceMu.Unlock()
		return false, noSpace("%d fragments free, summary needs %d", sb.Bfree, meta)
	}
	sb.Bfree -= meta
	sb.Avail -= fs.sumfrags()
	fs.spaceMu.Unlock()

	// freeze every buffer until its write completes
	toks := make([]lockmap.Token, len(sp.bufs))
	for i, bp := range sp.bufs {
		if fs.cache.IsTransient(bp) {
			continue
		}
		tok := fs.cache.Lease(bp)
		if bp.Lbn() < 0 {
			if ip := fs.inodes.Get(bp.Ino()); ip != nil && ip.Unwritten() {
				if cp := fs.zeroUnwritten(bp); cp != nil {
					sp.bufs[i] = cp
					fs.cache.Ungather(bp)
					fs.cache.Brelse(bp, tok)
					// bp comes around again in a later segment
					fs.adjSpace(0, -sb.Btofsb(bp.Bcount()))
					continue
				}
			}
		}
		toks[i] = tok
	}

	var datasum uint32
	for _, bp := range sp.bufs[1:] {
		for off := uint64(0); off < bp.Bcount(); off += fs.bsize() {
			datasum = layout.CksumPart(bp.Data[off:off+4], datasum)
		}
	}
	var finfos []*layout.FInfo
	for _, fi := range sp.finfos {
		if len(fi.Blocks) > 0 {
			finfos = append(finfos, fi)
		}
	}
	sb.Serial += 1
	sp.ss.Create = now()
	sp.ss.Serial = sb.Serial
	sp.ss.Ident = sb.Ident
	sp.ss.Nfinfo = uint16(len(finfos))
	sp.ss.Datasum = datasum
	sum := layout.EncodeSummary(&sp.ss, finfos, sp.inoAddrs, uint64(sb.Sumsize))
	layout.SetChecksums(sum, datasum)
	copy(sp.bufs[0].Data, sum)

	for _, cl := range fs.clusters(toks) {
		fs.submit(sp, cl)
	}

	fs.stats.PsegWrites.Inc()
	if sp.sync() {
		fs.stats.PsyncWrites.Inc()
	}
	fs.stats.BlockTot.Add(float64(len(sp.bufs) - 1))
	util.DPrintf(2, "writeSeg: %d bufs at %d, %d finfos %d inodes\n",
		len(sp.bufs), sb.Lastpseg, len(finfos), sp.ss.Ninos)

	var seen = make(map[common.Inum]bool)
	for _, fi := range finfos {
		if seen[fi.Ino] {
			continue
		}
		seen[fi.Ino] = true
		if fs.cache.HasUngathered(fi.Ino) {
			if ip := fs.inodes.Get(fi.Ino); ip != nil {
				ip.Set(inode.IN_MODIFIED)
			}
		}
	}

	sp.advance(segWritten)
	repeat, err := fs.initSeg()
	if err != nil {
		return false, err
	}
	return repeat || doAgain, nil
}

// clusters splits the partial segment into runs of at most ClusterSize
// bytes; a single larger buffer gets a cluster of its own.
func (fs *FS) clusters(toks []lockmap.Token) []*cluster {
	sp := fs.sp
	var cls []*cluster
	var cl *cluster
	for i, bp := range sp.bufs {
		if cl == nil || cl.size+bp.Bcount() > fs.cfg.ClusterSize {
			cl = &cluster{addr: bp.Blkno}
			cls = append(cls, cl)
		}
		cl.bufs = append(cl.bufs, bp)
		cl.toks = append(cl.toks, toks[i])
		cl.size += bp.Bcount()
	}
	return cls
}

// submit copies a cluster into one write. The completion returns the
// buffers' leases and the I/O count.
func (fs *FS) submit(sp *segment, cl *cluster) {
	data := make([]byte, 0, cl.size)
	for _, bp := range cl.bufs {
		data = append(data, bp.Data...)
		if !fs.cache.IsTransient(bp) {
			fs.cache.StartWrite(bp)
		}
	}
	fs.ioStart(sp)
	req := &disk.Request{
		Addr: cl.addr,
		Data: data,
		Done: func(err error) {
			if err != nil {
				fs.setBroken(errors.Wrapf(err, "segment write at %d", cl.addr))
			}
			for i, bp := range cl.bufs {
				if err != nil && !fs.cache.IsTransient(bp) {
					fs.cache.MarkDirty(bp)
				}
				fs.cache.Done(bp, cl.toks[i])
			}
			fs.ioDone(sp)
		},
	}
	if err := fs.strat.Submit(req); err != nil {
		req.Done(err)
	}
}
