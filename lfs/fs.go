// Package lfs is a log-structured filesystem's write path. Dirty buffers of
// files are gathered into partial segments, given fresh disk addresses, and
// written out with their inodes; periodic checkpoints write the ifile and
// commit a superblock that recovery starts from.
package lfs

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/bmap"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/util"
)

type FS struct {
	cfg    config.Writer
	strat  *disk.Strategy
	cache  *buf.Cache
	inodes *inode.Table
	ifile  *inode.Inode
	stats  *Stats

	// The superblock, the session and the fields below them are owned
	// by the holder of the segment lock, except Bfree and Avail, which
	// users charge under spaceMu.
	seg        *segLock
	sb         *layout.Superblock
	sp         *segment
	activeSegs *roaring.Bitmap
	nactive    uint64
	activesb   int
	doifile    bool
	ifdirty    bool

	spaceMu *sync.Mutex

	ioMu    *sync.Mutex
	ioCond  *sync.Cond
	iocount uint64

	sbMu     *sync.Mutex
	sbCond   *sync.Cond
	sbactive bool

	diropMu   *sync.Mutex
	diropCond *sync.Cond
	dirops    int
	writer    int

	// serializes user changes to the ifile against the checkpoint
	ifileMu *sync.Mutex

	errMu  *sync.Mutex
	err    error
	closed bool

	dmu      *sync.Mutex
	dcond    *sync.Cond
	dshut    *sync.Cond
	kick     bool
	shutdown bool
	nthread  uint64
}

func mkFS(dev disk.Device, sb *layout.Superblock, cfg config.Config, reg prometheus.Registerer) (*FS, error) {
	strat, err := disk.MkStrategy(dev, cfg.Writer.IOWorkers, cfg.Writer.MaxOutstandingIO)
	if err != nil {
		return nil, err
	}
	iomu := new(sync.Mutex)
	sbmu := new(sync.Mutex)
	dirmu := new(sync.Mutex)
	dmu := new(sync.Mutex)
	fs := &FS{
		cfg:        cfg.Writer,
		strat:      strat,
		cache:      buf.MkCache(),
		inodes:     inode.MkTable(),
		stats:      newStats(reg),
		seg:        mkSegLock(),
		sb:         sb,
		activeSegs: roaring.New(),
		spaceMu:    new(sync.Mutex),
		ioMu:       iomu,
		ioCond:     sync.NewCond(iomu),
		sbMu:       sbmu,
		sbCond:     sync.NewCond(sbmu),
		diropMu:    dirmu,
		diropCond:  sync.NewCond(dirmu),
		ifileMu:    new(sync.Mutex),
		errMu:      new(sync.Mutex),
		dmu:        dmu,
		dcond:      sync.NewCond(dmu),
		dshut:      sync.NewCond(dmu),
	}
	return fs, nil
}

// Superblock returns a copy of the in-core superblock. The segment writer
// moves the log head under the segment lock and the free counts under
// spaceMu, so both are taken; it must not be called by the lock holder.
func (fs *FS) Superblock() layout.Superblock {
	fs.seg.acquire()
	defer fs.seg.release()
	fs.spaceMu.Lock()
	defer fs.spaceMu.Unlock()
	return *fs.sb
}

func (fs *FS) Stats() *Stats {
	return fs.stats
}

func (fs *FS) Device() disk.Device {
	return fs.strat.Device()
}

func now() uint64 {
	return uint64(time.Now().Unix())
}

func (fs *FS) bsize() uint64 {
	return uint64(fs.sb.Bsize)
}

func (fs *FS) sumfrags() common.Daddr {
	return fs.sb.Btofsb(uint64(fs.sb.Sumsize))
}

func (fs *FS) ibfrags() common.Daddr {
	return fs.sb.Btofsb(uint64(fs.sb.Ibsize))
}

// adjSpace charges (negative) or refunds fragments of free and available
// space.
func (fs *FS) adjSpace(bfree int32, avail int32) {
	fs.spaceMu.Lock()
	fs.sb.Bfree += bfree
	fs.sb.Avail += avail
	fs.spaceMu.Unlock()
}

func (fs *FS) space() (bfree int32, avail int32) {
	fs.spaceMu.Lock()
	defer fs.spaceMu.Unlock()
	return fs.sb.Bfree, fs.sb.Avail
}

//
// I/O accounting. iocount counts writes in flight plus one for a held
// segment lock; each session also counts its own writes.
//

func (fs *FS) ioStart(sp *segment) {
	fs.ioMu.Lock()
	fs.iocount += 1
	if sp != nil {
		sp.iocount += 1
	}
	fs.ioMu.Unlock()
}

func (fs *FS) ioDone(sp *segment) {
	fs.ioMu.Lock()
	fs.iocount -= 1
	if sp != nil {
		sp.iocount -= 1
	}
	fs.ioCond.Broadcast()
	fs.ioMu.Unlock()
}

// waitIO waits for the writes of sp, or for every write when sp is nil.
func (fs *FS) waitIO(sp *segment) {
	fs.ioMu.Lock()
	for (sp != nil && sp.iocount > 0) || (sp == nil && fs.iocount > 0) {
		fs.ioCond.Wait()
	}
	fs.ioMu.Unlock()
}

//
// Block access for files, including the ifile.
//

func getLbns(sb *layout.Superblock, lbn common.Lbn) ([]bmap.Indir, error) {
	return bmap.GetLbns(uint64(sb.Nindir), lbn)
}

// bmap returns the disk address recorded for lbn of ip: a fragment
// address, UNWRITTEN, or UNUSED_DADDR for a hole.
func (fs *FS) bmap(ip *inode.Inode, lbn common.Lbn) (common.Daddr, error) {
	chain, err := getLbns(fs.sb, lbn)
	if err != nil {
		return common.UNUSED_DADDR, err
	}
	switch len(chain) {
	case 0:
		return ip.Din.Db[lbn], nil
	case 1:
		return ip.Din.Ib[chain[0].Off], nil
	}
	parent := chain[len(chain)-1]
	bp, tok, err := fs.bread(ip, parent.Lbn, fs.bsize())
	if err != nil {
		return common.UNUSED_DADDR, err
	}
	a := bp.DaddrGet(parent.Off)
	fs.cache.Brelse(bp, tok)
	return a, nil
}

// bread returns the leased buffer for lbn of ip, reading it from disk if
// it was not cached. Blocks without a disk address come back zeroed.
func (fs *FS) bread(ip *inode.Inode, lbn common.Lbn, size uint64) (*buf.Buf, lockmap.Token, error) {
	a := addr.MkAddr(ip.Ino, lbn)
	var daddr = common.UNUSED_DADDR
	if fs.cache.Lookup(a) == nil {
		d, err := fs.bmap(ip, lbn)
		if err != nil {
			return nil, lockmap.NoToken, err
		}
		daddr = d
	}
	bp, tok, fresh := fs.cache.Getblk(a, size)
	if fresh && daddr > 0 {
		util.DPrintf(5, "bread: %v from %d\n", a, daddr)
		if err := fs.strat.Device().ReadAt(bp.Data, daddr); err != nil {
			fs.cache.Invalidate(bp, tok)
			return nil, lockmap.NoToken, err
		}
		bp.Blkno = daddr
	}
	return bp, tok, nil
}

// bdwrite is a delayed write of a buffer of ip, which becomes modified.
func (fs *FS) bdwrite(ip *inode.Inode, bp *buf.Buf, tok lockmap.Token) {
	fs.cache.Bdwrite(bp, tok)
	ip.Set(inode.IN_MODIFIED)
}

// lockVnode takes the lock that owns ip's blocks and dinode. For the ifile
// that is ifileMu.
func (fs *FS) lockVnode(ip *inode.Inode) {
	if ip.Ino == common.IFILE_INUM {
		fs.ifileMu.Lock()
		return
	}
	ip.Lock()
}

func (fs *FS) unlockVnode(ip *inode.Inode) {
	if ip.Ino == common.IFILE_INUM {
		fs.ifileMu.Unlock()
		return
	}
	ip.Unlock()
}
