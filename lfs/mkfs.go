package lfs

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/bmap"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/util"
)

func mkSuperblock(cfg config.Config, nfrags uint64) (*layout.Superblock, error) {
	g := cfg.Geometry
	fsbpseg := g.SegmentSize / g.FragSize
	if g.NSegments*fsbpseg > nfrags {
		return nil, errors.Errorf("mkfs: %d segments of %d fragments need a bigger device than %d",
			g.NSegments, fsbpseg, nfrags)
	}
	sumsize := g.SummarySize
	if sumsize == 0 {
		sumsize = g.FragSize
	}
	sepb := g.BlockSize / layout.SEGUSE_SIZE
	sb := &layout.Superblock{
		Magic:      layout.LFS_MAGIC,
		Version:    layout.LFS_VERSION,
		Size:       uint32(g.NSegments * fsbpseg),
		Ssize:      uint32(g.SegmentSize),
		Bsize:      uint32(g.BlockSize),
		Fsize:      uint32(g.FragSize),
		Frag:       uint32(g.BlockSize / g.FragSize),
		Freehd:     uint32(common.FIRST_INUM),
		Ifile:      uint32(common.IFILE_INUM),
		Inopf:      uint32(g.FragSize / common.DINODE_SIZE),
		Fsbpseg:    uint32(fsbpseg),
		Inopb:      uint32(g.FragSize / common.DINODE_SIZE),
		Ifpb:       uint32(g.BlockSize / layout.IFILE_SIZE),
		Sepb:       uint32(sepb),
		Nindir:     uint32(g.BlockSize / 4),
		Nseg:       uint32(g.NSegments),
		Cleansz:    1,
		Segtabsz:   uint32((g.NSegments + sepb - 1) / sepb),
		Nclean:     uint32(g.NSegments),
		Minfreeseg: uint32(g.MinFreeSeg),
		Sumsize:    uint32(sumsize),
		Ibsize:     uint32(g.FragSize),
		Interleave: uint32(cfg.Writer.Interleave),
		Ident:      uuid.New().ID(),
	}
	sb.Maxfilesize = uint64(bmap.MaxLbn(uint64(sb.Nindir))) * g.BlockSize
	sb.Sboffs[0] = sb.Btofsb(common.LABELPAD)
	sb.Sboffs[1] = sb.Sntod(sb.Nseg / 2)

	// the first segment write moves to segment 0
	sb.Offset = int32(fsbpseg)
	sb.Lastpseg = sb.Offset

	dsize := int32(sb.Size) - sb.Btofsb(common.LABELPAD) - 2*sb.Btofsb(common.SBPAD)
	sb.Dsize = uint32(dsize)
	sb.Bfree = dsize
	sb.Avail = dsize - int32(g.MinFreeSeg*fsbpseg)
	return sb, nil
}

// buildIfile lays out the ifile in the buffer cache: cleaner info, a usage
// entry per segment, and inode entries chained into the free list.
func (fs *FS) buildIfile(ninodes uint64) error {
	sb := fs.sb
	ip := inode.MkInode(common.IFILE_INUM, &layout.Dinode{
		Mode:    layout.IFREG | 0600,
		Nlink:   1,
		Inumber: common.IFILE_INUM,
		Gen:     1,
	})
	ip.Set(inode.IN_ALLMOD)
	fs.ifile = ip
	fs.inodes.Insert(ip)

	entblocks := (ninodes + uint64(sb.Ifpb) - 1) / uint64(sb.Ifpb)
	nblocks := uint64(sb.Cleansz+sb.Segtabsz) + entblocks
	for lbn := common.Lbn(0); uint64(lbn) < nblocks; lbn++ {
		bp, tok, _, err := fs.balloc(ip, lbn, fs.bsize())
		if err != nil {
			return err
		}
		fs.bdwrite(ip, bp, tok)
		ip.Din.Size = sb.Lblktosize(lbn + 1)
	}

	for sn := uint32(0); sn < sb.Nseg; sn++ {
		var flags uint32
		if sn == sb.Dtosn(sb.Sboffs[0]) || sn == sb.Dtosn(sb.Sboffs[1]) {
			flags = layout.SEGUSE_SUPERBLOCK
		}
		if _, err := fs.updateSegEntry(sn, func(su *layout.SegUse) error {
			su.Flags = flags
			return nil
		}); err != nil {
			return err
		}
	}

	n := fs.ninodes()
	for ino := common.Inum(0); uint64(ino) < n; ino++ {
		next := ino + 1
		if ino < common.FIRST_INUM || uint64(next) == n {
			next = common.NULLINUM
		}
		if _, err := fs.updateIentry(ino, func(ife *layout.IfileEntry) {
			ife.Version = 1
			ife.Daddr = common.UNUSED_DADDR
			ife.NextFree = next
		}); err != nil {
			return err
		}
	}
	return fs.updateCleanerInfo(func(ci *layout.CleanerInfo) {
		ci.Clean = sb.Nseg
		ci.Dirty = 0
		ci.Bfree, ci.Avail = fs.space()
		ci.FreeHead = uint32(common.FIRST_INUM)
		ci.FreeTail = uint32(n - 1)
	})
}

// Format makes a new filesystem on dev and mounts it. The ifile is written
// by a first checkpoint through the segment writer; every superblock slot
// then gets the same copy.
func Format(dev disk.Device, cfg config.Config, reg prometheus.Registerer) (*FS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := cfg.Geometry
	if dev.FragSize() != g.FragSize {
		return nil, errors.Errorf("mkfs: fragment size %d, device has %d", g.FragSize, dev.FragSize())
	}
	sb, err := mkSuperblock(cfg, dev.Size())
	if err != nil {
		return nil, err
	}
	fs, err := mkFS(dev, sb, cfg, reg)
	if err != nil {
		return nil, err
	}
	if err := fs.buildIfile(g.NInodes); err != nil {
		fs.strat.Close()
		return nil, err
	}
	if err := fs.SegWrite(SegCkp | SegSync); err != nil {
		fs.strat.Close()
		return nil, err
	}

	fs.spaceMu.Lock()
	data := fs.sb.Encode()
	fs.spaceMu.Unlock()
	for _, a := range fs.sb.Sboffs {
		if a == common.UNUSED_DADDR {
			continue
		}
		if err := dev.WriteAt(data, a); err != nil {
			fs.strat.Close()
			return nil, errors.Wrapf(err, "mkfs: superblock at %d", a)
		}
	}
	if err := dev.Barrier(); err != nil {
		fs.strat.Close()
		return nil, err
	}
	util.Logger().Info("lfs formatted",
		zap.Uint32("nseg", sb.Nseg),
		zap.Uint32("ssize", sb.Ssize),
		zap.Uint64("ninodes", fs.ninodes()),
		zap.Uint32("ident", sb.Ident))
	fs.startWriter()
	return fs, nil
}
