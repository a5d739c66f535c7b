package lfs

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/dumplfs"
	"github.com/mit-pdos/go-lfs/layout"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%253)
	}
	return b
}

// small segments so that tests cross segment boundaries quickly
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Geometry.SegmentSize = 64 * 1024
	cfg.Geometry.NSegments = 32
	cfg.Geometry.NInodes = 64
	cfg.Writer.DirtyLimit = 0
	return cfg
}

func testDevice(cfg config.Config) disk.Device {
	g := cfg.Geometry
	return disk.NewMemDevice(g.NSegments*g.SegmentSize/g.FragSize, g.FragSize)
}

// liveBytes sums the segment usage table and, separately, what the loaded
// inodes hold on disk.
func liveBytes(fs *FS) (segs uint64, files uint64, err error) {
	for sn := uint32(0); sn < fs.sb.Nseg; sn++ {
		su, err := fs.segEntry(sn)
		if err != nil {
			return 0, 0, err
		}
		segs += uint64(su.Nbytes)
	}
	for _, ip := range fs.inodes.Snapshot() {
		files += uint64(ip.Din.Blocks)*uint64(fs.sb.Fsize) + common.DINODE_SIZE
	}
	return segs, files, nil
}

type LfsSuite struct {
	suite.Suite
	cfg config.Config
	dev disk.Device
	reg *prometheus.Registry
	fs  *FS
}

func (suite *LfsSuite) SetupTest() {
	suite.cfg = testConfig()
	suite.dev = testDevice(suite.cfg)
	suite.reg = prometheus.NewRegistry()
	fs, err := Format(suite.dev, suite.cfg, suite.reg)
	suite.Require().NoError(err)
	suite.fs = fs
}

func (suite *LfsSuite) TearDownTest() {
	suite.fs.Shutdown()
}

func TestLfs(t *testing.T) {
	suite.Run(t, new(LfsSuite))
}

func (suite *LfsSuite) remount() {
	suite.Require().NoError(suite.fs.Shutdown())
	fs, err := Open(suite.dev, suite.cfg, prometheus.NewRegistry())
	suite.Require().NoError(err)
	suite.fs = fs
}

func (suite *LfsSuite) mkFile(data []byte) common.Inum {
	ino, err := suite.fs.Create(layout.IFREG | 0644)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.Write(ino, 0, data))
	return ino
}

func (suite *LfsSuite) checkpoint() {
	suite.Require().NoError(suite.fs.SegWrite(SegCkp | SegSync))
}

func (suite *LfsSuite) image() *dumplfs.Image {
	im, err := dumplfs.Load(suite.dev)
	suite.Require().NoError(err)
	return im
}

func (suite *LfsSuite) walk() []*dumplfs.Pseg {
	psegs, err := suite.image().Walk()
	suite.Require().NoError(err)
	return psegs
}

func finfoOf(p *dumplfs.Pseg, ino common.Inum) *layout.FInfo {
	for _, fi := range p.Summary.Finfos {
		if fi.Ino == ino {
			return fi
		}
	}
	return nil
}

func (suite *LfsSuite) checkAccounting() {
	segs, files, err := liveBytes(suite.fs)
	suite.Require().NoError(err)
	suite.Equal(files, segs, "live bytes")
}

func (suite *LfsSuite) TestFormat() {
	im := suite.image()
	sb := im.Sb
	suite.Equal(0, im.Slot)
	suite.Equal(suite.fs.sb.Serial, sb.Serial)
	suite.Equal(common.Daddr(8), sb.Sboffs[0])
	suite.Equal(common.Daddr(16*64), sb.Sboffs[1])
	suite.Equal(uint32(8), sb.Inopb)

	ci, err := im.CleanerInfo()
	suite.Require().NoError(err)
	suite.Equal(sb.Nseg-1, ci.Clean)
	suite.Equal(uint32(1), ci.Dirty)
	suite.Equal(uint32(common.FIRST_INUM), ci.FreeHead)

	su, err := im.SegUse(0)
	suite.Require().NoError(err)
	suite.True(su.Has(layout.SEGUSE_SUPERBLOCK))
	suite.True(su.Has(layout.SEGUSE_DIRTY))
	su, err = im.SegUse(16)
	suite.Require().NoError(err)
	suite.Equal(layout.SEGUSE_SUPERBLOCK, su.Flags)

	psegs := suite.walk()
	suite.Require().NotEmpty(psegs)
	// label and superblock come first
	suite.Equal(common.Daddr(16), psegs[0].Addr)
	for _, p := range psegs {
		suite.True(p.DataOK)
	}
	suite.checkAccounting()
}

func (suite *LfsSuite) TestWriteRead() {
	data := pattern(10000, 3)
	ino := suite.mkFile(data)
	got, err := suite.fs.Read(ino, 0, 20000)
	suite.Require().NoError(err)
	suite.Equal(data, got)

	suite.checkpoint()
	got, err = suite.fs.Read(ino, 100, 50)
	suite.Require().NoError(err)
	suite.Equal(data[100:150], got)
	suite.checkAccounting()

	suite.remount()
	got, err = suite.fs.Read(ino, 0, 20000)
	suite.Require().NoError(err)
	suite.Equal(data, got)
}

func (suite *LfsSuite) TestShutdownCheckpoints() {
	data := pattern(5000, 7)
	ino := suite.mkFile(data)
	suite.remount()
	got, err := suite.fs.Read(ino, 0, 5000)
	suite.Require().NoError(err)
	suite.Equal(data, got)

	im := suite.image()
	b, err := im.ReadFile(ino)
	suite.Require().NoError(err)
	suite.Equal(data, b)
}

func (suite *LfsSuite) TestFragmentLast() {
	ino := suite.mkFile(pattern(10000, 1))
	suite.checkpoint()
	var fi *layout.FInfo
	for _, p := range suite.walk() {
		if f := finfoOf(p, ino); f != nil {
			fi = f
		}
	}
	suite.Require().NotNil(fi)
	suite.Equal([]common.Lbn{0, 1, 2}, fi.Blocks)
	// a two-fragment tail
	suite.Equal(uint32(2048), fi.LastLength)
}

func (suite *LfsSuite) TestFragmentGrows() {
	ino := suite.mkFile(pattern(1000, 1))
	suite.checkpoint()
	suite.Require().NoError(suite.fs.Write(ino, 1000, pattern(2000, 2)))
	suite.checkpoint()
	suite.checkAccounting()
	suite.Require().NoError(suite.fs.Write(ino, 20000, pattern(100, 3)))
	suite.checkpoint()
	suite.checkAccounting()

	suite.remount()
	got, err := suite.fs.Read(ino, 0, 30000)
	suite.Require().NoError(err)
	suite.Require().Len(got, 20100)
	suite.Equal(pattern(1000, 1), got[:1000])
	suite.Equal(pattern(2000, 2), got[1000:3000])
	suite.Equal(make([]byte, 17000), got[3000:20000])
	suite.Equal(pattern(100, 3), got[20000:])
}

func (suite *LfsSuite) TestSegmentSplit() {
	// 100 data blocks and one indirect block span several segments
	data := pattern(100*4096, 9)
	ino := suite.mkFile(data)
	suite.checkpoint()
	suite.checkAccounting()

	sb := suite.fs.sb
	perPseg := int((sb.Fsbpseg - uint32(suite.fs.sumfrags())) / sb.Frag)
	suite.Equal(15, perPseg)

	var lbns []common.Lbn
	var counts []int
	segs := make(map[uint32]bool)
	for _, p := range suite.walk() {
		suite.True(p.DataOK, "pseg at %d", p.Addr)
		suite.LessOrEqual(p.Frags, int32(sb.Fsbpseg))
		n := 0
		for _, b := range p.Blocks {
			if b.Ino == ino {
				lbns = append(lbns, b.Lbn)
				segs[p.Seg] = true
				n++
			}
		}
		if n > 0 {
			counts = append(counts, n)
		}
	}
	var ndata int
	for _, lbn := range lbns {
		if lbn >= 0 {
			ndata++
		}
	}
	suite.Equal(100, ndata)
	suite.Contains(lbns, common.Lbn(-common.NDADDR), "single indirect block")
	suite.Greater(len(segs), 1)

	// the first partial segment fills what is left of the current
	// segment; every later one but the last is full
	suite.Require().Greater(len(counts), 2)
	suite.LessOrEqual(counts[0], perPseg)
	for _, n := range counts[1 : len(counts)-1] {
		suite.Equal(perPseg, n)
	}
	rest := len(lbns) - counts[0]
	suite.Equal(1+(rest+perPseg-1)/perPseg, len(counts))

	suite.remount()
	got, err := suite.fs.Read(ino, 0, uint64(len(data)))
	suite.Require().NoError(err)
	suite.Equal(data, got)
}

func (suite *LfsSuite) TestInodeBlocks() {
	var inos []common.Inum
	for i := 0; i < 12; i++ {
		inos = append(inos, suite.mkFile(pattern(100, byte(i))))
	}
	suite.checkpoint()
	var found = make(map[common.Inum]bool)
	for _, p := range suite.walk() {
		suite.True(p.DataOK)
		suite.Equal(int(p.Summary.Ninos), len(p.Inodes))
		for _, din := range p.Inodes {
			found[din.Inumber] = true
		}
	}
	for _, ino := range inos {
		suite.True(found[ino], "inode %d", ino)
	}
	suite.True(found[common.IFILE_INUM])
}

func (suite *LfsSuite) TestCorruptDataDetected() {
	ino := suite.mkFile(pattern(4096, 5))
	suite.checkpoint()
	var blk *dumplfs.Block
	for _, p := range suite.walk() {
		for i := range p.Blocks {
			if p.Blocks[i].Ino == ino {
				blk = &p.Blocks[i]
			}
		}
	}
	suite.Require().NotNil(blk)
	b := make([]byte, 1024)
	suite.Require().NoError(suite.dev.ReadAt(b, blk.Daddr))
	b[0] ^= 0xff
	suite.Require().NoError(suite.dev.WriteAt(b, blk.Daddr))

	var bad = 0
	for _, p := range suite.walk() {
		if !p.DataOK {
			bad++
		}
	}
	suite.Equal(1, bad)
}

func (suite *LfsSuite) TestSuperblocksAlternate() {
	suite.Equal(1, suite.fs.activesb)
	serial := suite.fs.sb.Serial

	suite.mkFile(pattern(100, 1))
	suite.checkpoint()
	sb, slot, err := dumplfs.ReadSuperblock(suite.dev)
	suite.Require().NoError(err)
	suite.Equal(1, slot)
	suite.Greater(sb.Serial, serial)
	serial = sb.Serial

	suite.mkFile(pattern(100, 2))
	suite.checkpoint()
	sb, slot, err = dumplfs.ReadSuperblock(suite.dev)
	suite.Require().NoError(err)
	suite.Equal(0, slot)
	suite.Greater(sb.Serial, serial)

	suite.remount()
	_, slot, err = dumplfs.ReadSuperblock(suite.dev)
	suite.Require().NoError(err)
	suite.Equal(slot^1, suite.fs.activesb)
}

func (suite *LfsSuite) TestEmptyCheckpoint() {
	stats := suite.fs.Stats()
	ckps := testutil.ToFloat64(stats.Ncheckpoints)
	psegs := testutil.ToFloat64(stats.PsegWrites)
	serial := suite.fs.sb.Serial
	suite.checkpoint()
	suite.Equal(ckps, testutil.ToFloat64(stats.Ncheckpoints))
	suite.Equal(psegs, testutil.ToFloat64(stats.PsegWrites))
	suite.Equal(serial, suite.fs.sb.Serial)
}

func (suite *LfsSuite) TestIfileOnlyCheckpoint() {
	ino := suite.mkFile(pattern(6000, 4))
	suite.Require().NoError(suite.fs.SegWrite(SegSync))
	suite.False(suite.fs.cache.HasDirty(ino))
	suite.True(suite.fs.cache.HasDirty(common.IFILE_INUM))
	serial := suite.fs.sb.Serial
	slot := suite.fs.activesb

	suite.checkpoint()
	var n = 0
	for _, p := range suite.walk() {
		if p.Summary.Serial <= serial {
			continue
		}
		n++
		for _, fi := range p.Summary.Finfos {
			suite.Equal(common.IFILE_INUM, fi.Ino, "pseg at %d", p.Addr)
		}
		for _, din := range p.Inodes {
			suite.Equal(common.IFILE_INUM, din.Inumber, "pseg at %d", p.Addr)
		}
	}
	suite.Greater(n, 0)
	_, got, err := dumplfs.ReadSuperblock(suite.dev)
	suite.Require().NoError(err)
	suite.Equal(slot, got)
	suite.Equal(slot^1, suite.fs.activesb)
	suite.checkAccounting()
}

func (suite *LfsSuite) TestInitSegAgain() {
	suite.mkFile(pattern(3000, 1))
	suite.Require().NoError(suite.fs.SegWrite(SegSync))

	fs := suite.fs
	suite.Require().NoError(fs.lock(0))
	sb := fs.sb
	sn := sb.Dtosn(sb.Curseg)
	su, err := fs.segEntry(sn)
	suite.Require().NoError(err)
	before := *su
	offset, lastpseg, bfree, avail := sb.Offset, sb.Lastpseg, sb.Bfree, sb.Avail

	repeat, err := fs.initSeg()
	suite.Require().NoError(err)
	suite.False(repeat)
	su, err = fs.segEntry(sn)
	suite.Require().NoError(err)
	suite.Equal(before, *su)
	suite.Equal(offset, sb.Offset)
	suite.Equal(lastpseg, sb.Lastpseg)
	suite.Equal(bfree, sb.Bfree)
	suite.Equal(avail, sb.Avail)
	suite.Len(fs.sp.bufs, 1)
	fs.unlock()

	suite.Equal(lastpseg, sb.Offset, "unused summary given back")
	suite.checkpoint()
	suite.checkAccounting()
}

func (suite *LfsSuite) TestSegmentStates() {
	sp := &segment{}
	sp.advance(segGathering)
	sp.advance(segGathering)
	sp.advance(segFinalizing)
	sp.advance(segWritten)
	sp.advance(segEmpty)
	suite.Equal(segEmpty, sp.state)
	suite.Panics(func() { sp.advance(segFinalizing) })
	suite.Panics(func() { (&segment{state: segGathering}).advance(segWritten) })
	suite.Panics(func() { (&segment{state: segFinalizing}).advance(segGathering) })
}

func (suite *LfsSuite) TestStats() {
	stats := suite.fs.Stats()
	suite.Equal(float64(1), testutil.ToFloat64(stats.Ncheckpoints))
	suite.mkFile(pattern(8192, 1))
	suite.checkpoint()
	suite.Equal(float64(2), testutil.ToFloat64(stats.Ncheckpoints))
	suite.GreaterOrEqual(testutil.ToFloat64(stats.PsegWrites), float64(2))
	suite.GreaterOrEqual(testutil.ToFloat64(stats.BlockTot), float64(2))
	suite.Equal(float64(0), testutil.ToFloat64(stats.ActiveSegs))
	suite.Equal(1, testutil.CollectAndCount(stats.Ncheckpoints))
	mfs, err := suite.reg.Gather()
	suite.Require().NoError(err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	suite.Contains(names, "lfs_checkpoints_total")
	suite.Contains(names, "lfs_active_segments")
}

func (suite *LfsSuite) TestDiropFlags() {
	plain := suite.mkFile(pattern(100, 1))
	suite.checkpoint()

	a, err := suite.fs.Create(layout.IFDIR | 0755)
	suite.Require().NoError(err)
	b, err := suite.fs.Create(layout.IFREG | 0644)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.BeginDirOp(a, b))
	suite.Require().NoError(suite.fs.Write(a, 0, pattern(512, 2)))
	suite.Require().NoError(suite.fs.Write(b, 0, pattern(100, 3)))
	suite.fs.EndDirOp(a, b)
	suite.checkpoint()

	var sawDirop = false
	for _, p := range suite.walk() {
		if finfoOf(p, plain) != nil {
			suite.False(p.Dirop())
		}
		if finfoOf(p, a) != nil {
			suite.True(p.Dirop())
			suite.False(p.Cont(), "operation complete in one partial segment")
			suite.NotNil(finfoOf(p, b))
			sawDirop = true
		}
	}
	suite.True(sawDirop)
	suite.False(suite.fs.isDirop(suite.fs.inodes.Get(a)))
}

func (suite *LfsSuite) TestBlockDevice() {
	target := disk.NewMemDevice(64, 1024)
	ino, err := suite.fs.Create(layout.IFBLK | 0600)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.AttachDevice(ino, target))
	data := pattern(4096, 4)
	suite.Require().NoError(suite.fs.Write(ino, 4096, data))
	suite.checkpoint()

	b := make([]byte, 4096)
	suite.Require().NoError(target.ReadAt(b, 4))
	suite.Equal(data, b)
	for _, p := range suite.walk() {
		suite.Nil(finfoOf(p, ino), "device blocks stay out of the log")
	}
	suite.False(suite.fs.cache.HasDirty(ino))
}

func (suite *LfsSuite) TestReclaim() {
	data := pattern(6000, 8)
	ino := suite.mkFile(data)
	suite.Require().NoError(suite.fs.Reclaim(ino))
	suite.Nil(suite.fs.inodes.Get(ino))
	got, err := suite.fs.Read(ino, 0, 6000)
	suite.Require().NoError(err)
	suite.Equal(data, got)
	suite.NotNil(suite.fs.inodes.Get(ino))
}

func (suite *LfsSuite) TestFlush() {
	data := pattern(3*4096, 6)
	ino := suite.mkFile(data)
	suite.Require().NoError(suite.fs.Flush(ino))
	suite.False(suite.fs.cache.HasDirty(ino))
	suite.Equal(float64(1), testutil.ToFloat64(suite.fs.Stats().FlushInvoked))

	ife, err := suite.fs.ientry(ino)
	suite.Require().NoError(err)
	din, err := suite.fs.readDinode(ife.Daddr, ino)
	suite.Require().NoError(err)
	suite.Equal(uint64(len(data)), din.Size)
	suite.Equal(uint32(12), din.Blocks)
}

func (suite *LfsSuite) TestFlushPromotes() {
	fs := suite.fs
	ino := suite.mkFile(pattern(5000, 2))
	before := testutil.ToFloat64(fs.Stats().Ncheckpoints)
	fs.nactive = fs.cfg.MaxActive + 1
	suite.Require().NoError(fs.Flush(ino))
	suite.Equal(before+1, testutil.ToFloat64(fs.Stats().Ncheckpoints))
	suite.Equal(uint64(0), fs.nactive)
	suite.False(fs.cache.HasDirty(ino))
}

func (suite *LfsSuite) TestNoSpaceLatches() {
	ino := suite.mkFile(pattern(32*1024, 1))
	var err error
	for i := 0; i < 500 && err == nil; i++ {
		err = suite.fs.Write(ino, 0, pattern(32*1024, byte(i)))
		if err == nil {
			err = suite.fs.SegWrite(SegSync)
		}
	}
	suite.Require().Error(err)
	suite.True(errors.Is(err, ErrNoSpace), "got %v", err)
	suite.Error(suite.fs.Err())

	err = suite.fs.Write(ino, 0, []byte{1})
	suite.True(errors.Is(err, ErrBroken))
	err = suite.fs.SegWrite(SegCkp)
	suite.True(errors.Is(err, ErrBroken))
	_, err = suite.fs.Create(layout.IFREG)
	suite.True(errors.Is(err, ErrBroken))
}

func (suite *LfsSuite) TestReadOnlyAfterShutdown() {
	suite.Require().NoError(suite.fs.Shutdown())
	_, err := suite.fs.Create(layout.IFREG)
	suite.Equal(ErrReadOnly, err)
	suite.NoError(suite.fs.Shutdown())
}

func (suite *LfsSuite) TestConcurrentWriters() {
	var inos []common.Inum
	for i := 0; i < 4; i++ {
		ino, err := suite.fs.Create(layout.IFREG | 0644)
		suite.Require().NoError(err)
		inos = append(inos, ino)
	}
	var g errgroup.Group
	for i, ino := range inos {
		i, ino := i, ino
		g.Go(func() error {
			for j := 0; j < 8; j++ {
				off := uint64(j * 3000)
				if err := suite.fs.Write(ino, off, pattern(3000, byte(i*8+j))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for j := 0; j < 5; j++ {
			if err := suite.fs.SegWrite(0); err != nil {
				return err
			}
		}
		return nil
	})
	suite.Require().NoError(g.Wait())
	suite.checkpoint()
	suite.checkAccounting()

	suite.remount()
	for i, ino := range inos {
		got, err := suite.fs.Read(ino, 0, 8*3000)
		suite.Require().NoError(err)
		for j := 0; j < 8; j++ {
			suite.Equal(pattern(3000, byte(i*8+j)), got[j*3000:(j+1)*3000])
		}
	}
}

func (suite *LfsSuite) TestManyCheckpointsPromote() {
	cfg := suite.fs.cfg
	ino := suite.mkFile(pattern(100, 1))
	before := testutil.ToFloat64(suite.fs.Stats().Ncheckpoints)
	for i := uint64(0); i < 2*cfg.MaxActive; i++ {
		suite.Require().NoError(suite.fs.Write(ino, 0, pattern(60*1024, byte(i))))
		suite.Require().NoError(suite.fs.SegWrite(SegSync))
	}
	suite.Greater(testutil.ToFloat64(suite.fs.Stats().Ncheckpoints), before)
}

func (suite *LfsSuite) TestSuperblockSnapshot() {
	var inos []common.Inum
	for i := 0; i < 2; i++ {
		ino, err := suite.fs.Create(layout.IFREG | 0644)
		suite.Require().NoError(err)
		inos = append(inos, ino)
	}
	var g errgroup.Group
	for i, ino := range inos {
		i, ino := i, ino
		g.Go(func() error {
			for j := 0; j < 6; j++ {
				if err := suite.fs.Write(ino, uint64(j*5000), pattern(5000, byte(i+j))); err != nil {
					return err
				}
				if err := suite.fs.Flush(ino); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for j := 0; j < 3; j++ {
			if err := suite.fs.SegWrite(SegCkp); err != nil {
				return err
			}
		}
		return nil
	})
	var serials []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for k := 0; k < 50; k++ {
			serials = append(serials, suite.fs.Superblock().Serial)
		}
	}()
	suite.Require().NoError(g.Wait())
	<-done
	for k := 1; k < len(serials); k++ {
		suite.LessOrEqual(serials[k-1], serials[k])
	}
	suite.Equal(suite.fs.sb.Serial, suite.fs.Superblock().Serial)
}

// sbWatchDevice counts writes to the superblock slots that overlap.
type sbWatchDevice struct {
	disk.Device
	mu       sync.Mutex
	sboffs   map[common.Daddr]bool
	inflight int
	maxIn    int
	nwrites  int
}

func (d *sbWatchDevice) watch(addrs []common.Daddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sboffs = make(map[common.Daddr]bool)
	for _, a := range addrs {
		if a != common.UNUSED_DADDR {
			d.sboffs[a] = true
		}
	}
}

func (d *sbWatchDevice) WriteAt(p []byte, a common.Daddr) error {
	d.mu.Lock()
	sb := d.sboffs[a]
	if sb {
		d.nwrites++
		d.inflight++
		if d.inflight > d.maxIn {
			d.maxIn = d.inflight
		}
	}
	d.mu.Unlock()
	if sb {
		time.Sleep(2 * time.Millisecond)
	}
	err := d.Device.WriteAt(p, a)
	if sb {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}
	return err
}

func (suite *LfsSuite) TestSuperblockWritesExclusive() {
	dev := &sbWatchDevice{Device: testDevice(suite.cfg)}
	fs, err := Format(dev, suite.cfg, prometheus.NewRegistry())
	suite.Require().NoError(err)
	defer fs.Shutdown()
	sboffs := fs.sb.Sboffs
	dev.watch(sboffs[:])

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		a := sboffs[i%2]
		g.Go(func() error {
			return fs.writeSuper(a)
		})
	}
	suite.Require().NoError(g.Wait())
	fs.waitSuper()
	fs.waitIO(nil)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	suite.Equal(4, dev.nwrites)
	suite.Equal(1, dev.maxIn)
}
