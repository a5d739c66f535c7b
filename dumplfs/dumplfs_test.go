package dumplfs_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/dumplfs"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/lfs"
)

func mkImage(t *testing.T) (disk.Device, common.Inum) {
	cfg := config.Default()
	cfg.Geometry.SegmentSize = 64 * 1024
	cfg.Geometry.NSegments = 16
	cfg.Geometry.NInodes = 32
	cfg.Writer.DirtyLimit = 0
	g := cfg.Geometry
	dev := disk.NewMemDevice(g.NSegments*g.SegmentSize/g.FragSize, g.FragSize)
	fs, err := lfs.Format(dev, cfg, nil)
	require.NoError(t, err)
	ino, err := fs.Create(layout.IFREG | 0644)
	require.NoError(t, err)
	require.NoError(t, fs.Write(ino, 0, bytes.Repeat([]byte("lfs!"), 3000)))
	require.NoError(t, fs.Shutdown())
	return dev, ino
}

func TestReadSuperblockNewest(t *testing.T) {
	dev, _ := mkImage(t)
	sb, slot, err := dumplfs.ReadSuperblock(dev)
	require.NoError(t, err)
	// mkfs wrote both, the shutdown checkpoint the second
	assert.Equal(t, 1, slot)
	assert.Equal(t, layout.LFS_MAGIC, sb.Magic)

	// a torn second copy falls back to the first
	b := make([]byte, 1024)
	require.NoError(t, dev.ReadAt(b, sb.Sboffs[1]))
	b[10] ^= 0xff
	require.NoError(t, dev.WriteAt(b, sb.Sboffs[1]))
	old, slot, err := dumplfs.ReadSuperblock(dev)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	assert.Less(t, old.Serial, sb.Serial)
}

func TestReadSuperblockMissing(t *testing.T) {
	dev := disk.NewMemDevice(1024, 1024)
	_, _, err := dumplfs.ReadSuperblock(dev)
	assert.Error(t, err)
}

func TestWalk(t *testing.T) {
	dev, ino := mkImage(t)
	im, err := dumplfs.Load(dev)
	require.NoError(t, err)
	psegs, err := im.Walk()
	require.NoError(t, err)
	require.NotEmpty(t, psegs)

	var serial uint64
	var blocks int
	for _, p := range psegs {
		assert.True(t, p.DataOK)
		assert.Greater(t, p.Summary.Serial, serial)
		serial = p.Summary.Serial
		assert.Equal(t, p.Seg, im.Sb.Dtosn(p.Addr))
		for _, b := range p.Blocks {
			if b.Ino == ino {
				blocks++
			}
		}
	}
	assert.Equal(t, 3, blocks)

	data, err := im.ReadFile(ino)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("lfs!"), 3000), data)

	ife, err := im.Ientry(ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), ife.Version)
}

func TestDump(t *testing.T) {
	dev, _ := mkImage(t)
	var out bytes.Buffer
	require.NoError(t, dumplfs.Dump(&out, dev))
	s := out.String()
	assert.Contains(t, s, "superblock 1")
	assert.Contains(t, s, "segment 0:")
	assert.Contains(t, s, "cleaner:")
	assert.Contains(t, s, "ino 1 ")
	assert.NotContains(t, s, "BADDATA")
}
