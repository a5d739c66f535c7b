package lfs

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/layout"
)

func TestShellSortProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("sorts unsigned and keeps buffers with their lbns", prop.ForAll(
		func(lbns []int32) bool {
			var bufs []*buf.Buf
			var ls []common.Lbn
			for _, l := range lbns {
				bufs = append(bufs, &buf.Buf{Addr: addr.MkAddr(3, l)})
				ls = append(ls, l)
			}
			shellSort(bufs, ls)
			for i := range ls {
				if bufs[i].Lbn() != ls[i] {
					return false
				}
				if i > 0 && uint32(ls[i-1]) > uint32(ls[i]) {
					return false
				}
			}
			return len(ls) == len(lbns)
		},
		gen.SliceOf(gen.Int32Range(-2000, 2000)),
	))

	properties.TestingRun(t)
}

type writeOp struct {
	file int
	off  uint64
	n    int
}

func decodeOps(vs []int) []writeOp {
	var ops []writeOp
	for _, v := range vs {
		ops = append(ops, writeOp{
			file: v % 3,
			off:  uint64((v/3)%64) * 1000,
			n:    1 + (v/192)%8000,
		})
	}
	return ops
}

// live bytes in the segment table match what the inodes hold after every
// checkpoint
func TestAccountingProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("formats a filesystem per case")
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("segment usage matches inode blocks", prop.ForAll(
		func(vs []int) bool {
			cfg := testConfig()
			fs, err := Format(testDevice(cfg), cfg, nil)
			if err != nil {
				return false
			}
			defer fs.Shutdown()
			var inos []common.Inum
			for i := 0; i < 3; i++ {
				ino, err := fs.Create(layout.IFREG | 0644)
				if err != nil {
					return false
				}
				inos = append(inos, ino)
			}
			for i, op := range decodeOps(vs) {
				if err := fs.Write(inos[op.file], op.off, pattern(op.n, byte(i))); err != nil {
					return false
				}
				// sometimes let the blocks pile up
				if i%2 == 1 {
					if err := fs.SegWrite(SegCkp | SegSync); err != nil {
						return false
					}
					segs, files, err := liveBytes(fs)
					if err != nil || segs != files {
						t.Logf("live bytes %d, inodes hold %d", segs, files)
						return false
					}
				}
			}
			if err := fs.SegWrite(SegCkp | SegSync); err != nil {
				return false
			}
			segs, files, err := liveBytes(fs)
			return err == nil && segs == files
		},
		gen.SliceOfN(8, gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}
