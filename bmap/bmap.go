// Package bmap maps logical blocks of a file onto the tree of block
// pointers: NDADDR direct pointers in the inode, then single, double and
// triple indirect blocks.
//
// Indirect blocks have negative logical block numbers. The single indirect
// block is -NDADDR; each indirect block is numbered one below the negated
// number of the first data block it maps at its level, offset by its level.
package bmap

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
)

// Indir is one step of an indirect chain.
type Indir struct {
	Lbn common.Lbn // the indirect block holding the pointer
	Off uint64     // pointer index within it
}

// GetLbns returns the chain leading to the pointer for lbn, which may name a
// data or an indirect block. A nil chain means a direct block. chain[0].Off
// indexes the inode's indirect array; for i > 0, chain[i] is the slot in
// block chain[i].Lbn. The last entry therefore holds lbn's own pointer,
// except for a chain of one, where that pointer lives in the inode.
func GetLbns(nindir uint64, lbn common.Lbn) ([]Indir, error) {
	realbn := int64(lbn)
	bn := realbn
	if bn < 0 {
		bn = -bn
	}
	if bn < common.NDADDR {
		return nil, nil
	}
	n := int64(nindir)

	// Determine the number of levels of indirection.
	var blockcnt int64 = 1
	var i int64
	bn -= common.NDADDR
	for i = common.NIADDR; ; i-- {
		if i == 0 {
			return nil, errors.Errorf("lbn %d beyond triple indirect", lbn)
		}
		blockcnt *= n
		if bn < blockcnt {
			break
		}
		bn -= blockcnt
	}

	// Calculate the address of the first meta-block.
	var metalbn int64
	if realbn >= 0 {
		metalbn = -(realbn - bn + common.NIADDR - i)
	} else {
		metalbn = -(-realbn - bn + common.NIADDR - i)
	}
	chain := []Indir{{Lbn: common.Lbn(metalbn), Off: uint64(common.NIADDR - i)}}
	for ; i <= common.NIADDR; i++ {
		if metalbn == realbn {
			break
		}
		blockcnt /= n
		off := (bn / blockcnt) % n
		chain = append(chain, Indir{Lbn: common.Lbn(metalbn), Off: uint64(off)})
		metalbn -= -1 + off*blockcnt
	}
	return chain, nil
}

// Level classifies lbn: 0 for data, 1 to 3 for the indirect level.
func Level(nindir uint64, lbn common.Lbn) int {
	if lbn >= 0 {
		return 0
	}
	return int((uint64(-int64(lbn))-common.NDADDR)%nindir) + 1
}

// MaxLbn is one past the last data block a file can have.
func MaxLbn(nindir uint64) int64 {
	n := int64(nindir)
	return common.NDADDR + n + n*n + n*n*n
}
