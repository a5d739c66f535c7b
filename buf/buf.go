// buf holds the buffers the segment writer works on: staged disk blocks with
// a logical identity, an assigned disk address once written, and the
// dirty/gathered state.
package buf

import (
	"fmt"

	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
)

type Flags uint32

const (
	// newer than the copy on disk
	Dirty Flags = 1 << iota
	// claimed by the partial segment under construction
	Gathered
	// not in the cache: summaries, inode blocks and private copies
	Transient
)

// A Buf is a staged disk block. Flags are guarded by the Cache, Data by the
// buffer's lease.
type Buf struct {
	id    uint64
	Addr  addr.Addr
	Blkno common.Daddr // UNASSIGNED until placed in a segment
	Data  []byte
	flags Flags
}

func (bp *Buf) String() string {
	return fmt.Sprintf("buf %v @%d (%d bytes)", bp.Addr, bp.Blkno, len(bp.Data))
}

func (bp *Buf) Id() uint64 {
	return bp.id
}

func (bp *Buf) Ino() common.Inum {
	return bp.Addr.Ino
}

func (bp *Buf) Lbn() common.Lbn {
	return bp.Addr.Lbn
}

func (bp *Buf) Bcount() uint64 {
	return uint64(len(bp.Data))
}

// IsDev reports whether the buffer belongs to the device rather than a file.
func (bp *Buf) IsDev() bool {
	return bp.Addr.IsDev()
}

// DaddrGet reads the i'th block pointer of an indirect block.
func (bp *Buf) DaddrGet(i uint64) common.Daddr {
	return common.Daddr(machine.UInt32Get(bp.Data[4*i:]))
}

func (bp *Buf) DaddrPut(i uint64, a common.Daddr) {
	machine.UInt32Put(bp.Data[4*i:], uint32(a))
}
