package addr

import (
	"fmt"

	"github.com/mit-pdos/go-lfs/common"
)

// Addr names a buffer: logical block Lbn of inode Ino. Buffers that belong
// to the device itself (summaries, inode blocks) use Ino == NULLINUM and the
// disk address as Lbn.
type Addr struct {
	Ino common.Inum
	Lbn common.Lbn
}

// Flatid packs an Addr into one integer, unique per Addr.
func (a Addr) Flatid() uint64 {
	return uint64(a.Ino)<<32 | uint64(uint32(a.Lbn))
}

func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.Ino, a.Lbn)
}

func MkAddr(ino common.Inum, lbn common.Lbn) Addr {
	return Addr{Ino: ino, Lbn: lbn}
}

func MkDevAddr(daddr common.Daddr) Addr {
	return Addr{Ino: common.NULLINUM, Lbn: daddr}
}

func (a Addr) IsDev() bool {
	return a.Ino == common.NULLINUM
}
