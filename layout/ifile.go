package layout

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
)

const IFILE_SIZE uint64 = 12

// IfileEntry locates the current copy of one inode.
type IfileEntry struct {
	Version  uint32
	Daddr    common.Daddr // inode block holding the inode, or UNUSED_DADDR
	NextFree common.Inum
}

func (ife *IfileEntry) Encode(b []byte) {
	enc := marshal.NewEnc(IFILE_SIZE)
	enc.PutInt32(ife.Version)
	enc.PutInt32(uint32(ife.Daddr))
	enc.PutInt32(uint32(ife.NextFree))
	copy(b, enc.Finish())
}

func DecodeIfileEntry(b []byte) *IfileEntry {
	dec := marshal.NewDec(b[:IFILE_SIZE])
	return &IfileEntry{
		Version:  dec.GetInt32(),
		Daddr:    common.Daddr(dec.GetInt32()),
		NextFree: common.Inum(dec.GetInt32()),
	}
}
