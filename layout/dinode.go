package layout

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
)

const (
	IFMT  uint16 = 0170000
	IFIFO uint16 = 0010000
	IFCHR uint16 = 0020000
	IFDIR uint16 = 0040000
	IFBLK uint16 = 0060000
	IFREG uint16 = 0100000
	IFLNK uint16 = 0120000
)

// Dinode is the 128-byte on-disk inode.
type Dinode struct {
	Mode      uint16
	Nlink     int16
	Inumber   common.Inum
	Size      uint64
	Atime     int32
	Atimensec int32
	Mtime     int32
	Mtimensec int32
	Ctime     int32
	Ctimensec int32
	Db        [common.NDADDR]common.Daddr
	Ib        [common.NIADDR]common.Daddr
	Flags     uint32
	Blocks    uint32 // fragments held on disk
	Gen       int32
	Uid       uint32
	Gid       uint32
}

func (di *Dinode) Encode(b []byte) {
	enc := marshal.NewEnc(common.DINODE_SIZE)
	putPair(&enc, di.Mode, uint16(di.Nlink))
	enc.PutInt32(uint32(di.Inumber))
	enc.PutInt(di.Size)
	for _, t := range []int32{di.Atime, di.Atimensec, di.Mtime, di.Mtimensec, di.Ctime, di.Ctimensec} {
		enc.PutInt32(uint32(t))
	}
	for _, a := range di.Db {
		enc.PutInt32(uint32(a))
	}
	for _, a := range di.Ib {
		enc.PutInt32(uint32(a))
	}
	enc.PutInt32(di.Flags)
	enc.PutInt32(di.Blocks)
	enc.PutInt32(uint32(di.Gen))
	enc.PutInt32(di.Uid)
	enc.PutInt32(di.Gid)
	copy(b, enc.Finish())
}

func DecodeDinode(b []byte) *Dinode {
	dec := marshal.NewDec(b[:common.DINODE_SIZE])
	di := &Dinode{}
	var nlink uint16
	di.Mode, nlink = getPair(&dec)
	di.Nlink = int16(nlink)
	di.Inumber = common.Inum(dec.GetInt32())
	di.Size = dec.GetInt()
	for _, t := range []*int32{&di.Atime, &di.Atimensec, &di.Mtime, &di.Mtimensec, &di.Ctime, &di.Ctimensec} {
		*t = int32(dec.GetInt32())
	}
	for i := range di.Db {
		di.Db[i] = common.Daddr(dec.GetInt32())
	}
	for i := range di.Ib {
		di.Ib[i] = common.Daddr(dec.GetInt32())
	}
	di.Flags = dec.GetInt32()
	di.Blocks = dec.GetInt32()
	di.Gen = int32(dec.GetInt32())
	di.Uid = dec.GetInt32()
	di.Gid = dec.GetInt32()
	return di
}

func (di *Dinode) IsBlk() bool {
	return di.Mode&IFMT == IFBLK
}
