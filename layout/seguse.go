package layout

import (
	"github.com/tchajed/marshal"
)

const (
	SEGUSE_ACTIVE     uint32 = 0x01 // being written
	SEGUSE_DIRTY      uint32 = 0x02 // holds data
	SEGUSE_SUPERBLOCK uint32 = 0x04 // holds a superblock copy
	SEGUSE_ERROR      uint32 = 0x08 // the cleaner must leave it alone
	SEGUSE_EMPTY      uint32 = 0x10

	SEGUSE_SIZE uint64 = 24
)

// SegUse is the usage entry of one segment in the ifile's segment table.
type SegUse struct {
	Nbytes   uint32 // live bytes
	Olastmod uint32
	Nsums    uint16 // summaries written
	Ninos    uint16 // inode blocks written
	Flags    uint32
	Lastmod  uint64
}

func (su *SegUse) Encode(b []byte) {
	enc := marshal.NewEnc(SEGUSE_SIZE)
	enc.PutInt32(su.Nbytes)
	enc.PutInt32(su.Olastmod)
	putPair(&enc, su.Nsums, su.Ninos)
	enc.PutInt32(su.Flags)
	enc.PutInt(su.Lastmod)
	copy(b, enc.Finish())
}

func DecodeSegUse(b []byte) *SegUse {
	dec := marshal.NewDec(b[:SEGUSE_SIZE])
	su := &SegUse{}
	su.Nbytes = dec.GetInt32()
	su.Olastmod = dec.GetInt32()
	su.Nsums, su.Ninos = getPair(&dec)
	su.Flags = dec.GetInt32()
	su.Lastmod = dec.GetInt()
	return su
}

func (su *SegUse) Has(flag uint32) bool {
	return su.Flags&flag != 0
}

const CLEANERINFO_SIZE uint64 = 24

// CleanerInfo heads the ifile: segment counts and the inode free list.
type CleanerInfo struct {
	Clean    uint32
	Dirty    uint32
	Bfree    int32
	Avail    int32
	FreeHead uint32
	FreeTail uint32
}

func (ci *CleanerInfo) Encode(b []byte) {
	enc := marshal.NewEnc(CLEANERINFO_SIZE)
	enc.PutInt32(ci.Clean)
	enc.PutInt32(ci.Dirty)
	enc.PutInt32(uint32(ci.Bfree))
	enc.PutInt32(uint32(ci.Avail))
	enc.PutInt32(ci.FreeHead)
	enc.PutInt32(ci.FreeTail)
	copy(b, enc.Finish())
}

func DecodeCleanerInfo(b []byte) *CleanerInfo {
	dec := marshal.NewDec(b[:CLEANERINFO_SIZE])
	return &CleanerInfo{
		Clean:    dec.GetInt32(),
		Dirty:    dec.GetInt32(),
		Bfree:    int32(dec.GetInt32()),
		Avail:    int32(dec.GetInt32()),
		FreeHead: dec.GetInt32(),
		FreeTail: dec.GetInt32(),
	}
}
