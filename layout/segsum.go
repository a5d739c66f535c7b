package layout

import (
	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
)

const (
	SS_MAGIC uint32 = 0x061561

	// the partial segment begins a directory operation
	SS_DIROP uint16 = 0x01
	// more partial segments follow to complete it
	SS_CONT uint16 = 0x02
)

const (
	SEGSUM_SIZE uint64 = 48
	// a FINFO without its block array
	FINFOSIZE uint64 = 16
	// a FINFO with room for one block
	FINFO_STRUCT_SIZE uint64 = FINFOSIZE + 4
)

// SegSum is the fixed header of a segment summary.
type SegSum struct {
	Sumsum  uint32 // over the summary after this word
	Datasum uint32 // over the first word of every block
	Magic   uint32
	Next    common.Daddr // segment the log continues in
	Ident   uint32
	Nfinfo  uint16
	Ninos   uint16
	Flags   uint16
	Serial  uint64
	Create  uint64
}

// FInfo lists the blocks of one file in a partial segment.
type FInfo struct {
	Version    uint32
	Ino        common.Inum
	LastLength uint32 // bytes in the final block
	Blocks     []common.Lbn
}

func (fi *FInfo) size() uint64 {
	return FINFOSIZE + 4*uint64(len(fi.Blocks))
}

// Summary is a decoded segment summary.
type Summary struct {
	SegSum
	Finfos   []*FInfo
	InoAddrs []common.Daddr
}

func (ss *SegSum) encode(enc *marshal.Enc) {
	enc.PutInt32(ss.Sumsum)
	enc.PutInt32(ss.Datasum)
	enc.PutInt32(ss.Magic)
	enc.PutInt32(uint32(ss.Next))
	enc.PutInt32(ss.Ident)
	putPair(enc, ss.Nfinfo, ss.Ninos)
	putPair(enc, ss.Flags, 0)
	enc.PutInt32(0)
	enc.PutInt(ss.Serial)
	enc.PutInt(ss.Create)
}

// EncodeSummary lays out a full summary block of sumsize bytes. The header
// counts are taken from ss as they are; the caller keeps them in step with
// finfos and inoAddrs.
func EncodeSummary(ss *SegSum, finfos []*FInfo, inoAddrs []common.Daddr, sumsize uint64) []byte {
	var used = SEGSUM_SIZE + 4*uint64(len(inoAddrs))
	for _, fi := range finfos {
		used += fi.size()
	}
	if used > sumsize {
		panic(errors.Errorf("summary overflow: %d > %d", used, sumsize))
	}
	enc := marshal.NewEnc(sumsize)
	ss.encode(&enc)
	for _, fi := range finfos {
		enc.PutInt32(uint32(len(fi.Blocks)))
		enc.PutInt32(fi.Version)
		enc.PutInt32(uint32(fi.Ino))
		enc.PutInt32(fi.LastLength)
		for _, lbn := range fi.Blocks {
			enc.PutInt32(uint32(lbn))
		}
	}
	b := enc.Finish()
	for i, a := range inoAddrs {
		off := sumsize - 4*uint64(i+1)
		machine.UInt32Put(b[off:], uint32(a))
	}
	return b
}

// SetChecksums stores the data checksum and then the summary checksum, which
// covers the data checksum, into an encoded summary.
func SetChecksums(b []byte, datasum uint32) {
	machine.UInt32Put(b[4:], datasum)
	machine.UInt32Put(b[0:], SummaryCksum(b))
}

func SummaryCksum(b []byte) uint32 {
	return Cksum(b[4:])
}

// DecodeSummary parses a summary block. It checks the magic number and that
// every record stays inside b, but not the checksums.
func DecodeSummary(b []byte, inopb uint64) (*Summary, error) {
	sumsize := uint64(len(b))
	if sumsize < SEGSUM_SIZE {
		return nil, errors.Errorf("summary of %d bytes", sumsize)
	}
	dec := marshal.NewDec(b)
	s := &Summary{}
	s.Sumsum = dec.GetInt32()
	s.Datasum = dec.GetInt32()
	s.Magic = dec.GetInt32()
	s.Next = common.Daddr(dec.GetInt32())
	s.Ident = dec.GetInt32()
	s.Nfinfo, s.Ninos = getPair(&dec)
	s.Flags, _ = getPair(&dec)
	dec.GetInt32()
	s.Serial = dec.GetInt()
	s.Create = dec.GetInt()
	if s.Magic != SS_MAGIC {
		return nil, errors.Errorf("bad summary magic %#x", s.Magic)
	}
	ninoblk := (uint64(s.Ninos) + inopb - 1) / inopb
	limit := sumsize - 4*ninoblk
	var off = SEGSUM_SIZE
	for i := uint16(0); i < s.Nfinfo; i++ {
		if off+FINFOSIZE > limit {
			return nil, errors.Errorf("finfo %d past end of summary", i)
		}
		fdec := marshal.NewDec(b[off:])
		n := uint64(fdec.GetInt32())
		fi := &FInfo{}
		fi.Version = fdec.GetInt32()
		fi.Ino = common.Inum(fdec.GetInt32())
		fi.LastLength = fdec.GetInt32()
		if off+FINFOSIZE+4*n > limit {
			return nil, errors.Errorf("finfo %d: %d blocks past end of summary", i, n)
		}
		fi.Blocks = make([]common.Lbn, n)
		for j := range fi.Blocks {
			fi.Blocks[j] = common.Lbn(fdec.GetInt32())
		}
		s.Finfos = append(s.Finfos, fi)
		off += fi.size()
	}
	for i := uint64(0); i < ninoblk; i++ {
		a := machine.UInt32Get(b[sumsize-4*(i+1):])
		s.InoAddrs = append(s.InoAddrs, common.Daddr(a))
	}
	return s, nil
}
