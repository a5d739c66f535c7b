package layout

import (
	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
)

const (
	LFS_MAGIC   uint32 = 0x070162
	LFS_VERSION uint32 = 2

	// encoded bytes covered by the checksum; the checksum word follows
	sbCksumOff uint64 = 216
)

// Superblock is the root of the filesystem. Two copies alternate, each in its
// own segment; the newer valid one wins at mount.
type Superblock struct {
	Magic       uint32
	Version     uint32
	Size        uint32 // fragments on the device
	Ssize       uint32 // segment size in bytes
	Dsize       uint32 // fragments usable for data
	Bsize       uint32
	Fsize       uint32
	Frag        uint32 // fragments per block
	Freehd      uint32
	Bfree       int32
	Nfiles      uint32
	Avail       int32
	Uinodes     int32
	Idaddr      common.Daddr // inode block holding the ifile inode
	Ifile       uint32
	Lastseg     common.Daddr
	Nextseg     common.Daddr
	Curseg      common.Daddr
	Offset      common.Daddr // next free fragment of the log
	Lastpseg    common.Daddr // start of the last partial segment
	Inopf       uint32
	Minfree     uint32
	Maxfilesize uint64
	Fsbpseg     uint32 // fragments per segment
	Inopb       uint32 // inodes per inode block
	Ifpb        uint32 // ifile entries per block
	Sepb        uint32 // segment usage entries per block
	Nindir      uint32
	Nseg        uint32
	Cleansz     uint32 // ifile blocks of cleaner info
	Segtabsz    uint32 // ifile blocks of segment usage table
	Sboffs      [common.MAXNUMSB]common.Daddr
	Nclean      uint32
	Dmeta       int32
	Minfreeseg  uint32
	Sumsize     uint32
	Serial      uint64
	Ibsize      uint32
	Start       common.Daddr
	Tstamp      uint64
	Interleave  uint32
	Ident       uint32
	Cksum       uint32
}

func (sb *Superblock) encodeBody(enc *marshal.Enc) {
	for _, w := range []uint32{sb.Magic, sb.Version, sb.Size, sb.Ssize, sb.Dsize,
		sb.Bsize, sb.Fsize, sb.Frag, sb.Freehd, uint32(sb.Bfree), sb.Nfiles,
		uint32(sb.Avail), uint32(sb.Uinodes), uint32(sb.Idaddr), sb.Ifile,
		uint32(sb.Lastseg), uint32(sb.Nextseg), uint32(sb.Curseg),
		uint32(sb.Offset), uint32(sb.Lastpseg), sb.Inopf, sb.Minfree} {
		enc.PutInt32(w)
	}
	enc.PutInt(sb.Maxfilesize)
	for _, w := range []uint32{sb.Fsbpseg, sb.Inopb, sb.Ifpb, sb.Sepb, sb.Nindir,
		sb.Nseg, sb.Cleansz, sb.Segtabsz} {
		enc.PutInt32(w)
	}
	for _, a := range sb.Sboffs {
		enc.PutInt32(uint32(a))
	}
	for _, w := range []uint32{sb.Nclean, uint32(sb.Dmeta), sb.Minfreeseg, sb.Sumsize} {
		enc.PutInt32(w)
	}
	enc.PutInt(sb.Serial)
	enc.PutInt32(sb.Ibsize)
	enc.PutInt32(uint32(sb.Start))
	enc.PutInt(sb.Tstamp)
	enc.PutInt32(sb.Interleave)
	enc.PutInt32(sb.Ident)
}

// Encode returns the SBPAD-sized image of sb with a fresh checksum, which is
// also stored back into sb.
func (sb *Superblock) Encode() []byte {
	enc := marshal.NewEnc(common.SBPAD)
	sb.encodeBody(&enc)
	b := enc.Finish()
	sb.Cksum = Cksum(b[:sbCksumOff])
	machine.UInt32Put(b[sbCksumOff:], sb.Cksum)
	return b
}

// DecodeSuperblock parses and verifies a superblock image.
func DecodeSuperblock(b []byte) (*Superblock, error) {
	if uint64(len(b)) < sbCksumOff+4 {
		return nil, errors.Errorf("superblock of %d bytes", len(b))
	}
	dec := marshal.NewDec(b)
	sb := &Superblock{}
	u32 := func() uint32 { return dec.GetInt32() }
	i32 := func() int32 { return int32(dec.GetInt32()) }
	sb.Magic, sb.Version, sb.Size, sb.Ssize, sb.Dsize = u32(), u32(), u32(), u32(), u32()
	sb.Bsize, sb.Fsize, sb.Frag, sb.Freehd, sb.Bfree = u32(), u32(), u32(), u32(), i32()
	sb.Nfiles, sb.Avail, sb.Uinodes, sb.Idaddr, sb.Ifile = u32(), i32(), i32(), i32(), u32()
	sb.Lastseg, sb.Nextseg, sb.Curseg, sb.Offset, sb.Lastpseg = i32(), i32(), i32(), i32(), i32()
	sb.Inopf, sb.Minfree = u32(), u32()
	sb.Maxfilesize = dec.GetInt()
	sb.Fsbpseg, sb.Inopb, sb.Ifpb, sb.Sepb = u32(), u32(), u32(), u32()
	sb.Nindir, sb.Nseg, sb.Cleansz, sb.Segtabsz = u32(), u32(), u32(), u32()
	for i := range sb.Sboffs {
		sb.Sboffs[i] = i32()
	}
	sb.Nclean, sb.Dmeta, sb.Minfreeseg, sb.Sumsize = u32(), i32(), u32(), u32()
	sb.Serial = dec.GetInt()
	sb.Ibsize, sb.Start = u32(), i32()
	sb.Tstamp = dec.GetInt()
	sb.Interleave, sb.Ident = u32(), u32()
	sb.Cksum = u32()
	if sb.Magic != LFS_MAGIC {
		return nil, errors.Errorf("bad superblock magic %#x", sb.Magic)
	}
	if sum := Cksum(b[:sbCksumOff]); sum != sb.Cksum {
		return nil, errors.Errorf("superblock checksum %#x, computed %#x", sb.Cksum, sum)
	}
	return sb, nil
}
