package dumplfs

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/layout"
)

// Block is one file block of a partial segment.
type Block struct {
	Ino   common.Inum
	Lbn   common.Lbn
	Daddr common.Daddr
	Size  uint64
}

// Pseg is a partial segment found in the log.
type Pseg struct {
	Seg     uint32
	Addr    common.Daddr
	Frags   int32 // summary, blocks and inode blocks
	Summary *layout.Summary
	Blocks  []Block
	Inodes  []*layout.Dinode
	// the data checksum matches the blocks on disk
	DataOK bool
}

func (p *Pseg) Dirop() bool {
	return p.Summary.Flags&layout.SS_DIROP != 0
}

func (p *Pseg) Cont() bool {
	return p.Summary.Flags&layout.SS_CONT != 0
}

// segStart is the first fragment of sn a partial segment can use.
func (im *Image) segStart(sn uint32, su *layout.SegUse) common.Daddr {
	sb := im.Sb
	a := sb.Sntod(sn)
	label := sb.Btofsb(common.LABELPAD)
	if sn == 0 && sb.Start < label {
		a += label - sb.Start
	}
	if su.Has(layout.SEGUSE_SUPERBLOCK) {
		a += sb.Btofsb(common.SBPAD)
	}
	return a
}

// Walk returns the partial segments of every dirty segment, oldest first.
func (im *Image) Walk() ([]*Pseg, error) {
	var psegs []*Pseg
	for sn := uint32(0); sn < im.Sb.Nseg; sn++ {
		su, err := im.SegUse(sn)
		if err != nil {
			return nil, err
		}
		if !su.Has(layout.SEGUSE_DIRTY) {
			continue
		}
		ps, err := im.WalkSegment(sn, su)
		if err != nil {
			return nil, err
		}
		psegs = append(psegs, ps...)
	}
	sort.Slice(psegs, func(i, j int) bool {
		return psegs[i].Summary.Serial < psegs[j].Summary.Serial
	})
	return psegs, nil
}

// WalkSegment follows the partial segments of sn from its start until a
// summary does not check out.
func (im *Image) WalkSegment(sn uint32, su *layout.SegUse) ([]*Pseg, error) {
	sb := im.Sb
	end := sb.Sntod(sn) + int32(sb.Fsbpseg)
	sumfrags := sb.Btofsb(uint64(sb.Sumsize))
	var psegs []*Pseg
	for a := im.segStart(sn, su); a+sumfrags <= end; {
		b, err := im.read(a, uint64(sb.Sumsize))
		if err != nil {
			return nil, err
		}
		s, err := layout.DecodeSummary(b, uint64(sb.Inopb))
		if err != nil || s.Ident != sb.Ident || layout.SummaryCksum(b) != s.Sumsum {
			break
		}
		p, err := im.pseg(sn, a, s)
		if err != nil {
			return nil, err
		}
		if a+p.Frags > end {
			return nil, errors.Errorf("partial segment at %d runs past segment %d", a, sn)
		}
		psegs = append(psegs, p)
		a += p.Frags
	}
	return psegs, nil
}

// pseg lays out the blocks named by summary s at a. Inode blocks sit
// between file blocks wherever the summary's tail addresses put them.
func (im *Image) pseg(sn uint32, a common.Daddr, s *layout.Summary) (*Pseg, error) {
	sb := im.Sb
	p := &Pseg{Seg: sn, Addr: a, Summary: s}
	ibfrags := sb.Btofsb(uint64(sb.Ibsize))
	inoblk := make(map[common.Daddr]int, len(s.InoAddrs))
	for i, ia := range s.InoAddrs {
		inoblk[ia] = i
	}

	var datasum uint32
	cur := a + sb.Btofsb(uint64(sb.Sumsize))
	takeInodes := func() error {
		for {
			i, ok := inoblk[cur]
			if !ok {
				return nil
			}
			delete(inoblk, cur)
			b, err := im.read(cur, uint64(sb.Ibsize))
			if err != nil {
				return err
			}
			datasum = layout.CksumPart(b[:4], datasum)
			n := uint64(s.Ninos) - uint64(i)*uint64(sb.Inopb)
			for j := uint64(0); j < n && j < uint64(sb.Inopb); j++ {
				p.Inodes = append(p.Inodes, layout.DecodeDinode(b[j*common.DINODE_SIZE:]))
			}
			cur += ibfrags
		}
	}

	for _, fi := range s.Finfos {
		for j, lbn := range fi.Blocks {
			if err := takeInodes(); err != nil {
				return nil, err
			}
			size := uint64(sb.Bsize)
			if j == len(fi.Blocks)-1 {
				size = sb.Fragroundup(uint64(fi.LastLength))
			}
			b, err := im.read(cur, size)
			if err != nil {
				return nil, err
			}
			for off := uint64(0); off < size; off += uint64(sb.Bsize) {
				datasum = layout.CksumPart(b[off:off+4], datasum)
			}
			p.Blocks = append(p.Blocks, Block{Ino: fi.Ino, Lbn: lbn, Daddr: cur, Size: size})
			cur += sb.Numfrags(size)
		}
	}
	if err := takeInodes(); err != nil {
		return nil, err
	}
	if len(inoblk) != 0 {
		return nil, errors.Errorf("partial segment at %d: %d inode blocks out of place", a, len(inoblk))
	}
	p.Frags = cur - a
	p.DataOK = datasum == s.Datasum
	return p, nil
}
