package dumplfs

import (
	"fmt"
	"io"

	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/layout"
)

func dumpSuper(w io.Writer, sb *layout.Superblock, slot int) {
	fmt.Fprintf(w, "superblock %d at %d: serial %d ident %#x\n",
		slot, sb.Sboffs[slot], sb.Serial, sb.Ident)
	fmt.Fprintf(w, "  size %d dsize %d bsize %d fsize %d ssize %d nseg %d\n",
		sb.Size, sb.Dsize, sb.Bsize, sb.Fsize, sb.Ssize, sb.Nseg)
	fmt.Fprintf(w, "  bfree %d avail %d dmeta %d nfiles %d nclean %d\n",
		sb.Bfree, sb.Avail, sb.Dmeta, sb.Nfiles, sb.Nclean)
	fmt.Fprintf(w, "  idaddr %d curseg %d nextseg %d offset %d lastpseg %d\n",
		sb.Idaddr, sb.Dtosn(sb.Curseg), sb.Dtosn(sb.Nextseg), sb.Offset, sb.Lastpseg)
}

func dumpPseg(w io.Writer, p *Pseg) {
	s := p.Summary
	var flags string
	if p.Dirop() {
		flags += " DIROP"
	}
	if p.Cont() {
		flags += " CONT"
	}
	if !p.DataOK {
		flags += " BADDATA"
	}
	fmt.Fprintf(w, "  pseg %d: serial %d frags %d finfos %d inodes %d%s\n",
		p.Addr, s.Serial, p.Frags, s.Nfinfo, s.Ninos, flags)
	for _, fi := range s.Finfos {
		fmt.Fprintf(w, "    ino %d version %d lastlength %d lbns %v\n",
			fi.Ino, fi.Version, fi.LastLength, fi.Blocks)
	}
	for i, a := range s.InoAddrs {
		fmt.Fprintf(w, "    inode block %d at %d\n", i, a)
	}
	for _, din := range p.Inodes {
		fmt.Fprintf(w, "    inode %d size %d blocks %d\n", din.Inumber, din.Size, din.Blocks)
	}
}

// Dump writes a readable listing of the image on dev: the chosen superblock,
// the cleaner info and every dirty segment with its partial segments.
func Dump(w io.Writer, dev disk.Device) error {
	im, err := Load(dev)
	if err != nil {
		return err
	}
	dumpSuper(w, im.Sb, im.Slot)
	ci, err := im.CleanerInfo()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "cleaner: clean %d dirty %d bfree %d avail %d free list %d..%d\n",
		ci.Clean, ci.Dirty, ci.Bfree, ci.Avail, ci.FreeHead, ci.FreeTail)
	for sn := uint32(0); sn < im.Sb.Nseg; sn++ {
		su, err := im.SegUse(sn)
		if err != nil {
			return err
		}
		if !su.Has(layout.SEGUSE_DIRTY) {
			continue
		}
		fmt.Fprintf(w, "segment %d: nbytes %d nsums %d ninos %d flags %#x\n",
			sn, su.Nbytes, su.Nsums, su.Ninos, su.Flags)
		psegs, err := im.WalkSegment(sn, su)
		if err != nil {
			return err
		}
		for _, p := range psegs {
			dumpPseg(w, p)
		}
	}
	return nil
}
