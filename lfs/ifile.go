package lfs

import (
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/layout"
)

// The ifile holds, in order: the cleaner info block, the segment usage
// table, and one entry per inode. Every accessor reads and writes it through
// the buffer cache like any other file.

func (fs *FS) segEntry(sn uint32) (*layout.SegUse, error) {
	sb := fs.sb
	bp, tok, err := fs.bread(fs.ifile, sb.SegtabLbn(sn), fs.bsize())
	if err != nil {
		return nil, err
	}
	su := layout.DecodeSegUse(bp.Data[sb.SegtabOff(sn):])
	fs.cache.Brelse(bp, tok)
	return su, nil
}

// updateSegEntry applies f to the usage entry of sn and writes it back.
// gathered reports whether the entry's block was already part of the
// partial segment under construction, so the change goes out with it.
func (fs *FS) updateSegEntry(sn uint32, f func(su *layout.SegUse) error) (gathered bool, err error) {
	sb := fs.sb
	if sn >= sb.Nseg {
		return false, corrupt("segment %d out of range", sn)
	}
	bp, tok, err := fs.bread(fs.ifile, sb.SegtabLbn(sn), fs.bsize())
	if err != nil {
		return false, err
	}
	off := sb.SegtabOff(sn)
	su := layout.DecodeSegUse(bp.Data[off:])
	if err := f(su); err != nil {
		fs.cache.Brelse(bp, tok)
		return false, err
	}
	su.Encode(bp.Data[off:])
	gathered = fs.cache.IsGathered(bp)
	fs.bdwrite(fs.ifile, bp, tok)
	return gathered, nil
}

func (fs *FS) ientry(ino common.Inum) (*layout.IfileEntry, error) {
	sb := fs.sb
	if uint64(ino) >= fs.ninodes() {
		return nil, corrupt("inode %d beyond ifile", ino)
	}
	bp, tok, err := fs.bread(fs.ifile, sb.IfileLbn(ino), fs.bsize())
	if err != nil {
		return nil, err
	}
	ife := layout.DecodeIfileEntry(bp.Data[sb.IfileOff(ino):])
	fs.cache.Brelse(bp, tok)
	return ife, nil
}

func (fs *FS) updateIentry(ino common.Inum, f func(ife *layout.IfileEntry)) (gathered bool, err error) {
	sb := fs.sb
	if uint64(ino) >= fs.ninodes() {
		return false, corrupt("inode %d beyond ifile", ino)
	}
	bp, tok, err := fs.bread(fs.ifile, sb.IfileLbn(ino), fs.bsize())
	if err != nil {
		return false, err
	}
	off := sb.IfileOff(ino)
	ife := layout.DecodeIfileEntry(bp.Data[off:])
	f(ife)
	ife.Encode(bp.Data[off:])
	gathered = fs.cache.IsGathered(bp)
	fs.bdwrite(fs.ifile, bp, tok)
	return gathered, nil
}

func (fs *FS) cleanerInfo() (*layout.CleanerInfo, error) {
	bp, tok, err := fs.bread(fs.ifile, 0, fs.bsize())
	if err != nil {
		return nil, err
	}
	ci := layout.DecodeCleanerInfo(bp.Data)
	fs.cache.Brelse(bp, tok)
	return ci, nil
}

func (fs *FS) updateCleanerInfo(f func(ci *layout.CleanerInfo)) error {
	bp, tok, err := fs.bread(fs.ifile, 0, fs.bsize())
	if err != nil {
		return err
	}
	ci := layout.DecodeCleanerInfo(bp.Data)
	f(ci)
	ci.Encode(bp.Data)
	fs.bdwrite(fs.ifile, bp, tok)
	return nil
}

// ninodes is the number of entries the ifile has room for.
func (fs *FS) ninodes() uint64 {
	sb := fs.sb
	blocks := fs.ifile.Din.Size/fs.bsize() - uint64(sb.Cleansz+sb.Segtabsz)
	return blocks * uint64(sb.Ifpb)
}
