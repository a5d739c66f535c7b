// Package dumplfs reads an LFS image offline: it picks the superblock a mount
// would use, walks the partial segments of the log and verifies their
// checksums. It shares only the on-disk formats with package lfs.
package dumplfs

import (
	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-lfs/bmap"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/layout"
)

func readSuper(dev disk.Device, a common.Daddr) (*layout.Superblock, error) {
	b := make([]byte, common.SBPAD)
	if err := dev.ReadAt(b, a); err != nil {
		return nil, errors.Wrapf(err, "superblock at %d", a)
	}
	sb, err := layout.DecodeSuperblock(b)
	if err != nil {
		return nil, errors.Wrapf(err, "superblock at %d", a)
	}
	return sb, nil
}

// ReadSuperblock returns the valid superblock with the newest serial and
// the slot it came from. The primary copy, past the label, names the
// others; on a tie the lower slot wins.
func ReadSuperblock(dev disk.Device) (*layout.Superblock, int, error) {
	primary, err := readSuper(dev, common.Daddr(common.LABELPAD/dev.FragSize()))
	if err != nil {
		return nil, 0, err
	}
	best, slot := primary, 0
	for i := 1; i < common.MAXNUMSB; i++ {
		a := primary.Sboffs[i]
		if a == common.UNUSED_DADDR {
			continue
		}
		sb, err := readSuper(dev, a)
		if err != nil {
			continue
		}
		if sb.Ident != primary.Ident {
			continue
		}
		if sb.Serial > best.Serial {
			best, slot = sb, i
		}
	}
	return best, slot, nil
}

// Image is a filesystem opened read-only.
type Image struct {
	dev   disk.Device
	Sb    *layout.Superblock
	Slot  int
	Ifile *layout.Dinode
}

func Load(dev disk.Device) (*Image, error) {
	sb, slot, err := ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	im := &Image{dev: dev, Sb: sb, Slot: slot}
	dinodes, err := im.readInodes(sb.Idaddr, uint64(sb.Inopb))
	if err != nil {
		return nil, err
	}
	for _, din := range dinodes {
		if din.Inumber == common.IFILE_INUM {
			im.Ifile = din
		}
	}
	if im.Ifile == nil {
		return nil, errors.Errorf("ifile inode not in block %d", sb.Idaddr)
	}
	return im, nil
}

func (im *Image) read(a common.Daddr, size uint64) ([]byte, error) {
	b := make([]byte, size)
	if err := im.dev.ReadAt(b, a); err != nil {
		return nil, errors.Wrapf(err, "read %d bytes at %d", size, a)
	}
	return b, nil
}

func (im *Image) readInodes(a common.Daddr, n uint64) ([]*layout.Dinode, error) {
	b, err := im.read(a, uint64(im.Sb.Ibsize))
	if err != nil {
		return nil, err
	}
	var dinodes []*layout.Dinode
	for i := uint64(0); i < n && i < uint64(im.Sb.Inopb); i++ {
		dinodes = append(dinodes, layout.DecodeDinode(b[i*common.DINODE_SIZE:]))
	}
	return dinodes, nil
}

// Bmap resolves lbn of din through its indirect blocks on disk.
func (im *Image) Bmap(din *layout.Dinode, lbn common.Lbn) (common.Daddr, error) {
	sb := im.Sb
	chain, err := bmap.GetLbns(uint64(sb.Nindir), lbn)
	if err != nil {
		return 0, err
	}
	if chain == nil {
		return din.Db[lbn], nil
	}
	a := din.Ib[chain[0].Off]
	for _, ind := range chain[1:] {
		if a <= 0 {
			return common.UNUSED_DADDR, nil
		}
		b, err := im.read(a, uint64(sb.Bsize))
		if err != nil {
			return 0, err
		}
		a = common.Daddr(machine.UInt32Get(b[ind.Off*4:]))
	}
	return a, nil
}

func (im *Image) ifileBlock(lbn common.Lbn) ([]byte, error) {
	a, err := im.Bmap(im.Ifile, lbn)
	if err != nil {
		return nil, err
	}
	if a <= 0 {
		return nil, errors.Errorf("ifile block %d has no address", lbn)
	}
	return im.read(a, uint64(im.Sb.Bsize))
}

func (im *Image) CleanerInfo() (*layout.CleanerInfo, error) {
	b, err := im.ifileBlock(0)
	if err != nil {
		return nil, err
	}
	return layout.DecodeCleanerInfo(b), nil
}

func (im *Image) SegUse(sn uint32) (*layout.SegUse, error) {
	b, err := im.ifileBlock(im.Sb.SegtabLbn(sn))
	if err != nil {
		return nil, err
	}
	return layout.DecodeSegUse(b[im.Sb.SegtabOff(sn):]), nil
}

func (im *Image) Ientry(ino common.Inum) (*layout.IfileEntry, error) {
	b, err := im.ifileBlock(im.Sb.IfileLbn(ino))
	if err != nil {
		return nil, err
	}
	return layout.DecodeIfileEntry(b[im.Sb.IfileOff(ino):]), nil
}

// Inode finds the current copy of ino through its ifile entry.
func (im *Image) Inode(ino common.Inum) (*layout.Dinode, error) {
	if ino == common.IFILE_INUM {
		return im.Ifile, nil
	}
	ife, err := im.Ientry(ino)
	if err != nil {
		return nil, err
	}
	if ife.Daddr == common.UNUSED_DADDR {
		return nil, errors.Errorf("inode %d never written", ino)
	}
	dinodes, err := im.readInodes(ife.Daddr, uint64(im.Sb.Inopb))
	if err != nil {
		return nil, err
	}
	var found *layout.Dinode
	for _, din := range dinodes {
		if din.Inumber == ino {
			found = din
		}
	}
	if found == nil {
		return nil, errors.Errorf("inode %d not in block %d", ino, ife.Daddr)
	}
	return found, nil
}

// ReadFile returns the contents of ino as the last checkpointed inode
// describes them.
func (im *Image) ReadFile(ino common.Inum) ([]byte, error) {
	din, err := im.Inode(ino)
	if err != nil {
		return nil, err
	}
	sb := im.Sb
	data := make([]byte, din.Size)
	for off := uint64(0); off < din.Size; off += uint64(sb.Bsize) {
		lbn := sb.Lblkno(off)
		a, err := im.Bmap(din, lbn)
		if err != nil {
			return nil, err
		}
		if a <= 0 {
			continue
		}
		b, err := im.read(a, sb.Blksize(din.Size, lbn))
		if err != nil {
			return nil, err
		}
		copy(data[off:], b)
	}
	return data, nil
}
