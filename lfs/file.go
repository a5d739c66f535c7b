package lfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/util"
)

// Create allocates an inode from the ifile free list.
func (fs *FS) Create(mode uint16) (common.Inum, error) {
	if err := fs.checkWritable(); err != nil {
		return common.NULLINUM, err
	}
	fs.ifileMu.Lock()
	defer fs.ifileMu.Unlock()
	ci, err := fs.cleanerInfo()
	if err != nil {
		return common.NULLINUM, err
	}
	ino := common.Inum(ci.FreeHead)
	if ino == common.NULLINUM {
		return common.NULLINUM, noSpace("no free inodes")
	}
	var version uint32
	var next common.Inum
	if _, err := fs.updateIentry(ino, func(ife *layout.IfileEntry) {
		version = ife.Version
		next = ife.NextFree
		ife.NextFree = common.NULLINUM
	}); err != nil {
		return common.NULLINUM, err
	}
	if err := fs.updateCleanerInfo(func(ci *layout.CleanerInfo) {
		ci.FreeHead = uint32(next)
		if next == common.NULLINUM {
			ci.FreeTail = 0
		}
	}); err != nil {
		return common.NULLINUM, err
	}
	ip := inode.MkInode(ino, &layout.Dinode{
		Mode:    mode,
		Nlink:   1,
		Inumber: ino,
		Gen:     int32(version),
	})
	ip.Set(inode.IN_CHANGE | inode.IN_UPDATE | inode.IN_MODIFIED)
	fs.inodes.Insert(ip)
	fs.spaceMu.Lock()
	fs.sb.Nfiles += 1
	fs.spaceMu.Unlock()
	util.DPrintf(2, "Create: ino %d version %d\n", ino, version)
	return ino, nil
}

// AttachDevice turns ino into a block-device vnode whose blocks are written
// straight to dev instead of the log.
func (fs *FS) AttachDevice(ino common.Inum, dev disk.Device) error {
	ip, err := fs.VGet(ino)
	if err != nil {
		return err
	}
	ip.Lock()
	defer ip.Unlock()
	ip.SpecDev = dev
	ip.Din.Mode = layout.IFBLK | ip.Din.Mode&^layout.IFMT
	ip.Set(inode.IN_CHANGE | inode.IN_MODIFIED)
	return nil
}

// Write stores data at off in ino, allocating blocks as needed. The blocks
// get placeholder addresses until the segment writer places them.
func (fs *FS) Write(ino common.Inum, off uint64, data []byte) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	if ino == common.IFILE_INUM {
		return errors.New("write: the ifile is private")
	}
	ip, err := fs.VGet(ino)
	if err != nil {
		return err
	}
	end := off + uint64(len(data))
	if end > fs.sb.Maxfilesize || end < off {
		return errors.Errorf("write: end %d beyond max file size %d", end, fs.sb.Maxfilesize)
	}
	for done := uint64(0); done < uint64(len(data)); {
		ip.Lock()
		n, wait, err := fs.writeBlock(ip, off+done, data[done:])
		ip.Unlock()
		if err != nil {
			return err
		}
		if wait != nil {
			// a fragment being extended is in a partial segment under
			// construction
			fs.cache.WaitUngathered(wait)
			continue
		}
		done += n
	}
	if fs.cfg.DirtyLimit > 0 && fs.cache.DirtyBytes() >= fs.cfg.DirtyLimit {
		fs.wakeWriter()
	}
	return nil
}

func (fs *FS) writeBlock(ip *inode.Inode, pos uint64, data []byte) (uint64, *buf.Buf, error) {
	sb := fs.sb
	lbn := sb.Lblkno(pos)
	boff := sb.Blkoff(pos)
	n := util.Min(fs.bsize()-boff, uint64(len(data)))

	var bp *buf.Buf
	var tok lockmap.Token
	if ip.IsBlk() {
		b, t, err := fs.devBlock(ip, lbn, boff == 0 && n == fs.bsize())
		if err != nil {
			return 0, nil, err
		}
		bp, tok = b, t
	} else {
		b, t, wait, err := fs.balloc(ip, lbn, boff+n)
		if err != nil || wait != nil {
			return 0, wait, err
		}
		bp, tok = b, t
	}
	copy(bp.Data[boff:], data[:n])
	fs.bdwrite(ip, bp, tok)
	if pos+n > ip.Din.Size {
		ip.Din.Size = pos + n
	}
	ip.Set(inode.IN_UPDATE | inode.IN_CHANGE)
	return n, nil, nil
}

// devBlock returns the buffer for block lbn of a block-device vnode,
// reading it from the device unless it is about to be overwritten.
func (fs *FS) devBlock(ip *inode.Inode, lbn common.Lbn, whole bool) (*buf.Buf, lockmap.Token, error) {
	bp, tok, fresh := fs.cache.Getblk(addr.MkAddr(ip.Ino, lbn), fs.bsize())
	if fresh && !whole {
		daddr := lbn * common.Daddr(fs.sb.Frag)
		if uint64(daddr)+uint64(fs.sb.Frag) <= ip.SpecDev.Size() {
			if err := ip.SpecDev.ReadAt(bp.Data, daddr); err != nil {
				fs.cache.Invalidate(bp, tok)
				return nil, lockmap.NoToken, err
			}
		}
	}
	return bp, tok, nil
}

// charge takes frags fragments of free and available space.
func (fs *FS) charge(frags int32) error {
	fs.spaceMu.Lock()
	defer fs.spaceMu.Unlock()
	if fs.sb.Bfree < frags {
		return noSpace("%d fragments free, need %d", fs.sb.Bfree, frags)
	}
	fs.sb.Bfree -= frags
	fs.sb.Avail -= frags
	return nil
}

// fragExtend grows the fragment block lbn of ip from osize to nsize. If the
// buffer is claimed by a partial segment that has not been written yet it is
// returned as wait and nothing changes.
func (fs *FS) fragExtend(ip *inode.Inode, lbn common.Lbn, osize uint64, nsize uint64) (*buf.Buf, lockmap.Token, *buf.Buf, error) {
	sb := fs.sb
	bp, tok, err := fs.bread(ip, lbn, osize)
	if err != nil {
		return nil, lockmap.NoToken, nil, err
	}
	if fs.cache.IsGathered(bp) {
		fs.cache.Brelse(bp, tok)
		return nil, lockmap.NoToken, bp, nil
	}
	delta := sb.Numfrags(nsize) - sb.Numfrags(bp.Bcount())
	if delta > 0 {
		if err := fs.charge(delta); err != nil {
			fs.cache.Brelse(bp, tok)
			return nil, lockmap.NoToken, nil, err
		}
		ip.AddEffNBlks(delta)
		fs.cache.Resize(bp, nsize)
	}
	return bp, tok, nil, nil
}

// balloc returns the leased buffer for data block lbn of ip, holding at
// least need bytes, allocating it and any missing indirect blocks. New
// blocks get UNWRITTEN pointers and are charged to the free space now.
func (fs *FS) balloc(ip *inode.Inode, lbn common.Lbn, need uint64) (*buf.Buf, lockmap.Token, *buf.Buf, error) {
	sb := fs.sb
	bsize := fs.bsize()
	size := ip.Din.Size

	// a fragment at the end of the file becomes a full block once the
	// file grows past it
	if size > 0 {
		last := sb.Lblkno(size - 1)
		if last < lbn && last < common.NDADDR {
			if osize := sb.Blksize(size, last); osize < bsize {
				bp, tok, wait, err := fs.fragExtend(ip, last, osize, bsize)
				if err != nil || wait != nil {
					return nil, lockmap.NoToken, wait, err
				}
				fs.bdwrite(ip, bp, tok)
			}
		}
	}

	if lbn < common.NDADDR {
		var osize uint64
		if size > sb.Lblktosize(lbn) {
			osize = sb.Blksize(size, lbn)
		}
		nsize := bsize
		if size <= sb.Lblktosize(lbn+1) {
			nsize = util.Max(osize, sb.Fragroundup(need))
		}
		if ip.Din.Db[lbn] == common.UNUSED_DADDR {
			// brand new, or a hole
			frags := sb.Numfrags(nsize)
			if err := fs.charge(frags); err != nil {
				return nil, lockmap.NoToken, nil, err
			}
			ip.AddEffNBlks(frags)
			ip.Din.Db[lbn] = common.UNWRITTEN
			bp, tok, _ := fs.cache.Getblk(addr.MkAddr(ip.Ino, lbn), nsize)
			if bp.Bcount() != nsize {
				fs.cache.Resize(bp, nsize)
			}
			return bp, tok, nil, nil
		}
		if osize < nsize {
			return fs.fragExtend(ip, lbn, osize, nsize)
		}
		bp, tok, err := fs.bread(ip, lbn, nsize)
		return bp, tok, nil, err
	}

	chain, err := getLbns(sb, lbn)
	if err != nil {
		return nil, lockmap.NoToken, nil, err
	}
	// count the blocks missing along the chain, data block included
	var missing int32
	ptr := ip.Din.Ib[chain[0].Off]
	for i := 1; i < len(chain); i++ {
		if ptr == common.UNUSED_DADDR {
			missing += int32(len(chain)-i) + 1
			break
		}
		bp, tok, err := fs.bread(ip, chain[i].Lbn, bsize)
		if err != nil {
			return nil, lockmap.NoToken, nil, err
		}
		ptr = bp.DaddrGet(chain[i].Off)
		fs.cache.Brelse(bp, tok)
		if i == len(chain)-1 && ptr == common.UNUSED_DADDR {
			missing += 1
		}
	}
	if missing > 0 {
		frags := missing * int32(sb.Frag)
		if err := fs.charge(frags); err != nil {
			return nil, lockmap.NoToken, nil, err
		}
		ip.AddEffNBlks(frags)
		if ip.Din.Ib[chain[0].Off] == common.UNUSED_DADDR {
			ip.Din.Ib[chain[0].Off] = common.UNWRITTEN
		}
		for i := 1; i < len(chain); i++ {
			bp, tok, err := fs.bread(ip, chain[i].Lbn, bsize)
			if err != nil {
				return nil, lockmap.NoToken, nil, err
			}
			if bp.DaddrGet(chain[i].Off) == common.UNUSED_DADDR {
				bp.DaddrPut(chain[i].Off, common.UNWRITTEN)
				fs.bdwrite(ip, bp, tok)
			} else {
				fs.cache.Brelse(bp, tok)
			}
		}
	}
	bp, tok, err := fs.bread(ip, lbn, bsize)
	return bp, tok, nil, err
}

// Read returns up to n bytes of ino from off, stopping at the end of the
// file.
func (fs *FS) Read(ino common.Inum, off uint64, n uint64) ([]byte, error) {
	ip, err := fs.VGet(ino)
	if err != nil {
		return nil, err
	}
	ip.Lock()
	defer ip.Unlock()
	size := ip.Din.Size
	if off >= size {
		return nil, nil
	}
	n = util.Min(n, size-off)
	sb := fs.sb
	data := make([]byte, 0, n)
	for pos := off; pos < off+n; {
		lbn := sb.Lblkno(pos)
		boff := sb.Blkoff(pos)
		k := util.Min(fs.bsize()-boff, off+n-pos)
		var bp *buf.Buf
		var tok lockmap.Token
		if ip.IsBlk() {
			bp, tok, err = fs.devBlock(ip, lbn, false)
		} else {
			bp, tok, err = fs.bread(ip, lbn, sb.Blksize(size, lbn))
		}
		if err != nil {
			return nil, err
		}
		chunk := make([]byte, k)
		if boff < bp.Bcount() {
			copy(chunk, bp.Data[boff:])
		}
		fs.cache.Brelse(bp, tok)
		data = append(data, chunk...)
		pos += k
	}
	ip.Set(inode.IN_ACCESS)
	return data, nil
}
