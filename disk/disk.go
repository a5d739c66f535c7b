// Package disk provides the device an LFS lives on, addressed in fragments,
// and the asynchronous strategy layer that segment writes are issued through.
package disk

import (
	"fmt"
	"sync"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

// Device is a fragment-addressed block device.
type Device interface {
	// ReadAt fills p from fragment a onward.
	ReadAt(p []byte, a common.Daddr) error

	// WriteAt stores p at fragment a. len(p) need not be a multiple of the
	// fragment size; the tail of the last fragment is left as it was.
	WriteAt(p []byte, a common.Daddr) error

	// Size reports how big the device is, in fragments
	Size() uint64

	FragSize() uint64

	// Barrier ensures data is persisted.
	//
	// When it returns, all completed writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the device and makes it unusable.
	Close() error
}

func checkRange(dev Device, n int, a common.Daddr) error {
	end := uint64(a)*dev.FragSize() + uint64(n)
	if a < 0 || end > dev.Size()*dev.FragSize() {
		return fmt.Errorf("out-of-bounds access of %d bytes at fragment %d", n, a)
	}
	return nil
}

var _ Device = (*blockDevice)(nil)

// blockDevice adapts a goose disk of 4KiB blocks to fragment addressing.
// Partial-block writes read, modify and write back the block under mu.
type blockDevice struct {
	mu    *sync.Mutex
	d     gdisk.Disk
	fsize uint64
	nfrag uint64
}

func NewDiskDevice(d gdisk.Disk, fsize uint64) Device {
	return &blockDevice{
		mu:    new(sync.Mutex),
		d:     d,
		fsize: fsize,
		nfrag: d.Size() * gdisk.BlockSize / fsize,
	}
}

// NewMemDevice is an in-memory device of nfrags fragments.
func NewMemDevice(nfrags uint64, fsize uint64) Device {
	nblk := util.RoundUp(nfrags*fsize, gdisk.BlockSize)
	return NewDiskDevice(gdisk.NewMemDisk(nblk), fsize)
}

func (dev *blockDevice) Size() uint64 {
	return dev.nfrag
}

func (dev *blockDevice) FragSize() uint64 {
	return dev.fsize
}

func (dev *blockDevice) ReadAt(p []byte, a common.Daddr) error {
	if err := checkRange(dev, len(p), a); err != nil {
		return err
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	off := uint64(a) * dev.fsize
	for done := uint64(0); done < uint64(len(p)); {
		bn := (off + done) / gdisk.BlockSize
		boff := (off + done) % gdisk.BlockSize
		blk := dev.d.Read(bn)
		done += uint64(copy(p[done:], blk[boff:]))
	}
	return nil
}

func (dev *blockDevice) WriteAt(p []byte, a common.Daddr) error {
	if err := checkRange(dev, len(p), a); err != nil {
		return err
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	off := uint64(a) * dev.fsize
	for done := uint64(0); done < uint64(len(p)); {
		bn := (off + done) / gdisk.BlockSize
		boff := (off + done) % gdisk.BlockSize
		n := util.Min(gdisk.BlockSize-boff, uint64(len(p))-done)
		var blk gdisk.Block
		if n == gdisk.BlockSize {
			blk = make(gdisk.Block, gdisk.BlockSize)
		} else {
			blk = dev.d.Read(bn)
		}
		copy(blk[boff:], p[done:done+n])
		dev.d.Write(bn, blk)
		done += n
	}
	util.DPrintf(5, "device write: %d bytes at %d\n", len(p), a)
	return nil
}

func (dev *blockDevice) Barrier() error {
	dev.d.Barrier()
	return nil
}

func (dev *blockDevice) Close() error {
	dev.d.Close()
	return nil
}
