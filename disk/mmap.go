package disk

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
)

var _ Device = (*mmapDevice)(nil)

// mmapDevice maps a whole image file; writes are memory copies and the
// barrier is an msync.
type mmapDevice struct {
	mu    *sync.RWMutex
	f     *os.File
	m     mmap.MMap
	fsize uint64
	nfrag uint64
}

func NewMmapDevice(path string, nfrags uint64, fsize uint64) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := f.Truncate(int64(nfrags * fsize)); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "truncate %s", path)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &mmapDevice{mu: new(sync.RWMutex), f: f, m: m, fsize: fsize, nfrag: nfrags}, nil
}

func (d *mmapDevice) Size() uint64 {
	return d.nfrag
}

func (d *mmapDevice) FragSize() uint64 {
	return d.fsize
}

func (d *mmapDevice) ReadAt(p []byte, a common.Daddr) error {
	if err := checkRange(d, len(p), a); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	copy(p, d.m[uint64(a)*d.fsize:])
	return nil
}

func (d *mmapDevice) WriteAt(p []byte, a common.Daddr) error {
	if err := checkRange(d, len(p), a); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.m[uint64(a)*d.fsize:], p)
	return nil
}

func (d *mmapDevice) Barrier() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Wrap(d.m.Flush(), "msync")
}

func (d *mmapDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.m.Unmap(); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return d.f.Close()
}
