package disk

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-lfs/common"
)

var _ Device = (*fileDevice)(nil)

// fileDevice is an image file or raw device accessed with pread/pwrite, so a
// whole cluster goes down in one system call.
type fileDevice struct {
	fd    int
	fsize uint64
	nfrag uint64
}

// NewFileDevice opens path, creating it and sizing a regular file to nfrags
// fragments if needed.
func NewFileDevice(path string, nfrags uint64, fsize uint64) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && uint64(stat.Size) != nfrags*fsize {
		err = unix.Ftruncate(fd, int64(nfrags*fsize))
		if err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	}
	return &fileDevice{fd: fd, fsize: fsize, nfrag: nfrags}, nil
}

// OpenFileDevice opens an existing image, taking its size from the file.
func OpenFileDevice(path string, fsize uint64) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	return &fileDevice{fd: fd, fsize: fsize, nfrag: uint64(stat.Size) / fsize}, nil
}

func (d *fileDevice) Size() uint64 {
	return d.nfrag
}

func (d *fileDevice) FragSize() uint64 {
	return d.fsize
}

func (d *fileDevice) ReadAt(p []byte, a common.Daddr) error {
	if err := checkRange(d, len(p), a); err != nil {
		return err
	}
	off := int64(a) * int64(d.fsize)
	for done := 0; done < len(p); {
		n, err := unix.Pread(d.fd, p[done:], off+int64(done))
		if err != nil {
			return errors.Wrapf(err, "pread at fragment %d", a)
		}
		if n == 0 {
			return errors.Errorf("short read at fragment %d", a)
		}
		done += n
	}
	return nil
}

func (d *fileDevice) WriteAt(p []byte, a common.Daddr) error {
	if err := checkRange(d, len(p), a); err != nil {
		return err
	}
	off := int64(a) * int64(d.fsize)
	for done := 0; done < len(p); {
		n, err := unix.Pwrite(d.fd, p[done:], off+int64(done))
		if err != nil {
			return errors.Wrapf(err, "pwrite at fragment %d", a)
		}
		done += n
	}
	return nil
}

func (d *fileDevice) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is fcntl F_FULLFSYNC.
	return errors.Wrap(unix.Fsync(d.fd), "fsync")
}

func (d *fileDevice) Close() error {
	return errors.Wrap(unix.Close(d.fd), "close")
}
