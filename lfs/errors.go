package lfs

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/util"
)

var (
	// ErrNoSpace means the log has no clean segment left, or the space
	// counters ran out.
	ErrNoSpace = errors.New("lfs: no space")

	// ErrCorrupt reports broken accounting; the filesystem needs an
	// offline check.
	ErrCorrupt = errors.New("lfs: corrupt")

	ErrReadOnly = errors.New("lfs: read-only")

	// ErrBroken is returned by every write after a fatal error.
	ErrBroken = errors.New("lfs: broken")
)

func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}

func noSpace(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNoSpace, format, args...)
}

func fatal(err error) bool {
	return errors.Is(err, ErrNoSpace) || errors.Is(err, ErrCorrupt)
}

// setBroken latches the first fatal error. Once latched the segment
// writer refuses further work.
func (fs *FS) setBroken(err error) {
	fs.errMu.Lock()
	defer fs.errMu.Unlock()
	if fs.err != nil {
		return
	}
	fs.err = err
	util.Logger().Error("filesystem halted", zap.Error(err))
}

// fail latches err if it is fatal.
func (fs *FS) fail(err error) {
	if err != nil && fatal(err) {
		fs.setBroken(err)
	}
}

// Err returns the latched fatal error, if any.
func (fs *FS) Err() error {
	fs.errMu.Lock()
	defer fs.errMu.Unlock()
	return fs.err
}

func (fs *FS) checkWritable() error {
	fs.errMu.Lock()
	defer fs.errMu.Unlock()
	if fs.err != nil {
		return errors.Wrap(ErrBroken, fs.err.Error())
	}
	if fs.closed {
		return ErrReadOnly
	}
	return nil
}
