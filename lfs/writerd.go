package lfs

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/util"
)

func (fs *FS) startWriter() {
	fs.dmu.Lock()
	fs.nthread += 1
	fs.dmu.Unlock()
	go fs.writerd()
}

// writerd runs a segment write whenever a user write pushes the dirty
// bytes past the limit.
func (fs *FS) writerd() {
	fs.dmu.Lock()
	for !fs.shutdown {
		if !fs.kick {
			fs.dcond.Wait()
			continue
		}
		fs.kick = false
		fs.dmu.Unlock()
		if err := fs.SegWrite(0); err != nil {
			util.Logger().Warn("background segment write", zap.Error(err))
		}
		fs.dmu.Lock()
	}
	util.DPrintf(1, "writerd: shutdown\n")
	fs.nthread -= 1
	fs.dshut.Signal()
	fs.dmu.Unlock()
}

func (fs *FS) wakeWriter() {
	fs.dmu.Lock()
	fs.kick = true
	fs.dcond.Signal()
	fs.dmu.Unlock()
}

// Shutdown stops the background writer, checkpoints, and makes the
// filesystem read-only. The device stays open.
func (fs *FS) Shutdown() error {
	util.DPrintf(1, "shutdown lfs\n")
	fs.dmu.Lock()
	fs.shutdown = true
	fs.dcond.Broadcast()
	for fs.nthread > 0 {
		fs.dshut.Wait()
	}
	fs.dmu.Unlock()

	fs.errMu.Lock()
	closed := fs.closed
	fs.errMu.Unlock()
	if closed {
		return nil
	}
	var err error
	if fs.Err() == nil {
		err = fs.SegWrite(SegCkp | SegSync)
	}
	fs.errMu.Lock()
	fs.closed = true
	fs.errMu.Unlock()
	fs.strat.Close()
	util.Logger().Info("lfs shut down",
		zap.Uint64("serial", fs.sb.Serial),
		zap.Int32("offset", fs.sb.Offset),
		zap.Error(err))
	return err
}
