package lfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/util"
)

// writeSuper writes the superblock to daddr. Only one superblock write is
// in flight at a time; the next waits for the previous to complete.
func (fs *FS) writeSuper(daddr common.Daddr) error {
	fs.sbMu.Lock()
	for fs.sbactive {
		fs.sbCond.Wait()
	}
	fs.sbactive = true
	fs.sbMu.Unlock()

	fs.spaceMu.Lock()
	fs.sb.Tstamp = now()
	data := fs.sb.Encode()
	fs.spaceMu.Unlock()

	util.DPrintf(1, "writeSuper: at %d serial %d\n", daddr, fs.sb.Serial)
	fs.ioStart(nil)
	req := &disk.Request{
		Addr: daddr,
		Data: data,
		Done: func(err error) {
			if err != nil {
				fs.setBroken(errors.Wrapf(err, "superblock write at %d", daddr))
			}
			fs.sbMu.Lock()
			fs.sbactive = false
			fs.sbCond.Broadcast()
			fs.sbMu.Unlock()
			fs.ioDone(nil)
		},
	}
	if err := fs.strat.Submit(req); err != nil {
		req.Done(err)
		return err
	}
	return nil
}

// waitSuper waits until no superblock write is in flight.
func (fs *FS) waitSuper() {
	fs.sbMu.Lock()
	for fs.sbactive {
		fs.sbCond.Wait()
	}
	fs.sbMu.Unlock()
}
