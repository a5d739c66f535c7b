package lfs

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/util"
)

// segLock admits one segment writer at a time. The holder may re-enter it
// with nest; only the outermost release lets another writer in.
type segLock struct {
	mu    *sync.Mutex
	cond  *sync.Cond
	held  bool
	depth int
}

func mkSegLock() *segLock {
	mu := new(sync.Mutex)
	return &segLock{mu: mu, cond: sync.NewCond(mu)}
}

func (l *segLock) acquire() {
	l.mu.Lock()
	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.depth = 1
	l.mu.Unlock()
}

func (l *segLock) nest() {
	l.mu.Lock()
	if !l.held {
		panic("segLock: nest without holding")
	}
	l.depth += 1
	l.mu.Unlock()
}

// leave drops one level and reports whether it was the outermost.
func (l *segLock) leave() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("segLock: release without holding")
	}
	if l.depth > 1 {
		l.depth -= 1
		return false
	}
	return true
}

func (l *segLock) release() {
	l.mu.Lock()
	l.held = false
	l.depth = 0
	l.cond.Signal()
	l.mu.Unlock()
}

// lock takes the segment lock and opens a write session with a fresh
// partial segment. On error the lock is already released.
func (fs *FS) lock(flags SegFlags) error {
	fs.seg.acquire()
	fs.sp = &segment{
		flags:         flags,
		writeIndirect: fs.cfg.WriteIndirect,
	}
	// the session's own count, dropped in unlock
	fs.ioStart(nil)
	if _, err := fs.initSeg(); err != nil {
		fs.unlock()
		return err
	}
	return nil
}

// nest re-enters the segment lock from its holder, adding flags to the
// session.
func (fs *FS) nest(flags SegFlags) {
	fs.seg.nest()
	fs.sp.flags |= flags
}

// unlock ends a session. The outermost unlock gives back an unused trailing
// summary, waits for the session's writes if it is synchronous, and commits
// a superblock if it is a checkpoint.
func (fs *FS) unlock() {
	if !fs.seg.leave() {
		return
	}
	sp := fs.sp
	sb := fs.sb
	switch {
	case len(sp.bufs) == 1:
		sb.Offset -= fs.sumfrags()
	case len(sp.bufs) > 1:
		// an error left part of a segment behind
		for _, bp := range sp.bufs[1:] {
			fs.cache.Ungather(bp)
		}
	}
	ckp := sp.ckp() && fs.Err() == nil
	fs.ioDone(nil)
	if sp.sync() {
		fs.waitIO(sp)
	}
	if ckp {
		fs.waitIO(nil)
		if err := fs.strat.Barrier(); err != nil {
			fs.setBroken(err)
		} else if err := fs.commitCheckpoint(sp.sync()); err != nil {
			fs.setBroken(err)
		}
	}
	fs.sp = nil
	fs.seg.release()
}

func (fs *FS) commitCheckpoint(sync bool) error {
	fs.nactive = 0
	fs.stats.ActiveSegs.Set(0)
	slot := fs.activesb
	if err := fs.writeSuper(fs.sb.Sboffs[slot]); err != nil {
		return err
	}
	fs.activesb ^= 1
	fs.stats.Ncheckpoints.Inc()
	util.Logger().Debug("checkpoint",
		zap.Int("slot", slot),
		zap.Uint64("serial", fs.sb.Serial),
		zap.Int32("offset", fs.sb.Offset))
	if sync {
		fs.waitSuper()
		return fs.strat.Barrier()
	}
	return nil
}
