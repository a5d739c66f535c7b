package buf

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/util"
)

// Cache is the buffer cache. A buffer is busy while someone holds its
// lease; a dirty buffer stays on its inode's dirty index until a write of
// it completes without it having been dirtied again.
type Cache struct {
	mu     *sync.Mutex
	gcond  *sync.Cond // a gathered buffer was released from its segment
	bufs   map[addr.Addr]*Buf
	dirty  map[common.Inum]*BufMap
	leases *lockmap.LockMap
	nextId uint64

	dirtyBytes uint64
}

func MkCache() *Cache {
	mu := new(sync.Mutex)
	return &Cache{
		mu:     mu,
		gcond:  sync.NewCond(mu),
		bufs:   make(map[addr.Addr]*Buf),
		dirty:  make(map[common.Inum]*BufMap),
		leases: lockmap.MkLockMap(),
	}
}

func (c *Cache) newId() uint64 {
	c.nextId += 1
	return c.nextId
}

// Getblk returns the buffer for a, creating a zeroed one of size bytes if it
// is not cached, holding its lease. fresh reports that the buffer was just
// created and its contents still have to be read.
func (c *Cache) Getblk(a addr.Addr, size uint64) (bp *Buf, tok lockmap.Token, fresh bool) {
	c.mu.Lock()
	bp, ok := c.bufs[a]
	if !ok {
		bp = &Buf{
			id:    c.newId(),
			Addr:  a,
			Blkno: common.UNASSIGNED,
			Data:  make([]byte, size),
		}
		c.bufs[a] = bp
		fresh = true
	}
	c.mu.Unlock()
	tok = c.leases.Acquire(bp.id)
	return bp, tok, fresh
}

// Lookup finds a cached buffer without leasing it.
func (c *Cache) Lookup(a addr.Addr) *Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufs[a]
}

// Resize grows or shrinks a leased buffer, keeping its leading bytes.
func (c *Cache) Resize(bp *Buf, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bp.flags&Dirty != 0 {
		c.dirtyBytes = c.dirtyBytes - bp.Bcount() + size
	}
	data := make([]byte, size)
	copy(data, bp.Data)
	bp.Data = data
}

// NewTransient makes a buffer owned by the device at blkno. It is not
// cached and nobody else can reach it, so it needs no lease.
func (c *Cache) NewTransient(blkno common.Daddr, size uint64) *Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Buf{
		id:    c.newId(),
		Addr:  addr.MkDevAddr(blkno),
		Blkno: blkno,
		Data:  make([]byte, size),
		flags: Transient,
	}
}

// Copy makes a transient private copy of bp that keeps bp's identity and
// address.
func (c *Cache) Copy(bp *Buf) *Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Buf{
		id:    c.newId(),
		Addr:  bp.Addr,
		Blkno: bp.Blkno,
		Data:  util.CloneByteSlice(bp.Data),
		flags: Transient,
	}
}

func (c *Cache) dirtyMap(ino common.Inum) *BufMap {
	m, ok := c.dirty[ino]
	if !ok {
		m = MkBufMap()
		c.dirty[ino] = m
	}
	return m
}

// MarkDirty puts bp on its inode's dirty index.
func (c *Cache) MarkDirty(bp *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bp.flags&Transient != 0 {
		panic(fmt.Errorf("%v: transient buffer marked dirty", bp))
	}
	if bp.flags&Dirty == 0 {
		c.dirtyBytes += bp.Bcount()
	}
	bp.flags |= Dirty
	c.dirtyMap(bp.Ino()).Insert(bp)
}

// Bdwrite marks bp dirty and gives up the lease (a delayed write).
func (c *Cache) Bdwrite(bp *Buf, tok lockmap.Token) {
	c.MarkDirty(bp)
	c.leases.Release(bp.id, tok)
}

// Brelse gives up the lease without dirtying bp.
func (c *Cache) Brelse(bp *Buf, tok lockmap.Token) {
	c.leases.Release(bp.id, tok)
}

// Lease waits until bp is not busy and takes it.
func (c *Cache) Lease(bp *Buf) lockmap.Token {
	return c.leases.Acquire(bp.id)
}

func (c *Cache) IsBusy(bp *Buf) bool {
	return c.leases.IsHeld(bp.id)
}

func (c *Cache) flag(bp *Buf, f Flags) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bp.flags&f != 0
}

func (c *Cache) IsDirty(bp *Buf) bool {
	return c.flag(bp, Dirty)
}

func (c *Cache) IsGathered(bp *Buf) bool {
	return c.flag(bp, Gathered)
}

func (c *Cache) IsTransient(bp *Buf) bool {
	return c.flag(bp, Transient)
}

func (c *Cache) SetGathered(bp *Buf) {
	c.mu.Lock()
	bp.flags |= Gathered
	c.mu.Unlock()
}

// Ungather drops bp from the partial segment, leaving it dirty.
func (c *Cache) Ungather(bp *Buf) {
	c.mu.Lock()
	bp.flags &^= Gathered
	c.gcond.Broadcast()
	c.mu.Unlock()
}

// WaitUngathered waits until no partial segment claims bp.
func (c *Cache) WaitUngathered(bp *Buf) {
	c.mu.Lock()
	for bp.flags&Gathered != 0 {
		c.gcond.Wait()
	}
	c.mu.Unlock()
}

// StartWrite clears the dirty bit of a buffer whose contents have been
// copied into a cluster. It stays on the dirty index until Done.
func (c *Cache) StartWrite(bp *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bp.flags&Dirty != 0 {
		c.dirtyBytes -= bp.Bcount()
	}
	bp.flags &^= Dirty
}

// Done finishes the write of a leased buffer: bp leaves the dirty index
// unless it has been dirtied again, and the lease is returned.
func (c *Cache) Done(bp *Buf, tok lockmap.Token) {
	c.mu.Lock()
	if bp.flags&Transient != 0 {
		c.mu.Unlock()
		return
	}
	bp.flags &^= Gathered
	if bp.flags&Dirty == 0 {
		c.undirty(bp)
	}
	c.gcond.Broadcast()
	c.mu.Unlock()
	c.leases.Release(bp.id, tok)
}

func (c *Cache) undirty(bp *Buf) {
	if m, ok := c.dirty[bp.Ino()]; ok {
		m.Del(bp)
		if m.Len() == 0 {
			delete(c.dirty, bp.Ino())
		}
	}
}

// Clean takes bp off the dirty index right away, for buffers written
// synchronously outside a segment.
func (c *Cache) Clean(bp *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bp.flags&Dirty != 0 {
		c.dirtyBytes -= bp.Bcount()
	}
	bp.flags &^= Dirty | Gathered
	c.undirty(bp)
	c.gcond.Broadcast()
}

// DirtyBufs snapshots the dirty index of ino in lbn order.
func (c *Cache) DirtyBufs(ino common.Inum) []*Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.dirty[ino]
	if !ok {
		return nil
	}
	return m.Bufs()
}

// HasDirty reports whether ino has buffers on its dirty index, including
// ones whose write is in flight.
func (c *Cache) HasDirty(ino common.Inum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.dirty[ino]
	return ok && m.Len() > 0
}

// HasUngathered reports whether ino has dirty buffers that no partial
// segment has claimed.
func (c *Cache) HasUngathered(ino common.Inum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.dirty[ino]
	if !ok {
		return false
	}
	return m.Any(func(bp *Buf) bool {
		return bp.flags&Dirty != 0 && bp.flags&Gathered == 0
	})
}

func (c *Cache) DirtyBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyBytes
}

func (c *Cache) bufsOf(ino common.Inum) []*Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	var bufs []*Buf
	for a, bp := range c.bufs {
		if a.Ino == ino {
			bufs = append(bufs, bp)
		}
	}
	return bufs
}

// WaitIdle waits until no buffer of ino is busy.
func (c *Cache) WaitIdle(ino common.Inum) {
	for _, bp := range c.bufsOf(ino) {
		c.leases.WaitFree(bp.id)
	}
}

// Forget drops every buffer of ino, dirty or not. The caller makes sure none
// is busy.
func (c *Cache) Forget(ino common.Inum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for a, bp := range c.bufs {
		if a.Ino != ino {
			continue
		}
		if bp.flags&Dirty != 0 {
			c.dirtyBytes -= bp.Bcount()
		}
		delete(c.bufs, a)
	}
	delete(c.dirty, ino)
}

// Invalidate drops a leased, clean buffer whose contents could not be read.
func (c *Cache) Invalidate(bp *Buf, tok lockmap.Token) {
	c.mu.Lock()
	if c.bufs[bp.Addr] == bp && bp.flags&Dirty == 0 {
		delete(c.bufs, bp.Addr)
	}
	c.mu.Unlock()
	c.leases.Release(bp.id, tok)
}
