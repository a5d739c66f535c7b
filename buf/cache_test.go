package buf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
)

type CacheSuite struct {
	suite.Suite
	c *Cache
}

func (suite *CacheSuite) SetupTest() {
	suite.c = MkCache()
}

func TestCache(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (suite *CacheSuite) dirty(ino common.Inum, lbn common.Lbn, size uint64) *Buf {
	bp, tok, _ := suite.c.Getblk(addr.MkAddr(ino, lbn), size)
	suite.c.Bdwrite(bp, tok)
	return bp
}

func (suite *CacheSuite) TestGetblkCachesAndLeases() {
	c := suite.c
	a := addr.MkAddr(5, 0)
	bp, tok, fresh := c.Getblk(a, 1024)
	suite.True(fresh)
	suite.True(c.IsBusy(bp))
	suite.Equal(common.UNASSIGNED, bp.Blkno)
	bp.Data[0] = 9
	c.Brelse(bp, tok)
	suite.False(c.IsBusy(bp))

	bp2, tok2, fresh := c.Getblk(a, 1024)
	suite.False(fresh)
	suite.Same(bp, bp2)
	suite.Equal(byte(9), bp2.Data[0])
	c.Brelse(bp2, tok2)
	suite.Same(bp, c.Lookup(a))
	suite.Nil(c.Lookup(addr.MkAddr(5, 1)))
}

func (suite *CacheSuite) TestDirtyIndexOrder() {
	c := suite.c
	suite.dirty(3, 2, 4096)
	suite.dirty(3, -12, 4096)
	suite.dirty(3, 0, 4096)
	suite.dirty(4, 0, 1024)
	var lbns []common.Lbn
	for _, bp := range c.DirtyBufs(3) {
		lbns = append(lbns, bp.Lbn())
	}
	suite.Equal([]common.Lbn{-12, 0, 2}, lbns)
	suite.True(c.HasDirty(4))
	suite.False(c.HasDirty(5))
	suite.Equal(uint64(3*4096+1024), c.DirtyBytes())
}

func (suite *CacheSuite) TestWriteLifecycle() {
	c := suite.c
	bp := suite.dirty(3, 0, 4096)
	c.SetGathered(bp)
	suite.False(c.HasUngathered(3))

	tok := c.Lease(bp)
	c.StartWrite(bp)
	suite.False(c.IsDirty(bp))
	suite.True(c.HasDirty(3), "in-flight buffers stay on the index")
	suite.Equal(uint64(0), c.DirtyBytes())

	c.Done(bp, tok)
	suite.False(c.HasDirty(3))
	suite.False(c.IsGathered(bp))
	suite.False(c.IsBusy(bp))
}

func (suite *CacheSuite) TestRedirtiedDuringWriteStays() {
	c := suite.c
	bp := suite.dirty(3, 1, 4096)
	c.SetGathered(bp)
	tok := c.Lease(bp)
	c.StartWrite(bp)
	c.MarkDirty(bp)
	c.Done(bp, tok)
	suite.True(c.HasUngathered(3))
	suite.Equal([]*Buf{bp}, c.DirtyBufs(3))
}

func (suite *CacheSuite) TestResizeAndClean() {
	c := suite.c
	bp, tok, _ := c.Getblk(addr.MkAddr(6, 0), 1024)
	bp.Data[1023] = 7
	c.Bdwrite(bp, tok)
	tok = c.Lease(bp)
	c.Resize(bp, 3072)
	c.Brelse(bp, tok)
	suite.Equal(uint64(3072), bp.Bcount())
	suite.Equal(byte(7), bp.Data[1023])
	suite.Equal(uint64(3072), c.DirtyBytes())
	c.Clean(bp)
	suite.False(c.HasDirty(6))
	suite.Equal(uint64(0), c.DirtyBytes())
}

func (suite *CacheSuite) TestTransient() {
	c := suite.c
	sum := c.NewTransient(100, 1024)
	suite.True(sum.IsDev())
	suite.Equal(common.Daddr(100), sum.Blkno)
	suite.Panics(func() { c.MarkDirty(sum) })

	bp := suite.dirty(7, -12, 4096)
	bp.DaddrPut(3, common.UNWRITTEN)
	cp := c.Copy(bp)
	cp.DaddrPut(3, 0)
	suite.Equal(common.UNWRITTEN, bp.DaddrGet(3), "copy is private")
	suite.Equal(bp.Addr, cp.Addr)
	c.Done(cp, 0)
}

func (suite *CacheSuite) TestForgetAndWaitIdle() {
	c := suite.c
	bp := suite.dirty(8, 0, 4096)
	tok := c.Lease(bp)
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Brelse(bp, tok)
	}()
	c.WaitIdle(8)
	suite.False(c.IsBusy(bp))
	c.Forget(8)
	suite.Nil(c.Lookup(bp.Addr))
	suite.False(c.HasDirty(8))
	suite.Equal(uint64(0), c.DirtyBytes())
}

func (suite *CacheSuite) TestWaitUngathered() {
	c := suite.c
	bp := suite.dirty(9, 0, 4096)
	c.SetGathered(bp)
	tok := c.Lease(bp)
	done := make(chan struct{})
	go func() {
		c.WaitUngathered(bp)
		close(done)
	}()
	select {
	case <-done:
		suite.FailNow("returned while gathered")
	case <-time.After(10 * time.Millisecond):
	}
	c.StartWrite(bp)
	c.Done(bp, tok)
	<-done
}

func TestDaddrSlots(t *testing.T) {
	bp := &Buf{Data: make([]byte, 4096)}
	bp.DaddrPut(1023, 77)
	bp.DaddrPut(0, -2)
	assert.Equal(t, common.Daddr(77), bp.DaddrGet(1023))
	assert.Equal(t, common.Daddr(-2), bp.DaddrGet(0))
	assert.Equal(t, byte(77), bp.Data[4092])
}
