package buf

import (
	"github.com/google/btree"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
)

//
// A per-inode index of buffers ordered by logical block number.
//

type lbnItem struct {
	bp *Buf
}

func (a lbnItem) Less(b btree.Item) bool {
	return a.bp.Addr.Lbn < b.(lbnItem).bp.Addr.Lbn
}

type BufMap struct {
	t *btree.BTree
}

func MkBufMap() *BufMap {
	return &BufMap{t: btree.New(8)}
}

func (bmap *BufMap) Insert(bp *Buf) {
	bmap.t.ReplaceOrInsert(lbnItem{bp})
}

func (bmap *BufMap) Del(bp *Buf) {
	bmap.t.Delete(lbnItem{bp})
}

func (bmap *BufMap) Lookup(lbn common.Lbn) *Buf {
	i := bmap.t.Get(lbnItem{&Buf{Addr: addr.Addr{Lbn: lbn}}})
	if i == nil {
		return nil
	}
	return i.(lbnItem).bp
}

func (bmap *BufMap) Len() int {
	return bmap.t.Len()
}

// Bufs lists the buffers in lbn order.
func (bmap *BufMap) Bufs() []*Buf {
	var bufs []*Buf
	bmap.t.Ascend(func(i btree.Item) bool {
		bufs = append(bufs, i.(lbnItem).bp)
		return true
	})
	return bufs
}

func (bmap *BufMap) Any(f func(*Buf) bool) bool {
	var found bool
	bmap.t.Ascend(func(i btree.Item) bool {
		found = f(i.(lbnItem).bp)
		return !found
	})
	return found
}
