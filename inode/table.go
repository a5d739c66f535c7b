package inode

import (
	"sync"

	"github.com/google/btree"

	"github.com/mit-pdos/go-lfs/common"
)

type inoItem struct {
	ip *Inode
}

func (a inoItem) Less(b btree.Item) bool {
	return a.ip.Ino < b.(inoItem).ip.Ino
}

// Table is the set of in-core inodes, walked in inode-number order.
type Table struct {
	mu *sync.Mutex
	t  *btree.BTree
}

func MkTable() *Table {
	return &Table{
		mu: new(sync.Mutex),
		t:  btree.New(8),
	}
}

func key(ino common.Inum) inoItem {
	return inoItem{&Inode{Ino: ino}}
}

func (tbl *Table) Get(ino common.Inum) *Inode {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	i := tbl.t.Get(key(ino))
	if i == nil {
		return nil
	}
	return i.(inoItem).ip
}

// Insert adds ip unless its number is taken, and returns the inode the table
// now holds for that number.
func (tbl *Table) Insert(ip *Inode) *Inode {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if i := tbl.t.Get(inoItem{ip}); i != nil {
		return i.(inoItem).ip
	}
	tbl.t.ReplaceOrInsert(inoItem{ip})
	return ip
}

func (tbl *Table) Remove(ino common.Inum) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.t.Delete(key(ino))
}

func (tbl *Table) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return tbl.t.Len()
}

// Snapshot lists the inodes in number order.
func (tbl *Table) Snapshot() []*Inode {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	ips := make([]*Inode, 0, tbl.t.Len())
	tbl.t.Ascend(func(i btree.Item) bool {
		ips = append(ips, i.(inoItem).ip)
		return true
	})
	return ips
}
