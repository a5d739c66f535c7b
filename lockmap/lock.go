// lockmap is a sharded table of exclusive leases.
//
// The API is as if LockMap held a lease for every possible uint64 (buffer
// ids, in this filesystem). Acquire(a) waits until a is free and returns a
// Token; only that token can Release(a). Handing a token to another
// goroutine hands over the lease, which is how a buffer frozen by the
// segment writer is returned by the I/O completion.
//
// The implementation keeps a fixed number of shards; shard i holds the state
// of every a with a % NSHARD = i, created on demand and dropped when free and
// unwaited.
package lockmap

import (
	"fmt"
	"sync"
)

// Token proves ownership of one lease.
type Token uint64

const NoToken Token = 0

type leaseState struct {
	holder  Token
	cond    *sync.Cond
	waiters uint64
}

type leaseShard struct {
	mu    *sync.Mutex
	state map[uint64]*leaseState
	next  Token
}

func mkLeaseShard(i uint64) *leaseShard {
	return &leaseShard{
		mu:    new(sync.Mutex),
		state: make(map[uint64]*leaseState),
		next:  Token(i),
	}
}

// newToken hands out tokens that are unique across shards.
func (shard *leaseShard) newToken() Token {
	shard.next += Token(NSHARD)
	return shard.next
}

func (shard *leaseShard) get(addr uint64) *leaseState {
	state, ok := shard.state[addr]
	if !ok {
		state = &leaseState{cond: sync.NewCond(shard.mu)}
		shard.state[addr] = state
	}
	return state
}

func (shard *leaseShard) acquire(addr uint64, wait bool) (Token, bool) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state := shard.get(addr)
	for state.holder != NoToken {
		if !wait {
			return NoToken, false
		}
		state.waiters += 1
		state.cond.Wait()
		state.waiters -= 1
	}
	state.holder = shard.newToken()
	return state.holder, true
}

func (shard *leaseShard) release(addr uint64, tok Token) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[addr]
	if !ok || state.holder != tok {
		panic(fmt.Errorf("lockmap: release of %d with token %d not held", addr, tok))
	}
	state.holder = NoToken
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, addr)
	}
}

func (shard *leaseShard) held(addr uint64) bool {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[addr]
	return ok && state.holder != NoToken
}

// waitFree waits until addr is not leased, without taking it.
func (shard *leaseShard) waitFree(addr uint64) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for {
		state, ok := shard.state[addr]
		if !ok || state.holder == NoToken {
			return
		}
		state.waiters += 1
		state.cond.Wait()
		state.waiters -= 1
		// pass the wakeup on to a waiter that wants the lease
		if state.holder == NoToken && state.waiters > 0 {
			state.cond.Signal()
		}
	}
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*leaseShard
}

func MkLockMap() *LockMap {
	var shards []*leaseShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLeaseShard(i))
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(addr uint64) *leaseShard {
	return lmap.shards[addr%NSHARD]
}

// Acquire blocks until addr is free and leases it.
func (lmap *LockMap) Acquire(addr uint64) Token {
	tok, _ := lmap.shard(addr).acquire(addr, true)
	return tok
}

// TryAcquire leases addr only if nobody holds it.
func (lmap *LockMap) TryAcquire(addr uint64) (Token, bool) {
	return lmap.shard(addr).acquire(addr, false)
}

// Release ends the lease tok on addr. Releasing with any other token panics.
func (lmap *LockMap) Release(addr uint64, tok Token) {
	lmap.shard(addr).release(addr, tok)
}

func (lmap *LockMap) IsHeld(addr uint64) bool {
	return lmap.shard(addr).held(addr)
}

func (lmap *LockMap) WaitFree(addr uint64) {
	lmap.shard(addr).waitFree(addr)
}
