// ════════════════════════════════════════════════════════════════════════════════════════════════
// Per-Thread Block Pool
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Arena + Per-Power Freelists
//
// Description:
//   Blocks live in a per-thread arena addressed by stable handles. One freelist per power of two
//   recycles them; next links carry the chains, prev links give the owner O(1) unlink. Foreign
//   threads that finish with a block they did not allocate push it onto a lock-free pending stack
//   (same next links, CAS head), which the owner drains when a freelist runs dry.
//
// Ownership:
//   - GetBlock/Release are owner-thread only.
//   - ReleaseRemote is the single cross-thread entry point and touches only the pending stack.
//     Push-only CAS with an owner-side whole-stack swap keeps it ABA-free.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package block

import (
	"sync/atomic"

	"kpq/constants"
)

const nilHandle int32 = -1

// Pool is a per-thread block arena with power-indexed freelists.
type Pool struct {
	arena   []*Block
	free    [constants.MaxBlockPower + 1]int32
	owner   int32
	pending atomic.Int32 // remote-release stack head
}

// NewPool returns an empty pool owned by the given thread id.
func NewPool(owner int32) *Pool {
	p := &Pool{owner: owner}
	for i := range p.free {
		p.free[i] = nilHandle
	}
	p.pending.Store(nilHandle)
	return p
}

// GetBlock hands out a cleared block of capacity 2^power, reusing a free one
// when available and growing the arena otherwise.
func (p *Pool) GetBlock(power uint) *Block {
	if power > constants.MaxBlockPower {
		panic("block: power out of range")
	}
	if p.free[power] == nilHandle {
		p.drainPending()
	}
	if h := p.free[power]; h != nilHandle {
		b := p.arena[h]
		p.free[power] = b.next.Load()
		if n := p.free[power]; n != nilHandle {
			p.arena[n].prev = nilHandle
		}
		b.used = true
		b.clear()
		return b
	}

	b := &Block{
		pairs:  make([]pair, uint64(1)<<power),
		handle: int32(len(p.arena)),
		owner:  p.owner,
		power:  power,
		used:   true,
		prev:   nilHandle,
	}
	b.next.Store(nilHandle)
	p.arena = append(p.arena, b)
	return b
}

// Release returns a block to its freelist. Owner thread only.
//
//go:nosplit
//go:inline
//go:registerparams
func (p *Pool) Release(b *Block) {
	if !b.used {
		panic("block: double release")
	}
	b.used = false
	head := p.free[b.power]
	b.next.Store(head)
	b.prev = nilHandle
	if head != nilHandle {
		p.arena[head].prev = b.handle
	}
	p.free[b.power] = b.handle
}

// ReleaseRemote pushes a block onto the pending stack from a foreign thread.
// The owner folds it back into the freelists on its next dry GetBlock.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (p *Pool) ReleaseRemote(b *Block) {
	for {
		head := p.pending.Load()
		b.next.Store(head)
		if p.pending.CompareAndSwap(head, b.handle) {
			return
		}
	}
}

// drainPending claims the whole remote stack and releases each block locally.
func (p *Pool) drainPending() {
	h := p.pending.Swap(nilHandle)
	for h != nilHandle {
		b := p.arena[h]
		h = b.next.Load()
		p.Release(b)
	}
}

// Allocated reports the arena size, for tests and diagnostics.
func (p *Pool) Allocated() int {
	return len(p.arena)
}
