// ════════════════════════════════════════════════════════════════════════════════════════════════
// Sorted Item Block
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Power-of-Two Sorted Slot Array
//
// Description:
//   A block is an array of (item reference, expected version) pairs of capacity 2^p, sorted by
//   key over all owned slots. The owning thread is the only mutator; foreign threads read slots
//   and claim items through the item CAS protocol. A slot is owned while the referenced item's
//   current version equals the stored expected version; claimed slots are skipped by every scan
//   and compacted away by the next copy or merge.
//
// Ownership & visibility:
//   - Slot words are written once per fill generation and published by the atomic store of
//     `last`; foreign readers bound their scans by an acquire load of `last`.
//   - `first` only ever advances, and only under the owner's peek. Foreign readers may observe
//     a stale `first`; the slot order invariant and the version check keep that safe.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package block

import (
	"sync/atomic"

	"kpq/item"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PEEK TOKEN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Peek captures everything needed to attempt a single claim: the observed key,
// the item reference, its slot index and the version the slot expects. A zero
// Peek is empty.
type Peek struct {
	Key     uint32
	Item    *item.Item
	Index   uint64
	Version uint64
}

// Empty reports whether the token references no item.
//
//go:nosplit
//go:inline
//go:registerparams
func (p *Peek) Empty() bool {
	return p.Item == nil
}

// Taken reports whether the item has moved on from the captured version,
// meaning some thread claimed (or claimed and reused) it.
//
//go:nosplit
//go:inline
//go:registerparams
func (p *Peek) Taken() bool {
	return p.Item.Version() != p.Version
}

// Take attempts the claim. At most one token holding this (item, version)
// pair across all threads can succeed.
//
//go:nosplit
//go:inline
//go:registerparams
func (p *Peek) Take(out *uint64) bool {
	return p.Item.Take(p.Version, out)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SLOT PAIRS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// pair is one slot. Both words are atomics so racing foreign scans observe
// whole values; a mismatched (item, version) read surfaces as an unowned slot
// and is skipped.
type pair struct {
	it  atomic.Pointer[item.Item]
	ver atomic.Uint64
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BLOCK
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Block is a pooled, power-of-two sorted slot array. Blocks are addressed by
// stable arena handles inside their pool; next is the atomic freelist /
// remote-release link, prev the owner-only back link.
type Block struct {
	pairs []pair

	// first points at the lowest known filled index; advanced only by the
	// owner's peek as it observes claimed slots.
	first atomic.Uint64

	// last points one past the highest filled index. It counts slots the
	// owner wrote, even ones foreign threads have since claimed, so it is an
	// upper bound on liveness, not a census.
	last atomic.Uint64

	next atomic.Int32 // freelist link; also the remote-release stack link
	prev int32        // owner-only freelist back link

	handle int32 // stable index in the owning pool's arena
	owner  int32 // owning thread id, diagnostics only
	power  uint
	used   bool // managed by the pool
}

// Power returns p where capacity == 2^p.
//
//go:nosplit
//go:inline
func (b *Block) Power() uint {
	return b.power
}

// Capacity returns the slot capacity.
//
//go:nosplit
//go:inline
func (b *Block) Capacity() uint64 {
	return 1 << b.power
}

// First returns the lowest known filled index.
//
//go:nosplit
//go:inline
func (b *Block) First() uint64 {
	return b.first.Load()
}

// Last returns one past the highest filled index.
//
//go:nosplit
//go:inline
func (b *Block) Last() uint64 {
	return b.last.Load()
}

// Size returns last-first: the number of slots the owner considers filled.
// Foreign claims make this an overestimate until the next peek or compaction.
//
//go:nosplit
//go:inline
func (b *Block) Size() uint64 {
	l, f := b.last.Load(), b.first.Load()
	if f > l {
		return 0
	}
	return l - f
}

// Used reports whether the pool considers this block handed out.
//
//go:nosplit
//go:inline
func (b *Block) Used() bool {
	return b.used
}

// Owner returns the owning thread id recorded at allocation.
//
//go:nosplit
//go:inline
func (b *Block) Owner() int32 {
	return b.owner
}

// clear resets the fill indices for a new generation. Stale pair words remain
// but sit beyond last, so no reader reaches them.
func (b *Block) clear() {
	b.first.Store(0)
	b.last.Store(0)
}

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (b *Block) setPair(i uint64, it *item.Item, ver uint64) {
	b.pairs[i].it.Store(it)
	b.pairs[i].ver.Store(ver)
}

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (b *Block) getPair(i uint64) (*item.Item, uint64) {
	return b.pairs[i].it.Load(), b.pairs[i].ver.Load()
}

// owned reports whether the pair still holds its original occupant.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func owned(it *item.Item, ver uint64) bool {
	return it != nil && it.Version() == ver
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FILL OPERATIONS (OWNER ONLY)
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Insert places the first pair into a freshly acquired, empty block.
func (b *Block) Insert(it *item.Item, ver uint64) {
	if b.last.Load() != 0 {
		panic("block: Insert on non-empty block")
	}
	b.setPair(0, it, ver)
	b.first.Store(0)
	b.last.Store(1)
}

// InsertTail appends at last. The caller has verified there is room and that
// the key does not undercut the current tail key, keeping slot order intact.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (b *Block) InsertTail(it *item.Item, ver uint64) {
	i := b.last.Load()
	if i >= b.Capacity() {
		panic("block: InsertTail past capacity")
	}
	b.setPair(i, it, ver)
	b.last.Store(i + 1)
}

// mergeCursor walks one merge source's owned slots in order, caching the pair
// words so each slot is read exactly once.
type mergeCursor struct {
	b    *Block
	i    uint64
	last uint64
	it   *item.Item
	ver  uint64
	key  uint32 // captured at settle so comparisons stay stable
	ok   bool
}

func newMergeCursor(b *Block) mergeCursor {
	c := mergeCursor{b: b, i: b.first.Load(), last: b.last.Load()}
	c.settle()
	return c
}

// settle positions the cursor on the next owned slot at or after i.
//
//go:nosplit
//go:inline
//go:registerparams
func (c *mergeCursor) settle() {
	for ; c.i < c.last; c.i++ {
		it, ver := c.b.getPair(c.i)
		if owned(it, ver) {
			c.it, c.ver, c.key, c.ok = it, ver, it.Key(), true
			return
		}
	}
	c.it, c.ver, c.ok = nil, 0, false
}

// advance steps past the current slot to the next owned one.
//
//go:nosplit
//go:inline
//go:registerparams
func (c *mergeCursor) advance() {
	c.i++
	c.settle()
}

// Merge writes the two-way merge of lhs and rhs into this block, skipping
// slots that lost their occupant. Ties keep lhs first. The block must have
// room for every surviving pair.
func (b *Block) Merge(lhs, rhs *Block) {
	var dst uint64
	lc, rc := newMergeCursor(lhs), newMergeCursor(rhs)
	for lc.ok || rc.ok {
		var src *mergeCursor
		switch {
		case !rc.ok:
			src = &lc
		case !lc.ok:
			src = &rc
		case lc.key <= rc.key:
			src = &lc
		default:
			src = &rc
		}
		b.setPair(dst, src.it, src.ver)
		dst++
		src.advance()
	}

	if dst > b.Capacity() {
		panic("block: merge overflow")
	}
	b.first.Store(0)
	b.last.Store(dst)
}

// Copy compacts src into this (empty) block: owned pairs only, in order. It
// tolerates a racing foreign source: scans are bounded by a single load of
// src.last, every pair is re-validated, and the copy truncates at the first
// key inversion a mid-rewrite source could expose. The result is always a
// sorted, claimable block, possibly shorter than the source.
func (b *Block) Copy(src *Block) {
	var dst uint64
	prev := uint32(0)
	f, l := src.first.Load(), src.last.Load()
	limit := b.Capacity()
	for i := f; i < l && dst < limit; i++ {
		it, ver := src.getPair(i)
		if !owned(it, ver) {
			continue
		}
		k := it.Key()
		if dst > 0 && k < prev {
			break // racing source generation change; keep the sorted prefix
		}
		b.setPair(dst, it, ver)
		prev = k
		dst++
	}
	b.first.Store(0)
	b.last.Store(dst)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SCAN OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PeekMin returns a token for the lowest-index owned slot, advancing first
// past claimed slots as it observes them. Owner only: first mutates.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (b *Block) PeekMin() Peek {
	for {
		f, l := b.first.Load(), b.last.Load()
		if f >= l {
			return Peek{}
		}
		it, ver := b.getPair(f)
		if owned(it, ver) {
			return Peek{Key: it.Key(), Item: it, Index: f, Version: ver}
		}
		b.first.Store(f + 1)
	}
}

// PeekTail scans from the back for an owned slot and reports its key. Used by
// the insert fast path to test tail-append eligibility.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (b *Block) PeekTail(key *uint32) bool {
	f, l := b.first.Load(), b.last.Load()
	for i := l; i > f; i-- {
		it, ver := b.getPair(i - 1)
		if owned(it, ver) {
			*key = it.Key()
			return true
		}
	}
	return false
}

// PeekNth returns a token for absolute slot n without touching first. The
// token may already be taken; the caller checks.
func (b *Block) PeekNth(n uint64) Peek {
	if n >= b.last.Load() {
		return Peek{}
	}
	it, ver := b.getPair(n)
	if it == nil {
		return Peek{}
	}
	return Peek{Key: it.Key(), Item: it, Index: n, Version: ver}
}

// Iterator returns a lazy, non-restartable scan over currently owned slots.
// Safe for foreign readers.
func (b *Block) Iterator() SpyIterator {
	return SpyIterator{b: b, next: b.first.Load(), last: b.last.Load()}
}

// SpyIterator walks a block's owned slots in key order. The bounds are fixed
// at construction; slots claimed mid-walk are skipped.
type SpyIterator struct {
	b    *Block
	next uint64
	last uint64
}

// Next returns the next owned slot's token, or an empty token at the end.
//
//go:nosplit
//go:inline
//go:registerparams
func (s *SpyIterator) Next() Peek {
	for s.next < s.last {
		i := s.next
		s.next++
		it, ver := s.b.getPair(i)
		if owned(it, ver) {
			return Peek{Key: it.Key(), Item: it, Index: i, Version: ver}
		}
	}
	return Peek{}
}

