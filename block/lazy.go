// ════════════════════════════════════════════════════════════════════════════════════════════════
// Lazy K-Way Block Merger
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Deferred Equal-Power Merge
//
// Description:
//   Accumulates equal-power source blocks and only merges them physically in Finalize: a k-way
//   merge over per-source cursors driven by a fixed-array min-heap keyed on (key, source order).
//   Slots that lost their occupant between accumulation and finalize are skipped by the cursors,
//   so the target holds exactly the surviving pairs, sorted, with equal keys kept stable by
//   source order.
//
// Notes:
//   - The heap is a plain array of value structs sifted in place: merge fanout is small and
//     bounded, and the hot path stays free of interface dispatch and allocation.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package block

import (
	"kpq/constants"
	"kpq/utils"
)

// mergeHead is one source's heap entry: its cursor plus the source sequence
// number used for stable tie-breaks.
type mergeHead struct {
	cur mergeCursor
	seq int
}

// LazyMerge accumulates same-power blocks for one deferred merge.
type LazyMerge struct {
	heads   [constants.MaxMergeSources]mergeHead
	count   int // heads with at least one owned slot
	sources int // total accumulated sources, empty or not
	power   uint
}

// NewLazyMerge starts an accumulation with its first source block.
func NewLazyMerge(b *Block) *LazyMerge {
	lm := &LazyMerge{power: b.Power()}
	lm.add(b)
	return lm
}

// Merge adds another source of the same power.
func (lm *LazyMerge) Merge(b *Block) {
	if b.Power() != lm.power {
		panic("block: lazy merge power mismatch")
	}
	if lm.sources == constants.MaxMergeSources {
		panic("block: lazy merge fanout exceeded")
	}
	lm.add(b)
}

func (lm *LazyMerge) add(b *Block) {
	c := newMergeCursor(b)
	if c.ok {
		lm.heads[lm.count] = mergeHead{cur: c, seq: lm.sources}
		lm.count++
	}
	lm.sources++
}

// ResultPower returns the power of the block Finalize will produce: the
// source power widened just enough for the source count.
func (lm *LazyMerge) ResultPower() uint {
	return lm.power + utils.CeilLog2(uint64(lm.sources))
}

// Finalize performs the physical merge. When exactly one source was
// accumulated it is returned as-is and no target is allocated; the caller still owns every
// source block either way. Returns nil when every source was empty.
func (lm *LazyMerge) Finalize(pool *Pool) *Block {
	if lm.count == 0 {
		return nil
	}
	if lm.count == 1 && lm.sources == 1 {
		return lm.heads[0].cur.b
	}

	target := pool.GetBlock(lm.ResultPower())
	lm.heapify()

	var dst uint64
	for lm.count > 0 {
		h := &lm.heads[0]
		target.setPair(dst, h.cur.it, h.cur.ver)
		dst++
		h.cur.advance()
		if !h.cur.ok {
			lm.heads[0] = lm.heads[lm.count-1]
			lm.count--
		}
		lm.siftDown(0)
	}

	target.first.Store(0)
	target.last.Store(dst)
	return target
}

// ─────────────────────────── fixed-array min-heap ───────────────────────────

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (lm *LazyMerge) less(i, j int) bool {
	a, b := &lm.heads[i], &lm.heads[j]
	if a.cur.key != b.cur.key {
		return a.cur.key < b.cur.key
	}
	return a.seq < b.seq
}

func (lm *LazyMerge) heapify() {
	for i := lm.count/2 - 1; i >= 0; i-- {
		lm.siftDown(i)
	}
}

//go:nosplit
//go:inline
//go:registerparams
func (lm *LazyMerge) siftDown(i int) {
	for {
		l, r := 2*i+1, 2*i+2
		min := i
		if l < lm.count && lm.less(l, min) {
			min = l
		}
		if r < lm.count && lm.less(r, min) {
			min = r
		}
		if min == i {
			return
		}
		lm.heads[i], lm.heads[min] = lm.heads[min], lm.heads[i]
		i = min
	}
}
