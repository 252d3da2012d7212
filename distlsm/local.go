// ════════════════════════════════════════════════════════════════════════════════════════════════
// Dist-LSM Thread Local
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Per-Thread Block Pile
//
// Description:
//   Each thread owns a pile of sorted blocks of strictly decreasing power (oldest and largest
//   first). Inserts append to the tail block when order permits, otherwise start a size-1 block
//   and cascade-merge equal-capacity neighbors. Peek lazily compacts half-empty blocks, drops
//   empty ones and caches the best token. When a shared LSM is attached, any merge whose result
//   crosses half the relaxation bound is published there instead of being kept local.
//
// Sharing:
//   - The block slice and size are atomics so a spying peer can walk them race-free; every other
//     field is owner-only.
//   - Spy copy-compacts a random peer's blocks into locally pooled blocks, preserving each
//     (item, version) pair verbatim so stolen items remain claimable.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package distlsm

import (
	"sync/atomic"

	"golang.org/x/exp/rand"

	"kpq/block"
	"kpq/constants"
	"kpq/item"
	"kpq/sharedlsm"
	"kpq/utils"
)

// Local is one thread's dist-LSM state. All exported methods are owner-thread
// only unless noted.
type Local struct {
	blocks [constants.MaxLocalBlocks]atomic.Pointer[block.Block]
	size   atomic.Int32 // atomic so spies can bound their walk

	items      *item.Allocator
	storage    *block.Pool
	cachedBest block.Peek
	rng        *rand.Rand

	tid        int32
	relaxation int
}

func newLocal(tid int32, relaxation int) *Local {
	return &Local{
		items:      item.NewAllocator(),
		storage:    block.NewPool(tid),
		rng:        rand.New(rand.NewSource(utils.Mix64(uint64(tid) + 1))),
		tid:        tid,
		relaxation: relaxation,
	}
}

// Tid returns the registry slot this local occupies.
//
//go:nosplit
//go:inline
func (l *Local) Tid() int32 {
	return l.tid
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSERT PATH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Insert adds a key/value pair, publishing oversized merge results to slsm
// when one is attached. Never fails.
func (l *Local) Insert(key uint32, value uint64, slsm *sharedlsm.SharedLSM) {
	it := l.items.Acquire()
	it.Initialize(key, value)
	l.insertItem(it, it.Version(), slsm)
}

func (l *Local) insertItem(it *item.Item, version uint64, slsm *sharedlsm.SharedLSM) {
	key := it.Key()

	// Refresh the cached best token.
	if l.cachedBest.Empty() || key < l.cachedBest.Key {
		l.cachedBest = block.Peek{Key: key, Item: it, Version: version}
	} else if l.cachedBest.Taken() {
		l.cachedBest = block.Peek{}
	}

	// Fast path: append to the tail block when order permits.
	size := int(l.size.Load())
	if size > 0 {
		tail := l.blocks[size-1].Load()
		if tail.Last() < tail.Capacity() {
			var tailKey uint32
			if tail.PeekTail(&tailKey) && tailKey <= key {
				tail.InsertTail(it, version)
				return
			}
		}
	}

	// Start a fresh size-1 block and fold it in.
	nb := l.storage.GetBlock(0)
	nb.Insert(it, version)
	l.mergeInsert(nb, slsm)
}

// mergeInsert cascades the new block into the pile: while the previous block
// has equal capacity, merge the two, widening only when the combined live
// count demands it. A result crossing (relaxation+1)/2 elements is handed to
// the shared LSM (which copies it) instead of being installed locally.
func (l *Local) mergeInsert(nb *block.Block, slsm *sharedlsm.SharedLSM) {
	oldSize := int(l.size.Load())
	otherIx := oldSize - 1

	insert := nb

	// A spy-heavy pile can leave no free slot for the append below. Fold the
	// new block into the tail regardless of capacity instead: the widened
	// merge frees one slot and the cascade proceeds as usual.
	if otherIx+1 == constants.MaxLocalBlocks {
		other := l.blocks[otherIx].Load()
		pow := other.Power()
		if insert.Power() > pow {
			pow = insert.Power()
		}
		if insert.Size()+other.Size() > uint64(1)<<pow {
			pow++
		}
		merged := l.storage.GetBlock(pow)
		merged.Merge(insert, other)

		l.storage.Release(insert)
		l.storage.Release(other)
		l.blocks[otherIx].Store(nil)
		insert = merged
		otherIx--
	}

	for otherIx >= 0 {
		other := l.blocks[otherIx].Load()
		if other.Capacity() != insert.Capacity() {
			break
		}
		// Widen only when justified: half-empty sources otherwise breed huge
		// blocks holding a handful of items.
		pow := insert.Power()
		if insert.Size()+other.Size() > insert.Capacity() {
			pow++
		}
		merged := l.storage.GetBlock(pow)
		merged.Merge(insert, other)

		l.storage.Release(insert)
		l.storage.Release(other)
		l.blocks[otherIx].Store(nil)
		insert = merged
		otherIx--
	}

	if slsm != nil && insert.Size() >= uint64(l.relaxation+1)/2 {
		// The merge result exceeds what the relaxation bound lets us keep
		// private. The shared LSM copies the block, so it goes straight back
		// to the pool afterwards.
		slsm.Insert(l.tid, insert)
		l.storage.Release(insert)
		l.size.Store(int32(otherIx + 1))
	} else {
		l.blocks[otherIx+1].Store(insert)
		l.size.Store(int32(otherIx + 2))
	}

	for i := int(l.size.Load()); i < oldSize; i++ {
		l.blocks[i].Store(nil)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PEEK / DELETE PATH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Peek finds the smallest live token across the pile, compacting as it goes:
// blocks at or below half capacity shrink into the next lower power and
// opportunistically re-merge with an equal-capacity neighbor; empty blocks
// drop out. The winner is cached for the next call.
func (l *Local) Peek(best *block.Peek) {
	if !l.cachedBest.Empty() && !l.cachedBest.Taken() {
		*best = l.cachedBest
		return
	}

	*best = block.Peek{}
	ix := 0
outer:
	for ix < int(l.size.Load()) {
		b := l.blocks[ix].Load()
		cand := b.PeekMin()

		for b.Size() <= b.Capacity()/2 {
			if b.Size() == 0 {
				l.removeAt(ix)
				l.storage.Release(b)
				continue outer
			}

			// Shrink into the next lower power.
			shrunk := l.storage.GetBlock(b.Power() - 1)
			shrunk.Copy(b)
			l.storage.Release(b)

			// Re-merge with the successor if the powers now line up.
			nextIx := ix + 1
			if nextIx < int(l.size.Load()) {
				next := l.blocks[nextIx].Load()
				if shrunk.Capacity() == next.Capacity() {
					merged := l.storage.GetBlock(shrunk.Power() + 1)
					merged.Merge(shrunk, next)
					l.storage.Release(next)
					l.storage.Release(shrunk)
					shrunk = merged
					l.removeAt(nextIx)
				}
			}

			l.blocks[ix].Store(shrunk)
			b = shrunk
			cand = b.PeekMin()
		}

		if best.Empty() || (!cand.Empty() && cand.Key < best.Key) {
			*best = cand
		}
		ix++
	}

	l.cachedBest = *best
}

// removeAt shifts the tail of the pile one slot left over index ix.
//
//go:nosplit
//go:inline
//go:registerparams
func (l *Local) removeAt(ix int) {
	size := int(l.size.Load())
	for i := ix; i < size-1; i++ {
		l.blocks[i].Store(l.blocks[i+1].Load())
	}
	l.blocks[size-1].Store(nil)
	l.size.Store(int32(size - 1))
}

// DeleteMin claims the local minimum. An empty pile triggers one spy attempt
// before giving up; a lost claim race reports failure rather than retrying,
// keeping the relaxation contract bounded.
//
//go:inline
//go:registerparams
func (l *Local) DeleteMin(parent *Dist, out *uint64) bool {
	var best block.Peek
	l.Peek(&best)

	if best.Empty() && l.Spy(parent) > 0 {
		l.Peek(&best) // retry once after a successful spy
	}
	if best.Empty() {
		return false
	}
	return best.Take(out)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SPY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Spy copy-compacts up to SpyMaxBlocks blocks from one uniformly random peer
// into the local pile and returns the number of pairs hauled over. Best
// effort: a racing victim can shorten or empty the haul, never corrupt it.
func (l *Local) Spy(parent *Dist) int {
	if parent == nil {
		return 0
	}
	n := int(parent.numThreads.Load())
	if n < 2 {
		return 0
	}

	victimID := int32(l.rng.Intn(n - 1))
	if victimID >= l.tid {
		victimID++
	}
	victim := parent.locals[victimID].Load()
	if victim == nil {
		return 0 // registration still in flight
	}

	spied := 0
	vsize := int(victim.size.Load())
	start := 0
	if vsize > constants.SpyMaxBlocks {
		// Copy a random window so no block of a long pile stays out of reach.
		start = l.rng.Intn(vsize - constants.SpyMaxBlocks + 1)
		vsize = start + constants.SpyMaxBlocks
	}
	for ix := start; ix < vsize; ix++ {
		size := int(l.size.Load())
		if size >= constants.MaxLocalBlocks-1 {
			// Keep one slot free: the next merge_insert may need to append a
			// block that cannot cascade into the arbitrary-power spied tail.
			break
		}
		vb := victim.blocks[ix].Load()
		if vb == nil {
			continue
		}

		nb := l.storage.GetBlock(vb.Power())
		nb.Copy(vb)
		if nb.Size() == 0 {
			l.storage.Release(nb)
			continue
		}

		spied += int(nb.Size())
		l.blocks[size].Store(nb)
		l.size.Store(int32(size + 1))
	}
	return spied
}
