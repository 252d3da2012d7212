// ════════════════════════════════════════════════════════════════════════════════════════════════
// Per-Thread Item Arena
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Bounded Reuse Pool
//
// Description:
//   Chunked arena of item slots owned by a single thread. Acquire scans the chunk ring for the
//   next free (even-version) slot and grows by one chunk when a full lap finds none. Slots are
//   never returned explicitly: a successful claim flips a slot's version to even, which is the
//   free marker the next scan lap picks up.
//
// Ownership:
//   - Acquire is owner-thread only. Foreign threads touch items solely through the claim CAS.
//   - Items are never freed; stale claim tokens are defused by the version bump on reuse.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package item

import "kpq/constants"

type chunk [constants.ItemChunkSize]Item

// Allocator is the per-thread item arena. Not safe for concurrent Acquire.
type Allocator struct {
	chunks []*chunk
	cursor int // next slot index in the flattened chunk ring
}

// NewAllocator returns an arena primed with a single chunk.
func NewAllocator() *Allocator {
	return &Allocator{chunks: []*chunk{new(chunk)}}
}

// Acquire returns the next reusable slot, growing the arena when a full lap
// over the ring finds every slot live. The returned slot has an even version
// and must be armed with Initialize before it enters any block.
//
//go:inline
//go:registerparams
func (a *Allocator) Acquire() *Item {
	n := len(a.chunks) * constants.ItemChunkSize
	for scanned := 0; scanned < n; scanned++ {
		it := &a.chunks[a.cursor/constants.ItemChunkSize][a.cursor%constants.ItemChunkSize]
		a.cursor++
		if a.cursor == n {
			a.cursor = 0
		}
		if it.version.Load()&1 == 0 {
			return it
		}
	}

	// Every slot is live: grow by one chunk and hand out its first slot.
	c := new(chunk)
	a.chunks = append(a.chunks, c)
	a.cursor = (len(a.chunks) - 1) * constants.ItemChunkSize
	a.cursor++
	return &c[0]
}

// Capacity reports the current number of slots in the arena.
//
//go:nosplit
//go:inline
func (a *Allocator) Capacity() int {
	return len(a.chunks) * constants.ItemChunkSize
}
