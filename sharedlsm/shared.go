// ════════════════════════════════════════════════════════════════════════════════════════════════
// Shared LSM
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Atomically Swapped Snapshot Pointer
//
// Description:
//   The shared LSM is one atomic pointer to the current block-array snapshot. Publishing copies
//   the source block into the publisher's pool, splices it into a rebuilt staircase (collapsing
//   equal-power runs through the lazy merger) and CAS-swaps the pointer; a lost race rebuilds
//   from the fresh observation. Readers protect a snapshot with a per-thread hazard pin before
//   walking it.
//
// Reclamation:
//   - Snapshot headers are ordinary garbage-collected values.
//   - Pooled blocks are the reused resource. A block dropped while publishing generation g is
//     parked on the publisher's retire list and returns to its owning pool only once every pin
//     is empty or holds a generation >= g — no pinned snapshot can still reference it then.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sharedlsm

import (
	"math"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"kpq/block"
	"kpq/constants"
	"kpq/utils"
)

// pinCell is one thread's hazard cell, padded to a cache line so pin traffic
// never false-shares.
type pinCell struct {
	p atomic.Pointer[BlockArray]
	_ [56]byte
}

// retireEntry parks blocks dropped at one publication until pins move past it.
type retireEntry struct {
	gen    uint64
	blocks []*block.Block
}

// threadLocal is a publisher's private state: its block pool, its retire list
// and its PRNG for candidate sampling.
type threadLocal struct {
	pool    *block.Pool
	retired []retireEntry
	rng     *rand.Rand
}

// SharedLSM is the queue-global snapshot cell plus the per-thread machinery
// around it.
type SharedLSM struct {
	current    atomic.Pointer[BlockArray]
	genCtr     atomic.Uint64
	pins       [constants.MaxThreads]pinCell
	locals     [constants.MaxThreads]*threadLocal
	numThreads atomic.Int32
	relaxation int
}

// New returns a shared LSM holding an empty snapshot.
func New(relaxation int) *SharedLSM {
	s := &SharedLSM{relaxation: relaxation}
	s.current.Store(&BlockArray{})
	return s
}

// RegisterThread installs the per-thread state for tid. Must be called once
// per participating thread before it touches the shared LSM; composite queues
// reuse their dist-LSM thread ids here.
func (s *SharedLSM) RegisterThread(tid int32) {
	if tid < 0 || tid >= constants.MaxThreads {
		panic("sharedlsm: tid out of range")
	}
	s.locals[tid] = &threadLocal{
		pool: block.NewPool(tid),
		rng:  rand.New(rand.NewSource(utils.Mix64(uint64(tid) + 0x9e3779b97f4a7c15))),
	}
	for {
		n := s.numThreads.Load()
		if int32(tid) < n || s.numThreads.CompareAndSwap(n, tid+1) {
			return
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HAZARD PINS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// protect loads the current snapshot and publishes it in the caller's pin
// cell, re-validating so a concurrent publish cannot slip a retirement past
// the pin.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (s *SharedLSM) protect(tid int32) *BlockArray {
	for {
		cur := s.current.Load()
		s.pins[tid].p.Store(cur)
		if s.current.Load() == cur {
			return cur
		}
	}
}

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (s *SharedLSM) unpin(tid int32) {
	s.pins[tid].p.Store(nil)
}

// minPinnedGen returns the smallest generation any thread currently pins.
//
//go:nosplit
//go:inline
//go:registerparams
func (s *SharedLSM) minPinnedGen() uint64 {
	min := uint64(math.MaxUint64)
	n := s.numThreads.Load()
	for i := int32(0); i < n; i++ {
		if a := s.pins[i].p.Load(); a != nil && a.gen < min {
			min = a.gen
		}
	}
	return min
}

// reclaim returns retired blocks whose drop generation every pin has passed.
func (s *SharedLSM) reclaim(loc *threadLocal, tid int32) {
	if len(loc.retired) == 0 {
		return
	}
	min := s.minPinnedGen()
	kept := loc.retired[:0]
	for _, e := range loc.retired {
		if e.gen > min {
			kept = append(kept, e)
			continue
		}
		for _, b := range e.blocks {
			s.releaseToOwner(b, tid)
		}
	}
	loc.retired = kept
}

// releaseToOwner hands a block back to the pool that allocated it.
func (s *SharedLSM) releaseToOwner(b *block.Block, tid int32) {
	if b.Owner() == tid {
		s.locals[tid].pool.Release(b)
	} else {
		s.locals[b.Owner()].pool.ReleaseRemote(b)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSERT (PUBLISH)
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Insert publishes the live contents of src. The source block is only read:
// the caller keeps ownership and pools it afterwards. src must belong to the
// calling thread, so its live count can only shrink underneath the copy.
func (s *SharedLSM) Insert(tid int32, src *block.Block) {
	loc := s.locals[tid]
	s.reclaim(loc, tid)

	live := countLive(src)
	if live == 0 {
		return
	}
	nb := loc.pool.GetBlock(utils.CeilLog2(live))
	nb.Copy(src)
	if nb.Size() == 0 {
		loc.pool.Release(nb)
		return
	}

	for {
		cur := s.protect(tid)
		newBlocks, targets, dropped := s.buildSnapshot(cur.blocks, nb, loc.pool)
		na := &BlockArray{gen: s.genCtr.Add(1), blocks: newBlocks}

		if s.current.CompareAndSwap(cur, na) {
			s.unpin(tid)
			// Fresh intermediates that did not survive the collapse are ours
			// alone and recycle immediately; blocks dropped from the old
			// snapshot wait out the pins.
			for _, t := range targets {
				if !containsBlock(newBlocks, t) {
					loc.pool.Release(t)
				}
			}
			if !containsBlock(newBlocks, nb) {
				loc.pool.Release(nb)
			}
			if len(dropped) > 0 {
				loc.retired = append(loc.retired, retireEntry{gen: na.gen, blocks: dropped})
			}
			return
		}

		// Lost the race: every target is unpublished and private, so recycle
		// and rebuild against the new snapshot. nb survives for the retry —
		// merging only reads it.
		for _, t := range targets {
			loc.pool.Release(t)
		}
	}
}

// countLive scans the caller-owned source for still-owned slots.
func countLive(b *block.Block) uint64 {
	it := b.Iterator()
	var n uint64
	for tok := it.Next(); !tok.Empty(); tok = it.Next() {
		n++
	}
	return n
}

//go:nosplit
//go:inline
//go:registerparams
func containsBlock(arr []*block.Block, b *block.Block) bool {
	for _, x := range arr {
		if x == b {
			return true
		}
	}
	return false
}

// buildSnapshot splices nb into a copy of the staircase and collapses until
// powers strictly decrease. Returns the new block sequence, the merge targets
// allocated along the way, and the old-snapshot blocks that were merged away
// (still visible through the old snapshot, so retirement-only).
func (s *SharedLSM) buildSnapshot(curBlocks []*block.Block, nb *block.Block, pool *block.Pool) (newBlocks, targets, dropped []*block.Block) {
	arr := make([]*block.Block, 0, len(curBlocks)+1)
	arr = append(arr, curBlocks...)
	arr = insertByPower(arr, nb)

	for {
		i := equalPowerRun(arr)
		if i < 0 {
			break
		}
		// Maximal run of equal power starting at i.
		j := i + 1
		for j < len(arr) && arr[j].Power() == arr[i].Power() {
			j++
		}

		lm := block.NewLazyMerge(arr[i])
		for _, b := range arr[i+1 : j] {
			lm.Merge(b)
		}
		out := lm.Finalize(pool)

		// Sources leave the staircase: old-snapshot blocks retire, fresh ones
		// are the caller's to recycle (tracked via targets/nb).
		for _, b := range arr[i:j] {
			if b != out && containsBlock(curBlocks, b) {
				dropped = append(dropped, b)
			}
		}

		rest := append([]*block.Block{}, arr[j:]...)
		arr = append(arr[:i], rest...)
		if out != nil {
			targets = append(targets, out)
			arr = insertByPower(arr, out)
		}
	}
	return arr, targets, dropped
}

// insertByPower splices b in after every block of strictly greater power,
// keeping equal powers in arrival order for stable merges.
func insertByPower(arr []*block.Block, b *block.Block) []*block.Block {
	pos := len(arr)
	for i, x := range arr {
		if x.Power() < b.Power() {
			pos = i
			break
		}
	}
	arr = append(arr, nil)
	copy(arr[pos+1:], arr[pos:])
	arr[pos] = b
	return arr
}

// equalPowerRun returns the first index opening an equal-power adjacency, or
// -1 when the staircase is strictly decreasing.
func equalPowerRun(arr []*block.Block) int {
	for i := 0; i+1 < len(arr); i++ {
		if arr[i].Power() == arr[i+1].Power() {
			return i
		}
	}
	return -1
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PEEK / DELETE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Peek draws a token uniformly from the top-relaxation keys of the current
// snapshot. The pin is dropped before returning: the token claims through the
// item protocol, not through snapshot memory.
func (s *SharedLSM) Peek(tid int32) block.Peek {
	cur := s.protect(tid)
	tok := cur.peekCandidate(s.relaxation, s.locals[tid].rng)
	s.unpin(tid)
	return tok
}

// DeleteMin claims a relaxed minimum from the published blocks. Each lost
// claim race re-peeks (re-sampling the candidate set) up to the retry bound,
// then reports failure.
func (s *SharedLSM) DeleteMin(tid int32, out *uint64) bool {
	for i := 0; i < constants.SharedDeleteRetries; i++ {
		tok := s.Peek(tid)
		if tok.Empty() {
			return false
		}
		if tok.Take(out) {
			return true
		}
	}
	return false
}

// Relaxation returns the configured bound.
//
//go:nosplit
//go:inline
func (s *SharedLSM) Relaxation() int {
	return s.relaxation
}
