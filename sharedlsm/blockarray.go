// ════════════════════════════════════════════════════════════════════════════════════════════════
// Block Array Snapshot
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Immutable Published Block Staircase
//
// Description:
//   A snapshot is an ordered sequence of published blocks with strictly decreasing power: the
//   staircase. Snapshots are immutable after publication; every modification builds a new one
//   and swaps the queue-global pointer. Peeking walks the staircase's merged key order and
//   reservoir-samples one of the top-k tokens, which is where the relaxation comes from: the
//   returned element is uniform over the k best currently observable keys.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sharedlsm

import (
	"golang.org/x/exp/rand"

	"kpq/block"
	"kpq/constants"
)

// BlockArray is one immutable snapshot. gen is assigned at publication and
// strictly increases along the CAS chain; the retirement protocol keys on it.
type BlockArray struct {
	gen    uint64
	blocks []*block.Block
}

// Gen returns the snapshot's publication generation.
//
//go:nosplit
//go:inline
func (a *BlockArray) Gen() uint64 {
	return a.gen
}

// Len returns the staircase length.
//
//go:nosplit
//go:inline
func (a *BlockArray) Len() int {
	return len(a.blocks)
}

// walkCursor pairs a block iterator with its current token for the top-k walk.
type walkCursor struct {
	it  block.SpyIterator
	tok block.Peek
	seq int
}

// peekCandidate merges the staircase's per-block key orders and returns one
// token drawn uniformly from the top k. Reservoir sampling keeps the walk
// allocation-free: candidate i replaces the choice with probability 1/(i+1).
// Returns an empty token when no block holds a live slot.
func (a *BlockArray) peekCandidate(k int, rng *rand.Rand) block.Peek {
	if k < 1 {
		k = 1 // a strict queue still yields exactly the minimum
	}
	var heads [constants.MaxBlockArrayLen]walkCursor
	count := 0
	for seq, b := range a.blocks {
		it := b.Iterator()
		tok := it.Next()
		if !tok.Empty() {
			heads[count] = walkCursor{it: it, tok: tok, seq: seq}
			count++
		}
	}
	if count == 0 {
		return block.Peek{}
	}

	for i := count/2 - 1; i >= 0; i-- {
		siftDownCursors(heads[:count], i)
	}

	var chosen block.Peek
	for i := 0; i < k && count > 0; i++ {
		h := &heads[0]
		if rng.Intn(i+1) == 0 {
			chosen = h.tok
		}
		h.tok = h.it.Next()
		if h.tok.Empty() {
			heads[0] = heads[count-1]
			count--
		}
		siftDownCursors(heads[:count], 0)
	}
	return chosen
}

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func cursorLess(a, b *walkCursor) bool {
	if a.tok.Key != b.tok.Key {
		return a.tok.Key < b.tok.Key
	}
	return a.seq < b.seq
}

//go:nosplit
//go:inline
//go:registerparams
func siftDownCursors(h []walkCursor, i int) {
	for {
		l, r := 2*i+1, 2*i+2
		min := i
		if l < len(h) && cursorLess(&h[l], &h[min]) {
			min = l
		}
		if r < len(h) && cursorLess(&h[r], &h[min]) {
			min = r
		}
		if min == i {
			return
		}
		h[i], h[min] = h[min], h[i]
		i = min
	}
}
