// ════════════════════════════════════════════════════════════════════════════════════════════════
// Rank-Error Evaluator
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Sequential Replay Against a Reference Queue
//
// Description:
//   Merges the per-thread logs into globally tick-sorted insertion and deletion streams, then
//   replays time forward against an exact reference: emit every insertion up to the next
//   deletion's tick, then every deletion up to the next insertion's tick. Each deletion's rank
//   error is the number of elements that were live and strictly smaller at that moment.
//
//   The reference is two interval trees over key-order positions: one marks positions inserted
//   so far, one positions already deleted. rank = takenBefore(ins, p) - takenBefore(del, p),
//   with p the first key-order position of the deleted key, so equal keys never count toward
//   each other's rank.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package quality

import (
	"errors"
	"math"
	"sort"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/sugawarayuuta/sonnet"

	"kpq/intervaltree"
)

// Stats summarizes the recorded rank errors.
type Stats struct {
	Count  uint64  `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Max    uint64  `json:"max"`
	P50    int64   `json:"p50"`
	P90    int64   `json:"p90"`
	P99    int64   `json:"p99"`
}

// Report is the evaluator's output, JSON-encodable for the bench driver.
type Report struct {
	Inserts   uint64 `json:"inserts"`
	Deletes   uint64 `json:"deletes"`
	RankError Stats  `json:"rank_error"`
}

// JSON encodes the report for the bench driver's result emission.
func (r *Report) JSON() ([]byte, error) {
	return sonnet.Marshal(r)
}

var (
	errUnknownElement = errors.New("quality: deletion of an element never inserted")
	errDoubleDelete   = errors.New("quality: element deleted twice")
	errDuplicateID    = errors.New("quality: duplicate packed id in insertion log")
)

// Evaluate replays the log set and returns the rank-error distribution.
// Recording threads must be quiesced.
func Evaluate(ls *LogSet) (*Report, error) {
	ins := mergeInserts(ls.Threads())
	dels := mergeDeletes(ls.Threads())
	n := len(ins)

	// Key-order positions: stable by (key, insertion time).
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if ins[ia].Key != ins[ib].Key {
			return ins[ia].Key < ins[ib].Key
		}
		return ia < ib
	})
	pos := make([]uint64, n)
	sortedKeys := make([]uint32, n)
	for r, ti := range idx {
		pos[ti] = uint64(r)
		sortedKeys[r] = ins[ti].Key
	}

	// Packed id → dense time id. Ids are biased by one: zero is the map's
	// empty sentinel and (tid=0, eid=0) is a legal identity.
	ids := newIDMap(n)
	for i, rec := range ins {
		if ids.Contains(uint64(rec.ID) + 1) {
			return nil, errDuplicateID
		}
		ids.Put(uint64(rec.ID)+1, uint64(i))
	}

	treeIns := intervaltree.New()
	treeDel := intervaltree.New()
	ranks := make([]uint64, 0, len(dels))

	ti := 0
	for di := 0; di < len(dels); {
		for ti < n && ins[ti].Tick <= dels[di].Tick {
			if !treeIns.Insert(pos[ti]) {
				return nil, errDuplicateID
			}
			ti++
		}
		for di < len(dels) && (ti >= n || dels[di].Tick < ins[ti].Tick) {
			timeID, ok := ids.Get(uint64(dels[di].ID) + 1)
			if !ok {
				return nil, errUnknownElement
			}
			key := ins[timeID].Key
			p := uint64(sort.Search(n, func(i int) bool { return sortedKeys[i] >= key }))

			rank := treeIns.TakenBefore(p) - treeDel.TakenBefore(p)
			ranks = append(ranks, rank)

			if !treeDel.Insert(pos[timeID]) {
				return nil, errDoubleDelete
			}
			di++
		}
	}

	return &Report{
		Inserts:   uint64(n),
		Deletes:   uint64(len(dels)),
		RankError: summarize(ranks),
	}, nil
}

// summarize computes exact mean/max/stddev and histogram quantiles.
func summarize(ranks []uint64) Stats {
	var s Stats
	s.Count = uint64(len(ranks))
	if s.Count == 0 {
		return s
	}

	bound := int64(len(ranks))
	if bound < 2 {
		bound = 2
	}
	h := hdrhistogram.New(1, bound, 3)

	var sum, sumSq float64
	for _, r := range ranks {
		if r > s.Max {
			s.Max = r
		}
		f := float64(r)
		sum += f
		sumSq += f * f
		h.RecordValue(int64(r))
	}
	mean := sum / float64(s.Count)
	s.Mean = mean
	s.StdDev = math.Sqrt(sumSq/float64(s.Count) - mean*mean)
	s.P50 = h.ValueAtQuantile(50)
	s.P90 = h.ValueAtQuantile(90)
	s.P99 = h.ValueAtQuantile(99)
	return s
}

// ─────────────────────────── tick-order stream merge ───────────────────────

// mergeInserts produces the globally tick-sorted insertion stream via a
// min-heap over per-thread head cursors.
func mergeInserts(threads []*ThreadLog) []InsertRecord {
	type cursor struct {
		recs []InsertRecord
		i    int
	}
	heads := make([]cursor, 0, len(threads))
	total := 0
	for _, tl := range threads {
		total += len(tl.Inserts)
		if len(tl.Inserts) > 0 {
			heads = append(heads, cursor{recs: tl.Inserts})
		}
	}
	less := func(a, b *cursor) bool { return a.recs[a.i].Tick < b.recs[b.i].Tick }
	siftDown := func(h []cursor, i int) {
		for {
			l, r, min := 2*i+1, 2*i+2, i
			if l < len(h) && less(&h[l], &h[min]) {
				min = l
			}
			if r < len(h) && less(&h[r], &h[min]) {
				min = r
			}
			if min == i {
				return
			}
			h[i], h[min] = h[min], h[i]
			i = min
		}
	}
	for i := len(heads)/2 - 1; i >= 0; i-- {
		siftDown(heads, i)
	}

	out := make([]InsertRecord, 0, total)
	for len(heads) > 0 {
		h := &heads[0]
		out = append(out, h.recs[h.i])
		h.i++
		if h.i == len(h.recs) {
			heads[0] = heads[len(heads)-1]
			heads = heads[:len(heads)-1]
		}
		siftDown(heads, 0)
	}
	return out
}

// mergeDeletes is the deletion-stream counterpart of mergeInserts.
func mergeDeletes(threads []*ThreadLog) []DeleteRecord {
	type cursor struct {
		recs []DeleteRecord
		i    int
	}
	heads := make([]cursor, 0, len(threads))
	total := 0
	for _, tl := range threads {
		total += len(tl.Deletes)
		if len(tl.Deletes) > 0 {
			heads = append(heads, cursor{recs: tl.Deletes})
		}
	}
	less := func(a, b *cursor) bool { return a.recs[a.i].Tick < b.recs[b.i].Tick }
	siftDown := func(h []cursor, i int) {
		for {
			l, r, min := 2*i+1, 2*i+2, i
			if l < len(h) && less(&h[l], &h[min]) {
				min = l
			}
			if r < len(h) && less(&h[r], &h[min]) {
				min = r
			}
			if min == i {
				return
			}
			h[i], h[min] = h[min], h[i]
			i = min
		}
	}
	for i := len(heads)/2 - 1; i >= 0; i-- {
		siftDown(heads, i)
	}

	out := make([]DeleteRecord, 0, total)
	for len(heads) > 0 {
		h := &heads[0]
		out = append(out, h.recs[h.i])
		h.i++
		if h.i == len(h.recs) {
			heads[0] = heads[len(heads)-1]
			heads = heads[:len(heads)-1]
		}
		siftDown(heads, 0)
	}
	return out
}
