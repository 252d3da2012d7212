// ════════════════════════════════════════════════════════════════════════════════════════════════
// Quality Logs
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Per-Thread Operation Records
//
// Description:
//   When quality logging is on, every thread appends an insertion record (key + packed id) and
//   a deletion record (packed id) per operation, stamped with a tick drawn from the log set's
//   shared counter. The shared counter is what makes ticks comparable across threads: the
//   evaluator's global merge sorts by it, and per-thread streams are tick-sorted by
//   construction. Records stay thread-owned until shutdown; the evaluator reads them quiesced.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package quality

import (
	"sync/atomic"

	"kpq/constants"
	"kpq/types"
)

// InsertRecord captures one insertion: the key and the packed identity the
// value carried.
type InsertRecord struct {
	Key  uint32
	ID   types.PackedItemID
	Tick uint64
}

// DeleteRecord captures one successful delete-min by packed identity.
type DeleteRecord struct {
	ID   types.PackedItemID
	Tick uint64
}

// LogSet owns the tick source and the per-thread logs of one queue.
type LogSet struct {
	tick atomic.Uint64
	n    atomic.Int32
	logs [constants.MaxThreads]*ThreadLog
}

// NewLogSet returns an empty log set.
func NewLogSet() *LogSet {
	return &LogSet{}
}

// NewThreadLog registers and returns the calling thread's log.
func (ls *LogSet) NewThreadLog() *ThreadLog {
	i := ls.n.Add(1) - 1
	if i >= constants.MaxThreads {
		panic("quality: log registry full")
	}
	tl := &ThreadLog{
		ls:      ls,
		Inserts: make([]InsertRecord, 0, constants.QualityLogPrealloc),
		Deletes: make([]DeleteRecord, 0, constants.QualityLogPrealloc),
	}
	ls.logs[i] = tl
	return tl
}

// Threads returns the registered logs. Callers must have quiesced all
// recording threads first.
func (ls *LogSet) Threads() []*ThreadLog {
	n := int(ls.n.Load())
	out := make([]*ThreadLog, 0, n)
	for i := 0; i < n; i++ {
		if tl := ls.logs[i]; tl != nil {
			out = append(out, tl)
		}
	}
	return out
}

// ThreadLog is one thread's record vectors. Appends are owner-thread only.
type ThreadLog struct {
	ls      *LogSet
	Inserts []InsertRecord
	Deletes []DeleteRecord
}

// RecordInsert stamps and appends an insertion record.
//
//go:inline
func (tl *ThreadLog) RecordInsert(key uint32, id types.PackedItemID) {
	tl.Inserts = append(tl.Inserts, InsertRecord{Key: key, ID: id, Tick: tl.ls.tick.Add(1)})
}

// RecordDelete stamps and appends a deletion record.
//
//go:inline
func (tl *ThreadLog) RecordDelete(id types.PackedItemID) {
	tl.Deletes = append(tl.Deletes, DeleteRecord{ID: id, Tick: tl.ls.tick.Add(1)})
}
