// ════════════════════════════════════════════════════════════════════════════════════════════════
// k-LSM Facade
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Dist + Shared Composition
//
// Description:
//   The k-LSM pairs every thread's dist-LSM local with one queue-global shared LSM. Inserts
//   stay private until a merge result crosses half the relaxation bound, at which point it is
//   published for everyone to claim from. Delete-min peeks both halves, the local minimum and
//   a uniformly random pick from the shared array's top-k, and claims the smaller key; only
//   when both halves are empty does it spy a random peer before giving up.
//
// Relaxation contract:
//   Any key returned is within the top k+1 live keys at the claim's linearization point, k
//   being the configured relaxation constant.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package klsm

import (
	"kpq/block"
	"kpq/constants"
	"kpq/distlsm"
	"kpq/quality"
	"kpq/sharedlsm"
	"kpq/types"
)

// KLSM is one relaxed priority queue instance.
type KLSM struct {
	dist       *distlsm.Dist
	shared     *sharedlsm.SharedLSM
	logs       *quality.LogSet
	relaxation int
}

// New returns a k-LSM with the given relaxation bound.
func New(relaxation int) *KLSM {
	return &KLSM{
		dist:       distlsm.New(relaxation),
		shared:     sharedlsm.New(relaxation),
		relaxation: relaxation,
	}
}

// New16 through New4096 are the classic presets.
func New16() *KLSM { return New(constants.Relaxation16) }

func New128() *KLSM { return New(constants.Relaxation128) }

func New256() *KLSM { return New(constants.Relaxation256) }

func New4096() *KLSM { return New(constants.Relaxation4096) }

// Relaxation returns the configured bound.
//
//go:nosplit
//go:inline
func (q *KLSM) Relaxation() int {
	return q.relaxation
}

// EnableQualityLogging attaches a log set. Must be called before any
// InitThread; handles registered afterwards record every operation. When
// logging, callers should carry packed item ids as values so deletions trace
// back to insertions.
func (q *KLSM) EnableQualityLogging() *quality.LogSet {
	q.logs = quality.NewLogSet()
	return q.logs
}

// QualityLogs returns the attached log set, or nil when logging is off.
//
//go:nosplit
//go:inline
func (q *KLSM) QualityLogs() *quality.LogSet {
	return q.logs
}

// InitThread registers the calling goroutine with both halves and returns its
// handle.
func (q *KLSM) InitThread(numThreads int) types.ThreadHandle {
	_ = numThreads // registries are sized statically; the count is advisory
	l := q.dist.Register()
	q.shared.RegisterThread(l.Tid())
	t := &Thread{q: q, l: l, tid: l.Tid()}
	if q.logs != nil {
		t.log = q.logs.NewThreadLog()
	}
	return t
}

// SupportsConcurrency reports that handles may be registered from many
// goroutines.
//
//go:nosplit
//go:inline
func (q *KLSM) SupportsConcurrency() bool {
	return true
}

// Thread is a per-goroutine handle. Not shareable.
type Thread struct {
	q   *KLSM
	l   *distlsm.Local
	log *quality.ThreadLog
	tid int32
}

// Insert adds a key/value pair. Never fails.
//
//go:inline
//go:registerparams
func (t *Thread) Insert(key uint32, value uint64) {
	// Log before the element becomes claimable: a concurrent delete-min may
	// land the moment the insert is visible, and its record must carry a
	// later tick than ours.
	if t.log != nil {
		t.log.RecordInsert(key, types.PackedItemID(value))
	}
	t.l.Insert(key, value, t.q.shared)
}

// DeleteMin claims an element within the relaxation bound of the minimum.
//
//go:inline
//go:registerparams
func (t *Thread) DeleteMin(value *uint64) bool {
	ok := t.deleteMin(value)
	if ok && t.log != nil {
		t.log.RecordDelete(types.PackedItemID(*value))
	}
	return ok
}

func (t *Thread) deleteMin(out *uint64) bool {
	for attempt := 0; attempt < constants.SharedDeleteRetries; attempt++ {
		// Peek both halves and claim the smaller candidate. Taking the local
		// token unconditionally would breach the relaxation bound the moment
		// smaller keys sit published; the comparison is what keeps every
		// claim inside the top k+1.
		var local block.Peek
		t.l.Peek(&local)
		shared := t.q.shared.Peek(t.tid)

		var cand block.Peek
		switch {
		case local.Empty() && shared.Empty():
			// Starved: raid one random peer's pile before giving up.
			if t.l.Spy(t.q.dist) > 0 {
				continue
			}
			return false
		case local.Empty():
			cand = shared
		case shared.Empty():
			cand = local
		case shared.Key < local.Key:
			cand = shared
		default:
			cand = local
		}

		if cand.Take(out) {
			return true
		}
		// Lost the claim race; re-peek re-samples both halves.
	}
	return false
}
