// ════════════════════════════════════════════════════════════════════════════════════════════════
// Dist-LSM Facade
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Thread Registry & Standalone Queue Variant
//
// Description:
//   The facade owns the thread registry: a fixed array of per-thread locals indexed by stable
//   thread ids handed out at registration. A handle returned by InitThread is the registry-slot
//   lookup performed once; all queue traffic flows through it. Standalone, the dist-LSM is a
//   queue variant whose only cross-thread element flow is spy.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package distlsm

import (
	"sync/atomic"

	"kpq/constants"
	"kpq/types"
)

// Dist is the dist-LSM thread registry. One instance per queue.
type Dist struct {
	locals     [constants.MaxThreads]atomic.Pointer[Local]
	numThreads atomic.Int32
	relaxation int
}

// New returns an empty registry for a queue with the given relaxation bound.
func New(relaxation int) *Dist {
	return &Dist{relaxation: relaxation}
}

// Register allocates the next thread id and installs a fresh local for the
// calling goroutine. Composite queues build their own handles around it.
func (d *Dist) Register() *Local {
	tid := d.numThreads.Add(1) - 1
	if tid >= constants.MaxThreads {
		panic("distlsm: thread registry full")
	}
	l := newLocal(tid, d.relaxation)
	d.locals[tid].Store(l)
	return l
}

// Relaxation returns the configured bound.
//
//go:nosplit
//go:inline
func (d *Dist) Relaxation() int {
	return d.relaxation
}

// InitThread registers the calling goroutine and returns its handle.
func (d *Dist) InitThread(numThreads int) types.ThreadHandle {
	_ = numThreads // the registry is sized statically; the count is advisory
	return &Thread{d: d, l: d.Register()}
}

// SupportsConcurrency reports that handles may be registered from many
// goroutines.
//
//go:nosplit
//go:inline
func (d *Dist) SupportsConcurrency() bool {
	return true
}

// Thread is the per-goroutine handle for the standalone dist-LSM variant.
type Thread struct {
	d *Dist
	l *Local
}

// Insert adds a key/value pair to the owning thread's pile.
//
//go:inline
//go:registerparams
func (t *Thread) Insert(key uint32, value uint64) {
	t.l.Insert(key, value, nil)
}

// DeleteMin claims the smallest observable element, spying a random peer when
// the local pile runs dry.
//
//go:inline
//go:registerparams
func (t *Thread) DeleteMin(value *uint64) bool {
	return t.l.DeleteMin(t.d, value)
}
