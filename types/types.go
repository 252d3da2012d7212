package types

// ============================================================================
// SHARED QUEUE TYPES - PACKED IDENTITIES AND CAPABILITY SURFACE
// ============================================================================

// PackedItemID encodes a (thread id, element id) pair into a single uint64
// value. When quality logging is enabled, benchmark values ARE packed ids so
// that a delete-min result can be traced back to its insertion record.
//
// Layout: thread id in the high 32 bits, per-thread element id in the low 32.
type PackedItemID uint64

// Pack combines a thread id and a per-thread element id.
//
//go:inline
func Pack(tid, eid uint32) PackedItemID {
	return PackedItemID(uint64(tid)<<32 | uint64(eid))
}

// Unpack splits a packed id back into its (thread id, element id) pair.
//
//go:inline
func (p PackedItemID) Unpack() (tid, eid uint32) {
	return uint32(p >> 32), uint32(p)
}

// ============================================================================
// CAPABILITY SURFACE - POLYMORPHIC QUEUE ACCESS
// ============================================================================

// ThreadHandle is the per-thread view of a queue. All operations are owned by
// the registering goroutine; handles must not be shared.
type ThreadHandle interface {
	// Insert adds a key/value pair. It never fails.
	Insert(key uint32, value uint64)

	// DeleteMin removes an element within the queue's relaxation bound of
	// the minimum. It reports false when no element is observable to the
	// caller; that is an empty-or-contended outcome, not an error.
	DeleteMin(value *uint64) bool
}

// PriorityQueue is the capability set shared by every queue variant. The
// benchmark driver is polymorphic over this interface; no variant requires
// more surface than this.
type PriorityQueue interface {
	// InitThread registers the calling goroutine and returns its handle.
	// numThreads is the total number of threads that will participate and
	// must be identical across all registrations on one queue.
	InitThread(numThreads int) ThreadHandle

	// SupportsConcurrency reports whether handles may be registered from
	// more than one goroutine.
	SupportsConcurrency() bool
}
