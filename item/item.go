// ════════════════════════════════════════════════════════════════════════════════════════════════
// Versioned Item Slot
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Single-Claim Item Protocol
//
// Description:
//   An item is a (key, value, version) slot that many threads may observe but at most one may
//   claim. The version counter carries the claim protocol: even versions mark a free slot, odd
//   versions a live one. A reader that captured (item, version) while the item was live claims
//   it with a single CAS; any reuse of the slot bumps the version first, so stale claims fail.
//
// Protocol:
//   - Initialize: even → odd (+1), fields written before the version becomes visible
//   - Take:       odd → even (+1) via CAS on the captured version
//   - Reuse:      allocator hands out even-version slots only; Initialize re-arms them
//
// Safety model:
//   - Version width is 64 bits; a slot would need 2^63 reuse cycles inside the lifetime of a
//     single claim token before ABA could bite, which does not happen.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package item

import "sync/atomic"

// Item is one claimable slot. Items are owned by the per-thread allocator that
// created them and are never freed; liveness is tracked entirely through the
// version parity. Key and value are atomics only so that racing foreign
// readers observe whole words; the version protocol is what makes a read
// meaningful.
type Item struct {
	version atomic.Uint64 // even = free, odd = live
	value   atomic.Uint64
	key     atomic.Uint32
	_       [4]byte // keep the struct at 24 bytes, value/version 8-byte aligned
}

// Initialize arms a free slot with a new key/value pair and advances the
// version to the next odd value. Caller must own the slot (allocator hand-out)
// and the current version must be even.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (it *Item) Initialize(key uint32, value uint64) {
	v := it.version.Load()
	if v&1 != 0 {
		panic("item: Initialize on live slot")
	}
	it.key.Store(key)
	it.value.Store(value)
	// The version store publishes the fields: claimers validate against the
	// version they captured, never against fields alone.
	it.version.Store(v + 1)
}

// Key returns the slot's current key. Only meaningful together with a version
// captured while the slot was live.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (it *Item) Key() uint32 {
	return it.key.Load()
}

// Version returns the current version with acquire semantics.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (it *Item) Version() uint64 {
	return it.version.Load()
}

// Take attempts the single claim: it CASes the version from expected (odd) to
// expected+1 (even). On success the value as of the capture is written to out
// and true is returned. On version mismatch the claim is lost and false is
// returned; the caller must not retry with the same expectation.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (it *Item) Take(expected uint64, out *uint64) bool {
	// Read the value before the CAS: the moment the CAS lands, the owner may
	// reuse the slot and overwrite it. Success certifies the version was
	// stable across the read, which pins the value read above to this claim.
	v := it.value.Load()
	if !it.version.CompareAndSwap(expected, expected+1) {
		return false
	}
	*out = v
	return true
}
