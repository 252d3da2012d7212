// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ ROBIN HOOD ID MAP
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Fixed-Capacity (thread, element) → dense-id Map
//
// Description:
//   Zero-allocation hash table using Robin Hood displacement, sized once from the replay's
//   insertion count. Parallel key/value arrays, power-of-2 capacity, zero as the empty
//   sentinel (callers bias packed ids by one). Single-threaded: the evaluator owns it.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package quality

import "kpq/utils"

// idMap is a fixed-capacity Robin Hood hash map for the replay engine.
type idMap struct {
	keys []uint64 // 0 = empty sentinel
	vals []uint64 // parallel to keys
	mask uint64
}

// newIDMap sizes the table at double the expected population, rounded up to
// a power of two, so probe chains stay short at the final load factor.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func newIDMap(capacity int) idMap {
	if capacity < 1 {
		capacity = 1
	}
	sz := utils.CeilPow2(uint64(capacity) * 2)
	return idMap{
		keys: make([]uint64, sz),
		vals: make([]uint64, sz),
		mask: sz - 1,
	}
}

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (h *idMap) slot(key uint64) uint64 {
	return utils.Mix64(key) & h.mask
}

// distance returns how far a stored key sits from its ideal slot.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (h *idMap) distance(key, at uint64) uint64 {
	return (at - h.slot(key)) & h.mask
}

// Put inserts a key/value pair, displacing richer entries as it probes. Keys
// must be nonzero and must not repeat.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (h *idMap) Put(key, val uint64) {
	if key == 0 {
		panic("quality: zero key in id map")
	}
	i := h.slot(key)
	var dist uint64
	for {
		if h.keys[i] == 0 {
			h.keys[i] = key
			h.vals[i] = val
			return
		}
		if h.keys[i] == key {
			panic("quality: duplicate key in id map")
		}
		if ex := h.distance(h.keys[i], i); ex < dist {
			h.keys[i], key = key, h.keys[i]
			h.vals[i], val = val, h.vals[i]
			dist = ex
		}
		i = (i + 1) & h.mask
		dist++
	}
}

// Get looks a key up. The Robin Hood ordering lets the probe stop as soon as
// it passes the key's possible displacement.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (h *idMap) Get(key uint64) (uint64, bool) {
	i := h.slot(key)
	var dist uint64
	for {
		switch {
		case h.keys[i] == key:
			return h.vals[i], true
		case h.keys[i] == 0, h.distance(h.keys[i], i) < dist:
			return 0, false
		}
		i = (i + 1) & h.mask
		dist++
	}
}

// Contains reports membership without the value.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func (h *idMap) Contains(key uint64) bool {
	_, ok := h.Get(key)
	return ok
}
