// ============================================================================
// ITEM PROTOCOL VALIDATION SUITE
// ============================================================================
//
// Covers the version parity protocol, single-claim semantics under real
// contention, and the allocator's reuse/growth behavior.
//
// Test categories:
//   - Parity transitions across initialize / take / reuse
//   - Claim races: exactly one winner per (item, version) capture
//   - Allocator ring scans, growth, and stale-token defusal

package item

import (
	"math/rand"
	"sync"
	"testing"

	"kpq/constants"
)

// ============================================================================
// VERSION PROTOCOL
// ============================================================================

func TestInitializeParity(t *testing.T) {
	var it Item
	if v := it.Version(); v != 0 {
		t.Fatalf("fresh item version = %d, want 0", v)
	}

	it.Initialize(42, 99)
	if v := it.Version(); v&1 != 1 {
		t.Fatalf("live item version = %d, want odd", v)
	}
	if k := it.Key(); k != 42 {
		t.Fatalf("key = %d, want 42", k)
	}
}

func TestTakeClaimsOnce(t *testing.T) {
	var it Item
	it.Initialize(7, 700)
	ver := it.Version()

	var out uint64
	if !it.Take(ver, &out) {
		t.Fatal("first take failed")
	}
	if out != 700 {
		t.Fatalf("took value %d, want 700", out)
	}
	if v := it.Version(); v&1 != 0 {
		t.Fatalf("taken item version = %d, want even", v)
	}

	// The same capture must never claim twice.
	if it.Take(ver, &out) {
		t.Fatal("second take with the same expected version succeeded")
	}
}

func TestStaleTokenFailsAfterReuse(t *testing.T) {
	var it Item
	it.Initialize(1, 10)
	stale := it.Version()

	var out uint64
	if !it.Take(stale, &out) {
		t.Fatal("claim failed")
	}

	// Reuse the slot; the stale capture must lose.
	it.Initialize(2, 20)
	if it.Take(stale, &out) {
		t.Fatal("stale token claimed a reused slot")
	}

	if !it.Take(it.Version(), &out) || out != 20 {
		t.Fatalf("fresh claim failed or wrong value: %d", out)
	}
}

// TestClaimRace drives many two-party claim races: for every capture exactly
// one contender wins.
func TestClaimRace(t *testing.T) {
	const rounds = 10000
	var it Item

	for i := 0; i < rounds; i++ {
		it.Initialize(uint32(i), uint64(i))
		ver := it.Version()

		var wins int32
		var wg sync.WaitGroup
		results := make([]bool, 2)
		wg.Add(2)
		for g := 0; g < 2; g++ {
			go func(g int) {
				defer wg.Done()
				var out uint64
				results[g] = it.Take(ver, &out)
			}(g)
		}
		wg.Wait()

		for _, won := range results {
			if won {
				wins++
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d winners, want exactly 1", i, wins)
		}
	}
}

// ============================================================================
// ALLOCATOR
// ============================================================================

func TestAllocatorGrowsWhenExhausted(t *testing.T) {
	a := NewAllocator()
	if a.Capacity() != constants.ItemChunkSize {
		t.Fatalf("initial capacity = %d, want %d", a.Capacity(), constants.ItemChunkSize)
	}

	// Pin every slot live: the next acquire must grow the arena.
	for i := 0; i < constants.ItemChunkSize; i++ {
		it := a.Acquire()
		it.Initialize(uint32(i), uint64(i))
	}
	it := a.Acquire()
	if a.Capacity() != 2*constants.ItemChunkSize {
		t.Fatalf("capacity after growth = %d, want %d", a.Capacity(), 2*constants.ItemChunkSize)
	}
	it.Initialize(0, 0)
}

func TestAllocatorReusesFreedSlots(t *testing.T) {
	a := NewAllocator()

	live := make([]*Item, constants.ItemChunkSize)
	for i := range live {
		live[i] = a.Acquire()
		live[i].Initialize(uint32(i), uint64(i))
	}

	// Free one slot through a claim; the ring scan must hand it back out
	// instead of growing.
	var out uint64
	victim := live[137]
	if !victim.Take(victim.Version(), &out) {
		t.Fatal("claim failed")
	}

	got := a.Acquire()
	if got != victim {
		t.Fatal("allocator grew instead of reusing the freed slot")
	}
	if a.Capacity() != constants.ItemChunkSize {
		t.Fatalf("capacity = %d, want unchanged %d", a.Capacity(), constants.ItemChunkSize)
	}
}

// ============================================================================
// STRESS
// ============================================================================

// TestAllocatorChurn cycles acquire/initialize/take through several chunk
// generations and verifies no slot is ever handed out live.
func TestAllocatorChurn(t *testing.T) {
	a := NewAllocator()
	r := rand.New(rand.NewSource(1))

	var live []*Item
	for i := 0; i < 100000; i++ {
		if len(live) > 0 && r.Intn(2) == 0 {
			j := r.Intn(len(live))
			it := live[j]
			var out uint64
			if !it.Take(it.Version(), &out) {
				t.Fatal("claim of live item failed")
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		it := a.Acquire()
		if it.Version()&1 != 0 {
			t.Fatal("allocator handed out a live slot")
		}
		it.Initialize(uint32(i), uint64(i))
		live = append(live, it)
	}
}
