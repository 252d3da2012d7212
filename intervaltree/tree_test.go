// ============================================================================
// INTERVAL TREE VALIDATION SUITE
// ============================================================================
//
// Seed scenarios, the structural invariants (AVL balance, disjoint
// non-adjacent intervals, left-subtree counters), the order-statistic
// round-trip, and a deterministic fuzz against a brute-force oracle.

package intervaltree

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

// ============================================================================
// INVARIANT CHECKERS
// ============================================================================

// checkInvariants walks the whole tree verifying AVL balance, v counters,
// interval sanity and pairwise non-adjacency, and returns the total count.
func checkInvariants(t *testing.T, tr *Tree) uint64 {
	t.Helper()

	var intervals [][2]uint64
	var walk func(n *node) (uint64, int)
	walk = func(n *node) (uint64, int) {
		if n == nil {
			return 0, -1
		}
		require.LessOrEqual(t, n.k1, n.k2, "inverted interval")

		lc, lh := walk(n.l)
		require.Equal(t, lc, n.v, "left-subtree counter out of sync at [%d,%d]", n.k1, n.k2)
		intervals = append(intervals, [2]uint64{n.k1, n.k2})
		rc, rh := walk(n.r)

		bal := lh - rh
		require.True(t, bal >= -1 && bal <= 1, "AVL balance broken at [%d,%d]", n.k1, n.k2)
		h := lh
		if rh > lh {
			h = rh
		}
		require.Equal(t, h+1, height(n), "stale height at [%d,%d]", n.k1, n.k2)

		return lc + length(n) + rc, h + 1
	}
	total, _ := walk(tr.root)

	// The inorder walk must be sorted, disjoint, and non-adjacent.
	for i := 1; i < len(intervals); i++ {
		require.Greater(t, intervals[i][0], intervals[i-1][1]+1,
			"intervals %v and %v adjacent or overlapping", intervals[i-1], intervals[i])
	}

	require.Equal(t, total, tr.TotalTaken(), "total count out of sync")
	return total
}

// ============================================================================
// SEED SCENARIOS
// ============================================================================

// TestIntervalMerge: inserting 1, 3, 2 collapses into the single node [1,3].
func TestIntervalMerge(t *testing.T) {
	tr := New()
	for _, ix := range []uint64{1, 3, 2} {
		require.True(t, tr.Insert(ix))
	}

	require.NotNil(t, tr.root)
	require.Nil(t, tr.root.l)
	require.Nil(t, tr.root.r)
	require.Equal(t, uint64(1), tr.root.k1)
	require.Equal(t, uint64(3), tr.root.k2)
	require.Equal(t, uint64(0), tr.root.v)
	require.Equal(t, 0, height(tr.root))
	require.Equal(t, uint64(7), tr.NumUntakenBefore(10))
	checkInvariants(t, tr)
}

// TestSequentialThenGaps: 1..15 stay one node; 17, 19, 21 add balanced gap
// intervals. Index space is 0-based, so the untaken sequence runs
// 0, 16, 18, 20, 22, ...
func TestSequentialThenGaps(t *testing.T) {
	tr := New()
	for ix := uint64(1); ix <= 15; ix++ {
		require.True(t, tr.Insert(ix))
	}
	require.Nil(t, tr.root.l)
	require.Nil(t, tr.root.r)
	require.Equal(t, uint64(1), tr.root.k1)
	require.Equal(t, uint64(15), tr.root.k2)

	for _, ix := range []uint64{17, 19, 21} {
		require.True(t, tr.Insert(ix))
	}
	total := checkInvariants(t, tr)
	require.Equal(t, uint64(18), total)

	require.Equal(t, uint64(0), tr.NthUntakenIx(0))
	require.Equal(t, uint64(16), tr.NthUntakenIx(1))
	require.Equal(t, uint64(18), tr.NthUntakenIx(2))
	require.Equal(t, uint64(20), tr.NthUntakenIx(3))
	require.Equal(t, uint64(22), tr.NthUntakenIx(4))
}

// ============================================================================
// PROPERTIES
// ============================================================================

func TestDuplicateInsertRejected(t *testing.T) {
	tr := New()
	require.True(t, tr.Insert(5))
	require.False(t, tr.Insert(5))
	require.Equal(t, uint64(1), tr.TotalTaken())

	// Duplicates inside an already-merged run as well.
	require.True(t, tr.Insert(6))
	require.True(t, tr.Insert(4))
	require.False(t, tr.Insert(5))
	require.False(t, tr.Insert(4))
	require.False(t, tr.Insert(6))
	checkInvariants(t, tr)
}

// TestCountingIdentity: num_untaken_before(x) + taken_before(x) == x holds
// for every x, and equals x - total above all intervals.
func TestCountingIdentity(t *testing.T) {
	tr := New()
	for _, ix := range []uint64{2, 3, 4, 9, 10, 30} {
		require.True(t, tr.Insert(ix))
	}
	for x := uint64(0); x <= 40; x++ {
		require.Equal(t, x, tr.NumUntakenBefore(x)+tr.TakenBefore(x), "x=%d", x)
	}
	require.Equal(t, uint64(40)-tr.TotalTaken(), tr.NumUntakenBefore(40))
}

// TestRoundTrip: nth_untaken_ix(num_untaken_before(x)) == x for any x not in
// the tree.
func TestRoundTrip(t *testing.T) {
	tr := New()
	taken := map[uint64]bool{}
	for _, ix := range []uint64{1, 2, 3, 7, 9, 10, 11, 20} {
		require.True(t, tr.Insert(ix))
		taken[ix] = true
	}
	for x := uint64(0); x <= 30; x++ {
		if taken[x] {
			continue
		}
		require.Equal(t, x, tr.NthUntakenIx(tr.NumUntakenBefore(x)), "x=%d", x)
	}
}

func TestClearAndClone(t *testing.T) {
	tr := New()
	for _, ix := range []uint64{5, 1, 9} {
		require.True(t, tr.Insert(ix))
	}

	cp := tr.Clone()
	require.True(t, tr.Insert(2))
	require.False(t, cp.Insert(5), "clone lost an interval")
	require.True(t, cp.Insert(2), "mutating the original leaked into the clone")
	require.Equal(t, uint64(4), tr.TotalTaken())
	require.Equal(t, uint64(4), cp.TotalTaken())

	tr.Clear()
	require.Equal(t, uint64(0), tr.TotalTaken())
	require.Nil(t, tr.root)
	require.Equal(t, uint64(0), tr.NthUntakenIx(0))
	require.Equal(t, uint64(4), cp.TotalTaken(), "clear leaked into the clone")
}

// ============================================================================
// FUZZ VS ORACLE
// ============================================================================

// sha3Stream yields a deterministic index stream so failures replay exactly.
func sha3Stream(label string, n int, domain uint64) []uint64 {
	out := make([]uint64, 0, n)
	sum := sha3.Sum256([]byte(label))
	for len(out) < n {
		for i := 0; i+8 <= len(sum) && len(out) < n; i += 8 {
			var v uint64
			for b := 0; b < 8; b++ {
				v |= uint64(sum[i+b]) << (8 * b)
			}
			out = append(out, v%domain)
		}
		sum = sha3.Sum256(sum[:])
	}
	return out
}

func TestFuzzAgainstOracle(t *testing.T) {
	tr := New()
	oracle := map[uint64]bool{}

	for _, ix := range sha3Stream("itree-fuzz", 4000, 2048) {
		want := !oracle[ix]
		require.Equal(t, want, tr.Insert(ix), "insert %d", ix)
		oracle[ix] = true
	}
	checkInvariants(t, tr)

	sorted := make([]uint64, 0, len(oracle))
	for ix := range oracle {
		sorted = append(sorted, ix)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// TakenBefore against a prefix count at every boundary.
	for x := uint64(0); x <= 2080; x += 7 {
		var want uint64
		for _, ix := range sorted {
			if ix < x {
				want++
			}
		}
		require.Equal(t, want, tr.TakenBefore(x), "taken before %d", x)
	}

	// NthUntakenIx against a linear scan for the first thousand holes.
	var holes []uint64
	for x := uint64(0); len(holes) < 1000; x++ {
		if !oracle[x] {
			holes = append(holes, x)
		}
	}
	for n, want := range holes {
		require.Equal(t, want, tr.NthUntakenIx(uint64(n)), "nth untaken %d", n)
	}
}

// TestAscendingRuns exercises the extend path and rotation counters with
// long runs inserted in alternating directions.
func TestAscendingRuns(t *testing.T) {
	tr := New()
	n := uint64(0)
	for run := uint64(0); run < 64; run++ {
		base := run * 100
		if run%2 == 0 {
			for ix := base; ix < base+50; ix++ {
				require.True(t, tr.Insert(ix))
				n++
			}
		} else {
			for ix := base + 49; ; ix-- {
				require.True(t, tr.Insert(ix))
				n++
				if ix == base {
					break
				}
			}
		}
	}
	require.Equal(t, n, checkInvariants(t, tr))
}
