// ============================================================================
// QUALITY EVALUATOR VALIDATION SUITE
// ============================================================================
//
// The S-series seed replay, tick-merge ordering across threads, corrupt-log
// rejection, and a randomized comparison against a brute-force O(n^2) rank
// oracle.

package quality

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"kpq/types"
)

// mkLog registers a thread log and fills it with pre-stamped records.
func mkLog(ls *LogSet, ins []InsertRecord, dels []DeleteRecord) {
	tl := ls.NewThreadLog()
	tl.Inserts = append(tl.Inserts, ins...)
	tl.Deletes = append(tl.Deletes, dels...)
}

// ============================================================================
// SEED SCENARIO
// ============================================================================

// TestSeedReplay: key 10 inserted at t1, deleted at t2 while it is the only
// live element; key 5 arrives at t3. Rank must be exactly 0.
func TestSeedReplay(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{
			{Key: 10, ID: types.Pack(0, 0), Tick: 1},
			{Key: 5, ID: types.Pack(0, 1), Tick: 3},
		},
		[]DeleteRecord{
			{ID: types.Pack(0, 0), Tick: 2},
		},
	)

	rep, err := Evaluate(ls)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rep.Inserts)
	require.Equal(t, uint64(1), rep.Deletes)
	require.Equal(t, uint64(1), rep.RankError.Count)
	require.Equal(t, float64(0), rep.RankError.Mean)
	require.Equal(t, uint64(0), rep.RankError.Max)
	require.Equal(t, float64(0), rep.RankError.StdDev)
}

// TestRankCountsSmallerLive: deleting the largest of three live keys yields
// rank 2; equal keys never count toward each other.
func TestRankCountsSmallerLive(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{
			{Key: 1, ID: types.Pack(0, 0), Tick: 1},
			{Key: 2, ID: types.Pack(0, 1), Tick: 2},
			{Key: 9, ID: types.Pack(0, 2), Tick: 3},
			{Key: 9, ID: types.Pack(0, 3), Tick: 4},
		},
		[]DeleteRecord{
			{ID: types.Pack(0, 2), Tick: 5}, // rank 2: keys 1 and 2 live, the twin 9 does not count
			{ID: types.Pack(0, 0), Tick: 6}, // rank 0
		},
	)

	rep, err := Evaluate(ls)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rep.RankError.Count)
	require.Equal(t, uint64(2), rep.RankError.Max)
	require.Equal(t, float64(1), rep.RankError.Mean)
}

// ============================================================================
// MERGE ORDERING
// ============================================================================

// TestCrossThreadMerge interleaves two threads' logs by tick and checks the
// replay respects global time, not per-thread order.
func TestCrossThreadMerge(t *testing.T) {
	ls := NewLogSet()
	// Thread 0 inserts the large key early and deletes it late.
	mkLog(ls,
		[]InsertRecord{{Key: 100, ID: types.Pack(0, 0), Tick: 1}},
		[]DeleteRecord{{ID: types.Pack(0, 0), Tick: 6}},
	)
	// Thread 1 fills in smaller keys in between.
	mkLog(ls,
		[]InsertRecord{
			{Key: 10, ID: types.Pack(1, 0), Tick: 2},
			{Key: 20, ID: types.Pack(1, 1), Tick: 3},
			{Key: 30, ID: types.Pack(1, 2), Tick: 4},
		},
		[]DeleteRecord{{ID: types.Pack(1, 1), Tick: 5}},
	)

	rep, err := Evaluate(ls)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rep.RankError.Count)
	// Tick 5 deletes key 20 with 10 live below it: rank 1.
	// Tick 6 deletes key 100 with 10 and 30 live below it: rank 2.
	require.Equal(t, uint64(2), rep.RankError.Max)
	require.Equal(t, float64(1.5), rep.RankError.Mean)
}

// ============================================================================
// CORRUPT LOGS
// ============================================================================

func TestRejectsUnknownElement(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{{Key: 1, ID: types.Pack(0, 0), Tick: 1}},
		[]DeleteRecord{{ID: types.Pack(0, 9), Tick: 2}},
	)
	_, err := Evaluate(ls)
	require.ErrorIs(t, err, errUnknownElement)
}

func TestRejectsDoubleDelete(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{
			{Key: 1, ID: types.Pack(0, 0), Tick: 1},
			{Key: 2, ID: types.Pack(0, 1), Tick: 2},
		},
		[]DeleteRecord{
			{ID: types.Pack(0, 0), Tick: 3},
			{ID: types.Pack(0, 0), Tick: 4},
		},
	)
	_, err := Evaluate(ls)
	require.ErrorIs(t, err, errDoubleDelete)
}

func TestRejectsDuplicateInsertID(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{
			{Key: 1, ID: types.Pack(0, 0), Tick: 1},
			{Key: 2, ID: types.Pack(0, 0), Tick: 2},
		},
		nil,
	)
	_, err := Evaluate(ls)
	require.ErrorIs(t, err, errDuplicateID)
}

// ============================================================================
// ORACLE COMPARISON
// ============================================================================

// TestAgainstBruteForce replays a random interleaved history both through the
// evaluator and through a direct O(n^2) simulation and compares every rank.
func TestAgainstBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	const threads = 3
	ls := NewLogSet()
	logs := make([]*ThreadLog, threads)
	for i := range logs {
		logs[i] = ls.NewThreadLog()
	}

	type liveElem struct {
		key uint32
		id  types.PackedItemID
	}
	var live []liveElem
	var wantRanks []uint64
	tick := uint64(0)
	eids := [threads]uint32{}

	for op := 0; op < 2000; op++ {
		tick++
		tid := uint32(r.Intn(threads))
		if len(live) == 0 || r.Intn(3) > 0 {
			key := uint32(r.Intn(500))
			id := types.Pack(tid, eids[tid])
			eids[tid]++
			logs[tid].Inserts = append(logs[tid].Inserts,
				InsertRecord{Key: key, ID: id, Tick: tick})
			live = append(live, liveElem{key: key, id: id})
		} else {
			pick := r.Intn(len(live))
			e := live[pick]
			var rank uint64
			for _, o := range live {
				if o.key < e.key {
					rank++
				}
			}
			wantRanks = append(wantRanks, rank)
			logs[tid].Deletes = append(logs[tid].Deletes,
				DeleteRecord{ID: e.id, Tick: tick})
			live = append(live[:pick], live[pick+1:]...)
		}
	}

	rep, err := Evaluate(ls)
	require.NoError(t, err)
	require.Equal(t, uint64(len(wantRanks)), rep.RankError.Count)

	var sum float64
	var max uint64
	for _, rk := range wantRanks {
		sum += float64(rk)
		if rk > max {
			max = rk
		}
	}
	require.Equal(t, max, rep.RankError.Max)
	require.InDelta(t, sum/float64(len(wantRanks)), rep.RankError.Mean, 1e-9)
}

// ============================================================================
// PERSISTENCE ROUND-TRIP
// ============================================================================

func TestSQLiteRoundTrip(t *testing.T) {
	ls := NewLogSet()
	mkLog(ls,
		[]InsertRecord{
			{Key: 10, ID: types.Pack(0, 0), Tick: 1},
			{Key: 5, ID: types.Pack(0, 1), Tick: 3},
		},
		[]DeleteRecord{{ID: types.Pack(0, 0), Tick: 2}},
	)
	mkLog(ls,
		[]InsertRecord{{Key: 7, ID: types.Pack(1, 0), Tick: 4}},
		[]DeleteRecord{{ID: types.Pack(1, 0), Tick: 5}},
	)

	path := filepath.Join(t.TempDir(), "quality.db")
	require.NoError(t, SaveLogs(path, ls))

	back, err := LoadLogs(path)
	require.NoError(t, err)

	orig, loaded := ls.Threads(), back.Threads()
	require.Equal(t, len(orig), len(loaded))

	sortByFirstTick := func(ts []*ThreadLog) {
		sort.Slice(ts, func(i, j int) bool {
			ti, tj := uint64(0), uint64(0)
			if len(ts[i].Inserts) > 0 {
				ti = ts[i].Inserts[0].Tick
			}
			if len(ts[j].Inserts) > 0 {
				tj = ts[j].Inserts[0].Tick
			}
			return ti < tj
		})
	}
	sortByFirstTick(orig)
	sortByFirstTick(loaded)
	for i := range orig {
		require.Equal(t, orig[i].Inserts, loaded[i].Inserts)
		require.Equal(t, orig[i].Deletes, loaded[i].Deletes)
	}

	// The reloaded set must replay identically.
	repA, err := Evaluate(ls)
	require.NoError(t, err)
	repB, err := Evaluate(back)
	require.NoError(t, err)
	require.Equal(t, repA, repB)
}
