// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Global queue tunables
//
// Purpose:
//   - Defines compile-time parameters for the relaxed LSM priority queues:
//     relaxation presets, arena sizing, merge fanout and retry bounds.
//
// Notes:
//   - Sized for power-of-2 alignment so index math stays mask-based.
//   - Relaxation presets mirror the classic klsm16/128/256/4096 configurations.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Relaxation ─────────────────────────────────

const (
	// Relaxation16 through Relaxation4096 are the supported quality presets.
	// A delete-min on a queue configured with relaxation k may return any
	// element within rank k of the true minimum.
	Relaxation16   = 16
	Relaxation128  = 128
	Relaxation256  = 256
	Relaxation4096 = 4096

	// DefaultRelaxation balances rank error against contention for the
	// common benchmark configurations.
	DefaultRelaxation = Relaxation256
)

// ───────────────────────────── Thread Registry ─────────────────────────────

const (
	// MaxThreads bounds the per-queue thread registry. Each registered
	// thread owns a dist-LSM local, an item arena and a hazard pin cell.
	// 128 covers current many-core hosts with headroom.
	MaxThreads = 128
)

// ───────────────────────────── Item Arena ──────────────────────────────────

const (
	// ItemChunkSmall and ItemChunkLarge are the two supported arena chunk
	// presets: small keeps the footprint tight for short runs, large trades
	// memory for fewer full-lap scans under sustained load.
	ItemChunkSmall = 512
	ItemChunkLarge = 8192

	// ItemChunkSize is the number of item slots allocated per arena chunk.
	// The allocator scans the chunk ring for a reusable (even-version) slot
	// and grows by one chunk when a full lap finds none.
	ItemChunkSize = ItemChunkSmall
)

// ───────────────────────────── Block Geometry ──────────────────────────────

const (
	// MaxBlockPower caps block capacity at 2^32 items. Key space is uint32,
	// so no run can outgrow this.
	MaxBlockPower = 32

	// MaxLocalBlocks sizes the dist-LSM local block list. The strictly
	// decreasing power invariant bounds the steady-state list by
	// MaxBlockPower + 1; the remainder is slack for spied blocks that have
	// not yet been folded in by the next peek.
	MaxLocalBlocks = 64

	// MaxMergeSources is the lazy merger fanout: the most equal-power
	// source blocks a single finalize will k-way merge. The shared-LSM
	// collapse feeds it two blocks at a time: the staircase holds one block
	// per power, plus the one being spliced in.
	MaxMergeSources = 32

	// MaxBlockArrayLen bounds a shared-LSM snapshot: one block per power
	// step of the strictly-decreasing staircase.
	MaxBlockArrayLen = MaxBlockPower + 1
)

// ───────────────────────────── Delete-Min Policy ───────────────────────────

const (
	// SpyMaxBlocks caps how many of a victim's blocks one spy call will
	// copy-compact. Spy is best-effort; a partial haul is fine.
	SpyMaxBlocks = 8

	// SharedDeleteRetries bounds claim attempts against the shared block
	// array before delete-min reports failure. Every retry re-peeks, so a
	// lost race costs one random re-selection, not a spin on one item.
	SharedDeleteRetries = 8
)

// ───────────────────────────── Quality Logging ─────────────────────────────

const (
	// QualityLogPrealloc is the initial capacity of each per-thread
	// insertion/deletion record vector when quality logging is enabled.
	// Sized so steady-state benchmark runs rarely reallocate mid-measurement.
	QualityLogPrealloc = 1 << 16
)
