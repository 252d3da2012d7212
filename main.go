// ════════════════════════════════════════════════════════════════════════════════════════════════
// Relaxed Priority Queue Benchmark - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Benchmark Driver & Orchestration
//
// Description:
//   Drives any queue variant through the shared capability surface with configurable workload
//   and key-generation policies. Phased lifecycle: parse → construct → prefill → timed
//   measurement behind a start barrier → drain counters → optional quality replay → JSON
//   result emission.
//
// Workloads:
//   - uniform:     every thread flips a coin per op (50% insert / 50% delete)
//   - split:       half the threads insert, half delete (insert-heavy on odd counts)
//   - producer:    thread 0 inserts, all others delete
//   - alternating: every thread strictly alternates insert and delete
//
// Key policies:
//   - uniform | ascending | descending | restricted8 | restricted16
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"flag"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/exp/rand"

	"kpq/debug"
	"kpq/distlsm"
	"kpq/klsm"
	"kpq/quality"
	"kpq/types"
	"kpq/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type config struct {
	pq        string
	threads   int
	seconds   int
	prefill   int
	workload  string
	keys      string
	seed      uint64
	quality   bool
	qualityDB string
}

func parseFlags() config {
	var c config
	flag.StringVar(&c.pq, "pq", "klsm256", "queue variant: klsm16|klsm128|klsm256|klsm4096|dlsm")
	flag.IntVar(&c.threads, "threads", 1, "worker thread count")
	flag.IntVar(&c.seconds, "seconds", 10, "measurement duration")
	flag.IntVar(&c.prefill, "prefill", 1000000, "elements inserted before measurement")
	flag.StringVar(&c.workload, "workload", "uniform", "uniform|split|producer|alternating")
	flag.StringVar(&c.keys, "keys", "uniform", "uniform|ascending|descending|restricted8|restricted16")
	flag.Uint64Var(&c.seed, "seed", 0, "base PRNG seed")
	flag.BoolVar(&c.quality, "quality", false, "record operation logs and replay for rank error")
	flag.StringVar(&c.qualityDB, "qualitydb", "", "optional sqlite path for the operation logs")
	flag.Parse()
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// KEY GENERATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// keygen produces the next key from the thread's PRNG and its op sequence.
type keygen func(r *rand.Rand, seq uint64) uint32

func makeKeygen(policy string) keygen {
	switch policy {
	case "uniform":
		return func(r *rand.Rand, _ uint64) uint32 { return uint32(r.Uint64()) }
	case "ascending":
		// A window of keys whose base rises with the op count.
		return func(r *rand.Rand, seq uint64) uint32 {
			return uint32(seq>>4) + uint32(r.Intn(1<<16))
		}
	case "descending":
		return func(r *rand.Rand, seq uint64) uint32 {
			return ^(uint32(seq>>4) + uint32(r.Intn(1<<16)))
		}
	case "restricted8":
		return func(r *rand.Rand, _ uint64) uint32 { return uint32(r.Intn(1 << 8)) }
	case "restricted16":
		return func(r *rand.Rand, _ uint64) uint32 { return uint32(r.Intn(1 << 16)) }
	default:
		debug.DropMessage("FATAL", "unknown key policy "+policy)
		os.Exit(2)
		return nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// WORKLOAD ROLES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// roleFor decides whether op number seq on thread tid is an insert.
func roleFor(workload string, threads int) func(tid int, r *rand.Rand, seq uint64) bool {
	switch workload {
	case "uniform":
		return func(_ int, r *rand.Rand, _ uint64) bool { return r.Intn(2) == 0 }
	case "split":
		half := (threads + 1) / 2
		return func(tid int, _ *rand.Rand, _ uint64) bool { return tid < half }
	case "producer":
		return func(tid int, _ *rand.Rand, _ uint64) bool { return tid == 0 }
	case "alternating":
		return func(_ int, _ *rand.Rand, seq uint64) bool { return seq&1 == 0 }
	default:
		debug.DropMessage("FATAL", "unknown workload "+workload)
		os.Exit(2)
		return nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RESULT EMISSION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type benchResult struct {
	PQ            string          `json:"pq"`
	Threads       int             `json:"threads"`
	Seconds       int             `json:"seconds"`
	Workload      string          `json:"workload"`
	Keys          string          `json:"keys"`
	Inserts       uint64          `json:"inserts"`
	Deletes       uint64          `json:"deletes"`
	FailedDeletes uint64          `json:"failed_deletes"`
	OpsPerSec     float64         `json:"ops_per_sec"`
	Quality       *quality.Report `json:"quality,omitempty"`
}

// threadCounters are padded so neighbors never share a cache line.
type threadCounters struct {
	inserts uint64
	deletes uint64
	failed  uint64
	_       [40]byte
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func main() {
	cfg := parseFlags()

	// PHASE 0: Queue construction.
	debug.DropMessage("INIT", cfg.pq+" threads="+utils.Itoa(cfg.threads)+" workload="+cfg.workload)

	var pq types.PriorityQueue
	var logs *quality.LogSet
	switch cfg.pq {
	case "klsm16", "klsm128", "klsm256", "klsm4096":
		var q *klsm.KLSM
		switch cfg.pq {
		case "klsm16":
			q = klsm.New16()
		case "klsm128":
			q = klsm.New128()
		case "klsm256":
			q = klsm.New256()
		default:
			q = klsm.New4096()
		}
		if cfg.quality {
			logs = q.EnableQualityLogging()
		}
		pq = q
	case "dlsm":
		if cfg.quality {
			debug.DropMessage("FATAL", "quality logging requires a klsm variant")
			os.Exit(2)
		}
		pq = distlsm.New(256)
	default:
		debug.DropMessage("FATAL", "unknown queue "+cfg.pq)
		os.Exit(2)
	}

	if cfg.threads > 1 && !pq.SupportsConcurrency() {
		debug.DropMessage("FATAL", cfg.pq+" does not support concurrency")
		os.Exit(2)
	}

	gen := makeKeygen(cfg.keys)
	isInsert := roleFor(cfg.workload, cfg.threads)

	// PHASE 1: Workers register, thread 0 prefills, all park at the barrier.
	var stop atomic.Uint32
	var ready, done sync.WaitGroup
	start := make(chan struct{})
	counters := make([]threadCounters, cfg.threads)

	ready.Add(cfg.threads)
	done.Add(cfg.threads)
	for tid := 0; tid < cfg.threads; tid++ {
		go func(tid int) {
			defer done.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			h := pq.InitThread(cfg.threads)
			r := rand.New(rand.NewSource(utils.Mix64(cfg.seed + uint64(tid) + 1)))
			var eid uint32
			value := func(key uint32) uint64 {
				if cfg.quality {
					v := uint64(types.Pack(uint32(tid), eid))
					eid++
					return v
				}
				return uint64(key)
			}

			if tid == 0 {
				for i := 0; i < cfg.prefill; i++ {
					key := gen(r, uint64(i))
					h.Insert(key, value(key))
				}
				debug.DropMessage("PREFILL", utils.Itoa(cfg.prefill)+" elements")
			}

			ready.Done()
			<-start

			c := &counters[tid]
			var out uint64
			for seq := uint64(0); stop.Load() == 0; seq++ {
				if isInsert(tid, r, seq) {
					key := gen(r, seq)
					h.Insert(key, value(key))
					c.inserts++
				} else if h.DeleteMin(&out) {
					c.deletes++
				} else {
					c.failed++
				}
			}
		}(tid)
	}

	// PHASE 2: Timed measurement behind the start barrier.
	ready.Wait()
	debug.DropMessage("MEASURE", utils.Itoa(cfg.seconds)+"s")
	began := time.Now()
	close(start)
	time.Sleep(time.Duration(cfg.seconds) * time.Second)
	stop.Store(1)
	done.Wait()
	elapsed := time.Since(began)

	// PHASE 3: Aggregate and emit.
	res := benchResult{
		PQ:       cfg.pq,
		Threads:  cfg.threads,
		Seconds:  cfg.seconds,
		Workload: cfg.workload,
		Keys:     cfg.keys,
	}
	for i := range counters {
		res.Inserts += counters[i].inserts
		res.Deletes += counters[i].deletes
		res.FailedDeletes += counters[i].failed
	}
	res.OpsPerSec = float64(res.Inserts+res.Deletes) / elapsed.Seconds()

	if logs != nil {
		if cfg.qualityDB != "" {
			if err := quality.SaveLogs(cfg.qualityDB, logs); err != nil {
				debug.DropError("QUALITYDB", err)
			} else {
				debug.DropMessage("QUALITYDB", cfg.qualityDB)
			}
		}
		rep, err := quality.Evaluate(logs)
		if err != nil {
			debug.DropError("QUALITY", err)
			os.Exit(1)
		}
		res.Quality = rep
	}

	out, err := sonnet.Marshal(&res)
	if err != nil {
		debug.DropError("RESULT", err)
		os.Exit(1)
	}
	os.Stdout.Write(append(out, '\n'))
}
