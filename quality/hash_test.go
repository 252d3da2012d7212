// ============================================================================
// ROBIN HOOD ID MAP VALIDATION SUITE
// ============================================================================

package quality

import (
	"math/rand"
	"testing"
)

func TestIDMapPutGet(t *testing.T) {
	m := newIDMap(100)
	for i := uint64(1); i <= 100; i++ {
		m.Put(i, i*10)
	}
	for i := uint64(1); i <= 100; i++ {
		v, ok := m.Get(i)
		if !ok || v != i*10 {
			t.Fatalf("Get(%d) = %d,%v want %d,true", i, v, ok, i*10)
		}
	}
	if _, ok := m.Get(101); ok {
		t.Fatal("Get of absent key succeeded")
	}
}

func TestIDMapDisplacementChains(t *testing.T) {
	// A small table forces long probe chains and Robin Hood displacement.
	m := newIDMap(4)
	keys := []uint64{3, 11, 19, 27, 35, 43, 51}
	for i, k := range keys {
		m.Put(k, uint64(i))
	}
	for i, k := range keys {
		v, ok := m.Get(k)
		if !ok || v != uint64(i) {
			t.Fatalf("Get(%d) = %d,%v want %d,true", k, v, ok, i)
		}
	}
}

func TestIDMapZeroKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero key did not panic")
		}
	}()
	m := newIDMap(4)
	m.Put(0, 1)
}

func TestIDMapRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	m := newIDMap(5000)
	oracle := map[uint64]uint64{}
	for len(oracle) < 5000 {
		k := r.Uint64() | 1 // nonzero
		if _, dup := oracle[k]; dup {
			continue
		}
		v := r.Uint64()
		oracle[k] = v
		m.Put(k, v)
	}
	for k, v := range oracle {
		got, ok := m.Get(k)
		if !ok || got != v {
			t.Fatalf("Get(%d) = %d,%v want %d,true", k, got, ok, v)
		}
	}
	misses := 0
	for i := 0; i < 1000; i++ {
		k := r.Uint64() | 1
		if _, known := oracle[k]; known {
			continue
		}
		if _, ok := m.Get(k); ok {
			t.Fatalf("absent key %d reported present", k)
		}
		misses++
	}
	if misses == 0 {
		t.Fatal("miss probe never exercised")
	}
}
