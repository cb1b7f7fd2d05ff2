package fabric

import (
	"sync"
	"testing"
)

func TestRingFIFOOrder(t *testing.T) {
	t.Parallel()

	r := NewRing[int](8)
	for i := 0; i < 8; i++ {
		if !r.TryWrite(i) {
			t.Fatalf("TryWrite(%d) = false, want true", i)
		}
	}
	for i := 0; i < 8; i++ {
		v, ok := r.TryRead()
		if !ok {
			t.Fatalf("TryRead() at i=%d: ok = false", i)
		}
		if v != i {
			t.Fatalf("TryRead() at i=%d = %d, want %d", i, v, i)
		}
	}
}

func TestRingFailsOnFull(t *testing.T) {
	t.Parallel()

	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.TryWrite(i) {
			t.Fatalf("TryWrite(%d) = false, want true", i)
		}
	}
	if r.TryWrite(99) {
		t.Fatal("TryWrite() on full ring = true, want false")
	}
	if got := r.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}
}

func TestRingEmptyReadFails(t *testing.T) {
	t.Parallel()

	r := NewRing[int](4)
	if _, ok := r.TryRead(); ok {
		t.Fatal("TryRead() on empty ring: ok = true, want false")
	}
}

func TestRingWrapsAndReusesSlots(t *testing.T) {
	t.Parallel()

	r := NewRing[int](4)
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			if !r.TryWrite(round*10 + i) {
				t.Fatalf("round %d: TryWrite(%d) = false", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			v, ok := r.TryRead()
			if !ok {
				t.Fatalf("round %d: TryRead() ok = false", round)
			}
			if want := round*10 + i; v != want {
				t.Fatalf("round %d: TryRead() = %d, want %d", round, v, want)
			}
		}
	}
}

func TestNewRingPanicsOnNonPowerOfTwo(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("NewRing(3) did not panic")
		}
	}()
	NewRing[int](3)
}

// TestRingConcurrentSPSC runs a real producer/consumer goroutine pair to
// smoke-test the cross-core visibility the atomic published/consumed
// cursors are responsible for.
func TestRingConcurrentSPSC(t *testing.T) {
	const n = 200000
	r := NewRing[int](1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.TryWrite(i) {
				// ring momentarily full, spin
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			var v int
			var ok bool
			for {
				v, ok = r.TryRead()
				if ok {
					break
				}
			}
			if v != i {
				t.Errorf("out of order: got %d, want %d", v, i)
				return
			}
		}
	}()

	wg.Wait()
}
