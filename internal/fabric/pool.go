package fabric

// ObjectPool hands out preallocated T values by index, avoiding per-message
// heap allocation on the hot path: instead of allocating a fresh event
// object per request, a fixed backing array is carved up and recycled.
//
// An ObjectPool is not safe for concurrent use — like the Ring it pairs
// with, it is meant to be owned by a single goroutine (or guarded by the
// same external synchronization that already serializes access to the ring
// slot it backs).
type ObjectPool[T any] struct {
	items []T
	free  []int32
}

// NewObjectPool preallocates size items and an intrusive free list holding
// every index.
func NewObjectPool[T any](size int) *ObjectPool[T] {
	if size <= 0 {
		panic("fabric: object pool size must be positive")
	}
	p := &ObjectPool[T]{
		items: make([]T, size),
		free: make([]int32, size),
	}
	for i := range p.free {
		p.free[i] = int32(size - 1 - i)
	}
	return p
}

// Get pops an index off the free list and returns it along with a pointer
// to the backing item. The pool is a fixed-size resource tied to the
// ring/worker capacity it was sized for; exhaustion means a capacity
// mismatch elsewhere in the system, not a condition the hot path can
// recover from, so Get panics instead of returning an error the caller
// could be tempted to retry into a spin.
func (p *ObjectPool[T]) Get() (int32, *T) {
	n := len(p.free)
	if n == 0 {
		panic("fabric: object pool exhausted")
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	return idx, &p.items[idx]
}

// Put returns idx to the free list. Callers must not use the item pointer
// returned by Get after calling Put with its index.
func (p *ObjectPool[T]) Put(idx int32) {
	p.free = append(p.free, idx)
}

// Available reports how many items remain unchecked-out.
func (p *ObjectPool[T]) Available() int {
	return len(p.free)
}

// Size reports the pool's fixed capacity.
func (p *ObjectPool[T]) Size() int {
	return len(p.items)
}
