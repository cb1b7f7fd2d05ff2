// Package fabric implements the event fabric: the single-producer/
// single-consumer ring buffer, the preallocated object pool, and the
// dedicated async hot-path logger that every other subsystem is wired
// through instead of a channel or a mutex-guarded queue.
//
// None of these types allocate on their hot-path methods and none of them
// block: a full ring fails the write, an exhausted pool panics (the one
// legitimate fatal condition in this package), and the logger drops a
// record rather than stall its caller.
package fabric

import "sync/atomic"

// cacheLinePad keeps the producer-owned and consumer-owned cursors on
// separate cache lines so cross-core traffic doesn't thrash false-shared
// lines.
type cacheLinePad [56]byte

// Ring is a fixed-capacity, single-producer/single-consumer circular
// buffer of T. Capacity must be a power of two so index wraparound is a
// bitwise AND rather than a modulo.
//
// A Ring has exactly one writer and one reader, so the write and read
// cursors each need only a plain field on their owning side and a single
// atomic publish to the other side — no CAS loop, since there is never a
// second writer to race against.
type Ring[T any] struct {
	mask uint64
	buf  []T

	writePos  uint64
	_         cacheLinePad
	published atomic.Uint64
	_         cacheLinePad

	readPos  uint64
	_        cacheLinePad
	consumed atomic.Uint64
	_        cacheLinePad
}

// NewRing allocates a Ring with the given capacity, which must be a power
// of two. A bad capacity is a configuration error caught at startup, so it
// panics rather than returning an error the caller might ignore.
func NewRing[T any](capacity uint64) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("fabric: ring capacity must be a power of two")
	}
	return &Ring[T]{
		mask: capacity - 1,
		buf: make([]T, capacity),
	}
}

// Capacity returns the number of slots in the ring.
func (r *Ring[T]) Capacity() uint64 { return r.mask + 1 }

// ReserveWrite claims the next write slot's sequence number. It returns
// ok=false without side effects if the ring is full — callers must never
// block or retry-spin on this; the event fabric's contract is fail-fast on
// a full ring.
func (r *Ring[T]) ReserveWrite() (seq uint64, ok bool) {
	if r.writePos-r.consumed.Load() >= uint64(len(r.buf)) {
		return 0, false
	}
	return r.writePos, true
}

// Slot returns a pointer to the backing array element for seq, valid for
// writing after ReserveWrite or for reading after PeekRead. Callers must
// not retain the pointer past the matching Commit call.
func (r *Ring[T]) Slot(seq uint64) *T {
	return &r.buf[seq&r.mask]
}

// CommitWrite publishes seq as written, making it visible to PeekRead.
// seq must be the value most recently returned by ReserveWrite.
func (r *Ring[T]) CommitWrite(seq uint64) {
	r.writePos = seq + 1
	r.published.Store(r.writePos)
}

// PeekRead returns the next sequence number available to read. It returns
// ok=false if the producer hasn't published anything new.
func (r *Ring[T]) PeekRead() (seq uint64, ok bool) {
	if r.readPos >= r.published.Load() {
		return 0, false
	}
	return r.readPos, true
}

// CommitRead releases seq back to the producer as consumed. seq must be
// the value most recently returned by PeekRead.
func (r *Ring[T]) CommitRead(seq uint64) {
	r.readPos = seq + 1
	r.consumed.Store(r.readPos)
}

// TryWrite is a convenience wrapper around ReserveWrite/Slot/CommitWrite
// for callers that don't need to write the slot in place.
func (r *Ring[T]) TryWrite(v T) bool {
	seq, ok := r.ReserveWrite()
	if !ok {
		return false
	}
	*r.Slot(seq) = v
	r.CommitWrite(seq)
	return true
}

// TryRead is a convenience wrapper around PeekRead/Slot/CommitRead.
func (r *Ring[T]) TryRead() (v T, ok bool) {
	seq, ok := r.PeekRead()
	if !ok {
		return v, false
	}
	v = *r.Slot(seq)
	r.CommitRead(seq)
	return v, true
}

// Len reports the number of committed-but-unread entries. It is a racy
// snapshot when called from neither the producer nor consumer goroutine,
// useful only for metrics/diagnostics.
func (r *Ring[T]) Len() uint64 {
	return r.published.Load() - r.consumed.Load()
}
