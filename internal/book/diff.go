package book

import (
	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
)

// DepthDiff is one incremental update from a diff-feed venue: a contiguous
// update-id range plus the (price, new_quantity) pairs changed on each
// side. A zero quantity cancels the level; non-zero adds or modifies it.
type DepthDiff struct {
	FirstUpdateID uint64 // U
	LastUpdateID  uint64 // u
	Bids          []coretypes.PriceLevel
	Asks          []coretypes.PriceLevel
}

// Snapshot is a one-time REST snapshot fetched to bootstrap or resync a
// diff-mode book.
type Snapshot struct {
	LastUpdateID uint64 // S
	Bids         []coretypes.PriceLevel
	Asks         []coretypes.PriceLevel
}

// DiffReconstructor implements the diff-mode synchronization protocol:
// buffer diffs until a snapshot lands, discard diffs the snapshot already
// covers, find the contiguous sync point, then apply
// diffs one at a time requiring each to pick up exactly where the last one
// left off. Any break in that contiguity — or a snapshot too old to reach
// any buffered diff — clears the book and asks the caller (the ingestor)
// for a fresh snapshot via NeedsSnapshot.
type DiffReconstructor struct {
	book         VenueOrderBook
	emit         emitter
	pending      []DepthDiff
	staged       []stagedChange
	maxBuffered  int
	needSnapshot bool
}

// NewDiffReconstructor returns a reconstructor for instrument, publishing
// onto ring, buffering at most maxBuffered diffs before a gap forces a full
// resync regardless of whether a later diff would have closed it.
func NewDiffReconstructor(instrument coretypes.InstrumentId, ring *fabric.Ring[coretypes.MarketEvent], maxBuffered int) *DiffReconstructor {
	return &DiffReconstructor{
		book: newVenueOrderBook(instrument),
		emit: newEmitter(ring),
		maxBuffered: maxBuffered,
	}
}

// Book returns the current reconstructed state, for tests and metrics.
func (r *DiffReconstructor) Book() *VenueOrderBook { return &r.book }

// NeedsSnapshot reports whether the reconstructor is waiting on a fresh
// REST snapshot before it can make progress — set after a gap, a stale
// snapshot, or a crossed-book rejection, cleared by a successful OnSnapshot.
func (r *DiffReconstructor) NeedsSnapshot() bool { return r.needSnapshot }

// OnDiff hands the reconstructor one incremental update. While
// uninitialized it buffers; once initialized it requires contiguity with
// the last applied update and triggers a resync on any gap.
func (r *DiffReconstructor) OnDiff(d DepthDiff) {
	if !r.book.Initialized {
		r.buffer(d)
		return
	}
	if d.FirstUpdateID != r.book.LastUpdateID+1 {
		r.resync()
		return
	}
	r.applyDiff(d)
}

func (r *DiffReconstructor) buffer(d DepthDiff) {
	r.pending = append(r.pending, d)
	if len(r.pending) > r.maxBuffered {
		// Hard cap exceeded: the buffer can't represent the gap between
		// snapshot and stream any longer, so force a full resync rather
		// than grow without bound.
		r.resync()
	}
}

// OnSnapshot applies a freshly fetched REST snapshot per the sync protocol:
// discard buffered diffs the snapshot already covers, locate the first
// buffered diff that straddles the snapshot's last_update_id, and apply it
// and every diff after it that stays contiguous. It returns false if the
// snapshot can't be reconciled with what's buffered and a fresh one must be
// fetched again; an unreconcilable snapshot is rejected before anything is
// emitted.
func (r *DiffReconstructor) OnSnapshot(s Snapshot) bool {
	r.needSnapshot = false
	r.book.clear()

	filtered := r.pending[:0]
	for _, d := range r.pending {
		if d.LastUpdateID > s.LastUpdateID {
			filtered = append(filtered, d)
		}
	}
	r.pending = filtered

	if len(r.pending) > 0 {
		first := r.pending[0]
		if !(first.FirstUpdateID <= s.LastUpdateID+1 && s.LastUpdateID+1 <= first.LastUpdateID) {
			// Either every buffered diff starts after the gap the snapshot
			// left (we missed updates) or the snapshot is older than the
			// earliest buffered diff: neither is reconcilable from here.
			r.needSnapshot = true
			return false
		}
	}

	if !r.loadSnapshotLevels(s) {
		return false
	}

	toApply := r.pending
	r.pending = nil
	for i, d := range toApply {
		if i > 0 && d.FirstUpdateID != r.book.LastUpdateID+1 {
			r.resync()
			return false
		}
		if !r.applyDiff(d) {
			return false
		}
	}
	return true
}

// loadSnapshotLevels seeds the book from a snapshot and emits the
// SNAPSHOT_START / ADD.../ SNAPSHOT_END sequence. The book is seeded and
// crossing-checked before anything is emitted: a crossed venue snapshot is
// discarded with only a CLEAR published, same as a crossing diff. It
// returns false if the snapshot was rejected or an emission hit a full
// ring; either way the book is back to uninitialized.
func (r *DiffReconstructor) loadSnapshotLevels(s Snapshot) bool {
	now := int64(0)
	for _, lvl := range s.Bids {
		r.book.Bids.upsert(lvl.Price, lvl.Quantity, now)
	}
	for _, lvl := range s.Asks {
		r.book.Asks.upsert(lvl.Price, lvl.Quantity, now)
	}
	if r.book.Crossed() {
		r.resync()
		return false
	}

	if !r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventSnapshotStart, Instrument: r.book.Instrument}) {
		r.handleRingFull()
		return false
	}
	for _, lvl := range s.Bids {
		if !r.publishLevel(coretypes.EventAdd, coretypes.SideBid, lvl.Price, lvl.Quantity) {
			return false
		}
	}
	for _, lvl := range s.Asks {
		if !r.publishLevel(coretypes.EventAdd, coretypes.SideAsk, lvl.Price, lvl.Quantity) {
			return false
		}
	}
	if !r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventSnapshotEnd, Instrument: r.book.Instrument}) {
		r.handleRingFull()
		return false
	}
	r.book.LastUpdateID = s.LastUpdateID
	r.book.Initialized = true
	return true
}

// applyDiff applies one diff's level changes, checks for a resulting
// crossed book, and advances last_update_id. It returns false if the diff
// was rejected (crossed book) and a resync was triggered.
//
// The changes are staged first: every level is applied to the book and
// recorded, then the crossed-book check runs on the fully-applied state,
// and only a change set that doesn't cross is emitted. A crossing diff
// therefore publishes nothing except the resync's CLEAR — a consumer
// mirroring the book from the event stream never observes a crossed state.
func (r *DiffReconstructor) applyDiff(d DepthDiff) bool {
	r.staged = r.staged[:0]
	for _, lvl := range d.Bids {
		r.stageLevel(coretypes.SideBid, lvl.Price, lvl.Quantity)
	}
	for _, lvl := range d.Asks {
		r.stageLevel(coretypes.SideAsk, lvl.Price, lvl.Quantity)
	}

	if r.book.Crossed() {
		r.resync()
		return false
	}

	for _, c := range r.staged {
		if !r.publishLevel(c.kind, c.side, c.price, c.qty) {
			return false
		}
	}
	r.book.LastUpdateID = d.LastUpdateID
	return true
}

// stageLevel applies one level replacement to the book and records the
// resulting ADD/MODIFY/CANCEL without emitting it.
func (r *DiffReconstructor) stageLevel(s coretypes.Side, price coretypes.Price, qty coretypes.Qty) {
	bs := r.book.sideFor(s)
	if qty.IsZero() {
		if _, existed := bs.remove(price); existed {
			r.staged = append(r.staged, stagedChange{kind: coretypes.EventCancel, side: s, price: price})
		}
		return
	}
	_, existed := bs.upsert(price, qty, 0)
	kind := coretypes.EventAdd
	if existed {
		kind = coretypes.EventModify
	}
	r.staged = append(r.staged, stagedChange{kind: kind, side: s, price: price, qty: qty})
}

// publishLevel emits one level change. It returns false if the ring was
// full, after running the backpressure path.
func (r *DiffReconstructor) publishLevel(kind coretypes.EventKind, s coretypes.Side, price coretypes.Price, qty coretypes.Qty) bool {
	ev := coretypes.MarketEvent{
		Kind: kind,
		Instrument: r.book.Instrument,
		Side: s,
		Price: price,
		Quantity: qty,
		SyntheticOrderID: coretypes.SyntheticOrderID(r.book.Instrument, price, s),
	}
	if !r.emit.emit(ev) {
		r.handleRingFull()
		return false
	}
	return true
}

// ForceResync triggers the same clear-and-resync failure path as an
// internal gap/inversion, for callers outside the package — namely the
// market-data ingestor on disconnect, since a dropped connection
// invalidates any buffered diffs and demands a fresh snapshot before the
// book can be trusted again.
func (r *DiffReconstructor) ForceResync() {
	r.resync()
}

// resync implements the failure semantics shared by gaps, crossed books,
// buffer overflow and a full ring: clear the book, emit one CLEAR, discard
// buffered diffs, and wait for a fresh snapshot. An unreconcilable
// snapshot does not come through here: OnSnapshot rejects it with nothing
// emitted.
func (r *DiffReconstructor) resync() {
	r.book.clear()
	r.pending = nil
	r.needSnapshot = true
	r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventClear, Instrument: r.book.Instrument})
}

// handleRingFull implements the backpressure contract: a full
// event ring means the consumer fell behind, so the producer drops the
// current update, publishes a synthetic CLEAR (best effort — if the ring
// is still full this, too, is dropped, but the next resync will retry),
// and marks the book uninitialized so the next consumable event is a fresh
// rebuild. The recovery shape is identical to any other resync.
func (r *DiffReconstructor) handleRingFull() {
	r.resync()
}
