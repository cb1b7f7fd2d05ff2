package book

import (
	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
)

// VenueOrderBook is the per-instrument reconstructed state: two ordered
// price-level sides, the last applied venue update id, and whether a
// snapshot has ever been applied. Incoming diffs are buffered rather than
// applied while Initialized is false.
type VenueOrderBook struct {
	Instrument   coretypes.InstrumentId
	Bids         side
	Asks         side
	LastUpdateID uint64
	Initialized  bool
}

func newVenueOrderBook(instrument coretypes.InstrumentId) VenueOrderBook {
	return VenueOrderBook{
		Instrument: instrument,
		Bids: newSide(true),
		Asks: newSide(false),
	}
}

// Crossed reports whether the book is in an invalid crossed state:
// best bid at or above best ask. An empty side never crosses.
func (b *VenueOrderBook) Crossed() bool {
	bid, hasBid := b.Bids.best()
	ask, hasAsk := b.Asks.best()
	if !hasBid || !hasAsk {
		return false
	}
	return bid.Price >= ask.Price
}

func (b *VenueOrderBook) clear() {
	b.Bids.clear()
	b.Asks.clear()
	b.LastUpdateID = 0
	b.Initialized = false
}

func (b *VenueOrderBook) sideFor(s coretypes.Side) *side {
	if s == coretypes.SideBid {
		return &b.Bids
	}
	return &b.Asks
}

// stagedChange is one level mutation recorded while a diff or tick is
// applied to the book but before anything is emitted. Reconstructors
// collect these so the crossed-book check can run on the fully-applied
// state first: a change set that would cross the book is rejected with
// nothing but a CLEAR ever reaching the ring.
type stagedChange struct {
	kind  coretypes.EventKind
	side  coretypes.Side
	price coretypes.Price
	qty   coretypes.Qty
}

// emitter publishes MarketEvents directly into a value-carrying ring slot.
// Per design note preferring a value-carrying ring over handing
// pool-allocated event objects through the ring, the reconstructor never
// checks out an object-pool entry for a MarketEvent — the ring slot *is*
// the event, so there is no allocation and no pool-exhaustion path on this
// hot path at all.
type emitter struct {
	ring *fabric.Ring[coretypes.MarketEvent]
	seq  uint64
}

func newEmitter(ring *fabric.Ring[coretypes.MarketEvent]) emitter {
	return emitter{ring: ring}
}

// emit publishes ev with the next per-instrument sequence number. It
// returns false if the ring was full — the caller is responsible for the
// backpressure contract in (drop, CLEAR, mark uninitialized).
func (e *emitter) emit(ev coretypes.MarketEvent) bool {
	e.seq++
	ev.Sequence = e.seq
	seq, ok := e.ring.ReserveWrite()
	if !ok {
		e.seq--
		return false
	}
	*e.ring.Slot(seq) = ev
	e.ring.CommitWrite(seq)
	return true
}
