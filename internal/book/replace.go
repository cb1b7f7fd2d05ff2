package book

import (
	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
)

// Trade is an optional trade print carried alongside a snapshot-replace
// tick, emitted only when the venue's feed includes trade fields on that
// tick.
type Trade struct {
	Price    coretypes.Price
	Quantity coretypes.Qty
	Side     coretypes.Side
}

// ReplaceReconstructor implements snapshot-replace mode for bounded-depth
// broker feeds that deliver a full N-level picture every tick: it diffs
// the new picture against the last one on each side and emits exactly the
// ADD/MODIFY/CANCEL events that picture implies, rather than clearing and
// rebuilding the book wholesale on every message.
type ReplaceReconstructor struct {
	book   VenueOrderBook
	emit   emitter
	staged []stagedChange
}

// NewReplaceReconstructor returns a reconstructor for instrument,
// publishing onto ring.
func NewReplaceReconstructor(instrument coretypes.InstrumentId, ring *fabric.Ring[coretypes.MarketEvent]) *ReplaceReconstructor {
	return &ReplaceReconstructor{
		book: newVenueOrderBook(instrument),
		emit: newEmitter(ring),
	}
}

// Book returns the current reconstructed state, for tests and metrics.
func (r *ReplaceReconstructor) Book() *VenueOrderBook { return &r.book }

// Reset clears the book and emits one CLEAR, "a CLEAR
// precedes any re-initialization after disconnect."
func (r *ReplaceReconstructor) Reset() {
	r.book.clear()
	r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventClear, Instrument: r.book.Instrument})
}

// OnTick applies a full N-level picture, diffing it against the previous
// one on each side and emitting only the levels that actually changed. If
// trade is non-nil, a TRADE event is emitted before the level deltas; on
// the tick that seeds the book it follows SNAPSHOT_END instead, and is not
// emitted if seeding fails. The per-level deltas are staged against the
// book before anything is emitted, so a tick whose picture crosses the
// book publishes no level event, only the resync's CLEAR (after the
// tick's TRADE, if it carried one) — no transient crossed state ever
// reaches a consumer.
func (r *ReplaceReconstructor) OnTick(bids, asks []coretypes.PriceLevel, trade *Trade) {
	if !r.book.Initialized {
		if !r.loadInitial(bids, asks) {
			return
		}
		if trade != nil {
			r.emitTrade(*trade)
		}
		return
	}

	if trade != nil {
		r.emitTrade(*trade)
	}

	r.staged = r.staged[:0]
	r.stageSide(&r.book.Bids, coretypes.SideBid, bids)
	r.stageSide(&r.book.Asks, coretypes.SideAsk, asks)

	if r.book.Crossed() {
		r.resync()
		return
	}

	for _, c := range r.staged {
		if !r.publishLevel(c.kind, c.side, c.price, c.qty) {
			return
		}
	}
}

// loadInitial seeds the book from the first tick. The seeded book is
// crossing-checked before anything is emitted; a crossed picture is
// discarded (CLEAR only) and the book stays uninitialized for the next
// tick to start over, as does an emission that hit a full ring.
func (r *ReplaceReconstructor) loadInitial(bids, asks []coretypes.PriceLevel) bool {
	for _, lvl := range bids {
		r.book.Bids.upsert(lvl.Price, lvl.Quantity, 0)
	}
	for _, lvl := range asks {
		r.book.Asks.upsert(lvl.Price, lvl.Quantity, 0)
	}
	if r.book.Crossed() {
		r.resync()
		return false
	}

	if !r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventSnapshotStart, Instrument: r.book.Instrument}) {
		r.resync()
		return false
	}
	for _, lvl := range bids {
		if !r.publishLevel(coretypes.EventAdd, coretypes.SideBid, lvl.Price, lvl.Quantity) {
			return false
		}
	}
	for _, lvl := range asks {
		if !r.publishLevel(coretypes.EventAdd, coretypes.SideAsk, lvl.Price, lvl.Quantity) {
			return false
		}
	}
	if !r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventSnapshotEnd, Instrument: r.book.Instrument}) {
		r.resync()
		return false
	}
	r.book.Initialized = true
	return true
}

// stageSide compares the new full picture against the book's current side,
// applies it, and records exactly the levels that appeared, changed, or
// disappeared without emitting them.
func (r *ReplaceReconstructor) stageSide(bs *side, s coretypes.Side, next []coretypes.PriceLevel) {
	seenPrices := make(map[coretypes.Price]bool, len(next))

	for _, lvl := range next {
		seenPrices[lvl.Price] = true
		prev, existed := bs.upsert(lvl.Price, lvl.Quantity, 0)
		switch {
		case !existed:
			r.staged = append(r.staged, stagedChange{kind: coretypes.EventAdd, side: s, price: lvl.Price, qty: lvl.Quantity})
		case prev.Quantity != lvl.Quantity:
			r.staged = append(r.staged, stagedChange{kind: coretypes.EventModify, side: s, price: lvl.Price, qty: lvl.Quantity})
		}
	}

	for _, lvl := range bs.snapshot() {
		if !seenPrices[lvl.Price] {
			bs.remove(lvl.Price)
			r.staged = append(r.staged, stagedChange{kind: coretypes.EventCancel, side: s, price: lvl.Price})
		}
	}
}

func (r *ReplaceReconstructor) publishLevel(kind coretypes.EventKind, s coretypes.Side, price coretypes.Price, qty coretypes.Qty) bool {
	ok := r.emit.emit(coretypes.MarketEvent{
		Kind: kind,
		Instrument: r.book.Instrument,
		Side: s,
		Price: price,
		Quantity: qty,
		SyntheticOrderID: coretypes.SyntheticOrderID(r.book.Instrument, price, s),
	})
	if !ok {
		r.resync()
	}
	return ok
}

func (r *ReplaceReconstructor) emitTrade(t Trade) {
	r.emit.emit(coretypes.MarketEvent{
		Kind: coretypes.EventTrade,
		Instrument: r.book.Instrument,
		Side: t.Side,
		Price: t.Price,
		Quantity: t.Quantity,
	})
}

func (r *ReplaceReconstructor) resync() {
	r.book.clear()
	r.emit.emit(coretypes.MarketEvent{Kind: coretypes.EventClear, Instrument: r.book.Instrument})
}
