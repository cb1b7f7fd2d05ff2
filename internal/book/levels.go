// Package book reconstructs full per-instrument order books from
// bounded-depth venue feeds — either a one-time snapshot plus an
// incremental diff stream, or a full N-level picture on every tick — and
// emits the normalized ADD/MODIFY/CANCEL/TRADE/CLEAR event stream a
// strategy would have seen on an ideal order-by-order feed.
//
// Book state here is owned exclusively by the market-data thread that
// calls it (per the concurrency model, strategies never read it directly),
// so none of these types take a lock.
package book

import (
	"sort"

	"tradingcore/internal/coretypes"
)

// side holds one side of a book as a slice kept sorted by Price, high→low
// for bids and low→high for asks, so the best level is always index 0. A sorted
// slice (rather than a language-native ordered map, which Go doesn't have)
// is appropriate here: depths are bounded by the venue (tens to low
// thousands of levels), so linear/binary-search maintenance costs nothing
// that matters against the network and parse costs around it.
type side struct {
	levels []coretypes.PriceLevel
	desc   bool
}

func newSide(desc bool) side {
	return side{desc: desc}
}

// find returns the index of price if present, and whether it was found.
// When not found, idx is the insertion point that keeps levels sorted.
func (s *side) find(price coretypes.Price) (idx int, found bool) {
	n := len(s.levels)
	idx = sort.Search(n, func(i int) bool {
		if s.desc {
			return s.levels[i].Price <= price
		}
		return s.levels[i].Price >= price
	})
	if idx < n && s.levels[idx].Price == price {
		return idx, true
	}
	return idx, false
}

// upsert sets the level at price to qty/now, inserting if absent. It
// returns the previous level (zero value if it didn't exist) and whether
// it existed, which the caller uses to classify ADD vs. MODIFY.
func (s *side) upsert(price coretypes.Price, qty coretypes.Qty, now int64) (prev coretypes.PriceLevel, existed bool) {
	idx, found := s.find(price)
	if found {
		prev = s.levels[idx]
		s.levels[idx].Quantity = qty
		s.levels[idx].LastUpdateTime = now
		return prev, true
	}
	lvl := coretypes.PriceLevel{Price: price, Quantity: qty, OrderCount: 1, LastUpdateTime: now}
	s.levels = append(s.levels, coretypes.PriceLevel{})
	copy(s.levels[idx+1:], s.levels[idx:])
	s.levels[idx] = lvl
	return coretypes.PriceLevel{}, false
}

// remove deletes the level at price if present, returning it and whether
// it existed.
func (s *side) remove(price coretypes.Price) (prev coretypes.PriceLevel, existed bool) {
	idx, found := s.find(price)
	if !found {
		return coretypes.PriceLevel{}, false
	}
	prev = s.levels[idx]
	s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
	return prev, true
}

// best returns the top-of-book level, or false if the side is empty.
func (s *side) best() (coretypes.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return coretypes.PriceLevel{}, false
	}
	return s.levels[0], true
}

func (s *side) clear() {
	s.levels = s.levels[:0]
}

// snapshot returns a defensive copy of the current levels, ordered as held.
func (s *side) snapshot() []coretypes.PriceLevel {
	out := make([]coretypes.PriceLevel, len(s.levels))
	copy(out, s.levels)
	return out
}
