package gateway

import "tradingcore/internal/coretypes"

// SymbolFilter is the per-instrument venue filter set: tick size, lot
// step, and an inclusive price band. A zero SymbolFilter (TickSize/LotStep
// both zero) means no filter is advertised for the symbol; adjustPreTrade
// is then a no-op.
type SymbolFilter struct {
	TickSize coretypes.Price // advertised tick; prices are not checked against it locally
	LotStep  coretypes.Qty // quantity is rounded down to this step
	MinQty   coretypes.Qty // adjusted quantity below this is rejected locally
	MinPrice coretypes.Price // price band lower bound, 0 = unbounded
	MaxPrice coretypes.Price // price band upper bound, 0 = unbounded
}

func (f SymbolFilter) empty() bool { return f.TickSize == 0 && f.LotStep == 0 }

// adjustPreTrade applies the lot-step rounding the gateway is permitted to
// do locally before submission. It returns the adjusted quantity, whether
// it was adjusted (so the caller can log it), and a reject reason if the
// rounded quantity falls below the minimum. Price is handled separately by
// outOfBand: a price outside the band gets a hard reject, not a silent
// clamp, so clamping is not applied to price at all here.
func (f SymbolFilter) adjustPreTrade(qty coretypes.Qty) (adjQty coretypes.Qty, adjusted bool, reject coretypes.RejectReason) {
	adjQty = qty
	if f.empty() || f.LotStep <= 0 {
		return adjQty, false, coretypes.RejectNone
	}

	rounded := (qty / f.LotStep) * f.LotStep
	if rounded != qty {
		adjQty = rounded
		adjusted = true
	}
	if f.MinQty > 0 && adjQty < f.MinQty {
		return adjQty, adjusted, coretypes.RejectLotSizeViolation
	}
	return adjQty, adjusted, coretypes.RejectNone
}

// outOfBand reports whether price falls strictly outside the advertised
// band: a NEW above the upper bound or below the lower bound rejects with
// PRICE_BAND_VIOLATION and never reaches the venue.
func (f SymbolFilter) outOfBand(price coretypes.Price) bool {
	if f.empty() || !price.Valid() {
		return false
	}
	if f.MinPrice > 0 && price < f.MinPrice {
		return true
	}
	if f.MaxPrice > 0 && price > f.MaxPrice {
		return true
	}
	return false
}
