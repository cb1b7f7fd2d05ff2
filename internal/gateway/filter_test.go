package gateway

import (
	"testing"

	"tradingcore/internal/coretypes"
)

func TestAdjustPreTrade(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		f          SymbolFilter
		qty        coretypes.Qty
		wantQty    coretypes.Qty
		wantAdj    bool
		wantReject coretypes.RejectReason
	}{
		{"no filter advertised", SymbolFilter{}, 37, 37, false, coretypes.RejectNone},
		{"already on step", SymbolFilter{TickSize: 1, LotStep: 10, MinQty: 10}, 30, 30, false, coretypes.RejectNone},
		{"rounds down", SymbolFilter{TickSize: 1, LotStep: 10, MinQty: 10}, 37, 30, true, coretypes.RejectNone},
		{"below minimum after rounding", SymbolFilter{TickSize: 1, LotStep: 10, MinQty: 10}, 7, 0, true, coretypes.RejectLotSizeViolation},
		{"exactly minimum", SymbolFilter{TickSize: 1, LotStep: 5, MinQty: 5}, 5, 5, false, coretypes.RejectNone},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			gotQty, gotAdj, gotReject := c.f.adjustPreTrade(c.qty)
			if gotQty != c.wantQty || gotAdj != c.wantAdj || gotReject != c.wantReject {
				t.Fatalf("adjustPreTrade(%d) = (%d, %v, %v), want (%d, %v, %v)",
					c.qty, gotQty, gotAdj, gotReject, c.wantQty, c.wantAdj, c.wantReject)
			}
		})
	}
}

func TestOutOfBand(t *testing.T) {
	t.Parallel()

	f := SymbolFilter{TickSize: 1, LotStep: 1, MinPrice: 100, MaxPrice: 10000}

	cases := []struct {
		price coretypes.Price
		want  bool
	}{
		{50, true},
		{100, false},
		{5000, false},
		{10000, false},
		{10001, true},
		{coretypes.InvalidPrice, false}, // market orders carry no limit price to band-check
	}
	for _, c := range cases {
		if got := f.outOfBand(c.price); got != c.want {
			t.Errorf("outOfBand(%d) = %v, want %v", c.price, got, c.want)
		}
	}

	if (SymbolFilter{}).outOfBand(999999999) {
		t.Error("empty filter must not band-check anything")
	}
}

func TestClassifyVenueError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want coretypes.RejectReason
	}{
		{"INVALID_PRICE", coretypes.RejectInvalidPrice},
		{"INVALID_QUANTITY", coretypes.RejectInvalidQuantity},
		{"PRICE_FILTER", coretypes.RejectPriceBandViolation},
		{"LOT_SIZE_FILTER", coretypes.RejectLotSizeViolation},
		{"INSUFFICIENT_BALANCE", coretypes.RejectRiskReject},
		{"TOO_MANY_REQUESTS", coretypes.RejectRateLimit},
		{"UNKNOWN_SYMBOL", coretypes.RejectUnknownInstrument},
		{"E-9999", coretypes.RejectVenueErrorOther},
		{"", coretypes.RejectVenueErrorOther},
	}
	for _, c := range cases {
		if got := classifyVenueError(c.code); got != c.want {
			t.Errorf("classifyVenueError(%q) = %v, want %v", c.code, got, c.want)
		}
	}
}
