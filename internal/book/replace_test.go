package book

import (
	"testing"

	"tradingcore/internal/coretypes"
)

func levels(pairs ...[2]int64) []coretypes.PriceLevel {
	out := make([]coretypes.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, coretypes.PriceLevel{Price: coretypes.Price(p[0]), Quantity: coretypes.Qty(p[1])})
	}
	return out
}

func TestReplaceModeInitialTickEmitsSnapshot(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)

	r.OnTick(levels([2]int64{100, 5}, [2]int64{99, 3}), levels([2]int64{101, 7}), nil)

	events := drain(t, ring)
	wantKinds := []coretypes.EventKind{
		coretypes.EventSnapshotStart,
		coretypes.EventAdd, // bid 100@5
		coretypes.EventAdd, // bid 99@3
		coretypes.EventAdd, // ask 101@7
		coretypes.EventSnapshotEnd,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantKinds), events)
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
	}
	if !r.Book().Initialized {
		t.Fatal("book not initialized after first tick")
	}
}

// TestReplaceModeDiffsConsecutiveTicks checks that two consecutive
// bounded-depth pictures emit exactly the per-level deltas between them:
// a quantity change is a MODIFY, a vanished price a CANCEL, a new price an
// ADD, and an unchanged level produces nothing.
func TestReplaceModeDiffsConsecutiveTicks(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)

	r.OnTick(levels([2]int64{100, 5}, [2]int64{99, 3}), levels([2]int64{101, 7}), nil)
	drain(t, ring)

	r.OnTick(levels([2]int64{100, 4}, [2]int64{98, 2}), levels([2]int64{101, 7}, [2]int64{102, 1}), nil)

	events := drain(t, ring)
	type change struct {
		kind  coretypes.EventKind
		side  coretypes.Side
		price coretypes.Price
		qty   coretypes.Qty
	}
	want := map[change]bool{
		{coretypes.EventModify, coretypes.SideBid, 100, 4}: false,
		{coretypes.EventCancel, coretypes.SideBid, 99, 0}:  false,
		{coretypes.EventAdd, coretypes.SideBid, 98, 2}:     false,
		{coretypes.EventAdd, coretypes.SideAsk, 102, 1}:    false,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for _, ev := range events {
		c := change{ev.Kind, ev.Side, ev.Price, ev.Quantity}
		seen, ok := want[c]
		if !ok {
			t.Errorf("unexpected event %+v (unchanged ask 101 must emit nothing)", ev)
			continue
		}
		if seen {
			t.Errorf("duplicate event %+v", ev)
		}
		want[c] = true
	}
	for c, seen := range want {
		if !seen {
			t.Errorf("missing event %+v", c)
		}
	}
}

func TestReplaceModeTradeFieldEmitsTrade(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)
	r.OnTick(levels([2]int64{100, 5}), levels([2]int64{101, 7}), nil)
	drain(t, ring)

	r.OnTick(levels([2]int64{100, 5}), levels([2]int64{101, 7}), &Trade{Price: 101, Quantity: 2, Side: coretypes.SideAsk})

	events := drain(t, ring)
	if len(events) != 1 || events[0].Kind != coretypes.EventTrade {
		t.Fatalf("events = %+v, want exactly one TRADE", events)
	}
	if events[0].Price != 101 || events[0].Quantity != 2 {
		t.Fatalf("trade = %+v, want 101@2", events[0])
	}
}

func TestReplaceModeSequencesStrictlyIncrease(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)
	r.OnTick(levels([2]int64{100, 5}), levels([2]int64{101, 7}), nil)
	r.OnTick(levels([2]int64{100, 6}), levels([2]int64{101, 7}), nil)

	events := drain(t, ring)
	var last uint64
	for i, ev := range events {
		if ev.Sequence <= last {
			t.Fatalf("event[%d].Sequence = %d, not strictly greater than %d", i, ev.Sequence, last)
		}
		last = ev.Sequence
	}
}

func TestReplaceModeCrossedTickResyncs(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)
	r.OnTick(levels([2]int64{100, 5}), levels([2]int64{101, 7}), nil)
	drain(t, ring)

	// New picture leaves the bid at or above the ask.
	r.OnTick(levels([2]int64{102, 5}), levels([2]int64{101, 7}), nil)

	events := drain(t, ring)
	if len(events) != 1 || events[0].Kind != coretypes.EventClear {
		t.Fatalf("events = %+v, want exactly one CLEAR: the crossing tick's deltas must never be published", events)
	}
	if r.Book().Initialized {
		t.Fatal("book still initialized after a crossed tick")
	}
}

func TestReplaceModeCrossedInitialTickRejected(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)

	r.OnTick(levels([2]int64{102, 5}), levels([2]int64{101, 7}), nil)

	events := drain(t, ring)
	if len(events) != 1 || events[0].Kind != coretypes.EventClear {
		t.Fatalf("events = %+v, want exactly one CLEAR", events)
	}
	if r.Book().Initialized {
		t.Fatal("book initialized from a crossed first tick")
	}
}

func TestReplaceModeResetEmitsClear(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)
	r.OnTick(levels([2]int64{100, 5}), nil, nil)
	drain(t, ring)

	r.Reset()

	events := drain(t, ring)
	if len(events) != 1 || events[0].Kind != coretypes.EventClear {
		t.Fatalf("events = %+v, want exactly one CLEAR", events)
	}
	if r.Book().Initialized {
		t.Fatal("book initialized after Reset")
	}
	if _, ok := r.Book().Bids.best(); ok {
		t.Fatal("bids not cleared by Reset")
	}
}

func TestReplaceModeSyntheticIDsStableAcrossModifies(t *testing.T) {
	t.Parallel()

	ring := newTestRing()
	r := NewReplaceReconstructor(2, ring)
	r.OnTick(levels([2]int64{100, 5}), nil, nil)
	first := drain(t, ring)

	r.OnTick(levels([2]int64{100, 6}), nil, nil)
	second := drain(t, ring)

	var addID, modifyID coretypes.OrderId
	for _, ev := range first {
		if ev.Kind == coretypes.EventAdd {
			addID = ev.SyntheticOrderID
		}
	}
	for _, ev := range second {
		if ev.Kind == coretypes.EventModify {
			modifyID = ev.SyntheticOrderID
		}
	}
	if addID == 0 || addID != modifyID {
		t.Fatalf("synthetic id changed across MODIFY: add=%d modify=%d", addID, modifyID)
	}
}
