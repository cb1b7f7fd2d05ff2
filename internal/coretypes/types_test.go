package coretypes

import (
	"strconv"
	"testing"
)

func TestPriceQtySentinels(t *testing.T) {
	t.Parallel()

	if (InvalidPrice).Valid() {
		t.Fatal("InvalidPrice.Valid() = true, want false")
	}
	if !(Price(0)).Valid() {
		t.Fatal("Price(0).Valid() = false, want true: zero is a legitimate price")
	}

	if (InvalidQty).Valid() {
		t.Fatal("InvalidQty.Valid() = true, want false")
	}
	if !(Qty(0)).Valid() {
		t.Fatal("Qty(0).Valid() = false, want true: zero is a legitimate leaves quantity")
	}
	if !(Qty(0)).IsZero() {
		t.Fatal("Qty(0).IsZero() = false, want true")
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Side
		want Side
	}{
		{SideBid, SideAsk},
		{SideAsk, SideBid},
		{SideInvalid, SideInvalid},
	}
	for _, c := range cases {
		if got := c.in.Opposite(); got != c.want {
			t.Errorf("Side(%v).Opposite() = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSyntheticOrderIDDeterministicAndDisjoint(t *testing.T) {
	t.Parallel()

	a := SyntheticOrderID(3, Price(10050), SideBid)
	b := SyntheticOrderID(3, Price(10050), SideBid)
	if a != b {
		t.Fatalf("SyntheticOrderID not deterministic: %d != %d", a, b)
	}

	askSide := SyntheticOrderID(3, Price(10050), SideAsk)
	if askSide == a {
		t.Fatal("bid and ask synthetic ids at the same price collided")
	}

	otherInstrument := SyntheticOrderID(4, Price(10050), SideBid)
	if otherInstrument == a {
		t.Fatal("synthetic ids collided across instruments")
	}

	otherPrice := SyntheticOrderID(3, Price(10051), SideBid)
	if otherPrice == a {
		t.Fatal("synthetic ids collided across prices")
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id1, err := r.Register("BTC-USD")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	id2, err := r.Register("BTC-USD")
	if err != nil {
		t.Fatalf("Register() second call error = %v", err)
	}
	if id1 != id2 {
		t.Fatalf("Register() not idempotent: %d != %d", id1, id2)
	}

	if got := r.Symbol(id1); got != "BTC-USD" {
		t.Errorf("Symbol(%d) = %q, want BTC-USD", id1, got)
	}
	if got, ok := r.Lookup("BTC-USD"); !ok || got != id1 {
		t.Errorf("Lookup(BTC-USD) = (%d, %v), want (%d, true)", got, ok, id1)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryFullErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < MaxInstruments; i++ {
		if _, err := r.Register("sym-" + strconv.Itoa(i)); err != nil {
			t.Fatalf("Register() unexpected error at %d: %v", i, err)
		}
	}
	if _, err := r.Register("one-too-many"); err == nil {
		t.Fatal("Register() at capacity: want error, got nil")
	}
}
