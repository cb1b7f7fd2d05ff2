package gateway

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradingcore/internal/coretypes"
)

// fakeClock is a manually-advanced clock for deterministic paper-simulator
// tests: Now returns a mutable instant that moves only when Advance is
// called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func drainResults(t *testing.T, ch <-chan coretypes.ClientResponse, n int, timeout time.Duration) []coretypes.ClientResponse {
	t.Helper()
	var out []coretypes.ClientResponse
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case r := <-ch:
			out = append(out, r)
		case <-deadline:
			t.Fatalf("got %d responses, want %d: %+v", len(out), n, out)
		}
	}
	return out
}

// TestPaperFillDeterministic drives a guaranteed fill with fixed zero
// slippage, checking ACCEPTED then FILLED at full quantity and the
// original price.
func TestPaperFillDeterministic(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 10 * time.Millisecond,
		FillProbability: 1.0,
		SlippageModel: SlippageFixed,
		SlippageFactor: 0,
		Seed: 42,
	}
	clk := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := newPaperExecutorWithClock(cfg, clk, logger)
	exec.Start()
	defer exec.Stop()

	req := coretypes.ClientRequest{
		Kind: coretypes.RequestNew,
		ClientID: 1,
		OrderID: 100,
		Instrument: 0,
		Side: coretypes.SideBid,
		Price: 10000,
		Quantity: 10,
	}
	exec.Submit(req)

	results := drainResults(t, exec.Results(), 1, time.Second)
	if results[0].Kind != coretypes.ResponseAccepted {
		t.Fatalf("first response = %v, want ACCEPTED", results[0].Kind)
	}

	clk.Advance(10 * time.Millisecond)
	results = append(results, drainResults(t, exec.Results(), 1, time.Second)...)
	if results[1].Kind != coretypes.ResponseFilled {
		t.Fatalf("second response = %v, want FILLED", results[1].Kind)
	}
	if results[1].ExecutedQuantity != 10 {
		t.Fatalf("executed qty = %d, want 10", results[1].ExecutedQuantity)
	}
	if results[1].Price != 10000 {
		t.Fatalf("exec price = %d, want 10000 (zero slippage)", results[1].Price)
	}
}

// TestPaperCancelRace checks that a CANCEL arriving before the scheduled
// execution removes the order and no FILLED ever follows.
func TestPaperCancelRace(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{
		MinLatency: 100 * time.Millisecond,
		MaxLatency: 100 * time.Millisecond,
		FillProbability: 1.0,
		SlippageModel: SlippageFixed,
		Seed: 7,
	}
	clk := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := newPaperExecutorWithClock(cfg, clk, logger)
	exec.Start()
	defer exec.Stop()

	req := coretypes.ClientRequest{Kind: coretypes.RequestNew, ClientID: 1, OrderID: 5, Side: coretypes.SideBid, Price: 100, Quantity: 10}
	exec.Submit(req)
	drainResults(t, exec.Results(), 1, time.Second) // ACCEPTED

	clk.Advance(50 * time.Millisecond)
	exec.Cancel(coretypes.ClientRequest{Kind: coretypes.RequestCancel, ClientID: 1, OrderID: 5})
	results := drainResults(t, exec.Results(), 1, time.Second)
	if results[0].Kind != coretypes.ResponseCanceled {
		t.Fatalf("response = %v, want CANCELED", results[0].Kind)
	}

	clk.Advance(100 * time.Millisecond)
	select {
	case r := <-exec.Results():
		t.Fatalf("unexpected extra response after cancel: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPaperDeterministicReplay checks "given identical config,
// seeded RNG, and identical request stream, the response stream is
// bit-identical" property across two independent executor instances.
func TestPaperDeterministicReplay(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{
		MinLatency: 5 * time.Millisecond,
		MaxLatency: 20 * time.Millisecond,
		FillProbability: 0.6,
		SlippageModel: SlippageNormal,
		SlippageFactor: 0.001,
		Seed: 123,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	run := func() []coretypes.ClientResponse {
		clk := newFakeClock()
		exec := newPaperExecutorWithClock(cfg, clk, logger)
		exec.Start()
		defer exec.Stop()

		var got []coretypes.ClientResponse
		for i := 0; i < 5; i++ {
			req := coretypes.ClientRequest{
				Kind: coretypes.RequestNew, ClientID: 1, OrderID: coretypes.OrderId(i + 1),
				Side: coretypes.SideBid, Price: 1000, Quantity: 1,
			}
			exec.Submit(req)
			got = append(got, drainResults(t, exec.Results(), 1, time.Second)...)
		}
		clk.Advance(30 * time.Millisecond)
		got = append(got, drainResults(t, exec.Results(), 5, time.Second)...)
		return got
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Price != b[i].Price || a[i].ExecutedQuantity != b[i].ExecutedQuantity {
			t.Fatalf("response[%d] differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
