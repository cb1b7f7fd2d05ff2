package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tradingcore/internal/coretypes"
	"tradingcore/internal/venue"
)

// fakeVenue is an httptest-backed venue REST endpoint: it acks NEW with a
// fixed venue order id, acks CANCEL, and replays a scripted sequence of
// status bodies (repeating the last one once the script runs out, the way
// a real venue keeps answering the same terminal status forever).
type fakeVenue struct {
	mu        sync.Mutex
	newBody   venueOrderResponse
	statuses  []venueStatusResponse
	statusIdx int
	newCalls  int
}

func (f *fakeVenue) newCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newCalls
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			f.newCalls++
			json.NewEncoder(w).Encode(f.newBody)
		case http.MethodDelete:
			json.NewEncoder(w).Encode(venueOrderResponse{})
		case http.MethodGet:
			idx := f.statusIdx
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			} else {
				f.statusIdx++
			}
			json.NewEncoder(w).Encode(f.statuses[idx])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func testLiveExecutor(t *testing.T, fv *fakeVenue) *LiveExecutor {
	t.Helper()
	srv := httptest.NewServer(fv.handler())
	t.Cleanup(srv.Close)

	registry := coretypes.NewRegistry()
	if _, err := registry.Register("BTCUSD"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewLiveExecutor(LiveConfig{
		BaseURL: srv.URL,
		PollInterval: 10 * time.Millisecond,
		OrderRate: 100,
		OrderBurst: 10,
	}, venue.Credentials{APIKey: "k", APISecret: "s"}, registry, logger)
	exec.Start()
	t.Cleanup(exec.Stop)
	return exec
}

func (e *LiveExecutor) hasMapping(id coretypes.OrderId) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.orders[id]
	return ok
}

func newReq(orderID coretypes.OrderId) coretypes.ClientRequest {
	return coretypes.ClientRequest{
		Kind: coretypes.RequestNew, ClientID: 1, OrderID: orderID,
		Instrument: 0, Side: coretypes.SideBid, Price: 10000, Quantity: 10,
	}
}

func TestLiveNewRecordsMappingAndEmitsAccepted(t *testing.T) {
	t.Parallel()

	fv := &fakeVenue{
		newBody:  venueOrderResponse{OrderID: "V-1"},
		statuses: []venueStatusResponse{{Status: "NEW", ExecutedQty: "0"}},
	}
	exec := testLiveExecutor(t, fv)

	exec.Submit(newReq(100))
	results := drainResults(t, exec.Results(), 1, 2*time.Second)
	if results[0].Kind != coretypes.ResponseAccepted {
		t.Fatalf("response = %v, want ACCEPTED", results[0].Kind)
	}
	if !exec.hasMapping(100) {
		t.Fatal("internal->venue mapping missing after ACK")
	}
	if got := fv.newCallCount(); got != 1 {
		t.Fatalf("venue saw %d NEW posts, want 1", got)
	}
}

// TestLiveStatusPollIdempotent scripts the venue to answer the same
// partial-fill status twice before the terminal fill: the poller must emit
// PARTIALLY_FILLED exactly once, then FILLED exactly once, and drop the
// mapping at the terminal response.
func TestLiveStatusPollIdempotent(t *testing.T) {
	t.Parallel()

	fv := &fakeVenue{
		newBody: venueOrderResponse{OrderID: "V-2"},
		statuses: []venueStatusResponse{
			{Status: "PARTIALLY_FILLED", ExecutedQty: "5"},
			{Status: "PARTIALLY_FILLED", ExecutedQty: "5"},
			{Status: "FILLED", ExecutedQty: "10"},
		},
	}
	exec := testLiveExecutor(t, fv)

	exec.Submit(newReq(200))
	results := drainResults(t, exec.Results(), 3, 5*time.Second)

	if results[0].Kind != coretypes.ResponseAccepted {
		t.Fatalf("response[0] = %v, want ACCEPTED", results[0].Kind)
	}
	if results[1].Kind != coretypes.ResponsePartiallyFilled || results[1].ExecutedQuantity != 5 {
		t.Fatalf("response[1] = %+v, want PARTIALLY_FILLED qty 5", results[1])
	}
	if results[1].LeavesQuantity != 5 {
		t.Fatalf("response[1].LeavesQuantity = %d, want 5", results[1].LeavesQuantity)
	}
	if results[2].Kind != coretypes.ResponseFilled || results[2].ExecutedQuantity != 10 {
		t.Fatalf("response[2] = %+v, want FILLED qty 10", results[2])
	}

	// The duplicate partial status in between must have been suppressed, and
	// the terminal FILLED must have dropped the mapping.
	select {
	case r := <-exec.Results():
		t.Fatalf("unexpected extra response: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	if exec.hasMapping(200) {
		t.Fatal("mapping still present after terminal FILLED")
	}
}

func TestLiveVenueRejectClassified(t *testing.T) {
	t.Parallel()

	fv := &fakeVenue{
		newBody:  venueOrderResponse{Code: "PRICE_FILTER", Msg: "price outside allowed band"},
		statuses: []venueStatusResponse{{Status: "NEW", ExecutedQty: "0"}},
	}
	exec := testLiveExecutor(t, fv)

	exec.Submit(newReq(300))
	results := drainResults(t, exec.Results(), 1, 2*time.Second)
	if results[0].Kind != coretypes.ResponseRejected {
		t.Fatalf("response = %v, want REJECTED", results[0].Kind)
	}
	if results[0].RejectReason != coretypes.RejectPriceBandViolation {
		t.Fatalf("reject reason = %v, want PRICE_BAND_VIOLATION", results[0].RejectReason)
	}
	if results[0].RejectDetail == "" {
		t.Fatal("venue message dropped from RejectDetail")
	}
	if exec.hasMapping(300) {
		t.Fatal("mapping recorded for a rejected order")
	}
}

func TestLiveCancelUnknownOrderRejected(t *testing.T) {
	t.Parallel()

	fv := &fakeVenue{
		newBody:  venueOrderResponse{OrderID: "V-4"},
		statuses: []venueStatusResponse{{Status: "NEW", ExecutedQty: "0"}},
	}
	exec := testLiveExecutor(t, fv)

	exec.Cancel(coretypes.ClientRequest{Kind: coretypes.RequestCancel, ClientID: 1, OrderID: 999, Instrument: 0})
	results := drainResults(t, exec.Results(), 1, 2*time.Second)
	if results[0].Kind != coretypes.ResponseCancelRejected {
		t.Fatalf("response = %v, want CANCEL_REJECTED", results[0].Kind)
	}
}

func TestLiveCancelDropsMapping(t *testing.T) {
	t.Parallel()

	fv := &fakeVenue{
		newBody:  venueOrderResponse{OrderID: "V-5"},
		statuses: []venueStatusResponse{{Status: "NEW", ExecutedQty: "0"}},
	}
	exec := testLiveExecutor(t, fv)

	exec.Submit(newReq(500))
	drainResults(t, exec.Results(), 1, 2*time.Second) // ACCEPTED

	exec.Cancel(coretypes.ClientRequest{Kind: coretypes.RequestCancel, ClientID: 1, OrderID: 500, Instrument: 0})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case r := <-exec.Results():
			if r.Kind == coretypes.ResponseCanceled {
				if exec.hasMapping(500) {
					t.Fatal("mapping still present after CANCELED")
				}
				return
			}
			// Status-poll noise for the still-live order may arrive first.
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal("never saw CANCELED")
}
