package marketdata

import (
	"testing"

	"github.com/valyala/fastjson"
)

func testScale(t *testing.T) scale {
	t.Helper()
	sc, err := newScale("0.01", "0.001")
	if err != nil {
		t.Fatalf("newScale: %v", err)
	}
	return sc
}

func TestParseEnvelopeRoutesByType(t *testing.T) {
	t.Parallel()

	var p fastjson.Parser
	typ, _, err := parseEnvelope(&p, []byte(`{"type":"depthUpdate","symbol":"BTCUSD"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if typ != streamDepthUpdate {
		t.Fatalf("type = %q, want depthUpdate", typ)
	}
}

func TestParseDepthUpdate(t *testing.T) {
	t.Parallel()
	sc := testScale(t)

	var p fastjson.Parser
	_, v, err := parseEnvelope(&p, []byte(`{
		"type":"depthUpdate","symbol":"BTCUSD","U":11,"u":12,
		"b":[["100.00","8.000"]], "a":[]
	}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	symbol, diff, err := parseDepthUpdate(v, sc)
	if err != nil {
		t.Fatalf("parseDepthUpdate: %v", err)
	}
	if symbol != "BTCUSD" {
		t.Fatalf("symbol = %q", symbol)
	}
	if diff.FirstUpdateID != 11 || diff.LastUpdateID != 12 {
		t.Fatalf("update ids = %d/%d, want 11/12", diff.FirstUpdateID, diff.LastUpdateID)
	}
	if len(diff.Bids) != 1 || diff.Bids[0].Price != 10000 || diff.Bids[0].Quantity != 8000 {
		t.Fatalf("bids = %+v", diff.Bids)
	}
	if len(diff.Asks) != 0 {
		t.Fatalf("asks = %+v, want empty", diff.Asks)
	}
}

func TestParseTradeParsesTimestamp(t *testing.T) {
	t.Parallel()
	sc := testScale(t)

	var p fastjson.Parser
	_, v, err := parseEnvelope(&p, []byte(`{
		"type":"trade","symbol":"BTCUSD","price":"101.00","qty":"2.000",
		"side":"SELL","time":"2024-01-01T00:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	ev, err := parseTrade(v, sc)
	if err != nil {
		t.Fatalf("parseTrade: %v", err)
	}
	if ev.Price != 10100 || ev.Qty != 2000 {
		t.Fatalf("ev = %+v", ev)
	}
	if ev.Time.Year() != 2024 {
		t.Fatalf("Time not parsed: %v", ev.Time)
	}
}

func TestParseDepthSnapshotWithTrade(t *testing.T) {
	t.Parallel()
	sc := testScale(t)

	var p fastjson.Parser
	_, v, err := parseEnvelope(&p, []byte(`{
		"type":"depthSnapshot","symbol":"ETHUSD",
		"bids":[["100.00","4.000"],["98.00","2.000"]],
		"asks":[["101.00","7.000"],["102.00","1.000"]],
		"trade":{"price":"101.00","qty":"1.000","side":"BUY"}
	}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	symbol, bids, asks, trade, err := parseDepthSnapshot(v, sc)
	if err != nil {
		t.Fatalf("parseDepthSnapshot: %v", err)
	}
	if symbol != "ETHUSD" {
		t.Fatalf("symbol = %q", symbol)
	}
	if len(bids) != 2 || len(asks) != 2 {
		t.Fatalf("bids/asks = %+v / %+v", bids, asks)
	}
	if trade == nil || trade.Quantity != 1000 {
		t.Fatalf("trade = %+v", trade)
	}
}

func TestParseEnvelopeUnknownTypeIsNotAnError(t *testing.T) {
	t.Parallel()

	var p fastjson.Parser
	typ, _, err := parseEnvelope(&p, []byte(`{"type":"last_trade_price"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if typ == streamDepthUpdate || typ == streamTrade || typ == streamDepthSnapshot || typ == streamHeartbeat {
		t.Fatalf("unexpected recognized type: %q", typ)
	}
}
