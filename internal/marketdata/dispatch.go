package marketdata

import (
	"fmt"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/valyala/fastjson"

	"tradingcore/internal/book"
	"tradingcore/internal/coretypes"
)

// Dispatch peeks at the routing-only envelope shape before deciding which
// typed parse to run; unknown stream types are counted and dropped by the
// caller. fastjson here instead of a full encoding/json unmarshal avoids
// allocating a typed struct just to read one routing field per inbound
// frame.
type streamType string

const (
	streamDepthUpdate streamType = "depthUpdate"
	streamTrade streamType = "trade"
	streamDepthSnapshot streamType = "depthSnapshot"
	streamHeartbeat streamType = "heartbeat"
)

// tradeEvent is the parsed form of a "trade" frame.
type tradeEvent struct {
	Symbol string
	Price  coretypes.Price
	Qty    coretypes.Qty
	Side   coretypes.Side
	Time   time.Time
}

// parseEnvelope parses data once and returns the routing type and the
// parsed fastjson.Value so callers can pull further fields without
// re-parsing.
func parseEnvelope(p *fastjson.Parser, data []byte) (streamType, *fastjson.Value, error) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return "", nil, fmt.Errorf("marketdata: parse frame: %w", err)
	}
	t := string(v.GetStringBytes("type"))
	return streamType(t), v, nil
}

func sideFromString(s string) coretypes.Side {
	switch s {
	case "BUY", "BID", "buy", "bid":
		return coretypes.SideBid
	case "SELL", "ASK", "sell", "ask":
		return coretypes.SideAsk
	default:
		return coretypes.SideInvalid
	}
}

func parsePairLevels(arr []*fastjson.Value, sc scale) ([]coretypes.PriceLevel, error) {
	out := make([]coretypes.PriceLevel, 0, len(arr))
	for _, pair := range arr {
		items, err := pair.Array()
		if err != nil || len(items) != 2 {
			return nil, fmt.Errorf("marketdata: malformed level entry")
		}
		priceStr := string(items[0].GetStringBytes())
		qtyStr := string(items[1].GetStringBytes())
		price, err := sc.parsePrice(priceStr)
		if err != nil {
			return nil, err
		}
		qty, err := sc.parseQty(qtyStr)
		if err != nil {
			return nil, err
		}
		out = append(out, coretypes.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// parseDepthUpdate parses a diff-mode incremental update: symbol, the
// [U, u] update-id range, and per-side (price, new_quantity) pairs.
func parseDepthUpdate(v *fastjson.Value, sc scale) (symbol string, diff book.DepthDiff, err error) {
	symbol = string(v.GetStringBytes("symbol"))
	diff.FirstUpdateID = v.GetUint64("U")
	diff.LastUpdateID = v.GetUint64("u")

	diff.Bids, err = parsePairLevels(v.GetArray("b"), sc)
	if err != nil {
		return "", book.DepthDiff{}, err
	}
	diff.Asks, err = parsePairLevels(v.GetArray("a"), sc)
	if err != nil {
		return "", book.DepthDiff{}, err
	}
	return symbol, diff, nil
}

// parseDepthSnapshot parses a snapshot-replace mode tick: symbol, the
// full bid/ask picture, and an optional trade print.
func parseDepthSnapshot(v *fastjson.Value, sc scale) (symbol string, bids, asks []coretypes.PriceLevel, trade *book.Trade, err error) {
	symbol = string(v.GetStringBytes("symbol"))
	bids, err = parsePairLevels(v.GetArray("bids"), sc)
	if err != nil {
		return "", nil, nil, nil, err
	}
	asks, err = parsePairLevels(v.GetArray("asks"), sc)
	if err != nil {
		return "", nil, nil, nil, err
	}

	if tv := v.Get("trade"); tv != nil {
		price, perr := sc.parsePrice(string(tv.GetStringBytes("price")))
		if perr != nil {
			return "", nil, nil, nil, perr
		}
		qty, qerr := sc.parseQty(string(tv.GetStringBytes("qty")))
		if qerr != nil {
			return "", nil, nil, nil, qerr
		}
		trade = &book.Trade{
			Price: price,
			Quantity: qty,
			Side: sideFromString(string(tv.GetStringBytes("side"))),
		}
	}
	return symbol, bids, asks, trade, nil
}

// parseTrade parses a standalone "trade" frame. Timestamps are ISO-8601
// strings; a malformed one degrades to the zero time rather than dropping
// the print.
func parseTrade(v *fastjson.Value, sc scale) (tradeEvent, error) {
	price, err := sc.parsePrice(string(v.GetStringBytes("price")))
	if err != nil {
		return tradeEvent{}, err
	}
	qty, err := sc.parseQty(string(v.GetStringBytes("qty")))
	if err != nil {
		return tradeEvent{}, err
	}
	ts, err := iso8601.ParseString(string(v.GetStringBytes("time")))
	if err != nil {
		ts = time.Time{}
	}
	return tradeEvent{
		Symbol: string(v.GetStringBytes("symbol")),
		Price: price,
		Qty: qty,
		Side: sideFromString(string(v.GetStringBytes("side"))),
		Time: ts,
	}, nil
}
