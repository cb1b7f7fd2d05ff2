package gateway

import "tradingcore/internal/coretypes"

// bracketLeg identifies which of a bracket's three legs an OrderId belongs
// to, so the manager can route a FILLED/REJECTED response to the right
// state transition.
type bracketLeg uint8

const (
	legEntry bracketLeg = iota
	legStopLoss
	legTarget
)

// bracketState tracks one in-flight bracket order: the
// entry, and — once the entry fills — the stop-loss and target legs
// placed as opposite-side limit orders for the filled quantity.
type bracketState struct {
	entryID    coretypes.OrderId
	stopID     coretypes.OrderId
	targetID   coretypes.OrderId
	params     coretypes.BracketParams
	entryReq   coretypes.ClientRequest
	entryFills bool
	filledQty  coretypes.Qty // executed quantity of the entry leg
	flattening bool
}

// bracketManager owns every tracked bracket. It is touched only by the
// gateway's publish loop, so it needs no locking despite being consulted
// on every response that flows through.
type bracketManager struct {
	byOrder map[coretypes.OrderId]*bracketState // any leg id -> its bracket
}

func newBracketManager() *bracketManager {
	return &bracketManager{byOrder: make(map[coretypes.OrderId]*bracketState)}
}

// track registers a new bracket at NEW submission time.
func (m *bracketManager) track(req coretypes.ClientRequest) {
	if req.Bracket == nil {
		return
	}
	st := &bracketState{entryID: req.OrderID, params: *req.Bracket, entryReq: req}
	m.byOrder[req.OrderID] = st
}

func (m *bracketManager) legFor(st *bracketState, orderID coretypes.OrderId) bracketLeg {
	switch orderID {
	case st.stopID:
		return legStopLoss
	case st.targetID:
		return legTarget
	default:
		return legEntry
	}
}

// onFilled advances the bracket state machine: once the entry leg fills,
// it submits the stop-loss and target legs; once either exit leg fills,
// it cancels the other. It returns the two orders the gateway should now
// submit/cancel (nil entries mean no action).
func (m *bracketManager) onFilled(resp coretypes.ClientResponse) (toSubmit []coretypes.ClientRequest, toCancel []coretypes.OrderId, done bool) {
	st, ok := m.byOrder[resp.OrderID]
	if !ok {
		return nil, nil, false
	}

	switch m.legFor(st, resp.OrderID) {
	case legEntry:
		exitSide := st.entryReq.Side.Opposite()
		stopReq := coretypes.ClientRequest{
			Kind: coretypes.RequestNew,
			ClientID: st.entryReq.ClientID,
			OrderID: nextSyntheticLegID(st.entryID, 1),
			Instrument: st.entryReq.Instrument,
			Side: exitSide,
			Price: st.params.StopLossPrice,
			Quantity: resp.ExecutedQuantity,
		}
		targetReq := coretypes.ClientRequest{
			Kind: coretypes.RequestNew,
			ClientID: st.entryReq.ClientID,
			OrderID: nextSyntheticLegID(st.entryID, 2),
			Instrument: st.entryReq.Instrument,
			Side: exitSide,
			Price: st.params.TargetPrice,
			Quantity: resp.ExecutedQuantity,
		}
		st.stopID = stopReq.OrderID
		st.targetID = targetReq.OrderID
		st.filledQty = resp.ExecutedQuantity
		m.byOrder[stopReq.OrderID] = st
		m.byOrder[targetReq.OrderID] = st
		return []coretypes.ClientRequest{stopReq, targetReq}, nil, false

	case legStopLoss:
		other := st.targetID
		delete(m.byOrder, st.entryID)
		delete(m.byOrder, st.stopID)
		delete(m.byOrder, st.targetID)
		return nil, []coretypes.OrderId{other}, true

	case legTarget:
		other := st.stopID
		delete(m.byOrder, st.entryID)
		delete(m.byOrder, st.stopID)
		delete(m.byOrder, st.targetID)
		return nil, []coretypes.OrderId{other}, true
	}
	return nil, nil, false
}

// onRejected handles any leg rejection: the whole bracket flattens, and
// the gateway issues a market order to close any acquired position. It
// returns the flatten order to submit, if any.
func (m *bracketManager) onRejected(resp coretypes.ClientResponse) (flatten *coretypes.ClientRequest) {
	st, ok := m.byOrder[resp.OrderID]
	if !ok || st.flattening {
		return nil
	}
	st.flattening = true

	leg := m.legFor(st, resp.OrderID)
	delete(m.byOrder, st.entryID)
	delete(m.byOrder, st.stopID)
	delete(m.byOrder, st.targetID)

	if leg == legEntry {
		// The entry itself never acquired a position; nothing to flatten.
		return nil
	}

	req := &coretypes.ClientRequest{
		Kind: coretypes.RequestNew,
		ClientID: st.entryReq.ClientID,
		OrderID: nextSyntheticLegID(st.entryID, 3),
		Instrument: st.entryReq.Instrument,
		Side: st.entryReq.Side.Opposite(),
		Price: coretypes.InvalidPrice, // market order: no limit price
		Quantity: st.filledQty,
	}
	return req
}

// nextSyntheticLegID derives a deterministic, collision-free id for a
// bracket's generated legs from the entry's own id and a small leg index,
// analogous in spirit to coretypes.SyntheticOrderID's derivation for book
// levels — here keyed off the client-assigned entry id instead of
// (instrument, price, side).
func nextSyntheticLegID(entryID coretypes.OrderId, legIndex uint64) coretypes.OrderId {
	return coretypes.OrderId(uint64(entryID)<<4 | legIndex)
}
