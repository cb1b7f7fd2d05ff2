// Package gateway implements the order gateway: request-loop validation
// and dispatch, a live-mode REST adapter, the deterministic paper-trading
// simulator, bracket-order management, and reject classification. It is
// the single consumer of the client-request ring and the single producer
// on the client-response ring — backed internally by a publish loop that
// fans in from its own synchronous rejects and its executor's
// asynchronous completions so no channel in the package ever has more
// than one writer (see executor.go).
package gateway

import (
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
)

// Config configures one Gateway instance.
type Config struct {
	ClientID     coretypes.ClientId
	RingCapacity uint64
}

// Gateway wires a client-request ring and an executor (live or paper)
// together: it validates and dispatches requests, and publishes every
// response — its own local rejects and the executor's async completions —
// onto the response ring with a single monotonic per-gateway sequence.
type Gateway struct {
	cfg      Config
	reqRing  *fabric.Ring[coretypes.ClientRequest]
	respRing *fabric.Ring[coretypes.ClientResponse]
	registry *coretypes.Registry
	filters  map[coretypes.InstrumentId]SymbolFilter
	executor Executor
	bracket  *bracketManager
	m        *metrics
	logger   *slog.Logger
	hot      *fabric.LogProducer

	localCh chan coretypes.ClientResponse

	seq uint64

	stopCh        chan struct{}
	doneReqCh     chan struct{}
	donePublishCh chan struct{}
}

// New returns a Gateway consuming reqRing and producing onto respRing,
// using registry to resolve InstrumentId -> venue symbol and executor as
// the NEW/CANCEL backend (either a *LiveExecutor or a *PaperExecutor).
func New(cfg Config, registry *coretypes.Registry, executor Executor, m *metrics, logger *slog.Logger) *Gateway {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 4096
	}
	return &Gateway{
		cfg: cfg,
		reqRing: fabric.NewRing[coretypes.ClientRequest](cfg.RingCapacity),
		respRing: fabric.NewRing[coretypes.ClientResponse](cfg.RingCapacity),
		registry: registry,
		filters: make(map[coretypes.InstrumentId]SymbolFilter),
		executor: executor,
		bracket: newBracketManager(),
		m: m,
		logger: logger.With("component", "gateway"),
		localCh: make(chan coretypes.ClientResponse, 256),
		stopCh: make(chan struct{}),
		doneReqCh: make(chan struct{}),
		donePublishCh: make(chan struct{}),
	}
}

// Requests returns the ring strategies publish ClientRequests to.
func (g *Gateway) Requests() *fabric.Ring[coretypes.ClientRequest] { return g.reqRing }

// Responses returns the ring strategies consume ClientResponses from.
func (g *Gateway) Responses() *fabric.Ring[coretypes.ClientResponse] { return g.respRing }

// SetHotLog attaches a fabric log producer for the publish loop's own
// hot-path stamping (response-ring drops). Must be called before Start;
// the producer belongs to that one goroutine.
func (g *Gateway) SetHotLog(p *fabric.LogProducer) { g.hot = p }

// SetFilter registers the per-symbol venue filter f for instrument. Called
// at subscribe/config time, off the hot path.
func (g *Gateway) SetFilter(instrument coretypes.InstrumentId, f SymbolFilter) {
	g.filters[instrument] = f
}

// Start launches the executor and the gateway's own request/publish
// goroutines. Call once.
func (g *Gateway) Start() {
	g.executor.Start()
	go g.requestLoop()
	go g.publishLoop()
}

// Stop signals shutdown and joins both goroutines and the executor,
// using the same cooperative-cancellation model throughout.
func (g *Gateway) Stop() {
	close(g.stopCh)
	<-g.doneReqCh
	<-g.donePublishCh
	g.executor.Stop()
}

// requestLoop is the single consumer of the client-request ring. It
// validates every request and either rejects it locally or dispatches it
// to the executor.
func (g *Gateway) requestLoop() {
	defer close(g.doneReqCh)

	idle := 0
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		req, ok := g.reqRing.TryRead()
		if !ok {
			idle++
			if idle > 1000 {
				idle = 0
				select {
				case <-g.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
			}
			continue
		}
		idle = 0
		g.handleRequest(req)
	}
}

// handleRequest implements validate-then-dispatch.
func (g *Gateway) handleRequest(req coretypes.ClientRequest) {
	if req.ClientID != g.cfg.ClientID {
		g.rejectLocal(req, coretypes.RejectVenueErrorOther, "client_id mismatch")
		return
	}

	symbol := g.registry.Symbol(req.Instrument)
	if symbol == "" {
		g.rejectLocal(req, coretypes.RejectUnknownInstrument, "unregistered instrument")
		return
	}

	if req.Kind == coretypes.RequestCancel {
		g.executor.Cancel(req)
		return
	}

	if !req.Quantity.Valid() || req.Quantity <= 0 {
		g.rejectLocal(req, coretypes.RejectInvalidQuantity, "quantity must be positive")
		return
	}
	// A market order is represented by the InvalidPrice sentinel; only a
	// limit order's price is subject to the band check below.
	if req.Price.Valid() {
		if req.Price <= 0 {
			g.rejectLocal(req, coretypes.RejectInvalidPrice, "price must be positive")
			return
		}
		if f, ok := g.filters[req.Instrument]; ok && f.outOfBand(req.Price) {
			g.rejectLocal(req, coretypes.RejectPriceBandViolation, "price outside venue band")
			return
		}
	}

	if f, ok := g.filters[req.Instrument]; ok {
		adjQty, adjusted, reject := f.adjustPreTrade(req.Quantity)
		if reject != coretypes.RejectNone {
			g.rejectLocal(req, reject, "quantity below minimum after lot-step rounding")
			return
		}
		if adjusted {
			g.logger.Info("pre-trade quantity adjustment", "order_id", req.OrderID, "from", req.Quantity, "to", adjQty)
			req.Quantity = adjQty
		}
	}

	g.bracket.track(req)
	g.executor.Submit(req)
}

func (g *Gateway) rejectLocal(req coretypes.ClientRequest, reason coretypes.RejectReason, detail string) {
	kind := coretypes.ResponseRejected
	if req.Kind == coretypes.RequestCancel {
		kind = coretypes.ResponseCancelRejected
	}
	resp := coretypes.ClientResponse{
		Kind: kind,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
		Side: req.Side,
		Price: req.Price,
		RejectReason: reason,
		RejectDetail: detail,
	}
	select {
	case g.localCh <- resp:
	case <-g.stopCh:
	}
}

// publishLoop is the single producer on the client-response ring: it
// fans in localCh (the request loop's own synchronous rejects) and the
// executor's Results channel, stamps each with the next per-gateway
// sequence number, and drives the bracket-order state machine off of
// FILLED/REJECTED responses before forwarding them on.
func (g *Gateway) publishLoop() {
	defer close(g.donePublishCh)

	for {
		select {
		case <-g.stopCh:
			return

		case resp := <-g.localCh:
			g.publish(resp)

		case resp := <-g.executor.Results():
			g.onExecutorResponse(resp)
			g.publish(resp)
		}
	}
}

func (g *Gateway) onExecutorResponse(resp coretypes.ClientResponse) {
	switch resp.Kind {
	case coretypes.ResponseFilled:
		toSubmit, toCancel, _ := g.bracket.onFilled(resp)
		for _, r := range toSubmit {
			g.executor.Submit(r)
		}
		for _, id := range toCancel {
			g.executor.Cancel(coretypes.ClientRequest{Kind: coretypes.RequestCancel, ClientID: resp.ClientID, Instrument: resp.Instrument, OrderID: id})
		}

	case coretypes.ResponseRejected, coretypes.ResponseCancelRejected:
		if flatten := g.bracket.onRejected(resp); flatten != nil {
			g.executor.Submit(*flatten)
		}
	}
}

func (g *Gateway) publish(resp coretypes.ClientResponse) {
	g.seq++
	resp.Sequence = g.seq
	if g.m != nil {
		g.m.observeResponse(resp.Kind)
	}
	seq, ok := g.respRing.ReserveWrite()
	if !ok {
		g.seq--
		if g.m != nil {
			g.m.responseDrops.Inc()
		}
		if g.hot != nil {
			g.hot.Log(zerolog.WarnLevel, "response dropped on full ring", int64(resp.OrderID), int64(resp.Kind))
		}
		return
	}
	*g.respRing.Slot(seq) = resp
	g.respRing.CommitWrite(seq)
}
