package gateway

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"tradingcore/internal/coretypes"
)

// SlippageModel selects how PaperExecutor draws the slippage applied to a
// filled order's execution price.
type SlippageModel uint8

const (
	SlippageFixed SlippageModel = iota
	SlippageNormal
	SlippagePareto
)

// PaperConfig tunes the deterministic paper-trading simulator.
type PaperConfig struct {
	MinLatency      time.Duration
	MaxLatency      time.Duration
	FillProbability float64
	SlippageModel   SlippageModel
	SlippageFactor  float64
	Seed            int64
}

// pendingOrder is one scheduled execution the paper clock will fire.
type pendingOrder struct {
	req      coretypes.ClientRequest
	execAt   time.Time
	fills    bool
	canceled bool
}

// clock abstracts "now" so tests can control the instant the simulator
// schedules latency draws from, independent of when the real timer that
// fires them elapses. The production clock is realClock.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// PaperExecutor is the deterministic paper-trading simulator: immediate
// ACCEPTED, a latency-scheduled Bernoulli fill decision, and a
// configurable slippage model, driven by a seeded math/rand source so
// identical config + identical request stream + identical seed yields a
// bit-identical response stream. One goroutine owns the pending set and
// the RNG, so Results has exactly one writer.
type PaperExecutor struct {
	cfg    PaperConfig
	rng    *rand.Rand
	clock  clock
	logger *slog.Logger

	submitCh chan coretypes.ClientRequest
	cancelCh chan coretypes.ClientRequest
	resultCh chan coretypes.ClientResponse

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPaperExecutor returns a PaperExecutor seeded per cfg.Seed.
func NewPaperExecutor(cfg PaperConfig, logger *slog.Logger) *PaperExecutor {
	return newPaperExecutorWithClock(cfg, realClock{}, logger)
}

func newPaperExecutorWithClock(cfg PaperConfig, c clock, logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		clock: c,
		logger: logger.With("component", "gateway.paper"),
		submitCh: make(chan coretypes.ClientRequest, 256),
		cancelCh: make(chan coretypes.ClientRequest, 256),
		resultCh: make(chan coretypes.ClientResponse, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (e *PaperExecutor) Start() { go e.run() }

func (e *PaperExecutor) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *PaperExecutor) Submit(req coretypes.ClientRequest) {
	select {
	case e.submitCh <- req:
	case <-e.stopCh:
	}
}

func (e *PaperExecutor) Cancel(req coretypes.ClientRequest) {
	select {
	case e.cancelCh <- req:
	case <-e.stopCh:
	}
}

func (e *PaperExecutor) Results() <-chan coretypes.ClientResponse { return e.resultCh }

func (e *PaperExecutor) emit(resp coretypes.ClientResponse) {
	select {
	case e.resultCh <- resp:
	case <-e.stopCh:
	}
}

// run is the simulator's single goroutine: it owns `pending`, the
// scheduled executions keyed by order id (earliestPending scans it for the
// next one), and wakes up at the earliest one due rather than polling, so latency draws are honored exactly.
func (e *PaperExecutor) run() {
	defer close(e.doneCh)

	pending := make(map[coretypes.OrderId]*pendingOrder)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	rearm := func() {
		next, ok := earliestPending(pending)
		if !ok {
			if armed {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				armed = false
			}
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		d := next.execAt.Sub(e.clock.Now())
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		armed = true
	}

	for {
		select {
		case <-e.stopCh:
			return

		case req := <-e.submitCh:
			e.handleNew(req, pending)
			rearm()

		case req := <-e.cancelCh:
			e.handleCancel(req, pending)
			rearm()

		case <-timer.C:
			armed = false
			e.fireDue(pending)
			rearm()
		}
	}
}

func earliestPending(pending map[coretypes.OrderId]*pendingOrder) (*pendingOrder, bool) {
	var best *pendingOrder
	for _, p := range pending {
		if p.canceled {
			continue
		}
		if best == nil || p.execAt.Before(best.execAt) {
			best = p
		}
	}
	return best, best != nil
}

// handleNew implements steps 1-3: emit ACCEPTED immediately,
// draw latency and schedule execution, and pre-draw the Bernoulli fill
// decision so it's fixed at submission time (not re-rolled when the timer
// fires), keeping the bit-identical-replay property independent of
// scheduling jitter.
func (e *PaperExecutor) handleNew(req coretypes.ClientRequest, pending map[coretypes.OrderId]*pendingOrder) {
	e.emit(coretypes.ClientResponse{
		Kind: coretypes.ResponseAccepted,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
		Side: req.Side,
		Price: req.Price,
	})

	lo := e.cfg.MinLatency
	hi := e.cfg.MaxLatency
	var latency time.Duration
	if hi > lo {
		latency = lo + time.Duration(e.rng.Int63n(int64(hi-lo+1)))
	} else {
		latency = lo
	}

	fills := e.rng.Float64() < e.cfg.FillProbability

	pending[req.OrderID] = &pendingOrder{
		req: req,
		execAt: e.clock.Now().Add(latency),
		fills: fills,
	}
}

// handleCancel implements CANCEL path: remove a still-pending
// order and emit CANCELED, or emit CANCEL_REJECTED if it's already fired.
func (e *PaperExecutor) handleCancel(req coretypes.ClientRequest, pending map[coretypes.OrderId]*pendingOrder) {
	p, ok := pending[req.OrderID]
	if !ok || p.canceled {
		e.emit(coretypes.ClientResponse{
			Kind: coretypes.ResponseCancelRejected,
			ClientID: req.ClientID,
			Instrument: req.Instrument,
			OrderID: req.OrderID,
			RejectReason: coretypes.RejectVenueErrorOther,
			RejectDetail: "order already terminal",
		})
		return
	}

	p.canceled = true
	delete(pending, req.OrderID)
	e.emit(coretypes.ClientResponse{
		Kind: coretypes.ResponseCanceled,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
	})
}

// fireDue resolves every pendingOrder whose execAt has arrived, emitting
// FILLED (with slippage-adjusted price) or CANCELED step 4.
func (e *PaperExecutor) fireDue(pending map[coretypes.OrderId]*pendingOrder) {
	now := e.clock.Now()
	var due []coretypes.OrderId
	for id, p := range pending {
		if !p.canceled && !p.execAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, id := range due {
		p := pending[id]
		delete(pending, id)
		if p.fills {
			execPrice := e.slippedPrice(p.req)
			e.emit(coretypes.ClientResponse{
				Kind: coretypes.ResponseFilled,
				ClientID: p.req.ClientID,
				Instrument: p.req.Instrument,
				OrderID: p.req.OrderID,
				Side: p.req.Side,
				Price: execPrice,
				ExecutedQuantity: p.req.Quantity,
				LeavesQuantity: 0,
			})
		} else {
			e.emit(coretypes.ClientResponse{
				Kind: coretypes.ResponseCanceled,
				ClientID: p.req.ClientID,
				Instrument: p.req.Instrument,
				OrderID: p.req.OrderID,
			})
		}
	}
}

// slippedPrice computes exec_price = price * (1 + side_sign * s), where
// s is drawn from the configured slippage model scaled by
// slippage_factor. side_sign is +1 for a buy (slippage worsens the fill
// by paying more) and -1 for a sell.
func (e *PaperExecutor) slippedPrice(req coretypes.ClientRequest) coretypes.Price {
	s := e.drawSlippage()
	sideSign := 1.0
	if req.Side == coretypes.SideAsk {
		sideSign = -1.0
	}
	adjusted := float64(req.Price) * (1 + sideSign*s)
	return coretypes.Price(math.Round(adjusted))
}

func (e *PaperExecutor) drawSlippage() float64 {
	switch e.cfg.SlippageModel {
	case SlippageNormal:
		return e.rng.NormFloat64() * e.cfg.SlippageFactor
	case SlippagePareto:
		// Standard Pareto(alpha=3) via inverse transform, scaled down so
		// slippage_factor carries the same "typical magnitude" meaning
		// across all three models.
		const alpha = 3.0
		u := e.rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		return (math.Pow(u, -1/alpha) - 1) * e.cfg.SlippageFactor
	default: // SlippageFixed
		return e.cfg.SlippageFactor
	}
}
