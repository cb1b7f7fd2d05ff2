package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"tradingcore/internal/coretypes"
	"tradingcore/internal/venue"
)

// venueOrderResponse mirrors REST new/cancel JSON response
// shape: a venue order id on success, or {code, msg} on failure.
type venueOrderResponse struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Msg     string `json:"msg"`
}

// venueStatusResponse mirrors REST status response.
type venueStatusResponse struct {
	Status      string `json:"status"`
	ExecutedQty string `json:"executed_qty"`
	Price       string `json:"price"`
	Code        string `json:"code"`
	Msg         string `json:"msg"`
}

// liveOrder is the gateway's bookkeeping record for one order submitted to
// a real venue: the internal↔venue id mapping and the last emitted
// (status, executed_qty) pair for the poller's idempotency suppression.
type liveOrder struct {
	req          coretypes.ClientRequest
	venueOrderID string
	lastStatus   string
	lastExecQty  coretypes.Qty
}

// LiveConfig tunes a LiveExecutor: venue endpoint, auth header name,
// status-poll cadence, and the outbound order-rate cap the venue
// advertises for the account.
type LiveConfig struct {
	BaseURL      string
	AuthHeader   string
	PollInterval time.Duration
	OrderRate    float64 // sustained outbound REST calls per second
	OrderBurst   int     // burst allowance on a quiet gateway
}

// LiveExecutor submits orders to a real venue over REST (resty: base URL,
// timeout, retry-on-5xx), signed with internal/venue's HMAC
// canonicalization. One goroutine owns both order submission and status
// polling, so there is exactly one writer to resultCh and every channel
// in this package stays strictly one-producer/one-consumer.
type LiveExecutor struct {
	http     *resty.Client
	signer   *venue.Signer
	breaker  *gobreaker.CircuitBreaker
	registry *coretypes.Registry
	pacer    *orderPacer

	pollInterval time.Duration

	submitCh chan coretypes.ClientRequest
	cancelCh chan coretypes.ClientRequest
	resultCh chan coretypes.ClientResponse

	stopCh chan struct{}
	doneCh chan struct{}

	mu     sync.Mutex // guards orders, touched only off the hot path
	orders map[coretypes.OrderId]*liveOrder

	logger *slog.Logger
}

// NewLiveExecutor returns a LiveExecutor hitting cfg.BaseURL with creds
// signed per internal/venue's canonicalization, polling order status every
// cfg.PollInterval.
func NewLiveExecutor(cfg LiveConfig, creds venue.Credentials, registry *coretypes.Registry, logger *slog.Logger) *LiveExecutor {
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "gateway.rest",
		MaxRequests: 1,
		Interval: 30 * time.Second,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}

	return &LiveExecutor{
		http: hc,
		signer: venue.NewSigner(creds, cfg.AuthHeader),
		breaker: cb,
		registry: registry,
		pacer: newOrderPacer(cfg.OrderRate, cfg.OrderBurst),
		pollInterval: cfg.PollInterval,
		submitCh: make(chan coretypes.ClientRequest, 256),
		cancelCh: make(chan coretypes.ClientRequest, 256),
		resultCh: make(chan coretypes.ClientResponse, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		orders: make(map[coretypes.OrderId]*liveOrder),
		logger: logger.With("component", "gateway.live"),
	}
}

func (e *LiveExecutor) Start() { go e.run() }

func (e *LiveExecutor) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *LiveExecutor) Submit(req coretypes.ClientRequest) {
	select {
	case e.submitCh <- req:
	case <-e.stopCh:
	}
}

func (e *LiveExecutor) Cancel(req coretypes.ClientRequest) {
	select {
	case e.cancelCh <- req:
	case <-e.stopCh:
	}
}

func (e *LiveExecutor) Results() <-chan coretypes.ClientResponse { return e.resultCh }

func (e *LiveExecutor) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case req := <-e.submitCh:
			e.submitNew(req)
		case req := <-e.cancelCh:
			e.submitCancel(req)
		case <-ticker.C:
			e.pollOnce()
		}
	}
}

func (e *LiveExecutor) emit(resp coretypes.ClientResponse) {
	select {
	case e.resultCh <- resp:
	case <-e.stopCh:
	}
}

// submitNew implements NEW path: build the signed REST
// request, POST it, and on success record the internal↔venue mapping and
// emit ACCEPTED; on a recognized venue failure body, emit REJECTED with a
// classified reason.
func (e *LiveExecutor) submitNew(req coretypes.ClientRequest) {
	if err := e.pacer.Wait(context.Background()); err != nil {
		e.emit(rejectResponse(req, coretypes.RejectRateLimit))
		return
	}

	symbol := e.registry.Symbol(req.Instrument)
	params := map[string]string{
		"symbol": symbol,
		"side": req.Side.String(),
		"type": "LIMIT",
		"time_in_force": "GTC",
		"quantity": strconv.FormatInt(int64(req.Quantity), 10),
		"price": strconv.FormatInt(int64(req.Price), 10),
	}
	signed := e.signer.SignRequest(params, time.Now())
	headerName, headerValue := e.signer.AuthHeader()

	var out venueOrderResponse
	result, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.http.R().
			SetContext(context.Background()).
			SetHeader(headerName, headerValue).
			SetFormData(signed).
			SetResult(&out).
			Post("/order")
		if err != nil {
			return nil, fmt.Errorf("gateway: post order: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return &out, nil
		}
		return &out, nil
	})
	if err != nil {
		e.emit(rejectResponse(req, coretypes.RejectVenueErrorOther))
		return
	}

	body := result.(*venueOrderResponse)
	if body.OrderID == "" {
		reason := classifyVenueError(body.Code)
		e.logger.Warn("order rejected by venue", "order_id", req.OrderID, "code", body.Code, "msg", body.Msg)
		resp := rejectResponse(req, reason)
		resp.RejectDetail = body.Msg
		e.emit(resp)
		return
	}

	e.mu.Lock()
	e.orders[req.OrderID] = &liveOrder{req: req, venueOrderID: body.OrderID}
	e.mu.Unlock()

	e.emit(coretypes.ClientResponse{
		Kind: coretypes.ResponseAccepted,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
		Side: req.Side,
		Price: req.Price,
	})
}

// submitCancel implements CANCEL path.
func (e *LiveExecutor) submitCancel(req coretypes.ClientRequest) {
	e.mu.Lock()
	lo, ok := e.orders[req.OrderID]
	e.mu.Unlock()
	if !ok {
		e.emit(coretypes.ClientResponse{
			Kind: coretypes.ResponseCancelRejected,
			ClientID: req.ClientID,
			Instrument: req.Instrument,
			OrderID: req.OrderID,
			RejectReason: coretypes.RejectVenueErrorOther,
			RejectDetail: "unknown order",
		})
		return
	}

	symbol := e.registry.Symbol(req.Instrument)
	params := map[string]string{
		"symbol": symbol,
		"order_id": lo.venueOrderID,
	}
	signed := e.signer.SignRequest(params, time.Now())
	headerName, headerValue := e.signer.AuthHeader()

	var out venueOrderResponse
	_, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.http.R().
			SetContext(context.Background()).
			SetHeader(headerName, headerValue).
			SetFormData(signed).
			SetResult(&out).
			Delete("/order")
		if err != nil {
			return nil, fmt.Errorf("gateway: cancel order: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("gateway: cancel order: status %d", resp.StatusCode())
		}
		return nil, nil
	})
	if err != nil {
		e.emit(coretypes.ClientResponse{
			Kind: coretypes.ResponseCancelRejected,
			ClientID: req.ClientID,
			Instrument: req.Instrument,
			OrderID: req.OrderID,
			RejectReason: coretypes.RejectVenueErrorOther,
			RejectDetail: err.Error(),
		})
		return
	}

	e.mu.Lock()
	delete(e.orders, req.OrderID)
	e.mu.Unlock()

	e.emit(coretypes.ClientResponse{
		Kind: coretypes.ResponseCanceled,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
	})
}

// pollOnce implements status poller: iterate active orders,
// query status, and for each change in (status, executed_qty) emit the
// corresponding response. A status identical to the last emission is
// suppressed (idempotency).
func (e *LiveExecutor) pollOnce() {
	e.mu.Lock()
	snapshot := make([]*liveOrder, 0, len(e.orders))
	for _, lo := range e.orders {
		snapshot = append(snapshot, lo)
	}
	e.mu.Unlock()

	for _, lo := range snapshot {
		e.pollOne(lo)
	}
}

func (e *LiveExecutor) pollOne(lo *liveOrder) {
	symbol := e.registry.Symbol(lo.req.Instrument)
	params := map[string]string{
		"symbol": symbol,
		"order_id": lo.venueOrderID,
	}
	signed := e.signer.SignRequest(params, time.Now())
	headerName, headerValue := e.signer.AuthHeader()

	var out venueStatusResponse
	result, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.http.R().
			SetContext(context.Background()).
			SetHeader(headerName, headerValue).
			SetQueryParams(signed).
			SetResult(&out).
			Get("/order")
		if err != nil {
			return nil, fmt.Errorf("gateway: poll order: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("gateway: poll order: status %d", resp.StatusCode())
		}
		return &out, nil
	})
	if err != nil {
		e.logger.Warn("status poll failed", "order_id", lo.req.OrderID, "error", err)
		return
	}

	status := result.(*venueStatusResponse)
	execQty := parseExecQty(status.ExecutedQty)

	if status.Status == lo.lastStatus && execQty == lo.lastExecQty {
		return
	}
	lo.lastStatus = status.Status
	lo.lastExecQty = execQty

	kind, terminal, known := responseKindForStatus(status.Status)
	if !known && execQty == 0 {
		// A resting order that hasn't traded ("NEW" and friends) carries no
		// information beyond the ACCEPTED already emitted.
		return
	}
	leaves := lo.req.Quantity - execQty
	if leaves < 0 {
		leaves = 0
	}

	// Prefer the venue-reported execution price; fall back to the order's
	// own limit price when the status omits it.
	price := lo.req.Price
	if p, perr := strconv.ParseInt(status.Price, 10, 64); perr == nil && p > 0 {
		price = coretypes.Price(p)
	}

	e.emit(coretypes.ClientResponse{
		Kind: kind,
		ClientID: lo.req.ClientID,
		Instrument: lo.req.Instrument,
		OrderID: lo.req.OrderID,
		Side: lo.req.Side,
		Price: price,
		ExecutedQuantity: execQty,
		LeavesQuantity: leaves,
	})

	if terminal {
		e.mu.Lock()
		delete(e.orders, lo.req.OrderID)
		e.mu.Unlock()
	}
}

func responseKindForStatus(status string) (kind coretypes.ResponseKind, terminal, known bool) {
	switch status {
	case "FILLED":
		return coretypes.ResponseFilled, true, true
	case "PARTIALLY_FILLED":
		return coretypes.ResponsePartiallyFilled, false, true
	case "CANCELED":
		return coretypes.ResponseCanceled, true, true
	case "REJECTED":
		return coretypes.ResponseRejected, true, true
	default:
		return coretypes.ResponsePartiallyFilled, false, false
	}
}

func parseExecQty(s string) coretypes.Qty {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return coretypes.Qty(n)
}

func rejectResponse(req coretypes.ClientRequest, reason coretypes.RejectReason) coretypes.ClientResponse {
	kind := coretypes.ResponseRejected
	if req.Kind == coretypes.RequestCancel {
		kind = coretypes.ResponseCancelRejected
	}
	return coretypes.ClientResponse{
		Kind: kind,
		ClientID: req.ClientID,
		Instrument: req.Instrument,
		OrderID: req.OrderID,
		Side: req.Side,
		Price: req.Price,
		RejectReason: reason,
	}
}
