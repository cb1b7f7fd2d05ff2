// Package marketdata implements the venue market-data ingestor: a
// WebSocket state machine that buffers early diffs, fetches REST
// snapshots, synchronizes them with the live stream, and re-subscribes on
// reconnect. Book state is owned exclusively by this package's own
// connection-lifecycle goroutine, and it publishes normalized
// MarketEvents onto a shared fabric.Ring that strategies consume —
// a value-carrying ring, so there is no pool-allocation pressure on the
// per-frame path.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"tradingcore/internal/book"
	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
)

// Mode selects which of two reconstruction protocols this
// ingestor runs: incremental diff-plus-snapshot, or full-depth-every-tick
// replacement.
type Mode uint8

const (
	ModeDiff Mode = iota
	ModeReplace
)

// Config tunes one venue connection. Values are carried over from
// internal/config's typed tree at wiring time.
type Config struct {
	Venue               string
	Mode                Mode
	WSURL               string
	RESTBaseURL         string
	PriceIncrement      string
	LotSize             string
	RingCapacity        uint64
	MaxBufferedDiffs    int
	MinReconnectWait    time.Duration
	MaxReconnectWait    time.Duration
	HeartbeatWindow     time.Duration
	SnapshotMinInterval time.Duration
	SnapshotRetryMax    int
}

// subscription is one tracked instrument: its venue symbol, dense id, and
// the reconstructor that owns its book. Exactly one of diffRecon /
// replaceRecon is non-nil, selected by the ingestor's Mode.
type subscription struct {
	symbol       string
	instrument   coretypes.InstrumentId
	diffRecon    *book.DiffReconstructor
	replaceRecon *book.ReplaceReconstructor
}

// Ingestor is the per-venue market-data connection: state machine,
// subscription registry, dispatch, and the REST snapshot worker it drives.
// Exactly one goroutine (the one Start launches) ever touches book state.
type Ingestor struct {
	cfg    Config
	dialer Dialer
	sc     scale
	ring   *fabric.Ring[coretypes.MarketEvent]
	logger *slog.Logger
	hot    *fabric.LogProducer
	m      *metrics

	worker *snapshotWorker

	subsMu sync.RWMutex
	subs   map[string]*subscription // keyed by venue symbol

	connMu sync.Mutex
	conn   Conn // non-nil only while CONNECTED; guards the subscribe-frame write path

	state atomic.Uint32 // ConnState

	lastHeartbeat atomic.Int64 // unix nano

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns an Ingestor for one venue connection. fetcher supplies REST
// snapshots; dialer supplies WebSocket connections — both are interfaces so
// tests can substitute fakes.
func New(cfg Config, dialer Dialer, fetcher SnapshotFetcher, reg prometheus.Registerer, logger *slog.Logger) (*Ingestor, error) {
	sc, err := newScale(cfg.PriceIncrement, cfg.LotSize)
	if err != nil {
		return nil, err
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 4096
	}
	if cfg.MaxBufferedDiffs == 0 {
		cfg.MaxBufferedDiffs = 1000
	}
	if cfg.MinReconnectWait == 0 {
		cfg.MinReconnectWait = time.Second
	}
	if cfg.MaxReconnectWait == 0 {
		cfg.MaxReconnectWait = 30 * time.Second
	}
	if cfg.HeartbeatWindow == 0 {
		cfg.HeartbeatWindow = 90 * time.Second
	}
	if cfg.SnapshotMinInterval == 0 {
		cfg.SnapshotMinInterval = 200 * time.Millisecond
	}

	ing := &Ingestor{
		cfg: cfg,
		dialer: dialer,
		sc: sc,
		ring: fabric.NewRing[coretypes.MarketEvent](cfg.RingCapacity),
		logger: logger.With("component", "marketdata", "venue", cfg.Venue),
		m: newMetrics(cfg.Venue, reg),
		worker: newSnapshotWorker(fetcher, cfg.SnapshotMinInterval, cfg.MaxReconnectWait, logger.With("component", "marketdata.snapshot")),
		subs: make(map[string]*subscription),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	ing.state.Store(uint32(StateDisconnected))
	return ing, nil
}

// SetHotLog attaches a fabric log producer for the connection-lifecycle
// goroutine's own hot-path stamping (resyncs, drops, heartbeat misses).
// Must be called before Start; the producer belongs to that one goroutine.
func (ing *Ingestor) SetHotLog(p *fabric.LogProducer) { ing.hot = p }

// Events returns the ring strategies consume normalized MarketEvents from.
func (ing *Ingestor) Events() *fabric.Ring[coretypes.MarketEvent] { return ing.ring }

// State reports the current connection-lifecycle state.
func (ing *Ingestor) State() ConnState { return ConnState(ing.state.Load()) }

// Subscribe adds venueSymbol to the tracked instrument set, idempotently.
// If already connected, it sends the subscribe frame and kicks off book
// synchronization immediately; otherwise the next CONNECTED transition
// subscribes it.
func (ing *Ingestor) Subscribe(venueSymbol string, instrument coretypes.InstrumentId) error {
	ing.subsMu.Lock()
	if _, ok := ing.subs[venueSymbol]; ok {
		ing.subsMu.Unlock()
		return nil
	}
	sub := &subscription{symbol: venueSymbol, instrument: instrument}
	switch ing.cfg.Mode {
	case ModeDiff:
		sub.diffRecon = book.NewDiffReconstructor(instrument, ing.ring, ing.cfg.MaxBufferedDiffs)
	case ModeReplace:
		sub.replaceRecon = book.NewReplaceReconstructor(instrument, ing.ring)
	}
	ing.subs[venueSymbol] = sub
	ing.subsMu.Unlock()

	if ing.State() == StateConnected {
		ing.sendSubscribeFrame(venueSymbol)
		ing.requestSync(sub)
	}
	return nil
}

// Unsubscribe idempotently removes venueSymbol from the tracked set.
func (ing *Ingestor) Unsubscribe(venueSymbol string) error {
	ing.subsMu.Lock()
	_, ok := ing.subs[venueSymbol]
	delete(ing.subs, venueSymbol)
	ing.subsMu.Unlock()
	if ok && ing.State() == StateConnected {
		ing.sendUnsubscribeFrame(venueSymbol)
	}
	return nil
}

// subscribeFrame is the venue-defined JSON subscribe/unsubscribe control
// message sent over the live connection.
type subscribeFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (ing *Ingestor) sendSubscribeFrame(symbol string) {
	ing.writeFrame(subscribeFrame{Type: "subscribe", Symbol: symbol})
}

func (ing *Ingestor) sendUnsubscribeFrame(symbol string) {
	ing.writeFrame(subscribeFrame{Type: "unsubscribe", Symbol: symbol})
}

func (ing *Ingestor) writeFrame(frame subscribeFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	ing.connMu.Lock()
	conn := ing.conn
	ing.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(textMessage, data); err != nil {
		ing.logger.Warn("failed to write subscribe frame", "symbol", frame.Symbol, "error", err)
	}
}

// Start launches the connection-lifecycle goroutine. Call once.
func (ing *Ingestor) Start() {
	ing.worker.start()
	go ing.run()
}

// Stop signals shutdown and joins the lifecycle goroutine, using the
// same cooperative-cancellation model throughout: a shared flag, polled,
// no async kill.
func (ing *Ingestor) Stop() {
	close(ing.stopCh)
	<-ing.doneCh
	ing.worker.stopAndWait()
}

// run is the ingestor's connection-lifecycle loop: dial, run the read loop
// until it errors or stop is requested, then reconnect with bounded
// exponential backoff.
func (ing *Ingestor) run() {
	defer close(ing.doneCh)

	backoff := ing.cfg.MinReconnectWait
	for {
		select {
		case <-ing.stopCh:
			return
		default:
		}

		ing.state.Store(uint32(StateConnecting))
		err := ing.connectAndRun()
		ing.onDisconnect()

		if err == errStopRequested {
			return
		}

		ing.m.reconnects.Inc()
		ing.logger.Warn("disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ing.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > ing.cfg.MaxReconnectWait {
			backoff = ing.cfg.MaxReconnectWait
		}
	}
}

var errStopRequested = fmt.Errorf("marketdata: stop requested")

// frameOrErr carries one read-loop outcome from the dedicated reader
// goroutine to connectAndRun's select, so inbound frames and completed
// snapshot fetches can be multiplexed without either one blocking the
// other: the REST worker and the read loop are different threads,
// neither may stall on the other.
type frameOrErr struct {
	data []byte
	err  error
}

// connectAndRun dials, re-subscribes every tracked instrument, and reads
// until the connection drops or stop is requested.
func (ing *Ingestor) connectAndRun() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := ing.dialer.Dial(ctx, ing.cfg.WSURL)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	ing.connMu.Lock()
	ing.conn = conn
	ing.connMu.Unlock()
	defer func() {
		ing.connMu.Lock()
		ing.conn = nil
		ing.connMu.Unlock()
	}()

	ing.state.Store(uint32(StateConnected))
	ing.logger.Info("connected")
	ing.lastHeartbeat.Store(time.Now().UnixNano())

	ing.subsMu.RLock()
	subs := make([]*subscription, 0, len(ing.subs))
	for _, s := range ing.subs {
		subs = append(subs, s)
	}
	ing.subsMu.RUnlock()
	for _, s := range subs {
		ing.sendSubscribeFrame(s.symbol)
		ing.requestSync(s)
	}

	frames := make(chan frameOrErr, 1)
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(ing.cfg.HeartbeatWindow))
			_, data, err := conn.ReadMessage()
			select {
			case frames <- frameOrErr{data: data, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var parser fastjson.Parser
	for {
		select {
		case <-ing.stopCh:
			return errStopRequested

		case res := <-ing.worker.results():
			ing.applySnapshotResult(res)

		case f := <-frames:
			if f.err != nil {
				return fmt.Errorf("read: %w", f.err)
			}
			if time.Since(time.Unix(0, ing.lastHeartbeat.Load())) > ing.cfg.HeartbeatWindow {
				ing.m.heartbeatMiss.Inc()
				if ing.hot != nil {
					ing.hot.Log(zerolog.WarnLevel, "heartbeat window exceeded", int64(ing.cfg.HeartbeatWindow/time.Millisecond), 0)
				}
				return fmt.Errorf("heartbeat window exceeded")
			}
			ing.lastHeartbeat.Store(time.Now().UnixNano())
			ing.handleMessage(&parser, f.data)
		}
	}
}

// onDisconnect implements "from any state a failure
// transitions back to DISCONNECTED": every tracked book is force-resynced
// so stale buffered diffs from the dead connection are never applied
// against the next one's snapshot.
func (ing *Ingestor) onDisconnect() {
	ing.state.Store(uint32(StateDisconnected))
	ing.subsMu.RLock()
	defer ing.subsMu.RUnlock()
	for _, s := range ing.subs {
		if s.diffRecon != nil {
			s.diffRecon.ForceResync()
		}
		if s.replaceRecon != nil {
			s.replaceRecon.Reset()
		}
	}
}

// requestSync kicks off a REST snapshot fetch for sub's instrument if one
// isn't already inflight, per the diff-mode synchronization protocol.
func (ing *Ingestor) requestSync(sub *subscription) {
	ing.worker.request(sub.symbol, sub.symbol)
}

func (ing *Ingestor) applySnapshotResult(res snapshotResult) {
	ing.subsMu.RLock()
	sub, ok := ing.subs[res.instrumentKey]
	ing.subsMu.RUnlock()
	if !ok {
		return
	}
	if res.err != nil {
		ing.m.snapshotErrors.Inc()
		return
	}
	if sub.diffRecon == nil {
		return
	}
	if !sub.diffRecon.OnSnapshot(res.snap) {
		// Not reconcilable with what's buffered: fetch again.
		ing.m.resyncs.Inc()
		ing.requestSync(sub)
		return
	}
}

// handleMessage routes one inbound frame by stream type.
// Tiny heartbeat frames are liveness signals only; unknown types are
// counted and dropped.
func (ing *Ingestor) handleMessage(parser *fastjson.Parser, data []byte) {
	typ, v, err := parseEnvelope(parser, data)
	if err != nil {
		ing.m.unknownFrames.Inc()
		return
	}

	switch typ {
	case streamHeartbeat:
		return

	case streamDepthUpdate:
		symbol, diff, err := parseDepthUpdate(v, ing.sc)
		if err != nil {
			ing.logger.Warn("malformed depth update", "error", err)
			return
		}
		sub := ing.lookup(symbol)
		if sub == nil || sub.diffRecon == nil {
			return
		}
		waiting := sub.diffRecon.NeedsSnapshot()
		sub.diffRecon.OnDiff(diff)
		if sub.diffRecon.NeedsSnapshot() {
			if !waiting {
				ing.m.resyncs.Inc()
				if ing.hot != nil {
					ing.hot.Log(zerolog.WarnLevel, "book resync", int64(sub.instrument), int64(diff.LastUpdateID))
				}
			}
			ing.requestSync(sub)
		}

	case streamDepthSnapshot:
		symbol, bids, asks, trade, err := parseDepthSnapshot(v, ing.sc)
		if err != nil {
			ing.logger.Warn("malformed depth snapshot", "error", err)
			return
		}
		sub := ing.lookup(symbol)
		if sub == nil || sub.replaceRecon == nil {
			return
		}
		sub.replaceRecon.OnTick(bids, asks, trade)

	case streamTrade:
		ev, err := parseTrade(v, ing.sc)
		if err != nil {
			ing.logger.Warn("malformed trade", "error", err)
			return
		}
		sub := ing.lookup(ev.Symbol)
		if sub == nil {
			return
		}
		ing.publishTrade(sub, ev)

	default:
		ing.m.unknownFrames.Inc()
	}
}

func (ing *Ingestor) lookup(symbol string) *subscription {
	ing.subsMu.RLock()
	defer ing.subsMu.RUnlock()
	return ing.subs[symbol]
}

// publishTrade emits a standalone TRADE MarketEvent for venues that report
// prints outside the depth stream. Sequence numbering here is a simple
// monotonic counter per instrument, independent of the reconstructor's own
// sequence so a trade print never needs a resting level to attach to.
func (ing *Ingestor) publishTrade(sub *subscription, ev tradeEvent) {
	seq, ok := ing.ring.ReserveWrite()
	if !ok {
		if ing.hot != nil {
			ing.hot.Log(zerolog.WarnLevel, "trade dropped on full event ring", int64(sub.instrument), 0)
		}
		return
	}
	*ing.ring.Slot(seq) = coretypes.MarketEvent{
		Kind: coretypes.EventTrade,
		Instrument: sub.instrument,
		Side: ev.Side,
		Price: ev.Price,
		Quantity: ev.Qty,
	}
	ing.ring.CommitWrite(seq)
}
