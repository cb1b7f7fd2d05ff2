// Package engine is the process-level orchestrator of the trading core.
//
// It wires together the system's subsystems by name, reading an
// already-populated config.Config and starting/stopping each one:
//
// 1. internal/fabric's async hot-path Logger (one process-wide instance).
// 2. One internal/marketdata Ingestor per configured venue, each owning
// its own event ring that the engine exposes to strategy consumers.
// 3. One internal/gateway Gateway per configured client, wired to either
// a LiveExecutor or a PaperExecutor per its configured mode.
//
// Lifecycle: New() → Start() → [runs until Stop()] → Stop() joins every
// subsystem goroutine under a cooperative-cancellation model: no thread
// here is ever killed asynchronously.
//
// The orchestration loop is generalized from a per-market-maker-slot
// wiring style (goroutines wired through back-references set post
// construction, Start/Stop hooks, a single owned WaitGroup) to a
// cyclic-wiring-via-rings design: components own their outbound rings,
// inbound rings are passed by reference at construction, and no subsystem
// imports another's internals — only the engine, at the top, knows about
// all of them.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tradingcore/internal/config"
	"tradingcore/internal/coretypes"
	"tradingcore/internal/fabric"
	"tradingcore/internal/gateway"
	"tradingcore/internal/marketdata"
	"tradingcore/internal/venue"
)

// defaultRingCapacity is used whenever a configured ring capacity is zero
// or not a power of two — the fabric's one hard constraint is that
// capacity is a fixed power of two chosen at construction.
const defaultRingCapacity = 4096

func ringCapacity(configured uint64) uint64 {
	if configured == 0 || configured&(configured-1) != 0 {
		return defaultRingCapacity
	}
	return configured
}

// VenueFeed is one running market-data ingestor plus the registry mapping
// its venue symbols to InstrumentIds, exposed so a strategy consumer can
// resolve instrument ids and drain the ingestor's event ring directly:
// strategy logic is a consumer that holds non-owning references to an
// event ring.
type VenueFeed struct {
	Name     string
	Ingestor *marketdata.Ingestor
	Registry *coretypes.Registry
}

// ClientGateway is one running order gateway, exposed so a strategy
// consumer can hold non-owning references to its request and response
// rings.
type ClientGateway struct {
	ClientID coretypes.ClientId
	Gateway  *gateway.Gateway
}

// Engine orchestrates every subsystem's lifecycle. It owns no book state
// and no order state directly — those live inside the Ingestors and
// Gateways it starts — it only owns their start/stop sequencing and the
// process-wide hot-path logger.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	hotLog *fabric.Logger
	reg    prometheus.Registerer

	venues   []*VenueFeed
	gateways []*ClientGateway
}

// New wires every venue ingestor and client gateway named in cfg, but does
// not start any of them — call Start for that. An error here means the
// config failed to construct a subsystem (bad decimal scale, bad venue
// URL shape); it never means a subsystem failed to connect, since nothing
// has connected yet.
func New(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	eng := &Engine{
		cfg: cfg,
		logger: logger,
		reg: reg,
	}

	if cfg.Fabric.LogFile != "" {
		f, err := openLogFile(cfg.Fabric.LogFile)
		if err != nil {
			return nil, fmt.Errorf("engine: open log file: %w", err)
		}
		eng.hotLog = fabric.NewLogger(ringCapacity(cfg.Fabric.LogRingCapacity), f)
	}

	for _, vc := range cfg.Venues {
		vf, err := buildVenueFeed(vc, cfg.Fabric, reg, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: venue %q: %w", vc.Name, err)
		}
		if eng.hotLog != nil {
			vf.Ingestor.SetHotLog(eng.hotLog.Producer("marketdata." + vc.Name))
		}
		eng.venues = append(eng.venues, vf)
	}

	for _, gc := range cfg.Gateways {
		cg, err := buildClientGateway(gc, cfg.Fabric, reg, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: gateway client %d: %w", gc.ClientID, err)
		}
		if eng.hotLog != nil {
			cg.Gateway.SetHotLog(eng.hotLog.Producer(fmt.Sprintf("gateway.%d", gc.ClientID)))
		}
		eng.gateways = append(eng.gateways, cg)
	}

	return eng, nil
}

func buildVenueFeed(vc config.VenueConfig, fc config.FabricConfig, reg prometheus.Registerer, logger *slog.Logger) (*VenueFeed, error) {
	mode := marketdata.ModeDiff
	if vc.Mode == "replace" {
		mode = marketdata.ModeReplace
	}

	registry := coretypes.NewRegistry()

	// The ingestor's Config carries one decimal scale pair, so for venues
	// mixing tick sizes per symbol, wire one VenueConfig per symbol group
	// rather than inventing a per-symbol scale table on the hot path.
	priceIncrement, lotSize := "0.01", "1"
	if len(vc.Instruments) > 0 {
		if vc.Instruments[0].PriceIncrement != "" {
			priceIncrement = vc.Instruments[0].PriceIncrement
		}
		if vc.Instruments[0].LotSize != "" {
			lotSize = vc.Instruments[0].LotSize
		}
	}

	fetcher, err := marketdata.NewRESTSnapshotFetcher(vc.RESTBaseURL, priceIncrement, lotSize, vc.SnapshotRetryMax, logger.With("component", "marketdata.snapshot", "venue", vc.Name))
	if err != nil {
		return nil, err
	}

	ing, err := marketdata.New(marketdata.Config{
		Venue: vc.Name,
		Mode: mode,
		WSURL: vc.WSURL,
		RESTBaseURL: vc.RESTBaseURL,
		PriceIncrement: priceIncrement,
		LotSize: lotSize,
		RingCapacity: ringCapacity(fc.EventRingCapacity),
		MaxBufferedDiffs: vc.MaxBufferedDiffs,
		MinReconnectWait: vc.MinReconnectWait,
		MaxReconnectWait: vc.MaxReconnectWait,
		HeartbeatWindow: vc.HeartbeatWindow,
		SnapshotMinInterval: vc.SnapshotMinInterval,
		SnapshotRetryMax: vc.SnapshotRetryMax,
	}, marketdata.NewGorillaDialer(), fetcher, reg, logger)
	if err != nil {
		return nil, err
	}

	for _, inst := range vc.Instruments {
		id, err := registry.Register(inst.Symbol)
		if err != nil {
			return nil, err
		}
		if err := ing.Subscribe(inst.Symbol, id); err != nil {
			return nil, err
		}
	}

	return &VenueFeed{Name: vc.Name, Ingestor: ing, Registry: registry}, nil
}

func buildClientGateway(gc config.GatewayConfig, fc config.FabricConfig, reg prometheus.Registerer, logger *slog.Logger) (*ClientGateway, error) {
	clientID := coretypes.ClientId(gc.ClientID)
	registry := coretypes.NewRegistry()
	m := gateway.NewMetrics(clientID, reg)

	var executor gateway.Executor
	switch gc.Mode {
	case "live":
		creds := venue.Credentials{APIKey: gc.Live.APIKey, APISecret: gc.Live.APISecret}
		executor = gateway.NewLiveExecutor(gateway.LiveConfig{
			BaseURL: gc.Live.BaseURL,
			AuthHeader: gc.Live.AuthHeader,
			PollInterval: gc.Live.PollInterval,
			OrderRate: gc.Live.OrderRate,
			OrderBurst: gc.Live.OrderBurst,
		}, creds, registry, logger)
	case "paper":
		executor = gateway.NewPaperExecutor(gateway.PaperConfig{
			MinLatency: gc.Paper.MinLatency,
			MaxLatency: gc.Paper.MaxLatency,
			FillProbability: gc.Paper.FillProbability,
			SlippageModel: parseSlippageModel(gc.Paper.SlippageModel),
			SlippageFactor: gc.Paper.SlippageFactor,
			Seed: gc.Paper.Seed,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", gc.Mode)
	}

	// A gateway-level ring_capacity wins; otherwise the fabric-wide
	// request-ring sizing applies to both of the gateway's rings.
	capacity := gc.RingCapacity
	if capacity == 0 {
		capacity = fc.RequestRingCapacity
	}
	if capacity == 0 {
		capacity = fc.ResponseRingCapacity
	}
	gw := gateway.New(gateway.Config{
		ClientID: clientID,
		RingCapacity: ringCapacity(capacity),
	}, registry, executor, m, logger)

	for _, f := range gc.Filters {
		id, err := registry.Register(f.Symbol)
		if err != nil {
			return nil, err
		}
		gw.SetFilter(id, gateway.SymbolFilter{
			TickSize: coretypes.Price(f.TickSize),
			LotStep: coretypes.Qty(f.LotStep),
			MinQty: coretypes.Qty(f.MinQty),
			MinPrice: coretypes.Price(f.MinPrice),
			MaxPrice: coretypes.Price(f.MaxPrice),
		})
	}

	return &ClientGateway{ClientID: clientID, Gateway: gw}, nil
}

func parseSlippageModel(name string) gateway.SlippageModel {
	switch name {
	case "normal", "NORMAL":
		return gateway.SlippageNormal
	case "pareto", "PARETO":
		return gateway.SlippagePareto
	default:
		return gateway.SlippageFixed
	}
}

// Venues returns every wired venue feed, for a strategy consumer to read
// instrument ids and drain event rings from.
func (e *Engine) Venues() []*VenueFeed { return e.venues }

// Gateways returns every wired client gateway, for a strategy consumer to
// publish requests to and drain responses from.
func (e *Engine) Gateways() []*ClientGateway { return e.gateways }

// Start launches the hot-path logger, every venue ingestor, and every
// client gateway. Call once.
func (e *Engine) Start() {
	if e.hotLog != nil {
		e.hotLog.Start()
	}
	for _, v := range e.venues {
		v.Ingestor.Start()
	}
	for _, g := range e.gateways {
		g.Gateway.Start()
	}
}

// Stop joins every subsystem goroutine in reverse start order. Gateways
// stop first so in-flight order responses drain before market data for
// the same instruments goes away; the hot-path logger stops last so it
// can flush goroutine-shutdown log lines from the others.
func (e *Engine) Stop() {
	for _, g := range e.gateways {
		g.Gateway.Stop()
	}
	for _, v := range e.venues {
		v.Ingestor.Stop()
	}
	if e.hotLog != nil {
		e.hotLog.Stop()
	}
}
