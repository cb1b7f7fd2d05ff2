package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"tradingcore/internal/book"
)

// restSnapshotJSON mirrors a venue's REST snapshot body: a numeric
// last_update_id and ordered bids/asks arrays of [price_string,
// quantity_string]. Numeric fields are strings; scale parses them into
// the internal fixed-point Price/Qty at the adapter boundary.
type restSnapshotJSON struct {
	LastUpdateID uint64 `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// SnapshotFetcher fetches a single REST depth snapshot for symbol. The
// production implementation is restSnapshotFetcher; tests substitute a
// fake.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (book.Snapshot, error)
}

// restSnapshotFetcher fetches a REST order-book snapshot: executed on a
// worker that is not the ring consumer, retried with backoff up to a cap,
// and wrapped in a circuit breaker so a persistently failing venue stops
// being hammered.
type restSnapshotFetcher struct {
	http    *retryablehttp.Client
	baseURL string
	sc      scale
	breaker *gobreaker.CircuitBreaker
}

// NewRESTSnapshotFetcher returns the production SnapshotFetcher wired to
// the given venue base URL, parsing its decimal price/qty strings at the
// tick precision given by priceIncrement/lotSize ("conversions
// to/from venue strings happen only at adapter boundaries"). Callers that
// wire an Ingestor (internal/engine) use this; tests substitute a fake
// SnapshotFetcher instead.
func NewRESTSnapshotFetcher(baseURL, priceIncrement, lotSize string, maxRetries int, logger *slog.Logger) (SnapshotFetcher, error) {
	sc, err := newScale(priceIncrement, lotSize)
	if err != nil {
		return nil, err
	}
	return newRESTSnapshotFetcher(baseURL, sc, maxRetries, logger), nil
}

// newRESTSnapshotFetcher returns a fetcher hitting baseURL+"/depth" with
// the given retry cap and circuit-breaker tuning.
func newRESTSnapshotFetcher(baseURL string, sc scale, maxRetries int, logger *slog.Logger) *restSnapshotFetcher {
	hc := retryablehttp.NewClient()
	hc.RetryMax = maxRetries
	hc.Logger = nil // the fabric's own logging conventions replace retryablehttp's default stderr chatter
	hc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying snapshot fetch", "url", req.URL.String(), "attempt", attempt)
		}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "marketdata.snapshot",
		MaxRequests: 1,
		Interval: 30 * time.Second,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &restSnapshotFetcher{http: hc, baseURL: baseURL, sc: sc, breaker: cb}
}

func (f *restSnapshotFetcher) FetchSnapshot(ctx context.Context, symbol string) (book.Snapshot, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, symbol)
	})
	if err != nil {
		return book.Snapshot{}, err
	}
	return result.(book.Snapshot), nil
}

func (f *restSnapshotFetcher) doFetch(ctx context.Context, symbol string) (book.Snapshot, error) {
	url := fmt.Sprintf("%s/depth?symbol=%s", f.baseURL, symbol)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("marketdata: build snapshot request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("marketdata: fetch snapshot %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return book.Snapshot{}, fmt.Errorf("marketdata: snapshot %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	var raw restSnapshotJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return book.Snapshot{}, fmt.Errorf("marketdata: decode snapshot %s: %w", symbol, err)
	}

	return f.toSnapshot(raw)
}

func (f *restSnapshotFetcher) toSnapshot(raw restSnapshotJSON) (book.Snapshot, error) {
	bids, err := f.sc.parseLevels(raw.Bids)
	if err != nil {
		return book.Snapshot{}, err
	}
	asks, err := f.sc.parseLevels(raw.Asks)
	if err != nil {
		return book.Snapshot{}, err
	}
	return book.Snapshot{LastUpdateID: raw.LastUpdateID, Bids: bids, Asks: asks}, nil
}

// snapshotRequest and snapshotResult carry REST snapshot work across the
// boundary from the ingestor's read-loop goroutine to the dedicated REST
// worker goroutine and back, so the fetch always executes on a worker
// that is not the ring consumer.
type snapshotRequest struct {
	instrumentKey string
	symbol        string
}

type snapshotResult struct {
	instrumentKey string
	snap          book.Snapshot
	err           error
}

// snapshotWorker owns the REST snapshot fetch thread: it rate-limits to at
// most one inflight request per instrument and a configurable minimum
// inter-request interval, then makes a single FetchSnapshot call per
// request and delivers its outcome, error included, on results(). The
// worker itself does not retry and does not use backoffCap; retries with
// backoff happen inside the fetcher (retryablehttp in the production one).
type snapshotWorker struct {
	fetcher     SnapshotFetcher
	minInterval time.Duration
	backoffCap  time.Duration

	mu        sync.Mutex
	inflight  map[string]bool
	lastFetch map[string]time.Time

	reqCh chan snapshotRequest
	resCh chan snapshotResult
	stop  chan struct{}
	done  chan struct{}

	logger *slog.Logger
}

func newSnapshotWorker(fetcher SnapshotFetcher, minInterval, backoffCap time.Duration, logger *slog.Logger) *snapshotWorker {
	return &snapshotWorker{
		fetcher: fetcher,
		minInterval: minInterval,
		backoffCap: backoffCap,
		inflight: make(map[string]bool),
		lastFetch: make(map[string]time.Time),
		reqCh: make(chan snapshotRequest, 64),
		resCh: make(chan snapshotResult, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		logger: logger,
	}
}

func (w *snapshotWorker) start() { go w.run() }

func (w *snapshotWorker) stopAndWait() {
	close(w.stop)
	<-w.done
}

// request enqueues a snapshot fetch for key/symbol, returning false
// without blocking if one is already inflight or the minimum
// inter-request interval hasn't elapsed — the at-most-one-inflight rate
// limit that keeps a flapping connection from hammering the REST endpoint.
func (w *snapshotWorker) request(key, symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inflight[key] {
		return false
	}
	if last, ok := w.lastFetch[key]; ok && time.Since(last) < w.minInterval {
		return false
	}
	w.inflight[key] = true
	w.lastFetch[key] = time.Now()

	select {
	case w.reqCh <- snapshotRequest{instrumentKey: key, symbol: symbol}:
		return true
	default:
		delete(w.inflight, key)
		return false
	}
}

func (w *snapshotWorker) results() <-chan snapshotResult { return w.resCh }

func (w *snapshotWorker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.reqCh:
			w.fetchWithBackoff(req)
		}
	}
}

func (w *snapshotWorker) fetchWithBackoff(req snapshotRequest) {
	defer func() {
		w.mu.Lock()
		delete(w.inflight, req.instrumentKey)
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := w.fetcher.FetchSnapshot(ctx, req.symbol)
	if err != nil {
		w.logger.Warn("snapshot fetch failed, giving up until next disconnect",
			"symbol", req.symbol, "error", err)
	}

	select {
	case w.resCh <- snapshotResult{instrumentKey: req.instrumentKey, snap: snap, err: err}:
	case <-w.stop:
	}
}
