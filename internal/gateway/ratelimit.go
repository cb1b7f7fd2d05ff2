package gateway

import (
	"context"
	"sync"
	"time"
)

// orderPacer caps the rate of outbound venue REST calls using a sliding
// window over the last `burst` grant times: a call is admitted once the
// burst-th previous call has aged out of the window, so a quiet gateway
// can fire a full burst at once and a busy one settles at the configured
// sustained rate. Rate and burst come from the gateway's live config
// (order_rate / order_burst), since venues advertise very different
// per-account order-rate limits.
type orderPacer struct {
	mu     sync.Mutex
	window time.Duration
	grants []time.Time // ring of the last len(grants) admission times
	next   int         // index of the oldest grant
}

const (
	defaultOrderRate  = 10.0
	defaultOrderBurst = 10
)

// newOrderPacer returns a pacer admitting ratePerSecond calls sustained
// with bursts up to burst. Non-positive values fall back to defaults.
func newOrderPacer(ratePerSecond float64, burst int) *orderPacer {
	if ratePerSecond <= 0 {
		ratePerSecond = defaultOrderRate
	}
	if burst <= 0 {
		burst = defaultOrderBurst
	}
	return &orderPacer{
		window: time.Duration(float64(burst) / ratePerSecond * float64(time.Second)),
		grants: make([]time.Time, burst),
	}
}

// Wait blocks until the next call is admissible or ctx is done. The zero
// grant times of a fresh pacer admit the first burst immediately.
func (p *orderPacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := time.Now()
		oldest := p.grants[p.next]
		wait := p.window - now.Sub(oldest)
		if wait <= 0 {
			p.grants[p.next] = now
			p.next = (p.next + 1) % len(p.grants)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
