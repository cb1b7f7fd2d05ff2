package fabric

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// record is the fixed-shape log entry the hot path stamps into a producer
// ring. It carries two auxiliary int64 fields (sequence numbers, counts,
// price ticks — whatever the caller needs) instead of a variadic/map-based
// field set, so stamping never allocates.
type record struct {
	ts    int64
	level zerolog.Level
	msg   string
	i1, i2 int64
}

// LogProducer is one hot-path thread's private log ring. Exactly one
// goroutine may call Log on a given producer for its lifetime, mirroring
// the strict single-writer contract of the Ring it wraps; a component
// with several logging goroutines takes one producer per goroutine.
type LogProducer struct {
	component string
	ring      *Ring[record]
	dropped   atomic.Int64
}

// Log stamps a record into the producer's ring. It never blocks: if the
// ring is full the record is dropped and counted, never buffered further
// or written synchronously, since a caller on the hot path must not stall
// on I/O backpressure.
func (p *LogProducer) Log(level zerolog.Level, msg string, i1, i2 int64) {
	seq, ok := p.ring.ReserveWrite()
	if !ok {
		p.dropped.Add(1)
		return
	}
	*p.ring.Slot(seq) = record{
		ts: time.Now().UnixNano(),
		level: level,
		msg: msg,
		i1: i1,
		i2: i2,
	}
	p.ring.CommitWrite(seq)
}

// Dropped reports how many of this producer's records were dropped due to
// a full ring.
func (p *LogProducer) Dropped() int64 { return p.dropped.Load() }

// Logger is the event fabric's dedicated hot-path logger: each producer
// thread stamps records into its own SPSC ring via a LogProducer, and a
// single drain goroutine sweeps every ring and formats the records through
// zerolog, absorbing all I/O latency off the stamping path.
type Logger struct {
	zl      zerolog.Logger
	ringCap uint64

	mu        sync.Mutex
	producers []*LogProducer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLogger creates a Logger whose producer rings have the given capacity
// (power of two), writing formatted lines to w.
func NewLogger(ringCapacity uint64, w io.Writer) *Logger {
	return &Logger{
		zl: zerolog.New(w).With().Timestamp().Logger(),
		ringCap: ringCapacity,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Producer registers a new per-thread log ring under the given component
// name and returns its handle. Safe to call at any time, including after
// Start; the drain goroutine picks the new ring up on its next sweep.
func (l *Logger) Producer(component string) *LogProducer {
	p := &LogProducer{component: component, ring: NewRing[record](l.ringCap)}
	l.mu.Lock()
	l.producers = append(l.producers, p)
	l.mu.Unlock()
	return p
}

// Dropped reports the total records dropped across every producer.
func (l *Logger) Dropped() int64 {
	var total int64
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.producers {
		total += p.dropped.Load()
	}
	return total
}

// Start launches the drain goroutine. Call once.
func (l *Logger) Start() {
	go l.drainLoop()
}

// Stop signals the drain goroutine to flush every producer ring and exit,
// then waits for it to finish.
func (l *Logger) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Logger) snapshot() []*LogProducer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*LogProducer, len(l.producers))
	copy(out, l.producers)
	return out
}

// drainLoop sweeps committed records off every producer ring and writes
// them through zerolog. It spins briefly when all rings are empty (the
// fabric's logger is off the hot path but still shouldn't introduce
// scheduling latency under load) and yields to the scheduler between spins
// rather than pegging a core.
func (l *Logger) drainLoop() {
	defer close(l.doneCh)

	idle := 0
	for {
		select {
		case <-l.stopCh:
			l.drain()
			return
		default:
		}

		if l.sweep() == 0 {
			idle++
			if idle > 1000 {
				time.Sleep(time.Millisecond)
			} else {
				runtime.Gosched()
			}
			continue
		}
		idle = 0
	}
}

// sweep reads whatever is currently committed on every producer ring,
// returning the number of records written.
func (l *Logger) sweep() int {
	n := 0
	for _, p := range l.snapshot() {
		for {
			rec, ok := p.ring.TryRead()
			if !ok {
				break
			}
			l.write(p.component, rec)
			n++
		}
	}
	return n
}

// drain flushes every ring without waiting for more.
func (l *Logger) drain() {
	for l.sweep() > 0 {
	}
}

func (l *Logger) write(component string, rec record) {
	ev := l.zl.WithLevel(rec.level).Str("component", component).Int64("ts_ns", rec.ts)
	if rec.i1 != 0 {
		ev = ev.Int64("i1", rec.i1)
	}
	if rec.i2 != 0 {
		ev = ev.Int64("i2", rec.i2)
	}
	ev.Msg(rec.msg)
}
