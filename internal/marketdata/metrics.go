package marketdata

import "github.com/prometheus/client_golang/prometheus"

// metrics are the ingestor's operational counters/gauges, built on
// prometheus/client_golang: ring-full drops live in the fabric ring
// itself, but reconnects, resyncs, and unknown-frame drops are the
// ingestor's own concern and worth exporting regardless of which
// strategy ends up consuming the book.
type metrics struct {
	reconnects     prometheus.Counter
	resyncs        prometheus.Counter
	unknownFrames  prometheus.Counter
	snapshotErrors prometheus.Counter
	heartbeatMiss  prometheus.Counter
}

func newMetrics(venue string, reg prometheus.Registerer) *metrics {
	labels := prometheus.Labels{"venue": venue}
	m := &metrics{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "marketdata",
			Name: "reconnects_total",
			Help: "WebSocket reconnect attempts.",
			ConstLabels: labels,
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "marketdata",
			Name: "resyncs_total",
			Help: "Book resynchronizations (gap, inversion, or stale snapshot).",
			ConstLabels: labels,
		}),
		unknownFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "marketdata",
			Name: "unknown_frames_total",
			Help: "Inbound frames with an unrecognized stream type.",
			ConstLabels: labels,
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "marketdata",
			Name: "snapshot_errors_total",
			Help: "REST snapshot fetch failures after retry exhaustion.",
			ConstLabels: labels,
		}),
		heartbeatMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "marketdata",
			Name: "heartbeat_misses_total",
			Help: "Missed heartbeat windows leading to a forced disconnect.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reconnects, m.resyncs, m.unknownFrames, m.snapshotErrors, m.heartbeatMiss)
	}
	return m
}
