package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"tradingcore/internal/coretypes"
)

// metrics holds the gateway's operational counters, namespaced and
// const-labeled per client the same way internal/marketdata labels its
// counters per venue.
type metrics struct {
	responseDrops   prometheus.Counter
	responsesByKind *prometheus.CounterVec
}

// NewMetrics returns a metrics instance registered against reg, or an
// unregistered one usable standalone if reg is nil (tests, or a gateway
// run without a process-wide registry).
func NewMetrics(clientID coretypes.ClientId, reg prometheus.Registerer) *metrics {
	labels := prometheus.Labels{"client_id": strconv.FormatUint(uint64(clientID), 10)}

	m := &metrics{
		responseDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "gateway",
			Name: "response_ring_drops_total",
			Help: "Responses dropped because the client-response ring was full.",
			ConstLabels: labels,
		}),
		responsesByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradingcore",
			Subsystem: "gateway",
			Name: "responses_total",
			Help: "Client responses emitted, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.responseDrops, m.responsesByKind)
	}
	return m
}

func (m *metrics) observeResponse(kind coretypes.ResponseKind) {
	m.responsesByKind.WithLabelValues(kind.String()).Inc()
}
