package gateway

import "tradingcore/internal/coretypes"

// Executor is the gateway's pluggable order-execution backend: live REST
// submission against a venue, or the paper-trading simulator. Both
// implementations own exactly one internal goroutine that is the sole
// writer to the channel Results returns, so the gateway's response
// publisher can fan in from several executors (and its own local rejects)
// without ever giving a channel more than one producer, the same
// single-producer discipline the fabric rings enforce, applied to the
// gateway's own internal wiring too.
//
// Submit and Cancel are fire-and-forget: they enqueue work for the
// executor's internal goroutine and return immediately. Every outcome,
// synchronous or not, arrives later on Results.
type Executor interface {
	Start()
	Stop()
	Submit(req coretypes.ClientRequest)
	Cancel(req coretypes.ClientRequest)
	Results() <-chan coretypes.ClientResponse
}
