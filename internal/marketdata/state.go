package marketdata

// ConnState is the ingestor's connection-lifecycle state:
// DISCONNECTED → RESOLVING → CONNECTING → TLS_HANDSHAKE → WS_HANDSHAKE →
// CONNECTED → DISCONNECTED. gorilla/websocket's DialContext performs
// resolve/connect/TLS/WS-handshake as one blocking call, so this ingestor
// collapses those four into a single CONNECTING state it is in for the
// duration of that call — a failure at any of those stages unwinds to
// DISCONNECTED and reconnects, regardless of how finely the dial is
// instrumented internally.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
