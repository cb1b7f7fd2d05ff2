package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface the ingestor needs from a live WebSocket
// connection. It exists so tests can substitute a fake transport without
// opening a real socket, narrowing the concrete *websocket.Conn down to
// just what the read/write/deadline loop uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn to a venue WebSocket endpoint. The default
// implementation wraps gorilla/websocket's DialContext directly.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// gorillaDialer is the production Dialer.
type gorillaDialer struct{}

// NewGorillaDialer returns the production Dialer backed by
// gorilla/websocket's default dialer.
func NewGorillaDialer() Dialer { return gorillaDialer{} }

func (gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: dial %s: %w", url, err)
	}
	return conn, nil
}

// textMessage is the gorilla/websocket frame type used for every outbound
// JSON control frame (subscribe/unsubscribe); named here so callers outside
// this file never need to import gorilla/websocket just for the constant.
const textMessage = websocket.TextMessage
