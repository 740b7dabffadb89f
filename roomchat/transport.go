package roomchat

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/roomchat-sdk-go/roomchat/internal"
)

// StatusCode is a WebSocket close status code.
type StatusCode = websocket.StatusCode

// StatusNormalClosure is used for every close the manager initiates.
const StatusNormalClosure = websocket.StatusNormalClosure

// Close reasons sent with StatusNormalClosure.
const (
	reasonRoomSwitch  = "room switch"
	reasonLeave       = "leave"
	reasonClientClose = "client close"
	reasonStale       = "stale binding"
)

// Conn is a bidirectional message-oriented connection.
// Read blocks until a payload arrives or the connection ends.
// Implementations must allow Close to be called concurrently with Read and Write.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close(code StatusCode, reason string) error
}

// Transport opens connections. It knows nothing about rooms or messages.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport dials WebSocket endpoints with coder/websocket.
type WebSocketTransport struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// NewWebSocketTransport returns a transport using the timeouts from cfg.
func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	return &WebSocketTransport{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	c, err := internal.Dial(ctx, url, t.HandshakeTimeout, t.ReadTimeout, t.WriteTimeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// isExpectedDisconnect reports whether err ends a read loop without being worth
// surfacing: the binding was torn down locally or the peer closed cleanly.
func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}

func classifyConnError(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	if errors.Is(err, io.EOF) {
		return ErrorDisconnected
	}
	return ErrorConnection
}
