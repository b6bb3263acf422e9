// Package gateway exposes the service's HTTP surface and the websocket
// bridge to the transport sidecar.
//
// The sidecar owns the actual messaging account (pairing, QR, session keys)
// and connects here with one long-lived websocket. Inbound user messages
// arrive as JSON frames; outbound sends travel back on the same connection.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
)

// ErrSidecarDisconnected is returned by Send while no sidecar is connected.
var ErrSidecarDisconnected = errors.New("gateway: transport sidecar not connected")

// Frame is the wire format on the bridge, both directions. Type is "message"
// for sidecar→service user messages and "send" for service→sidecar
// deliveries.
type Frame struct {
	Type    string       `json:"type"`
	From    string       `json:"from,omitempty"`
	To      string       `json:"to,omitempty"`
	Content chat.Content `json:"content"`
}

const (
	frameMessage = "message"
	frameSend    = "send"
)

// Bridge holds the current sidecar connection and implements chat.Channel
// over it. One sidecar at a time; a new connection replaces the previous one.
type Bridge struct {
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger}
}

var _ chat.Channel = (*Bridge)(nil)

// Send delivers content to one recipient through the connected sidecar.
func (b *Bridge) Send(_ context.Context, recipient string, content chat.Content) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return ErrSidecarDisconnected
	}
	if err := b.conn.WriteJSON(Frame{Type: frameSend, To: recipient, Content: content}); err != nil {
		return errors.Join(ErrSidecarDisconnected, err)
	}
	return nil
}

// attach installs conn as the active sidecar connection, closing any
// previous one.
func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	prev := b.conn
	b.conn = conn
	b.mu.Unlock()

	if prev != nil {
		b.logger.Warn("replacing existing sidecar connection")
		_ = prev.Close()
	}
}

// detach clears conn if it is still the active connection.
func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
}

// Connected reports whether a sidecar is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}
