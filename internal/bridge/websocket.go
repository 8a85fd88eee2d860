package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// handshakeTimeout bounds the hello/welcome exchange.
const handshakeTimeout = 10 * time.Second

// WebsocketLink carries one envelope per text message.
type WebsocketLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocketLink wraps conn.
func NewWebsocketLink(conn *websocket.Conn) *WebsocketLink {
	return &WebsocketLink{conn: conn}
}

// ReadEnvelope reads one message.
func (w *WebsocketLink) ReadEnvelope() (*Envelope, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(data)
}

// WriteEnvelope writes one message.
func (w *WebsocketLink) WriteEnvelope(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (w *WebsocketLink) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// DialWebsocket connects to url and completes the client handshake.
func DialWebsocket(ctx context.Context, url, client, token string) (*WebsocketLink, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	link := NewWebsocketLink(conn)

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := ClientHandshake(link, client, token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return link, nil
}
