package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// closeWriteWait bounds how long writing a close frame may block.
	closeWriteWait = time.Second
	// writeWait bounds how long writing a data frame may block.
	writeWait = 10 * time.Second
)

// WebsocketDialer dials sockets with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer. A zero handshakeTimeout means none.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	return &WebsocketDialer{dialer: &d}
}

// Dial opens a websocket to rawURL.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return &wsSocket{conn: conn, writeWait: writeWait}, nil
}

// wsSocket adapts *websocket.Conn to Socket.
type wsSocket struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (s *wsSocket) WriteMessage(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}
