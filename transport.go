package chatsync

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Close codes used by the client.
const (
	CloseNormal    = int(websocket.StatusNormalClosure)
	CloseGoingAway = int(websocket.StatusGoingAway)
)

// Transport opens sockets. The default is a WebSocket dialer; tests inject an
// in-memory implementation.
type Transport interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Socket is one established bidirectional connection.
type Socket interface {
	// Read blocks for the next text frame. It returns an error once the
	// socket is closed by either side.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// WebSocketTransport dials WebSocket endpoints with nhooyr.io/websocket.
type WebSocketTransport struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: t.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
