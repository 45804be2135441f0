package cdp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeBufferSize is large enough for big Runtime.evaluate expressions and
// input batches without fragmenting frames.
const writeBufferSize = 1 << 20

// writeTimeout bounds each write so a peer that stops reading cannot wedge
// the writer, and with it Close.
const writeTimeout = 10 * time.Second

// Transport is a message-oriented, bidirectional channel. ReadMessage is only
// ever called from the connection's reader goroutine; WriteMessage may be
// called concurrently and must serialize internally.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// wsTransport adapts a gorilla websocket, which allows a single concurrent
// writer, to Transport.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}

// Dial opens a websocket to a target's DevTools URL and starts a connection
// over it.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		WriteBufferSize:  writeBufferSize,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(&wsTransport{conn: ws, writeTimeout: writeTimeout}, opts...), nil
}
