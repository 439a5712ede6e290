package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer implements Dialer with gorilla/websocket
type WSDialer struct {
	dialer    *websocket.Dialer
	readLimit int64
}

// NewWSDialer creates a gateway socket dialer
func NewWSDialer(config Config) *WSDialer {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 15 * time.Second
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = 16 << 20 // READY payloads for large accounts run to several MB
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		readLimit: config.ReadLimit,
	}
}

// Dial opens one socket
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(d.readLimit)
	return &wsConn{ws: ws}, nil
}

// wsConn adapts *websocket.Conn, which allows one concurrent writer only
type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure)
}

func (c *wsConn) Drop() error {
	return c.closeWith(CloseReconnect)
}

func (c *wsConn) closeWith(code int) error {
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
