package transport

import (
	"context"
	"net/http"
	"time"
)

// Conn is one bidirectional gateway socket. ReadMessage is called by a single
// reader goroutine; WriteMessage may be called concurrently.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives or the socket fails
	ReadMessage() ([]byte, error)

	// WriteMessage hands one text frame to the socket
	WriteMessage(data []byte) error

	// Close ends the socket with a normal closure, which tells the server
	// the session is over. Idempotent.
	Close() error

	// Drop tears the socket down with CloseReconnect so the server keeps the
	// session resumable. Close and Drop share one close frame; whichever
	// runs first wins.
	Drop() error
}

// CloseReconnect is the close code sent when the client intends to resume
const CloseReconnect = 4000

// Dialer opens gateway sockets
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Doer performs REST round trips
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport is the capability injected into the gateway session and the REST
// client, so neither is tied to a concrete network stack.
type Transport interface {
	Dialer
	Doer
}

// Config for the default network transport
type Config struct {
	Timeout          time.Duration `yaml:"timeout"`           // REST round trip timeout
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // websocket upgrade timeout
	ReadLimit        int64         `yaml:"read_limit"`        // max inbound frame size in bytes
}

// Client is the default Transport: net/http for REST, gorilla/websocket for
// the gateway.
type Client struct {
	*HTTPClient
	*WSDialer
}

var _ Transport = (*Client)(nil)

// New builds the default network transport
func New(config Config) *Client {
	return &Client{
		HTTPClient: NewHTTPClient(config),
		WSDialer:   NewWSDialer(config),
	}
}
