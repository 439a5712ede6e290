package stubs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// Gateway is a scripted gateway and REST server. Every accepted socket is
// handed out through Accept so a test can drive the handshake frame by frame.
type Gateway struct {
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	accepted chan *ServerConn

	mu       sync.Mutex
	conns    []*ServerConn
	messages map[api.ID][]api.Message
	fetches  map[api.ID]int
	lastAuth string
	closed   bool
}

// NewGateway creates a stub server. Mount it with http.Serve or use
// NewTestGateway.
func NewGateway() *Gateway {
	g := &Gateway{
		mux:      http.NewServeMux(),
		accepted: make(chan *ServerConn, 16),
		messages: make(map[api.ID][]api.Message),
		fetches:  make(map[api.ID]int),
	}
	g.mux.HandleFunc("/gateway", g.serveSocket)
	g.mux.HandleFunc("GET /api/channels/{id}/messages", g.serveMessages)
	g.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// TestGateway is a Gateway listening on a local httptest server
type TestGateway struct {
	*Gateway
	Server *httptest.Server
}

// NewTestGateway starts a stub server that is shut down when the test ends
func NewTestGateway(t testing.TB) *TestGateway {
	t.Helper()
	g := NewGateway()
	srv := httptest.NewServer(g)
	tg := &TestGateway{Gateway: g, Server: srv}
	t.Cleanup(tg.Close)
	return tg
}

// URL is the gateway socket URL
func (tg *TestGateway) URL() string {
	return "ws" + strings.TrimPrefix(tg.Server.URL, "http") + "/gateway"
}

// APIURL is the REST base URL
func (tg *TestGateway) APIURL() string {
	return tg.Server.URL + "/api"
}

// Close drops every socket and stops the server
func (tg *TestGateway) Close() {
	tg.Gateway.Close()
	tg.Server.Close()
}

// Close drops every accepted socket
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Accept waits for the next client socket
func (g *Gateway) Accept(ctx context.Context) (*ServerConn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-g.accepted:
		return c, nil
	}
}

// SeedMessages installs the REST history of a channel, newest first
func (g *Gateway) SeedMessages(channelID api.ID, messages []api.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[channelID] = messages
}

// Fetches counts REST message fetches for a channel
func (g *Gateway) Fetches(channelID api.ID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[channelID]
}

// LastAuthorization is the Authorization header of the latest REST call
func (g *Gateway) LastAuthorization() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAuth
}

func (g *Gateway) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observ.Warn("stub_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}
	c := newServerConn(ws)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		c.Close()
		return
	}
	g.conns = append(g.conns, c)
	g.mu.Unlock()

	observ.Debug("stub_socket_accepted", map[string]any{"remote": r.RemoteAddr})
	select {
	case g.accepted <- c:
	default:
		observ.Warn("stub_accept_backlog_full", nil)
		c.Close()
	}
}

func (g *Gateway) serveMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	g.mu.Lock()
	g.fetches[id]++
	g.lastAuth = r.Header.Get("Authorization")
	msgs, ok := g.messages[id]
	g.mu.Unlock()

	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msgs)
}

// ServerConn is the server side of one accepted gateway socket
type ServerConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	commands chan gateway.Command
	done     chan struct{}
	once     sync.Once

	closeCode atomic.Int32
}

var errConnClosed = errors.New("stub: socket closed")

func newServerConn(ws *websocket.Conn) *ServerConn {
	c := &ServerConn{
		ws:       ws,
		commands: make(chan gateway.Command, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *ServerConn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closeCode.Store(int32(ce.Code))
			}
			return
		}
		cmd, err := gateway.DecodeCommand(data)
		if err != nil {
			observ.Debug("stub_command_ignored", map[string]any{"error": err.Error()})
			continue
		}
		select {
		case c.commands <- cmd:
		case <-c.done:
			return
		}
	}
}

// ReadCommand waits for the next command the client sent
func (c *ServerConn) ReadCommand(ctx context.Context) (gateway.Command, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cmd := <-c.commands:
		return cmd, nil
	case <-c.done:
		// drain anything read before the socket closed
		select {
		case cmd := <-c.commands:
			return cmd, nil
		default:
			return nil, errConnClosed
		}
	}
}

// ReadUntil reads commands until match accepts one, skipping heartbeats and
// anything else match rejects
func (c *ServerConn) ReadUntil(ctx context.Context, match func(gateway.Command) bool) (gateway.Command, error) {
	for {
		cmd, err := c.ReadCommand(ctx)
		if err != nil {
			return nil, err
		}
		if match(cmd) {
			return cmd, nil
		}
	}
}

// Send writes one inbound event frame
func (c *ServerConn) Send(ev gateway.Event) error {
	data, err := gateway.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes an arbitrary text frame
func (c *ServerConn) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *ServerConn) SendHello(interval time.Duration) error {
	return c.Send(gateway.Hello{HeartbeatInterval: interval})
}

// SendDispatch writes a dispatch whose payload is data encoded as JSON
func (c *ServerConn) SendDispatch(seq int64, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Send(gateway.Dispatch{Sequence: seq, Type: typ, Data: raw})
}

func (c *ServerConn) SendInvalidSession(resumable bool) error {
	return c.Send(gateway.InvalidSession{Resumable: resumable})
}

func (c *ServerConn) SendAck() error {
	return c.Send(gateway.HeartbeatAck{})
}

// CloseCode is the close code the client sent, 0 if the socket ended without
// a close frame. Read it after Done.
func (c *ServerConn) CloseCode() int {
	return int(c.closeCode.Load())
}

// Done is closed once the socket is gone
func (c *ServerConn) Done() <-chan struct{} {
	return c.done
}

// Close drops the socket without a close handshake, as a network fault would
func (c *ServerConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
