package gateway

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/transport"
)

const (
	connConnecting int32 = iota
	connOpen
	connClosed
)

// conn owns one gateway socket: its read loop and its heartbeat timer
type conn struct {
	mu     sync.Mutex // guards ws assignment against shutdown
	ws     transport.Conn
	state  atomic.Int32
	strict bool

	// seq returns the latest dispatch sequence, 0 if none
	seq func() int64
	// deliver receives every event read from the socket, in order
	deliver func(*conn, Event)

	acked    atomic.Bool
	beatOnce sync.Once

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func newConn(strict bool, seq func() int64, deliver func(*conn, Event)) *conn {
	return &conn{
		strict:  strict,
		seq:     seq,
		deliver: deliver,
		quit:    make(chan struct{}),
	}
}

// open dials the socket and starts the read loop
func (c *conn) open(ctx context.Context, dialer transport.Dialer, url string) error {
	ws, err := dialer.Dial(ctx, url)
	if err != nil {
		c.state.Store(connClosed)
		return err
	}
	c.mu.Lock()
	if c.state.Load() == connClosed {
		c.mu.Unlock()
		_ = ws.Drop()
		return errors.New("socket closed while dialing")
	}
	c.ws = ws
	c.state.Store(connOpen)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *conn) readLoop() {
	defer c.wg.Done()
	for {
		data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown()
			c.deliver(c, TransportError{Cause: err})
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			observ.Debug("gateway_frame_ignored", map[string]any{"error": err.Error()})
			continue
		}
		observ.IncCounter("gateway_frames_received_total", map[string]string{"op": opLabel(ev)})

		switch ev := ev.(type) {
		case Hello:
			c.startHeartbeat(ev.HeartbeatInterval)
		case HeartbeatAck:
			c.acked.Store(true)
		case heartbeatRequest:
			_ = c.beat()
			continue
		case reconnectRequest:
			observ.Log("gateway_reconnect_requested", nil)
			_ = c.ws.Drop()
			continue
		}
		c.deliver(c, ev)
	}
}

func (c *conn) startHeartbeat(interval time.Duration) {
	c.beatOnce.Do(func() {
		c.acked.Store(true)
		c.wg.Add(1)
		go c.heartbeat(interval)
	})
}

func (c *conn) heartbeat(interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
		}
		if c.strict && !c.acked.Load() {
			observ.Warn("gateway_heartbeat_ack_missed", map[string]any{"interval_ms": interval.Milliseconds()})
			_ = c.ws.Drop()
			return
		}
		if err := c.beat(); err != nil {
			observ.Debug("gateway_heartbeat_failed", map[string]any{"error": err.Error()})
			return
		}
	}
}

func (c *conn) beat() error {
	var hb Heartbeat
	if seq := c.seq(); seq > 0 {
		hb.Sequence = &seq
	}
	c.acked.Store(false)
	if err := c.send(hb); err != nil {
		return err
	}
	observ.IncCounter("gateway_heartbeats_sent_total", nil)
	return nil
}

func (c *conn) send(cmd Command) error {
	switch c.state.Load() {
	case connConnecting:
		return ErrNotReady
	case connClosed:
		return ErrNotConnected
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	observ.Debug("gateway_send", map[string]any{"op": cmd.Op()})
	return c.ws.WriteMessage(data)
}

// shutdown stops the heartbeat and drops the socket without waiting. The
// session stays resumable.
func (c *conn) shutdown() {
	c.stop(false)
}

// close drops the socket and waits for its goroutines
func (c *conn) close() {
	c.stop(false)
	c.wg.Wait()
}

// finish ends the session with a normal closure and waits for its goroutines
func (c *conn) finish() {
	c.stop(true)
	c.wg.Wait()
}

func (c *conn) stop(normal bool) {
	c.mu.Lock()
	c.state.Store(connClosed)
	ws := c.ws
	c.mu.Unlock()

	c.quitOnce.Do(func() {
		close(c.quit)
		if ws == nil {
			return
		}
		if normal {
			_ = ws.Close()
		} else {
			_ = ws.Drop()
		}
	})
}

func opLabel(ev Event) string {
	switch ev.(type) {
	case Dispatch:
		return strconv.Itoa(OpDispatch)
	case Hello:
		return strconv.Itoa(OpHello)
	case InvalidSession:
		return strconv.Itoa(OpInvalidSession)
	case HeartbeatAck:
		return strconv.Itoa(OpHeartbeatAck)
	case heartbeatRequest:
		return strconv.Itoa(OpHeartbeat)
	case reconnectRequest:
		return strconv.Itoa(OpReconnect)
	}
	return "unknown"
}
