package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// RemoteError is a rejection returned by the other side of the boundary
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s rejected: %s", e.Type, e.Message)
}

// Event is an uncorrelated message pushed from the other side
type Event struct {
	Type string
	Data cbor.RawMessage
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	return Unmarshal(e.Data, v)
}

// Caller sends requests across a Link and matches replies to them by ID.
// IDs start at 1 and are never reused.
type Caller struct {
	link   Link
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan envelope
	closed  bool
}

// NewCaller starts reading replies and events from link
func NewCaller(link Link, buffer int) *Caller {
	if buffer < 1 {
		buffer = 64
	}
	c := &Caller{
		link:    link,
		events:  make(chan Event, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan envelope),
	}
	go c.recvLoop()
	return c
}

// Events delivers pushed events in arrival order. It is closed when the
// link closes.
func (c *Caller) Events() <-chan Event {
	return c.events
}

// Call sends a request and waits for its reply. out may be nil.
func (c *Caller) Call(ctx context.Context, typ string, in, out any) error {
	data, err := encodeData(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.next++
	id := c.next
	reply := make(chan envelope, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	msg, err := Marshal(envelope{ID: id, Type: typ, Data: data})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.link.Send(ctx, msg); err != nil {
		c.forget(id)
		return err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case env, ok := <-reply:
		if !ok {
			return ErrClosed
		}
		if env.Error != "" {
			return &RemoteError{Type: typ, Message: env.Error}
		}
		if out != nil && len(env.Data) > 0 {
			if err := Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", typ, err)
			}
		}
		return nil
	}
}

// Pending is the number of requests awaiting a reply
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Caller) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Caller) recvLoop() {
	defer close(c.done)
	defer c.fail()

	ctx := context.Background()
	for {
		msg, err := c.link.Recv(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := Unmarshal(msg, &env); err != nil {
			observ.Warn("bridge_bad_envelope", map[string]any{"error": err.Error()})
			continue
		}

		if env.ID == 0 {
			select {
			case c.events <- Event{Type: env.Type, Data: env.Data}:
			case <-c.quit:
				return
			}
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			observ.Warn("bridge_unknown_reply", map[string]any{"id": env.ID})
			continue
		}
		reply <- env
	}
}

// fail rejects every pending request and closes the event channel
func (c *Caller) fail() {
	c.mu.Lock()
	c.closed = true
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.events)
}

// Close closes the link and waits for the reader to stop
func (c *Caller) Close() error {
	c.once.Do(func() { close(c.quit) })
	err := c.link.Close()
	<-c.done
	return err
}
