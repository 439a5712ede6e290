package stubs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// AutoOptions configure RunAuto
type AutoOptions struct {
	HeartbeatInterval time.Duration
	Fixtures          Fixtures
}

// RunAuto answers every accepted socket like a real gateway would: hello,
// READY for a valid identify, RESUMED for a known session, acks for
// heartbeats. It returns when ctx is done.
func RunAuto(ctx context.Context, g *Gateway, opts AutoOptions) error {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 41250 * time.Millisecond
	}
	for channelID, msgs := range opts.Fixtures.Messages {
		g.SeedMessages(channelID, msgs)
	}

	a := &auto{opts: opts, sessions: make(map[string]int64)}
	for {
		c, err := g.Accept(ctx)
		if err != nil {
			return nil
		}
		go a.serve(ctx, c)
	}
}

type auto struct {
	opts AutoOptions

	mu       sync.Mutex
	sessions map[string]int64 // session id to last sequence
}

func (a *auto) serve(ctx context.Context, c *ServerConn) {
	defer c.Close()
	if err := c.SendHello(a.opts.HeartbeatInterval); err != nil {
		return
	}

	var seq int64
	for {
		cmd, err := c.ReadCommand(ctx)
		if err != nil {
			return
		}
		switch cmd := cmd.(type) {
		case gateway.Heartbeat:
			_ = c.SendAck()
		case gateway.Identify:
			if a.opts.Fixtures.Token != "" && cmd.Token != a.opts.Fixtures.Token {
				observ.Log("stub_identify_rejected", nil)
				_ = c.SendInvalidSession(false)
				continue
			}
			ready := a.opts.Fixtures.Ready
			ready.SessionID = uuid.NewString()
			seq = 1
			a.mu.Lock()
			a.sessions[ready.SessionID] = seq
			a.mu.Unlock()
			_ = c.SendDispatch(seq, gateway.EventReady, ready)
			observ.Log("stub_session_ready", map[string]any{"session_id": ready.SessionID})
		case gateway.Resume:
			a.mu.Lock()
			last, ok := a.sessions[cmd.SessionID]
			if ok {
				seq = max(last, cmd.Sequence) + 1
				a.sessions[cmd.SessionID] = seq
			}
			a.mu.Unlock()
			if !ok {
				_ = c.SendInvalidSession(false)
				continue
			}
			_ = c.SendDispatch(seq, gateway.EventResumed, nil)
		default:
			observ.Debug("stub_command", map[string]any{"op": cmd.Op()})
		}
	}
}
