package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rajchodisetti/chatgw/internal/bridge"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// Remote drives a Session hosted by a Worker on the other end of a bridge
// link. It keeps the resume cursor on this side, so a fresh worker can pick
// the session back up.
type Remote struct {
	caller *bridge.Caller
	config Config
	tokens TokenStore
	sink   TokenSink

	mu     sync.Mutex
	data   *SessionData
	opened bool
	status string

	events   *broadcast[Event]
	statuses *broadcast[string]
	done     chan struct{}
}

var _ Gateway = (*Remote)(nil)

// NewRemote starts consuming events from link. tokens and sink may be nil.
func NewRemote(link bridge.Link, config Config, tokens TokenStore, sink TokenSink) *Remote {
	config.applyDefaults()
	r := &Remote{
		caller:   bridge.NewCaller(link, config.EventBuffer),
		config:   config,
		tokens:   tokens,
		sink:     sink,
		events:   newBroadcast[Event](config.EventBuffer),
		statuses: newBroadcast[string](16),
		done:     make(chan struct{}),
	}
	go r.pump()
	return r
}

func (r *Remote) pump() {
	defer close(r.done)
	for msg := range r.caller.Events() {
		switch msg.Type {
		case eventEvent:
			var rec eventRecord
			if err := msg.Decode(&rec); err != nil {
				observ.Warn("gateway_remote_bad_event", map[string]any{"error": err.Error()})
				continue
			}
			ev, err := decodeRecord(rec)
			if err != nil {
				observ.Warn("gateway_remote_bad_event", map[string]any{"error": err.Error()})
				continue
			}
			if _, ok := ev.(Init); ok {
				continue
			}
			r.track(ev)
			r.events.publish(ev)
		case eventStatus:
			var status string
			if err := msg.Decode(&status); err != nil {
				continue
			}
			r.mu.Lock()
			r.status = status
			r.mu.Unlock()
			r.statuses.publish(status)
		default:
			observ.Debug("gateway_remote_unknown_event", map[string]any{"type": msg.Type})
		}
	}
}

// track mirrors the worker's resume cursor
func (r *Remote) track(ev Event) {
	d, ok := ev.(Dispatch)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return
	}
	r.data.Sequence = d.Sequence
	if d.Type == EventReady {
		var ready struct {
			SessionID string `json:"session_id"`
		}
		if err := d.Decode(&ready); err == nil {
			r.data.SessionID = ready.SessionID
		}
	}
}

// Open has the same contract as Session.Open
func (r *Remote) Open(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return true, nil
	}
	if r.data == nil {
		if token == "" && r.tokens != nil {
			token, _ = r.tokens.Get(r.config.TokenKey)
		}
		if token == "" {
			r.mu.Unlock()
			observ.Debug("gateway_no_token", nil)
			return false, nil
		}
		r.data = &SessionData{Token: token}
	}
	req := connectRequest{Session: *r.data, Properties: r.config.Properties}
	r.mu.Unlock()

	var ok bool
	if err := r.caller.Call(ctx, requestConnect, req, &ok); err != nil {
		var remote *bridge.RemoteError
		if errors.As(err, &remote) && remote.Message == ErrAuthenticationFailed.Error() {
			r.mu.Lock()
			r.data = nil
			r.mu.Unlock()
			return false, ErrAuthenticationFailed
		}
		return false, fmt.Errorf("connect: %w", err)
	}
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	r.opened = true
	r.mu.Unlock()
	if r.tokens != nil {
		if err := r.tokens.Set(r.config.TokenKey, req.Session.Token); err != nil {
			observ.Warn("gateway_token_persist_failed", map[string]any{"error": err.Error()})
		}
	}
	if r.sink != nil {
		r.sink.SetToken(req.Session.Token)
	}
	return true, nil
}

// Send forwards one command to the worker's socket
func (r *Remote) Send(ctx context.Context, cmd Command) error {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return r.caller.Call(ctx, requestSend, frame, nil)
}

func (r *Remote) Events() (<-chan Event, func()) {
	return r.events.subscribe(Init{})
}

func (r *Remote) Statuses() (<-chan string, func()) {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	return r.statuses.subscribe(status)
}

// SessionData returns the mirrored resume cursor
func (r *Remote) SessionData() (SessionData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return SessionData{}, false
	}
	return *r.data, true
}

// Close closes the link; the worker closes its session in turn
func (r *Remote) Close() error {
	r.events.close()
	r.statuses.close()
	err := r.caller.Close()
	<-r.done
	return err
}
