// Package state folds the gateway's ordered event stream into a Graph and
// keeps a bounded message window per fetched channel.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// DefaultMessageLimit caps each message window
const DefaultMessageLimit = 100

// ErrUnknownChannel is returned when a window is requested for a channel the
// graph does not contain
var ErrUnknownChannel = errors.New("state: unknown channel")

// Sender carries follow-up commands back to the gateway
type Sender interface {
	Send(ctx context.Context, cmd gateway.Command) error
}

// Fetcher loads message history over REST
type Fetcher interface {
	Messages(ctx context.Context, req api.FetchMessages) ([]api.Message, error)
}

type Options struct {
	MessageLimit int
}

// Store owns the Graph. Exactly one fold or window population runs at a
// time; readers may run concurrently with each other.
type Store struct {
	sender  Sender
	fetcher Fetcher
	limit   int
	flight  singleflight.Group

	mu         sync.RWMutex
	graph      *Graph
	windows    map[api.ID]*window
	subscribed map[api.ID]bool // guilds sent UpdateSubscriptions this session
	version    uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// New creates an empty store. sender may be nil, in which case fetch side
// effects are skipped.
func New(sender Sender, fetcher Fetcher, opts Options) *Store {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = DefaultMessageLimit
	}
	return &Store{
		sender:     sender,
		fetcher:    fetcher,
		limit:      opts.MessageLimit,
		graph:      newGraph(),
		windows:    make(map[api.ID]*window),
		subscribed: make(map[api.ID]bool),
		subs:       make(map[chan struct{}]struct{}),
	}
}

// Run folds every dispatch from events until the channel closes or ctx is
// done.
func (s *Store) Run(ctx context.Context, events <-chan gateway.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if d, ok := ev.(gateway.Dispatch); ok {
				s.Fold(d)
			}
		}
	}
}

// Fold applies one dispatch. A failure is logged and counted and never
// affects the next dispatch.
func (s *Store) Fold(d gateway.Dispatch) {
	labels := map[string]string{"type": d.Type}
	changed, err := s.fold(d)
	if err != nil {
		observ.IncCounter("state_fold_errors_total", labels)
		observ.Warn("state_fold_failed", map[string]any{"type": d.Type, "seq": d.Sequence, "error": err.Error()})
		return
	}
	if changed {
		observ.IncCounter("state_folds_total", labels)
		s.notify()
	}
}

func (s *Store) fold(d gateway.Dispatch) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	var f func(gateway.Dispatch) error
	switch d.Type {
	case gateway.EventReady:
		f = s.foldReady
	case gateway.EventGuildCreate:
		f = s.foldGuildCreate
	case gateway.EventGuildUpdate:
		f = s.foldGuildUpdate
	case gateway.EventGuildDelete:
		f = s.foldGuildDelete
	case gateway.EventGuildMembersChunk:
		f = s.foldMembersChunk
	case gateway.EventChannelCreate, gateway.EventChannelUpdate:
		f = s.foldChannelUpsert
	case gateway.EventChannelDelete:
		f = s.foldChannelDelete
	case gateway.EventThreadCreate, gateway.EventThreadUpdate:
		f = s.foldThreadUpsert
	case gateway.EventThreadDelete:
		f = s.foldThreadDelete
	case gateway.EventThreadListSync:
		f = s.foldThreadListSync
	case gateway.EventMessageCreate:
		f = s.foldMessageCreate
	case gateway.EventMessageUpdate:
		f = s.foldMessageUpdate
	case gateway.EventMessageDelete:
		f = s.foldMessageDelete
	default:
		return false, nil
	}
	if err := f(d); err != nil {
		if errors.Is(err, errIgnored) {
			return false, nil
		}
		return false, err
	}
	s.version++
	return true, nil
}

// Version increases with every applied change
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// View runs fn with read access to the graph. fn must not retain or mutate
// anything it is given.
func (s *Store) View(fn func(g *Graph)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.graph)
}

// Subscribe returns a channel that receives a value after changes. Bursts
// coalesce into one notification.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// errIgnored marks a dispatch that legitimately changed nothing
var errIgnored = errors.New("ignored")

// miss records an event that referenced something the graph does not have
func miss(d gateway.Dispatch, what string, id api.ID) error {
	observ.Debug("state_resolution_miss", map[string]any{
		"type": d.Type,
		"seq":  d.Sequence,
		"what": what,
		"id":   id,
	})
	return errIgnored
}
