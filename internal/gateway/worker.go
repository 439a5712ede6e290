package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rajchodisetti/chatgw/internal/bridge"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// Bridge request and event types
const (
	requestConnect = "connect"
	requestSend    = "send"
	eventEvent     = "event"
	eventStatus    = "status"
)

type connectRequest struct {
	Session    SessionData        `cbor:"session"`
	Properties IdentifyProperties `cbor:"idprop"`
}

// eventRecord carries one Event across the bridge. Frame holds the wire frame
// for events that have one.
type eventRecord struct {
	Kind  string `cbor:"kind"`
	Frame []byte `cbor:"frame,omitempty"`
	Error string `cbor:"error,omitempty"`
}

func encodeRecord(ev Event) (eventRecord, error) {
	switch ev := ev.(type) {
	case Init:
		return eventRecord{Kind: "init"}, nil
	case TransportError:
		return eventRecord{Kind: "error", Error: ev.Error()}, nil
	}
	frame, err := EncodeEvent(ev)
	if err != nil {
		return eventRecord{}, err
	}
	return eventRecord{Kind: "frame", Frame: frame}, nil
}

func decodeRecord(rec eventRecord) (Event, error) {
	switch rec.Kind {
	case "init":
		return Init{}, nil
	case "error":
		return TransportError{Cause: errors.New(rec.Error)}, nil
	case "frame":
		return DecodeEvent(rec.Frame)
	}
	return nil, fmt.Errorf("unknown event kind %q", rec.Kind)
}

// SessionFactory builds the session a Worker hosts
type SessionFactory func(props IdentifyProperties) *Session

// Worker hosts a Session on the isolated side of a bridge link. It answers
// connect and send requests and pushes every event and status line back.
type Worker struct {
	server  *bridge.Server
	factory SessionFactory

	mu      sync.Mutex
	session *Session
	wg      sync.WaitGroup
}

func NewWorker(link bridge.Link, factory SessionFactory) *Worker {
	return &Worker{server: bridge.NewServer(link), factory: factory}
}

// Run serves requests until the link closes or ctx is done, then closes the
// hosted session.
func (w *Worker) Run(ctx context.Context) error {
	err := w.server.Serve(ctx, w.handle)

	w.mu.Lock()
	s := w.session
	w.session = nil
	w.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Worker) handle(ctx context.Context, req bridge.Request) (any, error) {
	switch req.Type {
	case requestConnect:
		var in connectRequest
		if err := req.Decode(&in); err != nil {
			return nil, fmt.Errorf("decode connect: %w", err)
		}
		return w.connect(ctx, in)
	case requestSend:
		var frame []byte
		if err := req.Decode(&frame); err != nil {
			return nil, fmt.Errorf("decode send: %w", err)
		}
		cmd, err := DecodeCommand(frame)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		s := w.session
		w.mu.Unlock()
		if s == nil {
			return nil, errors.New("not connected")
		}
		return nil, s.Send(ctx, cmd)
	}
	observ.Log("gateway_worker_unknown_command", map[string]any{"type": req.Type})
	return nil, fmt.Errorf("unknown command %q", req.Type)
}

func (w *Worker) connect(ctx context.Context, in connectRequest) (bool, error) {
	w.mu.Lock()
	if w.session != nil {
		w.mu.Unlock()
		observ.Log("gateway_worker_already_connected", nil)
		return false, errors.New("already connected")
	}
	s := w.factory(in.Properties)
	w.session = s
	w.mu.Unlock()

	events, _ := s.Events()
	statuses, _ := s.Statuses()
	w.wg.Add(2)
	go forward(&w.wg, events, func(ev Event) error {
		rec, err := encodeRecord(ev)
		if err != nil {
			return err
		}
		return w.server.Emit(context.Background(), eventEvent, rec)
	})
	go forward(&w.wg, statuses, func(status string) error {
		return w.server.Emit(context.Background(), eventStatus, status)
	})

	ok, err := s.OpenSession(ctx, in.Session)
	if !ok {
		w.mu.Lock()
		if w.session == s {
			w.session = nil
		}
		w.mu.Unlock()
		_ = s.Close()
	}
	return ok, err
}

// forward relays one subscription until the session closes it
func forward[T any](wg *sync.WaitGroup, ch <-chan T, emit func(T) error) {
	defer wg.Done()
	for v := range ch {
		// keep draining after a failure so the session never blocks on us
		if err := emit(v); err != nil && !errors.Is(err, bridge.ErrClosed) {
			observ.Warn("gateway_worker_emit_failed", map[string]any{"error": err.Error()})
		}
	}
}
