package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// Request is one command received by a Server
type Request struct {
	ID   uint64
	Type string
	Data cbor.RawMessage
}

// Decode unmarshals the request payload into v
func (r Request) Decode(v any) error {
	return Unmarshal(r.Data, v)
}

// Handler answers one request. A nil reply is sent as an empty success.
type Handler func(ctx context.Context, req Request) (any, error)

// Server is the isolated side of a Link
type Server struct {
	link Link
}

func NewServer(link Link) *Server {
	return &Server{link: link}
}

// Serve reads requests until the link closes or ctx is done. Each request
// runs in its own goroutine, so a long call does not hold up the others.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := s.link.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		var env envelope
		if err := Unmarshal(msg, &env); err != nil || env.ID == 0 {
			observ.Warn("bridge_invalid_command", map[string]any{"type": env.Type})
			continue
		}

		wg.Add(1)
		go func(env envelope) {
			defer wg.Done()
			s.answer(ctx, env, h)
		}(env)
	}
}

func (s *Server) answer(ctx context.Context, env envelope, h Handler) {
	out, err := h(ctx, Request{ID: env.ID, Type: env.Type, Data: env.Data})
	reply := envelope{ID: env.ID}
	if err != nil {
		reply.Error = err.Error()
	} else if reply.Data, err = encodeData(out); err != nil {
		reply.Data = nil
		reply.Error = "encode reply: " + err.Error()
	}

	msg, err := Marshal(reply)
	if err == nil {
		err = s.link.Send(ctx, msg)
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		observ.Warn("bridge_reply_failed", map[string]any{"id": env.ID, "error": err.Error()})
	}
}

// Emit pushes an uncorrelated event to the caller
func (s *Server) Emit(ctx context.Context, typ string, data any) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	msg, err := Marshal(envelope{Type: typ, Data: raw})
	if err != nil {
		return err
	}
	return s.link.Send(ctx, msg)
}
