// Package bridge correlates commands sent into an isolated execution context
// with their asynchronous replies. Nothing is shared across the boundary but
// encoded envelopes.
package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once either end of a link has been closed
var ErrClosed = errors.New("bridge: closed")

// Link carries encoded envelopes across the boundary. Send and Recv may be
// called concurrently with each other; Recv has a single caller.
type Link interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

type pipe struct {
	done chan struct{}
	once sync.Once
}

// Port is one end of an in-process Pipe
type Port struct {
	in   <-chan []byte
	out  chan<- []byte
	pipe *pipe
}

var _ Link = (*Port)(nil)

// Pipe returns two connected ports. Closing either closes both.
func Pipe() (*Port, *Port) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	p := &pipe{done: make(chan struct{})}
	return &Port{in: a, out: b, pipe: p}, &Port{in: b, out: a, pipe: p}
}

func (p *Port) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.pipe.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.pipe.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Port) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.pipe.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Port) Close() error {
	p.pipe.once.Do(func() { close(p.pipe.done) })
	return nil
}
