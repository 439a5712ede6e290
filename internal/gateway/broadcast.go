package gateway

import "sync"

// broadcast fans values out to subscribers in publish order. A publish blocks
// until every live subscriber has accepted the value, so no subscriber misses
// or reorders an event.
type broadcast[T any] struct {
	buffer int

	pubMu  sync.Mutex // serializes publish, subscribe and close
	closed bool

	mu   sync.Mutex
	subs map[*subscriber[T]]struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

type subscriber[T any] struct {
	ch       chan T
	gone     chan struct{}
	goneOnce sync.Once
}

func newBroadcast[T any](buffer int) *broadcast[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &broadcast[T]{
		buffer: buffer,
		subs:   make(map[*subscriber[T]]struct{}),
		quit:   make(chan struct{}),
	}
}

// subscribe returns a channel whose first value is first. The channel is
// closed when the broadcast closes; cancel stops delivery without closing it.
func (b *broadcast[T]) subscribe(first T) (<-chan T, func()) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	s := &subscriber[T]{
		ch:   make(chan T, b.buffer),
		gone: make(chan struct{}),
	}
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	s.ch <- first

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.goneOnce.Do(func() { close(s.gone) })
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}
	return s.ch, cancel
}

func (b *broadcast[T]) publish(v T) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.closed {
		return
	}

	b.mu.Lock()
	subs := make([]*subscriber[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.gone:
		case <-b.quit:
			return
		}
	}
}

// close unblocks any publisher and closes every subscriber channel
func (b *broadcast[T]) close() {
	b.quitOnce.Do(func() { close(b.quit) })

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	b.mu.Lock()
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
	b.mu.Unlock()
}
