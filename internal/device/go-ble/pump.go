package goble

import (
	"context"
	"sync"
)

// eventPump delivers events to a handler on one goroutine, in posting order.
//
// go-ble invokes its callbacks on its own goroutines, sometimes while a stack
// call from the session is still in flight. Posting never blocks and never
// drops, so callbacks cannot deadlock against the session lock.
type eventPump[E any] struct {
	mu      sync.Mutex
	queue   []E
	signal  chan struct{}
	handler func(E)
}

func newEventPump[E any](handler func(E)) *eventPump[E] {
	return &eventPump[E]{
		signal:  make(chan struct{}, 1),
		handler: handler,
	}
}

// post enqueues ev
func (p *eventPump[E]) post(ev E) {
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// run drains the queue until ctx is cancelled
func (p *eventPump[E]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.signal:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			ev := p.queue[0]
			var zero E
			p.queue[0] = zero
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.handler(ev)
		}
	}
}

// pending returns the number of queued events
func (p *eventPump[E]) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
