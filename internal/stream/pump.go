// Package stream provides ordered, non-dropping delivery from a producer that
// must never block to a consumer that may be slow.
package stream

import (
	"context"
	"sync"
)

// Pump queues values without bound and forwards them to C in send order.
// It stops when ctx is done or Close is called; C is closed afterwards.
type Pump[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	notify  chan struct{}
	out     chan T
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewPump starts a pump bound to ctx
func NewPump[T any](ctx context.Context) *Pump[T] {
	p := &Pump[T]{
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// C returns the consumer side
func (p *Pump[T]) C() <-chan T {
	return p.out
}

// Stopped is closed once the pump no longer delivers
func (p *Pump[T]) Stopped() <-chan struct{} {
	return p.stopped
}

// Send enqueues v. It never blocks and reports false once the pump is closed.
func (p *Pump[T]) Send(v T) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, v)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// Close stops delivery. Queued values are discarded.
func (p *Pump[T]) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Pump[T]) run(ctx context.Context) {
	defer close(p.stopped)
	defer close(p.out)
	defer p.Close()

	var zero T
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.notify:
				continue
			case <-p.done:
				return
			case <-ctx.Done():
				return
			}
		}
		v := p.queue[0]
		p.queue[0] = zero
		p.queue = p.queue[1:]
		p.mu.Unlock()

		select {
		case p.out <- v:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
