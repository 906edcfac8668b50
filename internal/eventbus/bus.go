// Package eventbus carries cross-component notifications. Publishers never
// block; every subscriber sees every event in publish order.
package eventbus

import (
	"context"
	"sync"

	"github.com/jengzang/trip-planner-go/internal/stream"
)

// Bus fans events out to subscribers
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates an empty bus
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is one consumer's ordered view of the bus
type Subscription struct {
	bus   *Bus
	pump  *stream.Pump[Event]
	kinds map[Kind]bool
}

// Subscribe registers a consumer. When kinds is non-empty only those kinds
// are delivered. The subscription ends when ctx is done or Close is called.
func (b *Bus) Subscribe(ctx context.Context, kinds ...Kind) *Subscription {
	sub := &Subscription{bus: b, pump: stream.NewPump[Event](ctx)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.pump.Close()
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-sub.pump.Stopped()
		b.remove(sub)
	}()
	return sub
}

// Publish delivers evt to every current subscriber without blocking
func (b *Bus) Publish(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[evt.Kind()] {
			continue
		}
		sub.pump.Send(evt)
	}
}

// Close ends every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.pump.Close()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// C returns the event stream. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.pump.C()
}

// Close releases the subscription
func (s *Subscription) Close() {
	s.pump.Close()
}
