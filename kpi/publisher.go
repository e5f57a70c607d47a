// Package kpi implements the KPI publication stream of spec §4.6/§5:
// a single-producer, multi-subscriber broadcast with a bounded buffer
// (capacity 1000) that drops the oldest item on overflow. The
// cancellation-aware subscriber relay is
// niceyeti-tabular/tabular/server/fastview/view_builder.go's
// channerics.OrDone applied directly. That file's
// channerics.Broadcast is not: it fans one source channel out to a
// fixed count of n output channels known at call time
// (`Broadcast(done, source, n) []<-chan T`), whereas Subscribe here
// must accept new subscribers one at a time, at any point in the
// Publisher's life, with no a-priori bound on how many there will be.
// The fan-out is instead hand-rolled per spec §5's drop-oldest-on-full
// semantics, which channerics.Broadcast's fixed-arity channels do not
// express either.
package kpi

import (
	"sync"

	channerics "github.com/niceyeti/channerics/channels"
)

// Capacity is the bounded buffer size per subscriber (spec §5).
const Capacity = 1000

// Event is one published KPI map: string key to a tensor-shaped
// value, built fresh per training step (spec §6's event schema).
type Event map[string]interface{}

// Publisher is a single-producer, multi-subscriber broadcast of
// Events. The zero value is not usable; use New.
type Publisher struct {
	mu          sync.Mutex
	subscribers map[chan Event]chan struct{}
	closed      bool
}

// New returns a ready Publisher.
func New() *Publisher {
	return &Publisher{subscribers: make(map[chan Event]chan struct{})}
}

// Subscribe registers a new subscriber and returns a receive-only
// channel of Events plus an unsubscribe function. The returned
// channel is closed when the Publisher is closed or Unsubscribe is
// called (via channerics.OrDone-style done-channel cancellation).
func (p *Publisher) Subscribe() (events <-chan Event, unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, Capacity)
	done := make(chan struct{})
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subscribers[ch] = done

	relay := channerics.OrDone(done, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if d, ok := p.subscribers[ch]; ok {
				close(d)
				delete(p.subscribers, ch)
			}
		})
	}
	return relay, unsub
}

// Publish sends event to every current subscriber. Publish errors are
// never fatal (spec §7): a full subscriber buffer has its oldest
// queued item dropped to make room rather than blocking the producer.
func (p *Publisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			// Buffer full: drop the oldest item, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close closes the Publisher: all subscriber channels are closed and
// no further Publish calls have any effect. Close is idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for ch, done := range p.subscribers {
		close(done)
		delete(p.subscribers, ch)
	}
}
