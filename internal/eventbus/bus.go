// Package eventbus is the in-process broadcast channel inside each Master,
// fanning domain events out to attached satellite connections. It is
// process-scoped: constructed at startup, torn down on shutdown, and holds
// no other shared mutable state.
package eventbus

import (
	"sync"
	"time"
)

// Event is the payload broadcast to every subscriber.
type Event struct {
	Name      string
	Data      any
	EmittedAt time.Time
}

const requiredSyncEvent = "sync.required"

// Bus is a bounded multi-producer/multi-consumer broadcast. A subscriber that
// falls behind its buffer capacity has its oldest event dropped and is
// notified with a synthetic sync.required event on next activity, per the
// spec's drop-oldest policy. Events are never persisted.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[int]chan Event
	nextID   int
}

// NewBus constructs a Bus with the given per-subscriber buffer capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[int]chan Event),
	}
}

// Subscription is a single consumer's handle on the bus.
type Subscription struct {
	id  int
	bus *Bus
	ch  chan Event
}

// C returns the channel to receive events on.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new consumer (one per attached satellite connection).
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.capacity)
	b.subs[id] = ch
	return &Subscription{id: id, bus: b, ch: ch}
}

// Publish fans out an event to every subscriber. A lagging subscriber has its
// oldest buffered event discarded to make room, then receives a synthetic
// sync.required nudge so it knows to resynchronize rather than trust a gap.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
			b.nudge(ch)
		}
	}
}

func (b *Bus) nudge(ch chan Event) {
	nudge := Event{Name: requiredSyncEvent, EmittedAt: time.Now()}
	select {
	case ch <- nudge:
	default:
		// buffer still full even after drop-oldest; next Publish will try again.
	}
}

// Close tears down every subscription. Called once at shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
