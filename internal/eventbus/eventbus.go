// Package eventbus implements the core's bounded, lossy broadcast channel
// (§4.8). Publishers never block; slow subscribers drop older events and
// receive an in-band [KindLost] signal so they can resynchronise via
// SyncManager.Observe.
package eventbus

import (
	"sync"
)

// Kind identifies the category of an [Event].
type Kind int

const (
	// KindSyncState carries a SyncState snapshot (opaque to this package —
	// stored as Payload to avoid an import cycle with syncmgr).
	KindSyncState Kind = iota
	// KindResourceDegraded carries a [DegradedInfo].
	KindResourceDegraded
	// KindSchedulerEvent carries a scheduler lifecycle notification.
	KindSchedulerEvent
	// KindTaskRun carries a task-run state transition.
	KindTaskRun
	// KindLost is synthesised by the bus itself when a subscriber falls
	// behind; it is never published by a caller.
	KindLost
)

// DegradedInfo reports a Resource Monitor sampling degradation.
type DegradedInfo struct {
	Degraded bool
	Cause    error
}

// Event is a single broadcast message. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind Kind

	// Payload carries a SyncState snapshot, scheduler event, or task-run
	// transition as an opaque value — the concrete type is owned by the
	// publishing package (syncmgr.SyncState, scheduler.Notification, etc.)
	// to avoid import cycles.
	Payload any

	Degraded *DegradedInfo

	// Lost is populated only on synthetic [KindLost] events, reporting how
	// many events were dropped for the receiving subscriber.
	Lost int
}

// defaultCapacity is the bounded channel size per subscriber (§4.8).
const defaultCapacity = 256

// Bus is a single-producer (from the core's perspective — any number of
// internal components may call Publish), multi-consumer broadcast of
// [Event] values. Each subscriber has its own bounded channel; a full
// channel causes the oldest buffered event to be dropped in favour of the
// newest, with a running loss counter delivered as a [KindLost] event.
//
// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[int]*subscription
	nextID   int
}

type subscription struct {
	ch   chan Event
	lost int
}

// New creates a [Bus] with the given per-subscriber capacity. A
// non-positive capacity uses the default of 256.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{capacity: capacity, subs: make(map[int]*subscription)}
}

// Subscription is a handle returned by [Bus.Subscribe]. Callers must call
// Unsubscribe when done to release the channel.
type Subscription struct {
	bus *Bus
	id  int
	ch  <-chan Event
}

// Events returns the channel on which this subscription receives events.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Subscribe registers a new subscriber and returns its [Subscription].
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan Event, b.capacity)}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, ch: sub.ch}
}

// Publish broadcasts ev to all current subscribers. Publish never blocks:
// a subscriber whose channel is full has its two oldest events evicted and
// added to its loss counter, and a synthetic [KindLost] event reporting the
// count is queued ahead of ev, after which the counter resets.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
}

// deliver attempts non-blocking send to sub, evicting on overflow. Must be
// called with b.mu held.
func (b *Bus) deliver(sub *subscription, ev Event) {
	if sub.lost > 0 {
		select {
		case sub.ch <- Event{Kind: KindLost, Lost: sub.lost}:
			sub.lost = 0
		default:
			sub.lost++
			return
		}
	}
	select {
	case sub.ch <- ev:
	default:
		// Evict the two oldest buffered events, counting them as lost (a
		// KindLost marker carries its own count), to make room for a
		// KindLost marker followed by ev.
		for range 2 {
			select {
			case old := <-sub.ch:
				sub.lost += max(old.Lost, 1)
			default:
			}
		}
		select {
		case sub.ch <- Event{Kind: KindLost, Lost: sub.lost}:
			sub.lost = 0
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			sub.lost++
		}
	}
}

// SubscriberCount returns the number of currently active subscriptions.
// Exposed for diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
