// Package broadcast fans session state transitions out to every connected
// observer. The hub relays; it owns no session state beyond the latest
// snapshot handed to late subscribers.
package broadcast

import (
	"sync"

	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/session"
)

// subscriberBuffer is the per-observer event queue depth. A session produces
// three transitions, so this absorbs several superseding exchanges before a
// slow observer starts losing its oldest pending events.
const subscriberBuffer = 16

// Subscriber is one observer's view of the event stream.
type Subscriber struct {
	ch chan session.Snapshot
}

// Events returns the channel of snapshots, in publish order. The channel is
// closed on unsubscribe.
func (s *Subscriber) Events() <-chan session.Snapshot {
	return s.ch
}

// Hub delivers every published snapshot to all current subscribers in the
// order the transitions occurred. Delivery to a slow or dead subscriber is
// sacrificed rather than ever blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	latest session.Snapshot
}

// NewHub creates an empty hub. The latest snapshot starts as the idle state.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new observer. It always succeeds. The subscriber's
// first delivery is the current session snapshot, so a late joiner is never
// blank mid-session; it then receives only transitions that occur after
// this call, never historical ones.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan session.Snapshot, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	sub.ch <- h.latest
	return sub
}

// Unsubscribe removes an observer and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers snap to every current subscriber. If a subscriber's
// queue is full its oldest pending event is dropped to make room; the
// publisher never waits.
func (h *Hub) Publish(snap session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snap
	for sub := range h.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
				metrics.BroadcastsDropped.Inc()
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() session.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// SubscriberCount returns the number of connected observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
