// Package eventbus implements C9: type-filtered publish/subscribe with
// bounded per-subscriber queues and a bounded global history ring.
package eventbus

import (
	"container/ring"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	TypeLinkStateChange  EventType = "link_state_change"
	TypeNodeAdded        EventType = "node_added"
	TypeNodeRemoved      EventType = "node_removed"
	TypeLinkAdded        EventType = "link_added"
	TypeLinkRemoved      EventType = "link_removed"
	TypeEndpointAdded    EventType = "endpoint_ADDED"
	TypeEndpointModified EventType = "endpoint_MODIFIED"
	TypeEndpointDeleted  EventType = "endpoint_DELETED"
)

// Event is one published item: a type discriminator, the full post-state
// payload, and the subsystem that produced it.
type Event struct {
	Type    EventType
	Payload interface{}
	Source  string
	At      time.Time
}

const defaultHistorySize = 100
const defaultSubscriberQueue = 64

// Bus is C9.
type Bus struct {
	log *logrus.Entry

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	history     *ring.Ring
}

func NewBus(log *logrus.Entry) *Bus {
	return NewBusWithHistory(defaultHistorySize, log)
}

func NewBusWithHistory(historySize int, log *logrus.Entry) *Bus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if log == nil {
		log = logrus.WithField("component", "event-bus")
	}
	return &Bus{
		log:         log,
		subscribers: make(map[*Subscriber]struct{}),
		history:     ring.New(historySize),
	}
}

// Subscribe registers a new subscriber. An empty/nil filter means "all
// types". The subscriber's queue is bounded; Publish drops events for a
// full queue rather than blocking.
func (b *Bus) Subscribe(filter ...EventType) *Subscriber {
	sub := newSubscriber(filter, defaultSubscriberQueue, b)

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

// Publish is non-blocking per subscriber: a full subscriber queue drops the
// event for that subscriber only (spec.md §4.9).
func (b *Bus) Publish(eventType EventType, payload interface{}, source string) {
	ev := Event{Type: eventType, Payload: payload, Source: source, At: time.Now()}

	b.mu.Lock()
	b.history.Value = ev
	b.history = b.history.Next()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev, b.log)
	}
}

// History returns up to the last n recorded events across all types, in
// publish order (oldest first).
func (b *Bus) History(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	b.history.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(Event))
	})
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
