package eventbus

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscriber is a single bounded-queue consumer of the bus, preserving
// publish order for events it receives (spec.md §4.9 "Ordering").
type Subscriber struct {
	bus    *Bus
	filter map[EventType]struct{}
	queue  chan Event
	closed chan struct{}
}

func newSubscriber(filter []EventType, queueSize int, bus *Bus) *Subscriber {
	var set map[EventType]struct{}
	if len(filter) > 0 {
		set = make(map[EventType]struct{}, len(filter))
		for _, t := range filter {
			set[t] = struct{}{}
		}
	}
	return &Subscriber{
		bus:    bus,
		filter: set,
		queue:  make(chan Event, queueSize),
		closed: make(chan struct{}),
	}
}

func (s *Subscriber) accepts(t EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

func (s *Subscriber) deliver(ev Event, log *logrus.Entry) {
	if !s.accepts(ev.Type) {
		return
	}
	select {
	case s.queue <- ev:
	default:
		log.WithField("event_type", ev.Type).Warn("subscriber queue full, dropping event")
	}
}

// Next blocks until an event arrives, timeout elapses, or the subscriber is
// closed, matching the `next(timeout) -> Event|∅` contract.
func (s *Subscriber) Next(timeout time.Duration) (Event, bool) {
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case ev, ok := <-s.queue:
		if !ok {
			return Event{}, false
		}
		return ev, true
	case <-s.closed:
		return Event{}, false
	case <-timeoutC:
		return Event{}, false
	}
}

// NextCtx is a context-aware variant of Next for use in select loops.
func (s *Subscriber) NextCtx(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.queue:
		return ev, ok
	case <-s.closed:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (s *Subscriber) Close() {
	s.bus.unsubscribe(s)
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}
