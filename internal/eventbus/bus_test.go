package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(TypeNodeAdded, "node-a", "test")

	ev, ok := sub.Next(time.Second)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Type != TypeNodeAdded || ev.Payload != "node-a" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSubscribeFilterExcludesOtherTypes(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(TypeLinkStateChange)
	defer sub.Close()

	b.Publish(TypeNodeAdded, "node-a", "test")
	b.Publish(TypeLinkStateChange, "link-a", "test")

	ev, ok := sub.Next(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected the filtered event")
	}
	if ev.Type != TypeLinkStateChange {
		t.Fatalf("expected only link_state_change, got %v", ev.Type)
	}

	if _, ok := sub.Next(50 * time.Millisecond); ok {
		t.Fatal("expected no further events past the one matching type")
	}
}

func TestPublishOrderPreservedPerSubscriber(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(TypeNodeAdded, i, "test")
	}

	for i := 0; i < 5; i++ {
		ev, ok := sub.Next(time.Second)
		if !ok || ev.Payload != i {
			t.Fatalf("expected payload %d in order, got %+v ok=%v", i, ev, ok)
		}
	}
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer sub.Close()

	// Overflow the bounded queue; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberQueue+10; i++ {
			b.Publish(TypeNodeAdded, i, "test")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestHistoryRecordsAllEventsRegardlessOfSubscribers(t *testing.T) {
	b := NewBusWithHistory(3, nil)
	b.Publish(TypeNodeAdded, 1, "test")
	b.Publish(TypeNodeAdded, 2, "test")
	b.Publish(TypeNodeAdded, 3, "test")
	b.Publish(TypeNodeAdded, 4, "test")

	hist := b.History(0)
	if len(hist) != 3 {
		t.Fatalf("expected ring bounded to 3, got %d", len(hist))
	}
	if hist[0].Payload != 2 || hist[2].Payload != 4 {
		t.Fatalf("expected oldest event dropped, got %+v", hist)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	sub.Close()

	b.Publish(TypeNodeAdded, "after-close", "test")

	if _, ok := sub.Next(50 * time.Millisecond); ok {
		t.Fatal("expected no delivery after Close")
	}
}
